package xid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed identifier such as "txn-4f9d83a1c2b64d7e".
// The prefix keeps ids readable in logs and audit trails.
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s", prefix, id[:16])
}
