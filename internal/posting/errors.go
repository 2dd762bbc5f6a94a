package posting

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"gemledger/internal/domain"
)

// ErrInvalidStateTransition is wrapped by StateError; exposed as a
// sentinel so callers can errors.Is against it.
var ErrInvalidStateTransition = errors.New("invalid state transition")

// ValidationIssue is a single field/rule violation found by the
// validator. Issues are returned to the caller verbatim; correcting the
// draft and retrying is the expected recovery.
type ValidationIssue struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

type ValidationError struct {
	TransactionID string
	Issues        []ValidationIssue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		msgs = append(msgs, issue.Message)
	}
	return fmt.Sprintf("transaction %s failed validation: %s", e.TransactionID, strings.Join(msgs, "; "))
}

// InsufficientStockError carries the available vs required quantities so
// the caller can decide whether to retry the whole Post call.
type InsufficientStockError struct {
	InventoryID string
	Required    decimal.Decimal
	Available   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock on %s: required %s, available %s",
		e.InventoryID, e.Required, e.Available)
}

// StateError reports a Post or Cancel attempted on a non-Draft
// transaction. Not retryable.
type StateError struct {
	TransactionID string
	Status        domain.TransactionStatus
	Attempted     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s transaction %s in status %q", e.Attempted, e.TransactionID, e.Status)
}

func (e *StateError) Unwrap() error { return ErrInvalidStateTransition }

// ConcurrencyConflictError surfaces after the bounded CAS retry is
// exhausted. LastAvailable is the availability seen on the final read.
type ConcurrencyConflictError struct {
	InventoryID   string
	Attempts      int
	Requested     decimal.Decimal
	LastAvailable decimal.Decimal
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on %s after %d attempts (requested %s, last available %s)",
		e.InventoryID, e.Attempts, e.Requested, e.LastAvailable)
}

// CompensationError wraps the original posting failure together with the
// failure of the compensating write. It is fatal and logged for manual
// reconciliation before being returned.
type CompensationError struct {
	InventoryID string
	Cause       error
	CompenErr   error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation failed on %s after posting error (%v): %v",
		e.InventoryID, e.Cause, e.CompenErr)
}

func (e *CompensationError) Unwrap() error { return e.Cause }
