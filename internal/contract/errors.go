package contract

import (
	"errors"
	"fmt"
)

// ErrSchemaParse marks malformed contract input. Callers use errors.Is to
// distinguish parse failures from infrastructure errors.
var ErrSchemaParse = errors.New("schema parse failure")

// ParseError reports a malformed schema payload. It is scoped to a single
// operation: the contract build records it on the offending operation and
// continues with the rest.
type ParseError struct {
	OperationID string
	Path        string
	Err         error
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("operation %s: schema parse failure at %s: %v", e.OperationID, e.Path, e.Err)
	}
	return fmt.Sprintf("operation %s: schema parse failure: %v", e.OperationID, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrSchemaParse, e.Err}
}
