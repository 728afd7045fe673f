package rbac

import (
	"errors"
	"fmt"
)

// ErrDuplicate indicates a unique-constraint conflict (role name or key,
// permission code).
var ErrDuplicate = errors.New("rbac: duplicate entry")

// GuardError reports a management operation rejected because it would
// violate an admin-protection invariant. The reason names the specific
// invariant and is safe to show to the acting administrator.
type GuardError struct {
	Reason string
}

func (e *GuardError) Error() string { return "rbac: " + e.Reason }

func guardf(format string, args ...any) error {
	return &GuardError{Reason: fmt.Sprintf(format, args...)}
}

// IsGuard reports whether err is a guard rejection.
func IsGuard(err error) bool {
	var ge *GuardError
	return errors.As(err, &ge)
}

// ValidationError reports malformed management input. The operation aborts
// before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "rbac: " + e.Reason
	}
	return "rbac: " + e.Field + ": " + e.Reason
}

func validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
