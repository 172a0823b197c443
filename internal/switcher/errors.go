package switcher

import "fmt"

// InvalidTargetError indicates a routing target outside {pc, ecu}.
type InvalidTargetError struct {
	Target string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target %q, please choose 'pc' or 'ecu'", e.Target)
}

// LockError indicates the hardware lock could not be acquired or released
// due to an environment fault.
type LockError struct {
	Name string
	Err  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("resource lock %s: %v", e.Name, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }

// RouteError wraps a hardware failure with the route that was being
// established. It is never retried automatically: a bus fault needs
// diagnosis before the write can safely be repeated.
type RouteError struct {
	Route Route
	Err   error
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("failed to connect USB to %s: %v", e.Route, e.Err)
}

func (e *RouteError) Unwrap() error { return e.Err }
