package unit

import "fmt"

// UndeclaredPropertyError is returned by Set for a property the unit's
// type does not declare.
type UndeclaredPropertyError struct {
	Type     string
	Property string
}

func (e *UndeclaredPropertyError) Error() string {
	return fmt.Sprintf("unit: type %q has no property %q", e.Type, e.Property)
}

// AlreadyBoundError is returned by Bind when the unit already belongs to
// a different owner.
type AlreadyBoundError struct {
	Type string
}

func (e *AlreadyBoundError) Error() string {
	return fmt.Sprintf("unit: %q instance is already bound to another owner", e.Type)
}
