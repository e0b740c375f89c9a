package core

import (
	"fmt"
	"strings"

	"microsim/pkg/entities"
	"microsim/pkg/period"
)

// UnknownVariableError is returned when a name is not in the registry.
type UnknownVariableError struct {
	Name string
}

func (e UnknownVariableError) Error() string {
	return fmt.Sprintf("unknown variable %q", e.Name)
}

// NoApplicableFormulaError is returned when no formula covers the requested
// period, no input or uprating source exists and the variable has no default.
type NoApplicableFormulaError struct {
	Variable string
	Period   period.Period
}

func (e NoApplicableFormulaError) Error() string {
	return fmt.Sprintf("no formula for %s at %s and no default", e.Variable, e.Period)
}

// CircularDependencyError reports a same-period cycle. Stack lists the
// requests in progress, outermost first, ending with the repeated request.
type CircularDependencyError struct {
	Variable string
	Period   period.Period
	Stack    []string
}

func (e CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency on %s at %s: %s", e.Variable, e.Period, strings.Join(e.Stack, " -> "))
}

// RecursionLimitError is returned when nested requests exceed the configured
// depth, which usually means a cross-period recursion has no base case.
type RecursionLimitError struct {
	Variable string
	Period   period.Period
	Depth    int
}

func (e RecursionLimitError) Error() string {
	return fmt.Sprintf("recursion depth %d exceeded computing %s at %s", e.Depth, e.Variable, e.Period)
}

// PeriodMismatchError is returned when a period-access mode is not legal for
// a variable's definition period. The automatic mode falls through to the next
// access mode only on this error.
type PeriodMismatchError struct {
	Variable   string
	Definition period.Unit
	Requested  period.Period
	Mode       Mode
}

func (e PeriodMismatchError) Error() string {
	return fmt.Sprintf("%s is defined per %s and cannot be computed %s for %s", e.Variable, e.Definition, e.Mode, e.Requested)
}

// InputLengthError reports an input array whose length does not match the
// entity count.
type InputLengthError struct {
	Variable string
	Entity   entities.Kind
	Want     int
	Got      int
}

func (e InputLengthError) Error() string {
	return fmt.Sprintf("input %s has %d values, %s count is %d", e.Variable, e.Got, e.Entity, e.Want)
}

// EntityMismatchError is returned when a population is asked for a variable
// defined on another entity.
type EntityMismatchError struct {
	Variable string
	Want     entities.Kind
	Got      entities.Kind
}

func (e EntityMismatchError) Error() string {
	return fmt.Sprintf("variable %s is defined on %s, requested from %s", e.Variable, e.Want, e.Got)
}

// UnknownLabelError reports a categorical value outside a variable's labels.
type UnknownLabelError struct {
	Variable string
	Label    string
}

func (e UnknownLabelError) Error() string {
	return fmt.Sprintf("variable %s has no label %q", e.Variable, e.Label)
}

// DuplicateVariableError is returned when a variable is added twice.
type DuplicateVariableError struct {
	Name string
}

func (e DuplicateVariableError) Error() string {
	return fmt.Sprintf("variable %q already defined", e.Name)
}
