package netscen

// errors.go declares the error classes returned while a scenario is assembled.
// Every construction failure wraps exactly one of ErrConfiguration or ErrInvariant,
// so callers can separate bad input from a defect in the assembly code with errors.Is

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a problem with the scenario parameters themselves
	ErrConfiguration = errors.New("configuration error")

	// ErrInvariant marks a scenario that was assembled in an inconsistent order
	ErrInvariant = errors.New("construction invariant violation")
)

// configuration errors
var (
	ErrGroupSize        = fmt.Errorf("%w: group size out of range", ErrConfiguration)
	ErrDuplicateGroup   = fmt.Errorf("%w: duplicate group name", ErrConfiguration)
	ErrTiming           = fmt.Errorf("%w: invalid timing", ErrConfiguration)
	ErrAddressExhausted = fmt.Errorf("%w: address space exhausted", ErrConfiguration)
	ErrAddressSpace     = fmt.Errorf("%w: invalid address space", ErrConfiguration)
	ErrDuplicateCell    = fmt.Errorf("%w: duplicate cell identifier", ErrConfiguration)
	ErrEndpoints        = fmt.Errorf("%w: wrong number of link endpoints", ErrConfiguration)
	ErrLinkAttr         = fmt.Errorf("%w: invalid link attribute", ErrConfiguration)
	ErrMobility         = fmt.Errorf("%w: invalid mobility profile", ErrConfiguration)
	ErrUnknownGroup     = fmt.Errorf("%w: unknown group", ErrConfiguration)
	ErrTopology         = fmt.Errorf("%w: invalid topology", ErrConfiguration)
)

// invariant violations
var (
	ErrUnpositioned    = fmt.Errorf("%w: node without mobility model", ErrInvariant)
	ErrCellMembership  = fmt.Errorf("%w: station already belongs to a cell", ErrInvariant)
	ErrNoStack         = fmt.Errorf("%w: node has no IP stack", ErrInvariant)
	ErrNotAddressed    = fmt.Errorf("%w: device has no address", ErrInvariant)
	ErrRoutesNotReady  = fmt.Errorf("%w: routing tables not populated", ErrInvariant)
	ErrNoRoute         = fmt.Errorf("%w: no route", ErrInvariant)
	ErrContextFinished = fmt.Errorf("%w: simulation context already run or destroyed", ErrInvariant)
	ErrStageOrder      = fmt.Errorf("%w: construction stage out of order", ErrInvariant)
)

// ReportErrs folds the non-nil members of a list of errors into a single error,
// or returns nil when every member is nil.  The result still matches each
// constituent under errors.Is
func ReportErrs(errs []error) error {
	return errors.Join(errs...)
}
