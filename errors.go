package tiercache

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Bus operations after Shutdown.
var ErrClosed = errors.New("tiercache: bus is shut down")

// Phase names the hook a tier failure originated in.
type Phase string

const (
	PhaseGet                    Phase = "get"
	PhasePromote                Phase = "promote"
	PhaseStore                  Phase = "store"
	PhaseStoreBuildDependencies Phase = "storeBuildDependencies"
	PhaseShutdown               Phase = "shutdown"
)

// HookError tags a tier failure with the phase and tier it came from.
type HookError struct {
	Phase Phase
	Tier  string
	Err   error
}

func (e *HookError) Error() string {
	if e.Tier == "" {
		return fmt.Sprintf("tiercache: %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("tiercache: %s (tier %q): %v", e.Phase, e.Tier, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

func hookErr(phase Phase, tier string, err error) error {
	if err == nil {
		return nil
	}
	var he *HookError
	if errors.As(err, &he) && he.Phase == phase && he.Tier == tier {
		return err
	}
	return &HookError{Phase: phase, Tier: tier, Err: err}
}
