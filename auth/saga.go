package auth

import (
	"context"
	"fmt"
)

// SagaState is the position of one registration attempt
type SagaState int

const (
	SagaStart SagaState = iota
	SagaAccountCreated
	SagaProfileProvisioned
	SagaDone
	SagaRolledBack
)

func (s SagaState) String() string {
	switch s {
	case SagaStart:
		return "START"
	case SagaAccountCreated:
		return "ACCOUNT_CREATED"
	case SagaProfileProvisioned:
		return "PROFILE_PROVISIONED"
	case SagaDone:
		return "DONE"
	case SagaRolledBack:
		return "ROLLED_BACK"
	default:
		return fmt.Sprintf("SagaState(%d)", int(s))
	}
}

// sagaTransitions lists the legal forward moves. ROLLED_BACK is reachable
// only from ACCOUNT_CREATED, through compensate.
var sagaTransitions = map[SagaState][]SagaState{
	SagaStart:              {SagaAccountCreated},
	SagaAccountCreated:     {SagaProfileProvisioned, SagaRolledBack},
	SagaProfileProvisioned: {SagaDone},
}

// registrationSaga tracks one attempt and the undo step owed by each state
type registrationSaga struct {
	state        SagaState
	compensation map[SagaState]func(ctx context.Context) error
}

func newRegistrationSaga() *registrationSaga {
	return &registrationSaga{
		state:        SagaStart,
		compensation: make(map[SagaState]func(ctx context.Context) error),
	}
}

func (s *registrationSaga) State() SagaState { return s.state }

func (s *registrationSaga) advance(to SagaState) error {
	for _, next := range sagaTransitions[s.state] {
		if next == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("illegal saga transition %s -> %s", s.state, to)
}

// onCompensate attaches the undo step for state
func (s *registrationSaga) onCompensate(state SagaState, fn func(ctx context.Context) error) {
	s.compensation[state] = fn
}

// compensate runs the undo step of the current state and moves to
// ROLLED_BACK. On failure the state is left unchanged.
func (s *registrationSaga) compensate(ctx context.Context) error {
	fn, ok := s.compensation[s.state]
	if !ok {
		return fmt.Errorf("no compensation from state %s", s.state)
	}
	if err := fn(ctx); err != nil {
		return err
	}
	return s.advance(SagaRolledBack)
}
