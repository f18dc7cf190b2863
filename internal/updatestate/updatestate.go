// Package updatestate tracks retries and terminal status of one (tile, layer)
// pair.
package updatestate

import (
	"math"
	"time"
)

// Status is the retry state of one (tile, layer) pair.
type Status int

const (
	Idle Status = iota
	Pending
	Error
	DefinitiveError
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Error:
		return "error"
	case DefinitiveError:
		return "definitive_error"
	default:
		return "unknown"
	}
}

// DefaultBackoff is the pause imposed after the 1st, 2nd, 3rd and later failures.
var DefaultBackoff = []time.Duration{time.Second, 3 * time.Second, 7 * time.Second, time.Minute}

// FailureParams is handed back to the level selector on retry.
type FailureParams struct {
	HasError         bool
	LowestLevelError int
}

// Transition is invoked after every status change; used for metrics.
type Transition func(from, to Status)

// State is the update bookkeeping a tile keeps per layer.
type State struct {
	status        Status
	errorCount    int
	lastErrorAt   time.Time
	failureParams FailureParams
	backoff       []time.Duration
	onTransition  Transition
}

// New returns an idle State; an empty backoff uses DefaultBackoff.
func New(backoff []time.Duration, onTransition Transition) *State {
	if len(backoff) == 0 {
		backoff = DefaultBackoff
	}
	return &State{backoff: backoff, onTransition: onTransition}
}

func (s *State) Status() Status               { return s.status }
func (s *State) ErrorCount() int              { return s.errorCount }
func (s *State) LastErrorAt() time.Time       { return s.lastErrorAt }
func (s *State) FailureParams() FailureParams { return s.failureParams }
func (s *State) Terminal() bool               { return s.status == DefinitiveError }

func (s *State) CanTryUpdate(now time.Time) bool {
	switch s.status {
	case Idle:
		return true
	case Pending, DefinitiveError:
		return false
	default:
		return now.Sub(s.lastErrorAt) >= s.UntilNextTry()
	}
}

// NewTry must be called once per issued command, before it is submitted.
func (s *State) NewTry() {
	s.set(Pending)
}

func (s *State) Success() {
	if s.Terminal() {
		return
	}
	s.errorCount = 0
	s.set(Idle)
}

func (s *State) Failure(now time.Time, definitive bool, params FailureParams) {
	if s.Terminal() {
		return
	}
	s.errorCount++
	s.lastErrorAt = now
	if params.HasError {
		if !s.failureParams.HasError || params.LowestLevelError < s.failureParams.LowestLevelError {
			s.failureParams = params
		}
	}
	if definitive {
		s.set(DefinitiveError)
		return
	}
	s.set(Error)
}

// NoMoreUpdatePossible is a policy stop, not a data fault: errorCount is kept.
func (s *State) NoMoreUpdatePossible() {
	s.set(DefinitiveError)
}

func (s *State) UntilNextTry() time.Duration {
	if s.status != Error || s.errorCount == 0 {
		return 0
	}
	idx := min(s.errorCount, len(s.backoff)) - 1
	return s.backoff[idx]
}

func (s *State) SecondsUntilNextTry() float64 {
	return math.Max(0, s.UntilNextTry().Seconds())
}

func (s *State) set(to Status) {
	if s.status == DefinitiveError {
		return
	}
	from := s.status
	s.status = to
	if s.onTransition != nil {
		s.onTransition(from, to)
	}
}
