// Package secretary implements the online decision engine for a selection
// run: reject the first stretch of arrivals outright to calibrate a
// baseline, then accept the first later arrival that beats it. Decisions
// are irrevocable and candidates are never reconsidered.
package secretary

import (
	"errors"
	"fmt"
	"math"
)

// DefaultObservationFraction is the classical optimal cutoff ratio.
const DefaultObservationFraction = 1 / math.E

var (
	// ErrConcluded is returned when a candidate is offered to a run that
	// already accepted someone.
	ErrConcluded = errors.New("selection run already concluded")

	// ErrResetBeforeConclusion guards against discarding an in-progress run.
	ErrResetBeforeConclusion = errors.New("selection run still in progress; reset requires force")
)

// ConfigError reports invalid engine configuration.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid engine configuration: " + e.Reason
}

// OutOfOrderError reports a gap or regression in the arrival sequence.
// The run is not usable until the caller restores correct ordering and
// restarts via Reset.
type OutOfOrderError struct {
	Want int
	Got  int
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("out-of-order candidate: want arrival index %d, got %d", e.Want, e.Got)
}

// Config sets up a selection run. Exactly one of TotalExpected or WindowSize
// determines the observation cutoff: a known total derives it from the
// observation fraction, an unknown total requires an explicit window. When
// both are set the known total wins.
type Config struct {
	// TotalExpected is the known candidate count for the run, 0 if unknown.
	TotalExpected int
	// ObservationFraction is the share of the run spent observing,
	// in (0,1). Zero means DefaultObservationFraction.
	ObservationFraction float64
	// WindowSize is a fixed observation window for runs with an unknown
	// total. With an unknown total there is no forced final acceptance.
	WindowSize int
}

// State is a snapshot of a run, sufficient to persist and later restore it.
type State struct {
	Phase             Phase      `json:"phase"`
	TotalExpected     int        `json:"total_expected,omitempty"`
	ObservationCutoff int        `json:"observation_cutoff,omitempty"`
	LastObservedIndex int        `json:"last_observed_index"`
	BestObserved      float64    `json:"best_observed"`
	Accepted          *Candidate `json:"accepted,omitempty"`
}

func (s State) clone() State {
	out := s
	if s.Accepted != nil {
		accepted := *s.Accepted
		out.Accepted = &accepted
	}
	return out
}

// Engine is the stateful online selector. One instance serves one run and
// must be driven from a single goroutine.
type Engine struct {
	state State
}

// New returns an unconfigured engine.
func New() *Engine {
	return &Engine{state: State{Phase: PhaseUnconfigured}}
}

// Configure establishes a fresh run. Configuring an already-configured
// engine fails; call Reset first.
func (e *Engine) Configure(cfg Config) error {
	if e.state.Phase != PhaseUnconfigured {
		return &ConfigError{Reason: "engine is already configured; reset it first"}
	}

	fraction := cfg.ObservationFraction
	if fraction == 0 {
		fraction = DefaultObservationFraction
	}
	if fraction <= 0 || fraction >= 1 {
		return &ConfigError{Reason: fmt.Sprintf("observation fraction %v is outside (0,1)", cfg.ObservationFraction)}
	}

	if cfg.TotalExpected < 0 {
		return &ConfigError{Reason: fmt.Sprintf("total expected count %d is negative", cfg.TotalExpected)}
	}

	cutoff := cfg.WindowSize
	if cfg.TotalExpected > 0 {
		cutoff = int(math.Round(float64(cfg.TotalExpected) * fraction))
		if cutoff < 1 {
			cutoff = 1
		}
	}
	if cutoff < 1 {
		return &ConfigError{Reason: "total expected count is unknown and no observation window is set"}
	}

	e.state = State{
		Phase:             PhaseObserving,
		TotalExpected:     cfg.TotalExpected,
		ObservationCutoff: cutoff,
	}

	return nil
}

// Restore revives an engine from a persisted snapshot.
func Restore(state State) (*Engine, error) {
	switch state.Phase {
	case PhaseUnconfigured:
		return New(), nil
	case PhaseObserving, PhaseSelecting, PhaseConcluded:
	default:
		return nil, &ConfigError{Reason: fmt.Sprintf("unknown phase %q in snapshot", state.Phase)}
	}

	if state.ObservationCutoff < 1 {
		return nil, &ConfigError{Reason: "snapshot has no observation cutoff"}
	}
	if state.LastObservedIndex < 0 {
		return nil, &ConfigError{Reason: "snapshot has a negative last observed index"}
	}
	if state.Phase == PhaseConcluded && state.Accepted == nil {
		return nil, &ConfigError{Reason: "concluded snapshot has no accepted candidate"}
	}

	return &Engine{state: state.clone()}, nil
}

// Observe is the sole state transition: it consumes the next candidate and
// commits to an irrevocable decision. Candidates must arrive gaplessly in
// arrival-index order.
func (e *Engine) Observe(c Candidate) (Decision, error) {
	switch e.state.Phase {
	case PhaseUnconfigured:
		return Decision{}, &ConfigError{Reason: "engine is not configured"}
	case PhaseConcluded:
		return Decision{}, ErrConcluded
	}

	if want := e.state.LastObservedIndex + 1; c.ArrivalIndex != want {
		return Decision{}, &OutOfOrderError{Want: want, Got: c.ArrivalIndex}
	}

	e.state.LastObservedIndex = c.ArrivalIndex

	decision := Decision{
		CandidateID:  c.ID,
		ArrivalIndex: c.ArrivalIndex,
		Phase:        e.state.Phase,
		Baseline:     e.state.BestObserved,
	}

	if c.ArrivalIndex <= e.state.ObservationCutoff {
		if c.Score > e.state.BestObserved {
			e.state.BestObserved = c.Score
		}
		decision.Outcome = OutcomeReject
		decision.Reason = ReasonObserving
		if c.ArrivalIndex == e.state.ObservationCutoff {
			e.state.Phase = PhaseSelecting
		}
	} else {
		// Strictly greater: a tie with the baseline never accepts, so
		// earlier arrivals win ties and replays stay deterministic.
		if c.Score > e.state.BestObserved {
			decision.Outcome = OutcomeAccept
			decision.Reason = ReasonAboveBaseline
			e.accept(c)
		} else {
			decision.Outcome = OutcomeReject
			decision.Reason = ReasonBelowBaseline
		}
	}

	// A known-length run must not end empty. This also covers small runs
	// whose rounded cutoff swallowed the whole stream.
	if decision.Outcome == OutcomeReject && e.state.TotalExpected > 0 && c.ArrivalIndex == e.state.TotalExpected {
		decision.Outcome = OutcomeAccept
		decision.Reason = ReasonForcedFinal
		e.accept(c)
	}

	return decision, nil
}

func (e *Engine) accept(c Candidate) {
	accepted := c
	e.state.Accepted = &accepted
	e.state.Phase = PhaseConcluded
}

// State returns a read-only snapshot of the run.
func (e *Engine) State() State {
	return e.state.clone()
}

// Reset returns the engine to its unconfigured state. An observing or
// selecting run is only discarded when force is set.
func (e *Engine) Reset(force bool) error {
	if (e.state.Phase == PhaseObserving || e.state.Phase == PhaseSelecting) && !force {
		return ErrResetBeforeConclusion
	}

	e.state = State{Phase: PhaseUnconfigured}
	return nil
}
