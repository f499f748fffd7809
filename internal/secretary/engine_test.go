package secretary

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configured(t *testing.T, cfg Config) *Engine {
	t.Helper()
	engine := New()
	require.NoError(t, engine.Configure(cfg))
	return engine
}

func observe(t *testing.T, engine *Engine, index int, score float64) Decision {
	t.Helper()
	decision, err := engine.Observe(Candidate{
		ID:           fmt.Sprintf("cand-%d", index),
		ArrivalIndex: index,
		Score:        score,
	})
	require.NoError(t, err)
	return decision
}

func TestConfigureValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "negative total", cfg: Config{TotalExpected: -3}},
		{name: "fraction too low", cfg: Config{TotalExpected: 10, ObservationFraction: -0.5}},
		{name: "fraction too high", cfg: Config{TotalExpected: 10, ObservationFraction: 1}},
		{name: "unknown total without window", cfg: Config{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := New().Configure(tc.cfg)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestConfigureCutoff(t *testing.T) {
	cases := []struct {
		total    int
		fraction float64
		cutoff   int
	}{
		{total: 10, fraction: 0.37, cutoff: 4},
		{total: 10, fraction: 0, cutoff: 4}, // default 1/e
		{total: 1, fraction: 0.37, cutoff: 1},
		{total: 100, fraction: 0.37, cutoff: 37},
		{total: 3, fraction: 0.1, cutoff: 1},
	}

	for _, tc := range cases {
		engine := configured(t, Config{TotalExpected: tc.total, ObservationFraction: tc.fraction})
		state := engine.State()
		assert.Equal(t, tc.cutoff, state.ObservationCutoff, "total=%d fraction=%v", tc.total, tc.fraction)
		assert.Equal(t, PhaseObserving, state.Phase)
	}
}

func TestConfigureTwiceFails(t *testing.T) {
	engine := configured(t, Config{TotalExpected: 10})
	err := engine.Configure(Config{TotalExpected: 5})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestObservationPhaseAlwaysRejects(t *testing.T) {
	engine := configured(t, Config{TotalExpected: 10, ObservationFraction: 0.37})

	for i, score := range []float64{99, 98, 97, 100} {
		decision := observe(t, engine, i+1, score)
		assert.Equal(t, OutcomeReject, decision.Outcome)
		assert.Equal(t, PhaseObserving, decision.Phase)
		assert.Equal(t, ReasonObserving, decision.Reason)
	}

	state := engine.State()
	assert.Equal(t, PhaseSelecting, state.Phase)
	assert.Equal(t, 100.0, state.BestObserved)
}

func TestFirstImprovementAccepted(t *testing.T) {
	engine := configured(t, Config{TotalExpected: 10, ObservationFraction: 0.37})

	for i, score := range []float64{50, 70, 60, 65} {
		observe(t, engine, i+1, score)
	}

	decision := observe(t, engine, 5, 71)
	assert.Equal(t, OutcomeAccept, decision.Outcome)
	assert.Equal(t, ReasonAboveBaseline, decision.Reason)
	assert.Equal(t, 70.0, decision.Baseline)

	state := engine.State()
	require.NotNil(t, state.Accepted)
	assert.Equal(t, "cand-5", state.Accepted.ID)
	assert.Equal(t, PhaseConcluded, state.Phase)
}

func TestMidRunAcceptanceConcludes(t *testing.T) {
	// Scores [50 70 60 90 40 95 ...]: cutoff 4, baseline 90, candidate 5
	// rejected, candidate 6 accepted, nothing after is observed.
	engine := configured(t, Config{TotalExpected: 10, ObservationFraction: 0.37})
	scores := []float64{50, 70, 60, 90, 40, 95}

	var last Decision
	for i, score := range scores {
		last = observe(t, engine, i+1, score)
	}

	assert.Equal(t, OutcomeAccept, last.Outcome)
	assert.Equal(t, 90.0, last.Baseline)

	_, err := engine.Observe(Candidate{ID: "cand-7", ArrivalIndex: 7, Score: 30})
	require.ErrorIs(t, err, ErrConcluded)

	state := engine.State()
	require.NotNil(t, state.Accepted)
	assert.Equal(t, "cand-6", state.Accepted.ID)
	assert.Equal(t, 6, state.LastObservedIndex)
}

func TestForcedFinalAcceptance(t *testing.T) {
	// Monotonically decreasing scores: nothing beats the baseline, so the
	// last candidate of the known-length run is accepted by force.
	engine := configured(t, Config{TotalExpected: 10, ObservationFraction: 0.37})
	scores := []float64{90, 85, 80, 75, 70, 65, 60, 55, 50, 45}

	var last Decision
	for i, score := range scores {
		last = observe(t, engine, i+1, score)
	}

	assert.Equal(t, OutcomeAccept, last.Outcome)
	assert.Equal(t, ReasonForcedFinal, last.Reason)
	assert.Contains(t, last.Explain(), "forced acceptance")

	state := engine.State()
	require.NotNil(t, state.Accepted)
	assert.Equal(t, "cand-10", state.Accepted.ID)
	assert.Equal(t, 45.0, state.Accepted.Score)
}

func TestForcedAcceptanceCoversObservationOnlyRun(t *testing.T) {
	// N=1: the cutoff swallows the whole run, the single candidate must
	// still be accepted.
	engine := configured(t, Config{TotalExpected: 1})

	decision := observe(t, engine, 1, 42)
	assert.Equal(t, OutcomeAccept, decision.Outcome)
	assert.Equal(t, ReasonForcedFinal, decision.Reason)
	assert.Equal(t, PhaseConcluded, engine.State().Phase)
}

func TestTiesWithBaselineReject(t *testing.T) {
	engine := configured(t, Config{TotalExpected: 10, ObservationFraction: 0.37})
	for i, score := range []float64{50, 70, 60, 65} {
		observe(t, engine, i+1, score)
	}

	decision := observe(t, engine, 5, 70)
	assert.Equal(t, OutcomeReject, decision.Outcome)
	assert.Equal(t, ReasonBelowBaseline, decision.Reason)
	assert.Equal(t, PhaseSelecting, engine.State().Phase)
}

func TestAtMostOneAcceptance(t *testing.T) {
	engine := configured(t, Config{TotalExpected: 8, ObservationFraction: 0.25})

	accepted := 0
	for i, score := range []float64{10, 20, 30, 40, 50, 60} {
		decision, err := engine.Observe(Candidate{ID: fmt.Sprintf("cand-%d", i+1), ArrivalIndex: i + 1, Score: score})
		if errors.Is(err, ErrConcluded) {
			continue
		}
		require.NoError(t, err)
		if decision.Outcome == OutcomeAccept {
			accepted++
		}
	}

	assert.Equal(t, 1, accepted)

	first := engine.State().Accepted
	_, err := engine.Observe(Candidate{ID: "late", ArrivalIndex: 7, Score: 100})
	require.ErrorIs(t, err, ErrConcluded)
	assert.Equal(t, first, engine.State().Accepted)
}

func TestOutOfOrderLeavesStateUnchanged(t *testing.T) {
	engine := configured(t, Config{TotalExpected: 10, ObservationFraction: 0.37})
	observe(t, engine, 1, 50)

	before := engine.State()
	_, err := engine.Observe(Candidate{ID: "cand-3", ArrivalIndex: 3, Score: 80})

	var ordErr *OutOfOrderError
	require.ErrorAs(t, err, &ordErr)
	assert.Equal(t, 2, ordErr.Want)
	assert.Equal(t, 3, ordErr.Got)
	assert.Equal(t, before, engine.State())
}

func TestObserveUnconfigured(t *testing.T) {
	_, err := New().Observe(Candidate{ID: "cand-1", ArrivalIndex: 1, Score: 50})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestFixedWindowMode(t *testing.T) {
	// Unknown total: explicit window, no forced acceptance.
	engine := configured(t, Config{WindowSize: 3})

	for i, score := range []float64{80, 60, 70} {
		decision := observe(t, engine, i+1, score)
		assert.Equal(t, OutcomeReject, decision.Outcome)
	}
	assert.Equal(t, PhaseSelecting, engine.State().Phase)

	decision := observe(t, engine, 4, 75)
	assert.Equal(t, OutcomeReject, decision.Outcome)

	decision = observe(t, engine, 5, 81)
	assert.Equal(t, OutcomeAccept, decision.Outcome)
}

func TestResetGuard(t *testing.T) {
	engine := configured(t, Config{TotalExpected: 10})
	observe(t, engine, 1, 50)

	require.ErrorIs(t, engine.Reset(false), ErrResetBeforeConclusion)
	assert.Equal(t, PhaseObserving, engine.State().Phase)

	require.NoError(t, engine.Reset(true))
	assert.Equal(t, PhaseUnconfigured, engine.State().Phase)
}

func TestResetAfterConclusion(t *testing.T) {
	engine := configured(t, Config{TotalExpected: 2, ObservationFraction: 0.4})
	observe(t, engine, 1, 50)
	observe(t, engine, 2, 60)
	require.Equal(t, PhaseConcluded, engine.State().Phase)

	require.NoError(t, engine.Reset(false))
	assert.Equal(t, PhaseUnconfigured, engine.State().Phase)

	require.NoError(t, engine.Configure(Config{TotalExpected: 5}))
}

func TestRestoreRoundTrip(t *testing.T) {
	engine := configured(t, Config{TotalExpected: 10, ObservationFraction: 0.37})
	for i, score := range []float64{50, 70, 60, 65, 40} {
		observe(t, engine, i+1, score)
	}

	restored, err := Restore(engine.State())
	require.NoError(t, err)
	assert.Equal(t, engine.State(), restored.State())

	decision := observe(t, restored, 6, 95)
	assert.Equal(t, OutcomeAccept, decision.Outcome)
	assert.Equal(t, 70.0, decision.Baseline)
}

func TestRestoreRejectsBrokenSnapshots(t *testing.T) {
	cases := []struct {
		name  string
		state State
	}{
		{name: "unknown phase", state: State{Phase: Phase("LIMBO"), ObservationCutoff: 4}},
		{name: "missing cutoff", state: State{Phase: PhaseObserving}},
		{name: "negative index", state: State{Phase: PhaseObserving, ObservationCutoff: 4, LastObservedIndex: -1}},
		{name: "concluded without acceptance", state: State{Phase: PhaseConcluded, ObservationCutoff: 4, LastObservedIndex: 6}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Restore(tc.state)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestStateSnapshotIsACopy(t *testing.T) {
	engine := configured(t, Config{TotalExpected: 2, ObservationFraction: 0.4})
	observe(t, engine, 1, 50)
	observe(t, engine, 2, 60)

	snapshot := engine.State()
	require.NotNil(t, snapshot.Accepted)
	snapshot.Accepted.Score = 0

	assert.Equal(t, 60.0, engine.State().Accepted.Score)
}

func TestExplain(t *testing.T) {
	decision := Decision{Reason: ReasonAboveBaseline, Baseline: 70}
	assert.Equal(t, "exceeds observation-phase best of 70.0", decision.Explain())

	decision = Decision{Reason: ReasonBelowBaseline, Baseline: 70}
	assert.Equal(t, "does not exceed observation-phase best of 70.0", decision.Explain())
}
