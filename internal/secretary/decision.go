package secretary

import "fmt"

// Phase is the lifecycle stage of a selection run.
type Phase string

const (
	PhaseUnconfigured Phase = "UNCONFIGURED"
	PhaseObserving    Phase = "OBSERVING"
	PhaseSelecting    Phase = "SELECTING"
	PhaseConcluded    Phase = "CONCLUDED"
)

// Outcome is the per-candidate verdict.
type Outcome string

const (
	OutcomeAccept Outcome = "ACCEPT"
	OutcomeReject Outcome = "REJECT"
)

// Reason is a machine-readable decision reason. Human text is rendered
// only at the presentation boundary via Decision.Explain.
type Reason string

const (
	ReasonObserving     Reason = "observation_baseline"
	ReasonBelowBaseline Reason = "below_baseline"
	ReasonAboveBaseline Reason = "above_baseline"
	ReasonForcedFinal   Reason = "forced_final"
)

// Candidate is a single scored arrival. The score is assigned upstream and
// never re-derived by the engine.
type Candidate struct {
	ID           string  `json:"id"`
	ArrivalIndex int     `json:"arrival_index"`
	Score        float64 `json:"score"`
}

// Decision records the verdict for one observed candidate.
type Decision struct {
	CandidateID  string  `json:"candidate_id"`
	ArrivalIndex int     `json:"arrival_index"`
	Outcome      Outcome `json:"outcome"`
	Phase        Phase   `json:"phase"`
	Reason       Reason  `json:"reason"`
	// Baseline is the observation-phase best the candidate was compared
	// against at decision time.
	Baseline float64 `json:"baseline"`
}

// Explain renders the structured reason as human-readable text.
func (d Decision) Explain() string {
	switch d.Reason {
	case ReasonObserving:
		return "observation phase, tracking baseline"
	case ReasonBelowBaseline:
		return fmt.Sprintf("does not exceed observation-phase best of %.1f", d.Baseline)
	case ReasonAboveBaseline:
		return fmt.Sprintf("exceeds observation-phase best of %.1f", d.Baseline)
	case ReasonForcedFinal:
		return "final candidate, forced acceptance to avoid empty outcome"
	}
	return string(d.Reason)
}
