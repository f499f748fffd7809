// Package ledger is the append-only decision log for a selection run. It
// records every observed candidate with the decision made, plus the engine
// snapshot needed to resume the run on the next poll.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/subletscout/sublet-scout/internal/secretary"
)

// Criteria is the per-criterion score breakdown kept for auditing.
type Criteria struct {
	Financial  float64 `json:"financial_capability"`
	NonSmoking float64 `json:"non_smoking"`
	Timing     float64 `json:"timing_alignment"`
	Residency  float64 `json:"local_residency"`
	Tidiness   float64 `json:"tidiness"`
	Bonus      float64 `json:"bonus_points,omitempty"`
}

// Record is one candidate's full audit entry: who applied, how they scored
// and what the engine decided.
type Record struct {
	CandidateID  string            `json:"candidate_id"`
	Sender       string            `json:"sender,omitempty"`
	Subject      string            `json:"subject,omitempty"`
	ReceivedAt   time.Time         `json:"received_at,omitempty"`
	ProcessedAt  time.Time         `json:"processed_at"`
	ArrivalIndex int               `json:"arrival_index"`
	Score        float64           `json:"score"`
	Criteria     *Criteria         `json:"criteria,omitempty"`
	RedFlags     []string          `json:"red_flags,omitempty"`
	AIReasoning  string            `json:"ai_reasoning,omitempty"`
	Outcome      secretary.Outcome `json:"outcome"`
	Phase        secretary.Phase   `json:"phase"`
	Reason       secretary.Reason  `json:"reason"`
	Baseline     float64           `json:"baseline"`
	Reasoning    string            `json:"reasoning"`
}

type fileFormat struct {
	RunID     string           `json:"run_id"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Engine    *secretary.State `json:"engine,omitempty"`
	Records   []*Record        `json:"records"`
}

// Ledger is the on-disk decision log. Not safe for concurrent use, same as
// the engine it records.
type Ledger struct {
	path string
	data *fileFormat
}

// Open loads the ledger at path, starting a fresh run when the file is
// missing or empty. A present but corrupt file is an error: it may hold
// irrevocable decisions and is never silently discarded.
func Open(path string) (*Ledger, error) {
	ledger := &Ledger{path: path}

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		ledger.data = newFile()
		return ledger, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	if stat.Size() == 0 {
		ledger.data = newFile()
		return ledger, nil
	}

	var data fileFormat
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding ledger %q: %w", path, err)
	}

	if data.RunID == "" {
		data.RunID = uuid.NewString()
	}

	ledger.data = &data
	return ledger, nil
}

func newFile() *fileFormat {
	now := time.Now().UTC()
	return &fileFormat{
		RunID:     uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Save writes the ledger back to disk as indented JSON.
func (l *Ledger) Save() error {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	l.data.UpdatedAt = time.Now().UTC()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(l.data); err != nil {
		return err
	}
	return nil
}

func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) RunID() string {
	return l.data.RunID
}

// EngineState returns the persisted engine snapshot, nil for a fresh run.
func (l *Ledger) EngineState() *secretary.State {
	return l.data.Engine
}

// SetEngineState stores the engine snapshot to persist with the next Save.
func (l *Ledger) SetEngineState(state secretary.State) {
	l.data.Engine = &state
}

// Has reports whether a candidate with the given id was already processed.
func (l *Ledger) Has(candidateID string) bool {
	for _, record := range l.data.Records {
		if record.CandidateID == candidateID {
			return true
		}
	}
	return false
}

// Append adds a record to the log. Records are never updated or removed.
func (l *Ledger) Append(record *Record) {
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now().UTC()
	}
	l.data.Records = append(l.data.Records, record)
}

func (l *Ledger) Len() int {
	return len(l.data.Records)
}

// Records returns the log in arrival order.
func (l *Ledger) Records() []*Record {
	return l.data.Records
}

// Rankings returns a copy of the records sorted by score, best first. This is
// presentation only: the engine itself never sees sorted data.
func (l *Ledger) Rankings() []*Record {
	ranked := make([]*Record, len(l.data.Records))
	copy(ranked, l.data.Records)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score == ranked[j].Score {
			return ranked[i].ArrivalIndex < ranked[j].ArrivalIndex
		}
		return ranked[i].Score > ranked[j].Score
	})

	return ranked
}

// Accepted returns the accepted record, nil while the run is open.
func (l *Ledger) Accepted() *Record {
	for _, record := range l.data.Records {
		if record.Outcome == secretary.OutcomeAccept {
			return record
		}
	}
	return nil
}

// StartNewRun discards all records and the engine snapshot and assigns a new
// run id. The caller is responsible for guarding against discarding an
// in-progress run (see secretary.Engine.Reset).
func (l *Ledger) StartNewRun() {
	l.data = newFile()
}
