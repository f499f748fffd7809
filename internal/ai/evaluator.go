package ai

import (
	"context"
	"time"
)

// Listing describes the rental being offered. It is prompt context for the
// evaluator, never touched by the decision engine.
type Listing struct {
	Address      string  `mapstructure:"address"`
	MonthlyTotal float64 `mapstructure:"monthly-total"`
	Deposit      float64 `mapstructure:"deposit"`
	StartDate    string  `mapstructure:"start-date"`
	EndDate      string  `mapstructure:"end-date"`
	Furnished    bool    `mapstructure:"furnished"`
}

// Application is a single rental application, decoupled from how it was
// fetched.
type Application struct {
	ID         string
	Sender     string
	Subject    string
	ReceivedAt time.Time
	Body       string
}

// Criteria weights, in percent. They sum to 100; the weighted total is what
// the decision engine ranks on.
const (
	WeightFinancial  = 30
	WeightNonSmoking = 25
	WeightTiming     = 20
	WeightResidency  = 15
	WeightTidiness   = 10
)

// TenantScore is the evaluator's verdict for one application. Each criterion
// is rated 0-100; Total is the weighted sum plus bonus, capped at 100.
type TenantScore struct {
	Total      float64  `json:"total"`
	Financial  float64  `json:"financial_capability"`
	NonSmoking float64  `json:"non_smoking"`
	Timing     float64  `json:"timing_alignment"`
	Residency  float64  `json:"local_residency"`
	Tidiness   float64  `json:"tidiness"`
	Bonus      float64  `json:"bonus_points"`
	Reasoning  string   `json:"reasoning"`
	RedFlags   []string `json:"red_flags"`
	Raw        string   `json:"-"`
}

// WeightedTotal computes the capped weighted sum of the criteria scores.
func (s *TenantScore) WeightedTotal() float64 {
	total := s.Financial*WeightFinancial/100 +
		s.NonSmoking*WeightNonSmoking/100 +
		s.Timing*WeightTiming/100 +
		s.Residency*WeightResidency/100 +
		s.Tidiness*WeightTidiness/100

	total += s.Bonus
	if total > 100 {
		total = 100
	}
	return total
}

// Evaluator rates a rental application against a listing.
type Evaluator interface {
	Evaluate(ctx context.Context, listing *Listing, app *Application) (*TenantScore, error)
}
