package gemini

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/subletscout/sublet-scout/internal/ai"
	"go.uber.org/zap"
)

type stubGenerator struct {
	response   string
	err        error
	lastPrompt string
}

func (s *stubGenerator) GenerateContent(_ context.Context, prompt string) (string, error) {
	s.lastPrompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

var testListing = &ai.Listing{
	Address:      "Jutastraße 11, 80636 München",
	MonthlyTotal: 636,
	Deposit:      1608,
	StartDate:    "2025-09-01",
	EndDate:      "2026-03-31",
	Furnished:    true,
}

var testApplication = &ai.Application{
	ID:      "msg-1",
	Sender:  "max.mueller@example.com",
	Subject: "Bewerbung für Zimmer September-März",
	Body:    "Ich bin Nichtraucher und suche eine Zwischenmiete von September bis März.",
}

func TestEvaluatorParsesWeightedScore(t *testing.T) {
	stub := &stubGenerator{response: `{
		"financial_capability": 80,
		"non_smoking": 90,
		"timing_alignment": 100,
		"local_residency": 60,
		"tidiness": 70,
		"reasoning": "Solid applicant",
		"red_flags": [],
		"bonus_points": 5
	}`}
	evaluator := NewEvaluator(stub, zap.NewNop(), 0)

	score, err := evaluator.Evaluate(context.Background(), testListing, testApplication)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 80*0.30 + 90*0.25 + 100*0.20 + 60*0.15 + 70*0.10 + 5 = 87.5
	if math.Abs(score.Total-87.5) > 1e-9 {
		t.Fatalf("expected total 87.5, got %v", score.Total)
	}
	if score.Reasoning != "Solid applicant" {
		t.Fatalf("unexpected reasoning: %q", score.Reasoning)
	}
	if len(score.RedFlags) != 0 {
		t.Fatalf("expected no red flags, got %v", score.RedFlags)
	}
	if score.Raw == "" {
		t.Fatal("expected raw response to be kept")
	}
}

func TestEvaluatorPromptContainsListingAndApplication(t *testing.T) {
	stub := &stubGenerator{response: `{"financial_capability": 50}`}
	evaluator := NewEvaluator(stub, zap.NewNop(), 0)

	if _, err := evaluator.Evaluate(context.Background(), testListing, testApplication); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, expected := range []string{
		"Jutastraße 11",
		"636 EUR/month",
		"1608 EUR deposit",
		"max.mueller@example.com",
		"Bewerbung für Zimmer September-März",
		"Nichtraucher",
	} {
		if !strings.Contains(stub.lastPrompt, expected) {
			t.Fatalf("prompt missing %q:\n%s", expected, stub.lastPrompt)
		}
	}

	if strings.Contains(stub.lastPrompt, "{{") {
		t.Fatalf("prompt contains unreplaced placeholders:\n%s", stub.lastPrompt)
	}
}

func TestEvaluatorTruncatesLongBodies(t *testing.T) {
	stub := &stubGenerator{response: `{"financial_capability": 50}`}
	evaluator := NewEvaluator(stub, zap.NewNop(), 0)

	app := *testApplication
	app.Body = strings.Repeat("a", maxBodyRunes+500)

	if _, err := evaluator.Evaluate(context.Background(), testListing, &app); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Contains(stub.lastPrompt, strings.Repeat("a", maxBodyRunes+1)) {
		t.Fatal("expected body to be truncated in the prompt")
	}
	if !strings.Contains(stub.lastPrompt, strings.Repeat("a", maxBodyRunes)) {
		t.Fatal("expected truncated body to be present in the prompt")
	}
}

func TestEvaluatorDefaultsMissingCriteria(t *testing.T) {
	stub := &stubGenerator{response: `{"financial_capability": 80, "reasoning": "partial"}`}
	evaluator := NewEvaluator(stub, zap.NewNop(), 0)

	score, err := evaluator.Evaluate(context.Background(), testListing, testApplication)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if score.NonSmoking != 50 || score.Timing != 50 || score.Residency != 50 || score.Tidiness != 50 {
		t.Fatalf("expected missing criteria to default to 50, got %+v", score)
	}

	// 80*0.30 + 50*0.25 + 50*0.20 + 50*0.15 + 50*0.10 = 59
	if math.Abs(score.Total-59) > 1e-9 {
		t.Fatalf("expected total 59, got %v", score.Total)
	}
}

func TestEvaluatorHandlesFencedJSON(t *testing.T) {
	stub := &stubGenerator{response: "```json\n{\"financial_capability\": 70, \"non_smoking\": 80, \"timing_alignment\": 90, \"local_residency\": 50, \"tidiness\": 60}\n```"}
	evaluator := NewEvaluator(stub, zap.NewNop(), 0)

	score, err := evaluator.Evaluate(context.Background(), testListing, testApplication)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if score.Financial != 70 {
		t.Fatalf("expected financial 70, got %v", score.Financial)
	}
	if len(score.RedFlags) != 0 {
		t.Fatalf("did not expect a parsing fallback, got red flags %v", score.RedFlags)
	}
}

func TestEvaluatorEmergencyFallback(t *testing.T) {
	stub := &stubGenerator{response: "The applicant is a Nichtraucher with a steady income, very sauber, available from September."}
	evaluator := NewEvaluator(stub, zap.NewNop(), 0)

	score, err := evaluator.Evaluate(context.Background(), testListing, testApplication)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(score.RedFlags) != 1 || score.RedFlags[0] != "PARSING_ERROR" {
		t.Fatalf("expected PARSING_ERROR flag, got %v", score.RedFlags)
	}
	if score.NonSmoking != 90 {
		t.Fatalf("expected keyword scan to detect non-smoker, got %v", score.NonSmoking)
	}
	if score.Financial != 70 {
		t.Fatalf("expected keyword scan to detect income, got %v", score.Financial)
	}
	if score.Total <= 0 {
		t.Fatalf("expected a usable fallback total, got %v", score.Total)
	}
}

func TestEvaluatorCapsTotal(t *testing.T) {
	stub := &stubGenerator{response: `{
		"financial_capability": 100,
		"non_smoking": 100,
		"timing_alignment": 100,
		"local_residency": 100,
		"tidiness": 100,
		"bonus_points": 20
	}`}
	evaluator := NewEvaluator(stub, zap.NewNop(), 0)

	score, err := evaluator.Evaluate(context.Background(), testListing, testApplication)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if score.Total != 100 {
		t.Fatalf("expected total capped at 100, got %v", score.Total)
	}
}

func TestEvaluatorPropagatesGeneratorErrors(t *testing.T) {
	stub := &stubGenerator{err: errors.New("quota exceeded")}
	evaluator := NewEvaluator(stub, zap.NewNop(), 0)

	if _, err := evaluator.Evaluate(context.Background(), testListing, testApplication); err == nil {
		t.Fatal("expected an error")
	}
}

func TestEvaluatorRequiresInputs(t *testing.T) {
	evaluator := NewEvaluator(&stubGenerator{}, zap.NewNop(), 0)

	if _, err := evaluator.Evaluate(context.Background(), nil, testApplication); err == nil {
		t.Fatal("expected an error for missing listing")
	}
	if _, err := evaluator.Evaluate(context.Background(), testListing, nil); err == nil {
		t.Fatal("expected an error for missing application")
	}
}
