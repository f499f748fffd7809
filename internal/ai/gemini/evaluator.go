package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/subletscout/sublet-scout/internal/ai"
	"github.com/subletscout/sublet-scout/internal/logger"
	"go.uber.org/zap"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// Evaluator rates rental applications with Gemini.
type Evaluator struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

//go:embed prompt.md
var promptTemplate string

const (
	defaultMaxLogLength = 200

	// The model only needs the opening of the email to rate it; long
	// attachments and signatures just burn tokens.
	maxBodyRunes = 600
)

func NewEvaluator(generator contentGenerator, log *zap.Logger, maxLogLength int) *Evaluator {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Evaluator{
		generator: generator,
		logger:    log,
		maxLogLen: maxLogLength,
	}
}

func (e *Evaluator) Evaluate(ctx context.Context, listing *ai.Listing, app *ai.Application) (*ai.TenantScore, error) {
	if listing == nil {
		return nil, fmt.Errorf("listing is required")
	}
	if app == nil {
		return nil, fmt.Errorf("application is required")
	}

	prompt := buildPrompt(listing, app)

	e.logger.Debug("gemini evaluate request",
		zap.String("application_id", app.ID),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", logger.TruncateForLog(prompt, e.maxLogLen)),
	)

	raw, err := e.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("gemini evaluate response",
		zap.String("application_id", app.ID),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", logger.TruncateForLog(raw, e.maxLogLen)),
	)

	score, err := e.parseResponse(raw)
	if err != nil {
		e.logger.Warn("gemini response is not parseable JSON, falling back to keyword scan",
			zap.String("application_id", app.ID),
			zap.Error(err),
		)
		score = emergencyParse(raw)
	}

	score.Raw = raw
	return score, nil
}

func buildPrompt(listing *ai.Listing, app *ai.Application) string {
	body := strings.TrimSpace(app.Body)
	if runes := []rune(body); len(runes) > maxBodyRunes {
		body = string(runes[:maxBodyRunes])
	}

	replacements := map[string]string{
		"{{ADDRESS}}":       listing.Address,
		"{{MONTHLY_TOTAL}}": strconv.FormatFloat(listing.MonthlyTotal, 'f', -1, 64),
		"{{DEPOSIT}}":       strconv.FormatFloat(listing.Deposit, 'f', -1, 64),
		"{{START_DATE}}":    listing.StartDate,
		"{{END_DATE}}":      listing.EndDate,
		"{{FURNISHED}}":     strconv.FormatBool(listing.Furnished),
		"{{SENDER}}":        app.Sender,
		"{{SUBJECT}}":       app.Subject,
		"{{BODY}}":          body,
	}

	prompt := promptTemplate
	for placeholder, value := range replacements {
		prompt = strings.ReplaceAll(prompt, placeholder, value)
	}
	return strings.TrimSpace(prompt)
}

func (e *Evaluator) parseResponse(raw string) (*ai.TenantScore, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	criterion := func(field string) float64 {
		value := coerceFloat(data[field])
		if math.IsNaN(value) {
			e.logger.Warn("criterion missing from gemini response, defaulting to neutral",
				zap.String("field", field),
			)
			return 50
		}
		return value
	}

	score := &ai.TenantScore{
		Financial:  criterion("financial_capability"),
		NonSmoking: criterion("non_smoking"),
		Timing:     criterion("timing_alignment"),
		Residency:  criterion("local_residency"),
		Tidiness:   criterion("tidiness"),
		Reasoning:  coerceString(data["reasoning"]),
		RedFlags:   coerceStrings(data["red_flags"]),
	}

	if bonus := coerceFloat(data["bonus_points"]); !math.IsNaN(bonus) {
		score.Bonus = bonus
	}

	if score.Reasoning == "" {
		score.Reasoning = "no reasoning provided"
	}

	score.Total = score.WeightedTotal()
	return score, nil
}

// emergencyParse salvages a rough score from a non-JSON response by scanning
// for criterion keywords.
func emergencyParse(raw string) *ai.TenantScore {
	text := strings.ToLower(raw)
	contains := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(text, w) {
				return true
			}
		}
		return false
	}

	score := &ai.TenantScore{
		Financial:  50,
		NonSmoking: 50,
		Timing:     50,
		Residency:  50,
		Tidiness:   50,
		Reasoning:  "emergency parsing, JSON response failed",
		RedFlags:   []string{"PARSING_ERROR"},
	}

	if contains("income", "salary", "job", "bafög", "eltern", "parents", "savings") {
		score.Financial = 70
	}

	if contains("nichtraucher", "non-smoker", "rauchfrei") {
		score.NonSmoking = 90
	} else if contains("raucher", "smoking") {
		score.NonSmoking = 10
	}

	if contains("september", "march", "semester", "temporary", "zwischenmiete") {
		score.Timing = 75
	}

	if contains("deutschland", "germany", "münchen", "deutsch") {
		score.Residency = 80
	}

	if contains("sauber", "clean", "ordentlich", "tidy") {
		score.Tidiness = 75
	}

	score.Total = score.WeightedTotal()
	return score
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")

	// The model sometimes wraps the JSON in prose.
	if start := strings.Index(raw, "{"); start != -1 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}

	return strings.TrimSpace(raw)
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}

func coerceStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}

	result := make([]string, 0, len(items))
	for _, item := range items {
		if s := coerceString(item); s != "" {
			result = append(result, s)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
