package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/subletscout/sublet-scout/internal/ai"
	"github.com/subletscout/sublet-scout/internal/ai/gemini"
	"github.com/subletscout/sublet-scout/internal/gmail"
	"github.com/subletscout/sublet-scout/internal/ledger"
	"github.com/subletscout/sublet-scout/internal/logger"
	"github.com/subletscout/sublet-scout/internal/secretary"
	"github.com/subletscout/sublet-scout/internal/secrets"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PromptYes           = "Yes, commit them to the run"
	PromptNo            = "No"
	PromptShowStandings = "Show current standings"
	PromptBatchToFile   = "Dump scored batch to file"
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "Feed the scored applications to the decision engine? This is irrevocable",
	Items: []string{PromptYes, PromptNo, PromptShowStandings, PromptBatchToFile},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch new applications, score them and let the engine decide",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before feeding candidates to the engine")
	runCmd.Flags().Bool("new-run", false, "discard the current run and start a fresh one (requires --force unless concluded)")
	runCmd.Flags().Bool("force", false, "allow --new-run to discard a run that has not concluded")
	runCmd.Flags().IntP("days-back", "b", 0, "override the search window in days")
}

// scored pairs an application with its evaluation, in arrival order.
type scored struct {
	app   *ai.Application
	score *ai.TenantScore
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the sublet-scout", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if config == nil {
		logger.Fatal("config is required")
	}

	led, err := ledger.Open(config.LedgerFile)
	if err != nil {
		logger.Fatal("opening the decision ledger", zap.Error(err))
	}

	engine, err := restoreEngine(cmd, led, config)
	if err != nil {
		logger.Fatal("preparing the decision engine", zap.Error(err))
	}

	logger.Info("selection run",
		zap.String("run_id", led.RunID()),
		zap.String("phase", string(engine.State().Phase)),
		zap.Int("processed", led.Len()),
	)

	if engine.State().Phase == secretary.PhaseConcluded {
		announceAccepted(led)
		logger.Info("exiting", zap.String("reason", "run already concluded; use --new-run to start over"))
		return
	}

	token, err := resolveToken(config)
	if err != nil {
		logger.Fatal(
			"loading gmail token",
			zap.Error(err),
			zap.String("hint", "set GMAIL_TOKEN_FILE environment variable or the 'token-file' key in the configuration file"),
		)
	}

	gm := gmail.New(ctx, logger, token)

	if config.UserAgent != "" {
		gm.UserAgent = config.UserAgent
	}

	messages, err := getMessages(cmd, gm, config, logger)
	if err != nil {
		logger.Fatal("getting recent messages", zap.Error(err))
	}

	if messages.Len() == 0 {
		logger.Info("exiting", zap.String("reason", "no messages found"))
		return
	}

	fresh := dropProcessed(led, messages, logger)
	if len(fresh) == 0 {
		logger.Info("exiting", zap.String("reason", "no new applications"))
		return
	}

	evaluator, err := newEvaluator(ctx, config.AI, logger)
	if err != nil {
		logger.Fatal("building the AI evaluator", zap.Error(err))
	}

	batch := evaluateApplications(ctx, evaluator, config.Listing, fresh, logger)

	logger.Info("scored new applications", zap.Int("count", len(batch)))

	action := PromptYes
	for {
		var err error
		if cmd.Flag("auto-approve").Value.String() == "false" {
			_, action, err = prompt.Run()
			if err != nil {
				logger.Fatal("exiting", zap.Error(err))
			}
		}

		if err := handleAction(action, engine, led, batch, logger); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			logger.Fatal("exiting", zap.Error(err))
		}
	}
}

func handleAction(action string, engine *secretary.Engine, led *ledger.Ledger, batch []*scored, logger *zap.Logger) error {
	switch action {
	case PromptYes:
		if err := commit(engine, led, batch, logger); err != nil {
			return err
		}
		return errExit
	case PromptNo:
		logger.Info("exiting", zap.String("reason", "got no from prompt"))
		return errExit
	case PromptShowStandings:
		renderStandings(led)
		return nil
	case PromptBatchToFile:
		filename, err := dumpBatch(batch)
		if err != nil {
			return fmt.Errorf("dump batch to file: %w", err)
		}
		logger.Info("dumping scored batch to file", zap.String("filename", filename))
		return nil
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

// commit feeds the scored batch to the engine in arrival order and persists
// every decision. Decisions made here are final.
func commit(engine *secretary.Engine, led *ledger.Ledger, batch []*scored, logger *zap.Logger) error {
	for _, entry := range batch {
		index := engine.State().LastObservedIndex + 1

		decision, err := engine.Observe(secretary.Candidate{
			ID:           entry.app.ID,
			ArrivalIndex: index,
			Score:        entry.score.Total,
		})
		if errors.Is(err, secretary.ErrConcluded) {
			logger.Warn("dropping candidate, run already concluded",
				zap.String("candidate_id", entry.app.ID),
			)
			continue
		}
		if err != nil {
			return fmt.Errorf("observe candidate %s: %w", entry.app.ID, err)
		}

		led.Append(newRecord(entry, decision))

		logger.Info("decision",
			zap.String("candidate_id", entry.app.ID),
			zap.String("sender", entry.app.Sender),
			zap.Float64("score", entry.score.Total),
			zap.String("outcome", string(decision.Outcome)),
			zap.String("phase", string(decision.Phase)),
			zap.String("reasoning", decision.Explain()),
		)
	}

	led.SetEngineState(engine.State())
	if err := led.Save(); err != nil {
		return fmt.Errorf("saving the ledger: %w", err)
	}

	logger.Info("ledger saved",
		zap.String("filename", led.Path()),
		zap.Int("total_processed", led.Len()),
	)

	if engine.State().Phase == secretary.PhaseConcluded {
		announceAccepted(led)
	}

	return nil
}

// dumpBatch writes the scored batch to a timestamped json file and returns
// the filename.
func dumpBatch(batch []*scored) (string, error) {
	type dumped struct {
		Application *ai.Application `json:"application"`
		Score       *ai.TenantScore `json:"score"`
	}

	out := make([]dumped, 0, len(batch))
	for _, entry := range batch {
		out = append(out, dumped{Application: entry.app, Score: entry.score})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf("scored-batch-%s.json", time.Now().Format("2006-01-02T15-04-05"))
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return "", err
	}

	return filename, nil
}

func newRecord(entry *scored, decision secretary.Decision) *ledger.Record {
	return &ledger.Record{
		CandidateID:  entry.app.ID,
		Sender:       entry.app.Sender,
		Subject:      entry.app.Subject,
		ReceivedAt:   entry.app.ReceivedAt,
		ArrivalIndex: decision.ArrivalIndex,
		Score:        entry.score.Total,
		Criteria: &ledger.Criteria{
			Financial:  entry.score.Financial,
			NonSmoking: entry.score.NonSmoking,
			Timing:     entry.score.Timing,
			Residency:  entry.score.Residency,
			Tidiness:   entry.score.Tidiness,
			Bonus:      entry.score.Bonus,
		},
		RedFlags:    entry.score.RedFlags,
		AIReasoning: entry.score.Reasoning,
		Outcome:     decision.Outcome,
		Phase:       decision.Phase,
		Reason:      decision.Reason,
		Baseline:    decision.Baseline,
		Reasoning:   decision.Explain(),
	}
}

func announceAccepted(led *ledger.Ledger) {
	accepted := led.Accepted()
	if accepted == nil {
		return
	}

	color.New(color.FgGreen, color.Bold).Printf("\nACCEPTED: %s (score %.1f, arrival #%d)\n", accepted.Sender, accepted.Score, accepted.ArrivalIndex)
	fmt.Printf("  %s\n\n", accepted.Reasoning)
}

func restoreEngine(cmd *cobra.Command, led *ledger.Ledger, config *Config) (*secretary.Engine, error) {
	newRun := cmd.Flag("new-run").Value.String() == "true"
	force := cmd.Flag("force").Value.String() == "true"

	if newRun {
		if state := led.EngineState(); state != nil && !force {
			if state.Phase == secretary.PhaseObserving || state.Phase == secretary.PhaseSelecting {
				return nil, secretary.ErrResetBeforeConclusion
			}
		}
		led.StartNewRun()
	}

	if state := led.EngineState(); state != nil {
		return secretary.Restore(*state)
	}

	engine := secretary.New()
	selection := config.Selection
	if selection == nil {
		selection = &SelectionConfig{}
	}

	err := engine.Configure(secretary.Config{
		TotalExpected:       selection.TotalExpected,
		ObservationFraction: selection.ObservationFraction,
		WindowSize:          selection.WindowSize,
	})
	if err != nil {
		return nil, err
	}

	return engine, nil
}

func resolveToken(config *Config) (string, error) {
	if config == nil {
		return "", errors.New("config is required")
	}

	tokenFile := strings.TrimSpace(config.TokenFile)
	if tokenFile == "" {
		tokenFile = strings.TrimSpace(viper.GetString("token-file"))
	}

	if tokenFile == "" {
		return "", errors.New("gmail token file is not configured")
	}

	return secrets.Load(secrets.Source{
		Name: "gmail token",
		File: tokenFile,
	})
}

func newEvaluator(ctx context.Context, cfg *AIConfig, log *zap.Logger) (ai.Evaluator, error) {
	if cfg == nil {
		return nil, errors.New("ai configuration is required")
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	gcfg := cfg.Gemini
	if gcfg == nil {
		gcfg = &GeminiConfig{}
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: gcfg.APIKey,
		File:  gcfg.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set GEMINI_API_KEY or ai.gemini.api-key-file)", err)
	}

	genLogger := logger.WithCommonFields(log, "gemini", gcfg.Model)

	generator, err := gemini.NewGenerator(ctx, apiKey, gcfg.Model, gcfg.MaxRetries, genLogger)
	if err != nil {
		return nil, err
	}

	return gemini.NewEvaluator(generator, genLogger, gcfg.MaxLogLength), nil
}

// getMessages returns recent messages matching the config, oldest first.
func getMessages(cmd *cobra.Command, gm *gmail.Client, config *Config, logger *zap.Logger) (*gmail.Messages, error) {
	params := config.Search
	if params == nil {
		params = &gmail.SearchParams{}
	}

	if flag := cmd.Flag("days-back"); flag != nil && flag.Value.String() != "0" {
		days, err := cmd.Flags().GetInt("days-back")
		if err != nil {
			return nil, err
		}
		params.DaysBack = days
	}

	results, err := gm.Search(params)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	logger.Info("getting messages", zap.Int("count", results.Len()))
	return results, nil
}

// dropProcessed converts unseen messages to applications, preserving receipt
// order. Messages already in the ledger are skipped.
func dropProcessed(led *ledger.Ledger, messages *gmail.Messages, logger *zap.Logger) []*ai.Application {
	fresh := make([]*ai.Application, 0, messages.Len())

	for _, message := range messages.Items {
		if led.Has(message.ID) {
			logger.Debug("skipping already processed message", zap.String("message_id", message.ID))
			continue
		}

		fresh = append(fresh, &ai.Application{
			ID:         message.ID,
			Sender:     message.Sender(),
			Subject:    message.Subject(),
			ReceivedAt: message.ReceivedAt(),
			Body:       message.BodyText(),
		})
	}

	if skipped := messages.Len() - len(fresh); skipped > 0 {
		logger.Info("skipping already processed messages", zap.Int("count", skipped))
	}

	return fresh
}

func evaluateApplications(ctx context.Context, evaluator ai.Evaluator, listing *ai.Listing, apps []*ai.Application, logger *zap.Logger) []*scored {
	batch := make([]*scored, 0, len(apps))
	for _, app := range apps {
		score, err := evaluator.Evaluate(ctx, listing, app)
		if err != nil {
			logger.Warn("AI evaluation failed, keeping candidate with zero score",
				zap.String("application_id", app.ID),
				zap.Error(err),
			)
			score = &ai.TenantScore{
				Reasoning: fmt.Sprintf("error during evaluation: %s", err),
				RedFlags:  []string{"AI_EVALUATION_ERROR"},
			}
		}

		logger.Info("application evaluated",
			zap.String("application_id", app.ID),
			zap.String("sender", app.Sender),
			zap.Float64("score", score.Total),
			zap.Strings("red_flags", score.RedFlags),
		)

		batch = append(batch, &scored{app: app, score: score})
	}

	return batch
}
