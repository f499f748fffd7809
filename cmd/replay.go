package cmd

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"

	"github.com/subletscout/sublet-scout/internal/ledger"
	"github.com/subletscout/sublet-scout/internal/secretary"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-run the decision engine over recorded applications with different parameters",
	Long: `Replay feeds every recorded application to a fresh decision engine in
arrival order and shows how the run would have played out under different
parameters. The ledger is never modified.`,
	Run: func(cmd *cobra.Command, _ []string) {
		led, err := ledger.Open(viper.GetString("ledger-file"))
		if err != nil {
			log.Fatalf("opening the decision ledger: %s", err)
		}

		if err := replay(cmd, led); err != nil {
			log.Fatalf("replaying the run: %s", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().Float64("fraction", 0, "observation fraction to replay with (defaults to 1/e)")
	replayCmd.Flags().Int("total", 0, "expected total number of applications to replay with")
	replayCmd.Flags().Int("window", 0, "fixed observation window to replay with")
}

func replay(cmd *cobra.Command, led *ledger.Ledger) error {
	records := led.Records()
	if len(records) == 0 {
		fmt.Println("No applications recorded yet, nothing to replay.")
		return nil
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ArrivalIndex < records[j].ArrivalIndex
	})

	config, err := replayConfig(cmd, len(records))
	if err != nil {
		return err
	}

	engine := secretary.New()
	if err := engine.Configure(config); err != nil {
		return err
	}

	fmt.Printf("\nReplaying %d applications", len(records))
	if config.TotalExpected > 0 {
		fmt.Printf(" (expected total %d)", config.TotalExpected)
	}
	if config.WindowSize > 0 {
		fmt.Printf(" (window %d)", config.WindowSize)
	}
	fmt.Println()
	fmt.Printf("Observation cutoff: %d\n\n", engine.State().ObservationCutoff)

	rows := make([][]string, 0, len(records))
	for _, record := range records {
		decision, err := engine.Observe(secretary.Candidate{
			ID:           record.CandidateID,
			ArrivalIndex: record.ArrivalIndex,
			Score:        record.Score,
		})
		if errors.Is(err, secretary.ErrConcluded) {
			rows = append(rows, []string{
				strconv.Itoa(record.ArrivalIndex),
				tint(record.Score, fmt.Sprintf("%.1f", record.Score)),
				record.Sender,
				"-",
				"arrived after the run concluded",
			})
			continue
		}
		if err != nil {
			return fmt.Errorf("observe candidate %s: %w", record.CandidateID, err)
		}

		rows = append(rows, []string{
			strconv.Itoa(record.ArrivalIndex),
			tint(record.Score, fmt.Sprintf("%.1f", record.Score)),
			record.Sender,
			outcomeText(decision),
			decision.Explain(),
		})
	}

	table := newStandingsTable()
	table.Header([]string{"Arrived", "Score", "Sender", "Outcome", "Reasoning"})
	table.Bulk(rows)
	table.Render()
	fmt.Println()

	if accepted := engine.State().Accepted; accepted != nil {
		fmt.Printf("Replay accepts candidate %s (score %.1f, arrival #%d)\n\n",
			accepted.ID, accepted.Score, accepted.ArrivalIndex)
	} else {
		fmt.Println("Replay accepts nobody with these parameters.")
		fmt.Println()
	}

	return nil
}

// replayConfig builds the engine config from flags. Without --total or
// --window the recorded run length is treated as the known total so the
// replay always concludes.
func replayConfig(cmd *cobra.Command, recorded int) (secretary.Config, error) {
	fraction, err := cmd.Flags().GetFloat64("fraction")
	if err != nil {
		return secretary.Config{}, err
	}

	total, err := cmd.Flags().GetInt("total")
	if err != nil {
		return secretary.Config{}, err
	}

	window, err := cmd.Flags().GetInt("window")
	if err != nil {
		return secretary.Config{}, err
	}

	if total == 0 && window == 0 {
		total = recorded
	}

	return secretary.Config{
		TotalExpected:       total,
		ObservationFraction: fraction,
		WindowSize:          window,
	}, nil
}

func outcomeText(decision secretary.Decision) string {
	if decision.Outcome == secretary.OutcomeAccept {
		return "ACCEPT"
	}
	return "reject"
}
