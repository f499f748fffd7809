package cmd

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/subletscout/sublet-scout/internal/ledger"
	"github.com/subletscout/sublet-scout/internal/secretary"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Score tiers for the standings table.
const (
	tierGreen  = 80
	tierYellow = 65
)

var standingsCmd = &cobra.Command{
	Use:   "standings",
	Short: "Show all processed applications ranked by score",
	Run: func(_ *cobra.Command, _ []string) {
		led, err := ledger.Open(viper.GetString("ledger-file"))
		if err != nil {
			log.Fatalf("opening the decision ledger: %s", err)
		}

		renderStandings(led)
	},
}

func init() {
	rootCmd.AddCommand(standingsCmd)
}

func renderStandings(led *ledger.Ledger) {
	records := led.Rankings()
	if len(records) == 0 {
		fmt.Println("No applications processed yet.")
		return
	}

	fmt.Printf("\nRun %s\n", led.RunID())
	if state := led.EngineState(); state != nil {
		renderRunSummary(state)
	}
	fmt.Println()

	rows := make([][]string, 0, len(records))
	for rank, record := range records {
		rows = append(rows, []string{
			strconv.Itoa(rank + 1),
			tint(record.Score, fmt.Sprintf("%.1f", record.Score)),
			record.Sender,
			record.Subject,
			strconv.Itoa(record.ArrivalIndex),
			outcomeCell(record),
			strings.Join(record.RedFlags, ", "),
		})
	}

	table := newStandingsTable()
	table.Header([]string{"Rank", "Score", "Sender", "Subject", "Arrived", "Outcome", "Red Flags"})
	table.Bulk(rows)
	table.Render()
	fmt.Println()
}

func newStandingsTable() *tablewriter.Table {
	return tablewriter.NewTable(os.Stdout,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{
					AutoWrap: tw.WrapNone,
				},
				Alignment: tw.CellAlignment{
					Global: tw.AlignLeft,
				},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{
					AutoFormat: tw.On,
				},
				Alignment: tw.CellAlignment{
					Global: tw.AlignLeft,
				},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{
					ShowHeader: tw.Off,
				},
			},
		}),
	)
}

func renderRunSummary(state *secretary.State) {
	fmt.Printf("Phase: %s", state.Phase)
	if state.TotalExpected > 0 {
		fmt.Printf(" | Expected: %d", state.TotalExpected)
	}
	fmt.Printf(" | Observation cutoff: %d | Observed: %d", state.ObservationCutoff, state.LastObservedIndex)
	if state.BestObserved > 0 {
		fmt.Printf(" | Baseline: %.1f", state.BestObserved)
	}
	fmt.Println()
}

// tint colors a cell by score tier: green for strong applicants, yellow for
// borderline ones, red for the rest.
func tint(score float64, text string) string {
	switch {
	case score >= tierGreen:
		return color.GreenString(text)
	case score >= tierYellow:
		return color.YellowString(text)
	default:
		return color.RedString(text)
	}
}

func outcomeCell(record *ledger.Record) string {
	if record.Outcome == secretary.OutcomeAccept {
		return color.New(color.FgGreen, color.Bold).Sprint("ACCEPTED")
	}
	return string(record.Outcome)
}
