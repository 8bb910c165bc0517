package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/kartta/internal/discovery"
)

var discoverOutput string

// discoverCmd runs a single discovery pass
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one discovery pass across every active account",
	Long: `Discover tagged resources in every active account and region, enrich
them with live state and health, and reconcile them into the inventory.`,
	Example: `  kartta discover -c kartta.yaml
  kartta discover -c kartta.yaml -o json`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().StringVarP(&discoverOutput, "output", "o", "table", "Output format: table, json")
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.close(context.Background()) }()

	summary, err := a.coordinator.DiscoverAll(ctx)
	if errors.Is(err, discovery.ErrNoAccounts) {
		return fmt.Errorf("%w: add one with 'kartta accounts add'", err)
	}
	if err != nil {
		return err
	}

	log.Debug().Dur("duration", summary.Duration).Msg("discovery finished")
	return printSummary(cmd.OutOrStdout(), discoverOutput, summary)
}

func printSummary(w io.Writer, format string, s discovery.Summary) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct {
		label string
		value any
	}{
		{"Resources discovered", s.ResourcesDiscovered},
		{"Accounts processed", s.AccountsProcessed},
		{"Accounts failed", s.AccountsFailed},
		{"Created", s.Created},
		{"Updated", s.Updated},
		{"State changes", s.StateChanges},
		{"Health changes", s.HealthChanges},
		{"Owner changes", s.OwnerChanges},
		{"Enrichment failures", s.EnrichmentFailures},
		{"Persist failures", s.PersistFailures},
		{"Duration", s.Duration.Round(time.Millisecond)},
	}
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%v\n", r.label, r.value)
	}
	return tw.Flush()
}
