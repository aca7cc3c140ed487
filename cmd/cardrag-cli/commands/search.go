package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/cardrag/cmd/cardrag-cli/ui"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/observability"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/search"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

var searchTimeout time.Duration

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Route and search a customer question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().DurationVar(&searchTimeout, "timeout", 30*time.Second, "overall timeout")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	ctx, cancel := context.WithTimeout(cmd.Context(), searchTimeout)
	defer cancel()
	requestID := uuid.NewString()
	ctx = observability.ContextWithTraceID(ctx, requestID)

	c, err := loadComponents(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	sp := ui.NewSpinner("Searching...")
	if !jsonOutput {
		sp.Start()
	}
	res, err := c.Service.Search(ctx, query)
	sp.Stop()

	if err != nil && !errors.Is(err, storage.ErrUnreachable) {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), res)
	}

	printResult(res, requestID)
	if err != nil {
		ui.Error("Document store unreachable: %v", err)
		return err
	}
	return nil
}

func printResult(res *search.Result, requestID string) {
	d := res.Decision
	ui.Section("Routing")
	ui.KeyValue("request", requestID)
	ui.KeyValue("route", string(d.Route))
	ui.KeyValue("scope", string(d.Scope))
	ui.KeyValue("should_search", strconv.FormatBool(d.ShouldSearch))
	if len(d.AppliedRules) > 0 {
		ui.KeyValue("rules", strings.Join(d.AppliedRules, ", "))
	}
	if len(d.Filters.CardNames) > 0 {
		ui.KeyValue("cards", strings.Join(d.Filters.CardNames, ", "))
	}
	if len(d.Filters.Intents) > 0 {
		ui.KeyValue("intents", strings.Join(d.Filters.Intents, ", "))
	}

	if res.Message != "" {
		ui.Warning("%s", res.Message)
		return
	}

	ui.Section(fmt.Sprintf("Documents (%d)", len(res.Documents)))
	rows := make([][]string, 0, len(res.Documents))
	for i, h := range res.Documents {
		id := h.ID
		if h.Pinned {
			id += " [pin]"
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			string(h.Table),
			id,
			ui.Truncate(h.Title, 40),
			strconv.FormatFloat(h.Score, 'f', 4, 64),
		})
	}
	ui.Table([]string{"#", "STORE", "ID", "TITLE", "SCORE"}, rows)

	if len(res.ConsultDocuments) > 0 {
		ui.Section("Similar consultations")
		for _, cc := range res.ConsultDocuments {
			ui.KeyValue(cc.ID, ui.Truncate(cc.Title, 60))
		}
	}
	if !res.ConsultHints.Empty() {
		ui.Section("Consult hints")
		ui.List(res.ConsultHints.FlowSteps)
		ui.List(res.ConsultHints.Questions)
	}

	ui.Debug("tiers=%v pins=%v store_calls=%d", res.Tiers, res.Pins, res.StoreCalls)
	ui.Info("cache=%s latency=%dms", res.CacheStatus, res.LatencyMs)
}
