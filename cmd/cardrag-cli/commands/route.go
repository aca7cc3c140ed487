package commands

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/cardrag/cmd/cardrag-cli/ui"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/bootstrap"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/vocab"
)

var routeCmd = &cobra.Command{
	Use:   "route <query>",
	Short: "Show the routing decision for a question without searching",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRoute,
}

func init() {
	rootCmd.AddCommand(routeCmd)
}

func runRoute(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cliLogger(cfg)

	ix, err := vocab.Load(cfg.Vocabulary.DictionaryPath, bootstrap.VocabOptions(cfg, logger))
	if err != nil {
		return err
	}
	extractor := routing.NewExtractor(ix, cfg.Routing.FuzzyThreshold, cfg.Routing.FuzzyCardThreshold)
	router := routing.NewRouter(bootstrap.RoutingConfig(cfg), ix)

	d := router.Decide(extractor.Extract(strings.Join(args, " ")))
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), d)
	}

	ui.Section("Routing")
	ui.KeyValue("route", string(d.Route))
	ui.KeyValue("scope", string(d.Scope))
	ui.KeyValue("should_search", strconv.FormatBool(d.ShouldSearch))
	ui.KeyValue("retrieval_mode", string(d.RetrievalMode))
	ui.KeyValue("domain_confidence", strconv.FormatFloat(d.DomainConfidence, 'f', 2, 64))
	ui.KeyValue("rules", strings.Join(d.AppliedRules, ", "))

	sig := d.Signals
	ui.Section("Signals")
	ui.KeyValue("normalized", sig.Normalized)
	ui.KeyValue("cards", strings.Join(sig.CardNames, ", "))
	ui.KeyValue("actions", strings.Join(sig.Actions, ", "))
	ui.KeyValue("payments", strings.Join(sig.Payments, ", "))
	ui.KeyValue("weak_intents", strings.Join(sig.WeakIntents, ", "))
	return nil
}
