// The Stoic Leek: turns a day's fund profit or loss into an exercise
// prescription, with a side of market data.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Dxboy266/The-Stoic-Leek/api"
	"github.com/Dxboy266/The-Stoic-Leek/internal/config"
	"github.com/Dxboy266/The-Stoic-Leek/internal/datasource"
	"github.com/Dxboy266/The-Stoic-Leek/internal/llm"
	"github.com/Dxboy266/The-Stoic-Leek/internal/logging"
	"github.com/Dxboy266/The-Stoic-Leek/internal/market"
	"github.com/Dxboy266/The-Stoic-Leek/internal/prescription"
	"github.com/Dxboy266/The-Stoic-Leek/pkg/models"
	"github.com/Dxboy266/The-Stoic-Leek/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config and logger, set in PersistentPreRunE.
var (
	cfg *config.Config
	log *logrus.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stoicleek",
	Short: "The Stoic Leek — exercise prescriptions for fund investors",
	Long: `The Stoic Leek
Turns today's fund profit or loss into a mood, an exercise prescription
and a piece of advice, with live fund quotes, hot sectors and a daily
market roast on the side.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.Logging.Level = lvl
		}
		log = logging.New(cfg.Logging)
		api.Version = version
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(prescribeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fundCmd)
	rootCmd.AddCommand(sectorsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("The Stoic Leek %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Prescribe Command ---

var prescribeCmd = &cobra.Command{
	Use:   "prescribe",
	Short: "Generate an exercise prescription for today's P&L",
	Example: `  stoicleek prescribe --amount -3500 --principal 100000
  stoicleek prescribe --amount 820.5 --principal 50000 --exercise 深蹲 --exercise 跳绳`,
	RunE: func(cmd *cobra.Command, args []string) error {
		amountStr, _ := cmd.Flags().GetString("amount")
		principalStr, _ := cmd.Flags().GetString("principal")
		exercises, _ := cmd.Flags().GetStringSlice("exercise")
		model, _ := cmd.Flags().GetString("model")
		apiKey, _ := cmd.Flags().GetString("api-key")

		amount, err := parseMoney("amount", amountStr)
		if err != nil {
			return err
		}
		principal, err := parseMoney("principal", principalStr)
		if err != nil {
			return err
		}
		if apiKey == "" {
			apiKey = cfg.LLM.APIKey
		}

		client := llm.NewClient(
			llm.WithBaseURL(cfg.LLM.BaseURL),
			llm.WithTimeout(cfg.LLM.Timeout()),
			llm.WithLogger(log),
		)
		svc, err := prescription.NewServiceFromConfig(client, cfg, log, nil)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.LLM.Timeout()+5*time.Second)
		defer cancel()
		res, err := svc.Generate(ctx, prescription.Request{
			Amount:     amount,
			Principal:  principal,
			Exercises:  exercises,
			Model:      cfg.LLM.ResolveModel(model),
			Credential: apiKey,
		})
		if err != nil {
			return err
		}
		renderPrescription(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	prescribeCmd.Flags().String("amount", "", "today's profit or loss in yuan (negative for a loss)")
	prescribeCmd.Flags().String("principal", "", "total invested principal in yuan")
	prescribeCmd.Flags().StringSlice("exercise", nil, "exercise to choose from (repeatable; default: configured pool)")
	prescribeCmd.Flags().String("model", "", "model id or display name (default: configured model)")
	prescribeCmd.Flags().String("api-key", "", "provider API key (default: configured key)")
	_ = prescribeCmd.MarkFlagRequired("amount")
	_ = prescribeCmd.MarkFlagRequired("principal")
}

// parseMoney parses a yuan amount, tolerating thousands separators.
func parseMoney(name, s string) (decimal.Decimal, error) {
	s = strings.NewReplacer(",", "", "，", "", "¥", "", "￥", "").Replace(strings.TrimSpace(s))
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("--%s: %q is not a number", name, s)
	}
	return d, nil
}

func renderPrescription(w io.Writer, res *prescription.Result) {
	fmt.Fprintln(w, "═══════════════════════════════════════")
	fmt.Fprintln(w, "  韭菜处方单")
	fmt.Fprintln(w, "═══════════════════════════════════════")
	fmt.Fprintf(w, "  今日盈亏:  %s\n", utils.FormatSignedCNY(res.Amount.InexactFloat64()))
	fmt.Fprintf(w, "  本金:      %s\n", utils.FormatCNY(res.Principal.InexactFloat64()))
	fmt.Fprintf(w, "  收益率:    %s  (%s)\n", utils.FormatPct(res.ROIPercent.InexactFloat64()), res.TierLabel)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  【心情】%s\n", res.Mood)
	fmt.Fprintf(w, "  【运动】%s\n", res.ExerciseText)
	fmt.Fprintf(w, "  【建议】%s\n", res.Advice)
	fmt.Fprintln(w, "═══════════════════════════════════════")
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := api.NewServer(cfg, log)
		if err != nil {
			return err
		}
		defer srv.Close()

		if cfg.Market.RefreshCron != "" {
			refresher, err := market.NewRefresher(cfg.Market.RefreshCron, srv.Market(), log)
			if err != nil {
				return err
			}
			refresher.Start()
			defer refresher.Stop()
			go refresher.RunNow()
		}

		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		fmt.Printf("🌐 Starting The Stoic Leek API server on %s\n", addr)
		return srv.ListenAndServe(addr)
	},
}

// --- Fund Command ---

var fundCmd = &cobra.Command{
	Use:   "fund [code...]",
	Short: "Show real-time fund estimates",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		holding, _ := cmd.Flags().GetFloat64("holding")
		funds := datasource.NewFunds(cfg.Fund, log)

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		var quotes []models.FundQuote
		if len(args) == 1 {
			q, err := funds.Quote(ctx, args[0])
			if err != nil {
				return err
			}
			quotes = []models.FundQuote{*q}
		} else {
			var err error
			if quotes, err = funds.Batch(ctx, args); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		for _, q := range quotes {
			fmt.Fprintf(out, "%s  %-20s  估值 %.4f  %s  (%s, %s)\n",
				q.Code, q.Name, q.EstimatedNAV, utils.FormatPct(q.ChangePct), q.EstimateTime, q.Source)
			if holding > 0 {
				fmt.Fprintf(out, "        持仓 %s  今日 %s\n",
					utils.FormatCNY(holding), utils.FormatSignedCNY(q.DailyPnL(holding)))
			}
		}
		if len(quotes) < len(args) {
			fmt.Fprintf(out, "(%d of %d funds could not be quoted)\n", len(args)-len(quotes), len(args))
		}
		return nil
	},
}

func init() {
	fundCmd.Flags().Float64("holding", 0, "holding value in yuan, to estimate today's P&L")
}

// --- Sectors Command ---

var sectorsCmd = &cobra.Command{
	Use:   "sectors",
	Short: "Show today's hottest industry sectors",
	RunE: func(cmd *cobra.Command, args []string) error {
		top, _ := cmd.Flags().GetInt("top")
		sectors := datasource.NewSectors(datasource.DefaultSectorHosts, cfg.Market.TTL(), nil, log)

		ctx, cancel := context.WithTimeout(cmd.Context(), 20*time.Second)
		defer cancel()
		hot, err := sectors.Hot(ctx, top)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for i, s := range hot {
			leader := "-"
			if len(s.LeadingStocks) > 0 {
				leader = strings.Join(s.LeadingStocks, ",")
			}
			fmt.Fprintf(out, "%2d. %-10s %8s  领涨: %s\n", i+1, s.Name, utils.FormatPct(s.ChangePct), leader)
		}
		return nil
	},
}

func init() {
	sectorsCmd.Flags().Int("top", 10, "number of sectors to show")
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  The Stoic Leek — System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Printf("  Market Status: %s\n", utils.MarketStatus())
		fmt.Printf("  Time (CST):    %s\n", utils.FormatDateTimeCST(utils.NowCST()))
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    LLM:           %s (model: %s)\n", cfg.LLM.BaseURL, cfg.LLM.Model)
		fmt.Printf("    Tiers:         %v (strategy: %s)\n", cfg.Prescription.Thresholds, cfg.Prescription.Strategy)
		fmt.Printf("    Store:         %s %s\n", cfg.Store.Driver, cfg.Store.SQLitePath)
		fmt.Printf("    API Server:    %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Printf("    Refresh:       %s\n", cfg.Market.RefreshCron)
		fmt.Println()

		fmt.Println("  API Keys:")
		for _, k := range config.CheckAPIKeys(cfg) {
			status := "❌ not set"
			if k.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

// --- Config Command ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		force, _ := cmd.Flags().GetBool("force")
		if path == "" {
			path = config.ConfigFilePath()
		}
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.SaveToFile(config.Default(), path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().String("path", "", "destination (default: ~/.stoicleek/config.yaml)")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}
