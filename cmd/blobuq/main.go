package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/san-kum/blobuq/internal/logging"
)

var (
	dataDir   string
	logLevel  string
	logFormat string

	// run
	preset     string
	live       bool
	workers    int
	batchSize  int
	method     string
	growth     string
	maxLevel   int
	outputFile string

	// refine
	qoi       string
	tolerance float64
	minIters  int
	maxIters  int

	// inspection
	at        map[string]string
	sobolKind string
	runStatus string
	points    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "blobuq",
		Short:         "adaptive sparse-grid uncertainty quantification for plasma blob simulations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogging(logLevel, logFormat)
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".blobuq", "campaign data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	runCmd := &cobra.Command{
		Use:   "run [campaign.yaml]",
		Short: "start a campaign and refine it pass by pass",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCampaign,
	}
	runCmd.Flags().StringVar(&preset, "preset", "", "start from a preset campaign")
	addExecutionFlags(runCmd)
	runCmd.Flags().StringVar(&growth, "growth", "doubling", "quadrature growth rule (doubling, linear)")
	runCmd.Flags().IntVar(&maxLevel, "max-level", 8, "maximum level per dimension")

	resumeCmd := &cobra.Command{
		Use:   "resume [campaign_id]",
		Short: "continue the refinement passes of a saved campaign",
		Args:  cobra.MaximumNArgs(1),
		RunE:  resumeCampaign,
	}
	addExecutionFlags(resumeCmd)

	refineCmd := &cobra.Command{
		Use:   "refine [campaign_id]",
		Short: "run an extra refinement pass on a saved campaign",
		Args:  cobra.MaximumNArgs(1),
		RunE:  refineCampaign,
	}
	refineCmd.Flags().StringVar(&qoi, "qoi", "", "quantity of interest to refine for")
	refineCmd.Flags().Float64Var(&tolerance, "tol", 0.1, "normalized error tolerance")
	refineCmd.Flags().IntVar(&minIters, "min", 1, "minimum iterations")
	refineCmd.Flags().IntVar(&maxIters, "max", 10, "maximum iterations")
	refineCmd.MarkFlagRequired("qoi")
	addExecutionFlags(refineCmd)

	surrogateCmd := &cobra.Command{
		Use:   "surrogate [campaign_id]",
		Short: "evaluate the surrogate at a parameter point",
		Args:  cobra.MaximumNArgs(1),
		RunE:  evaluateSurrogate,
	}
	surrogateCmd.Flags().StringToStringVar(&at, "at", nil, "parameter values, e.g. height=0.4,width=0.1 (others take their defaults)")
	surrogateCmd.Flags().StringVar(&qoi, "qoi", "", "only this quantity of interest")

	sobolCmd := &cobra.Command{
		Use:   "sobol [campaign_id]",
		Short: "sobol sensitivity indices",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showSobol,
	}
	sobolCmd.Flags().StringVar(&qoi, "qoi", "", "quantity of interest (default: all)")
	sobolCmd.Flags().StringVar(&sobolKind, "kind", "first_order", "first_order, total or all")

	describeCmd := &cobra.Command{
		Use:   "describe [campaign_id]",
		Short: "campaign summary and statistical moments",
		Args:  cobra.MaximumNArgs(1),
		RunE:  describeCampaign,
	}

	errorsCmd := &cobra.Command{
		Use:   "errors [campaign_id]",
		Short: "adaptation table and error history plot",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showErrors,
	}
	errorsCmd.Flags().StringVar(&qoi, "qoi", "", "only iterations refined for this quantity")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list campaigns",
		RunE:  listCampaigns,
	}

	runsCmd := &cobra.Command{
		Use:   "runs [campaign_id]",
		Short: "list model runs recorded in the run database",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listRuns,
	}
	runsCmd.Flags().StringVar(&runStatus, "status", "", "filter by status (running, complete, failed)")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [campaign_id]",
		Short: "export campaign results to JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default stdout)")

	exportSVGCmd := &cobra.Command{
		Use:   "export-svg [campaign_id]",
		Short: "plot the adaptation error history as SVG",
		Args:  cobra.MaximumNArgs(1),
		RunE:  exportSVG,
	}
	exportSVGCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default stdout)")
	exportSVGCmd.Flags().StringVar(&qoi, "qoi", "", "only plot this QoI")

	validateCmd := &cobra.Command{
		Use:   "validate [campaign_id]",
		Short: "compare the surrogate with fresh model runs on a tensor grid",
		Args:  cobra.MaximumNArgs(1),
		RunE:  validateCampaign,
	}
	validateCmd.Flags().IntVar(&points, "points", 3, "test points per dimension")
	validateCmd.Flags().StringVar(&qoi, "qoi", "", "only check this QoI")
	validateCmd.Flags().IntVar(&workers, "workers", 4, "concurrent evaluation batches")
	validateCmd.Flags().IntVar(&batchSize, "batch-size", 1, "points per evaluation batch")

	presetsCmd := &cobra.Command{
		Use:   "presets [name]",
		Short: "list presets, or print one as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showPresets,
	}

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list in-process models",
		RunE:  listModels,
	}

	rootCmd.AddCommand(runCmd, resumeCmd, refineCmd, surrogateCmd, sobolCmd, describeCmd, errorsCmd, listCmd, runsCmd, exportJSONCmd, exportSVGCmd, validateCmd, presetsCmd, modelsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addExecutionFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&live, "live", false, "show live refinement progress")
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent evaluation batches")
	cmd.Flags().IntVar(&batchSize, "batch-size", 1, "points per evaluation batch")
	cmd.Flags().StringVar(&method, "method", "surplus", "error method (surplus, variance)")
}

func initLogging(level, format string, w ...io.Writer) error {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return err
	}
	return logging.Init(lvl, format, w...)
}
