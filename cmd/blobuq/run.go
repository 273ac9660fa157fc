package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/blobuq/internal/campaign"
	"github.com/san-kum/blobuq/internal/config"
	"github.com/san-kum/blobuq/internal/quadrature"
	"github.com/san-kum/blobuq/internal/refine"
	"github.com/san-kum/blobuq/internal/storage"
	"github.com/san-kum/blobuq/internal/tui"
)

const liveLogName = "blobuq.log"

func runCampaign(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	switch {
	case len(args) > 0 && preset != "":
		return fmt.Errorf("give either a campaign file or --preset, not both")
	case len(args) > 0:
		loaded, err := config.Load(args[0])
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	case preset != "":
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	default:
		return fmt.Errorf("a campaign file or --preset is required")
	}

	if cmd.Flags().Changed("growth") {
		cfg.Sampler.Growth = quadrature.Growth(growth)
	}
	if cmd.Flags().Changed("max-level") {
		cfg.Sampler.MaxLevel = maxLevel
	}
	if err := applyExecutionFlags(cmd, cfg); err != nil {
		return err
	}
	if err := applyLogConfig(cmd, cfg); err != nil {
		return err
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	space, err := cfg.Space()
	if err != nil {
		return err
	}
	schema, err := cfg.Schema()
	if err != nil {
		return err
	}
	model := cfg.Execution.Model
	if model == "" {
		model = "command"
	}
	meta := storage.CampaignMetadata{
		Name:     cfg.Name,
		Model:    model,
		Params:   space.Names(),
		QoIs:     schema.Names(),
		Growth:   string(cfg.Sampler.Growth),
		MaxLevel: cfg.Sampler.MaxLevel,
		Method:   string(cfg.Refinement.Method),
	}
	id, err := st.Create(meta)
	if err != nil {
		return err
	}
	if err := config.Save(filepath.Join(st.Dir(id), configName), cfg); err != nil {
		return err
	}

	sess, err := newSession(st, id, &meta, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("campaign: %s\n", id)
	return execute(cmd.Context(), sess, cfg.Refinement.Passes)
}

func resumeCampaign(cmd *cobra.Command, args []string) error {
	sess, err := openSession(args)
	if err != nil {
		return err
	}
	if err := applyExecutionFlags(cmd, sess.cfg); err != nil {
		return err
	}
	if err := applyLogConfig(cmd, sess.cfg); err != nil {
		return err
	}

	passes := remainingPasses(sess.cfg.Refinement.Passes, sess.state.Refinements())
	if len(passes) == 0 {
		fmt.Printf("campaign %s: all refinement passes are complete\n", sess.id)
		return nil
	}
	fmt.Printf("campaign: %s (resuming with %d samples)\n", sess.id, sess.state.Samples.Len())
	return execute(cmd.Context(), sess, passes)
}

func refineCampaign(cmd *cobra.Command, args []string) error {
	sess, err := openSession(args)
	if err != nil {
		return err
	}
	if err := applyExecutionFlags(cmd, sess.cfg); err != nil {
		return err
	}
	if err := applyLogConfig(cmd, sess.cfg); err != nil {
		return err
	}
	pass := config.Pass{QoI: qoi, Tolerance: tolerance, MinIterations: minIters, MaxIterations: maxIters}
	if _, err := sess.schema.Lookup(pass.QoI); err != nil {
		return err
	}
	return execute(cmd.Context(), sess, []config.Pass{pass})
}

func applyLogConfig(cmd *cobra.Command, cfg *config.Config) error {
	if !cmd.Flags().Changed("log-level") && cfg.Log.Level != "" {
		logLevel = cfg.Log.Level
	}
	if !cmd.Flags().Changed("log-format") && cfg.Log.Format != "" {
		logFormat = cfg.Log.Format
	}
	return initLogging(logLevel, logFormat)
}

// remainingPasses deducts iterations already recorded per QoI from the
// configured passes, in order.
func remainingPasses(passes []config.Pass, done map[string]int) []config.Pass {
	budget := make(map[string]int, len(done))
	for q, n := range done {
		budget[q] = n
	}
	var out []config.Pass
	for _, p := range passes {
		used := min(budget[p.QoI], p.MaxIterations)
		budget[p.QoI] -= used
		p.MaxIterations -= used
		p.MinIterations = max(p.MinIterations-used, 0)
		if p.MaxIterations > 0 {
			out = append(out, p)
		}
	}
	return out
}

// execute refines the session's campaign through passes and saves the
// analysis state after every pass, including a failed or interrupted one.
func execute(ctx context.Context, sess *session, passes []config.Pass) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if live {
		logFile, err := os.Create(filepath.Join(sess.dir(), liveLogName))
		if err != nil {
			return err
		}
		defer logFile.Close()
		if err := initLogging(logLevel, logFormat, logFile); err != nil {
			return err
		}
	}

	db, err := campaign.OpenRunDB(ctx, filepath.Join(sess.dir(), runDBName))
	if err != nil {
		return err
	}
	defer db.Close()

	eval, err := sess.evaluator(db)
	if err != nil {
		return err
	}
	var ctrl *refine.Controller
	if sess.state == nil {
		ctrl, err = refine.New(sess.gen, sess.schema, eval, sess.cfg.Options())
	} else {
		ctrl, err = refine.Resume(sess.gen, sess.schema, eval, sess.state, sess.cfg.Options())
	}
	if err != nil {
		return err
	}

	save := func() error {
		sess.state = ctrl.State()
		return sess.save()
	}

	var counts map[string]int
	if live {
		counts, err = refineLive(ctx, sess.cfg.Name, ctrl, passes, save)
	} else {
		counts, err = refinePasses(ctx, ctrl, passes, nil, save)
	}
	if serr := save(); serr != nil {
		err = errors.Join(err, fmt.Errorf("save campaign: %w", serr))
	}
	if err != nil {
		return err
	}

	printPassSummary(sess, passes, counts)
	fmt.Println()
	return printMoments(sess)
}

func refinePasses(ctx context.Context, ctrl *refine.Controller, passes []config.Pass, onPass func(tui.Pass), afterPass func() error) (map[string]int, error) {
	counts := make(map[string]int)
	for _, p := range passes {
		if onPass != nil {
			onPass(tui.Pass{QoI: p.QoI, Tolerance: p.Tolerance, MaxIterations: p.MaxIterations})
		}
		n, err := ctrl.RefineToPrecision(ctx, p.QoI, p.Tolerance, p.MinIterations, p.MaxIterations)
		counts[p.QoI] += n
		if err != nil {
			return counts, fmt.Errorf("refine %s: %w", p.QoI, err)
		}
		if err := afterPass(); err != nil {
			return counts, err
		}
	}
	return counts, nil
}

func refineLive(ctx context.Context, name string, ctrl *refine.Controller, passes []config.Pass, afterPass func() error) (map[string]int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	view := tui.NewLive(name, cancel)
	ctrl.AddObserver(view.Observer())

	type result struct {
		counts map[string]int
		err    error
	}
	done := make(chan result, 1)
	go func() {
		counts, err := refinePasses(ctx, ctrl, passes, view.StartPass, afterPass)
		view.Finish(err)
		done <- result{counts, err}
	}()

	if err := view.Run(); err != nil {
		cancel()
		r := <-done
		return r.counts, errors.Join(err, r.err)
	}
	r := <-done
	return r.counts, r.err
}

func printPassSummary(sess *session, passes []config.Pass, counts map[string]int) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QOI\tITERATIONS\tERROR\tTOL")
	seen := make(map[string]bool)
	for _, p := range passes {
		if seen[p.QoI] {
			continue
		}
		seen[p.QoI] = true
		latest := "-"
		if last, ok := sess.state.LatestError(p.QoI); ok {
			latest = fmt.Sprintf("%.3e", last.Normalized)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%g\n", p.QoI, counts[p.QoI], latest, p.Tolerance)
	}
	w.Flush()

	refinements := sess.state.Refinements()
	names := make([]string, 0, len(refinements))
	for q := range refinements {
		names = append(names, q)
	}
	sort.Strings(names)
	fmt.Printf("\naccepted indices: %d\n", sess.state.Accepted.Len())
	fmt.Printf("samples: %d\n", sess.state.Samples.Len())
	for _, q := range names {
		fmt.Printf("refinements for %s: %d\n", q, refinements[q])
	}
}
