package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/blobuq/internal/campaign"
	"github.com/san-kum/blobuq/internal/config"
	"github.com/san-kum/blobuq/internal/models"
	"github.com/san-kum/blobuq/internal/sc"
	"github.com/san-kum/blobuq/internal/storage"
	"github.com/san-kum/blobuq/internal/validate"
)

const validationDir = "validation"

// componentLabels names each component of a QoI: the name itself for
// scalars, name[i] for vectors.
func componentLabels(q sc.QoI) []string {
	if q.Width() == 1 {
		return []string{q.Name}
	}
	labels := make([]string, q.Width())
	for i := range labels {
		labels[i] = fmt.Sprintf("%s[%d]", q.Name, i)
	}
	return labels
}

func selectedQoIs(schema *sc.Schema, name string) ([]sc.QoI, error) {
	if name == "" {
		return schema.QoIs(), nil
	}
	q, err := schema.Lookup(name)
	if err != nil {
		return nil, err
	}
	return []sc.QoI{q}, nil
}

func evaluateSurrogate(cmd *cobra.Command, args []string) error {
	sess, err := openSession(args)
	if err != nil {
		return err
	}
	values := make(map[string]float64, len(at))
	for name, raw := range at {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", name, err)
		}
		values[name] = v
	}
	x, err := pointFor(sess.space, values)
	if err != nil {
		return err
	}
	surr, err := sess.surrogate()
	if err != nil {
		return err
	}
	qois, err := selectedQoIs(sess.schema, qoi)
	if err != nil {
		return err
	}

	fmt.Println("point:")
	for i, name := range sess.space.Names() {
		fmt.Printf("  %s = %g\n", name, x[i])
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QOI\tVALUE")
	for _, q := range qois {
		y, err := surr.Evaluate(q.Name, x)
		if err != nil {
			return err
		}
		for i, label := range componentLabels(q) {
			fmt.Fprintf(w, "%s\t%.6g\n", label, y[i])
		}
	}
	return w.Flush()
}

func showSobol(cmd *cobra.Command, args []string) error {
	sess, err := openSession(args)
	if err != nil {
		return err
	}
	surr, err := sess.surrogate()
	if err != nil {
		return err
	}
	qois, err := selectedQoIs(sess.schema, qoi)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "QOI\tPARAMS\t%s\n", strings.ToUpper(sobolKind))
	for _, q := range qois {
		indices, err := surr.Sobol(q.Name, sc.SobolKind(sobolKind))
		if err != nil {
			return err
		}
		labels := componentLabels(q)
		for _, s := range indices {
			for i, label := range labels {
				fmt.Fprintf(w, "%s\t%s\t%.4f\n", label, strings.Join(s.Dimensions, ","), s.Values[i])
			}
		}
	}
	return w.Flush()
}

func describeCampaign(cmd *cobra.Command, args []string) error {
	sess, err := openSession(args)
	if err != nil {
		return err
	}
	meta := sess.meta
	fmt.Printf("campaign: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("created: %s\n", meta.Created.Format("2006-01-02 15:04:05"))
	fmt.Printf("sampler: %s growth, max level %d, %s errors\n", meta.Growth, meta.MaxLevel, meta.Method)
	fmt.Printf("accepted indices: %d\n", sess.state.Accepted.Len())
	fmt.Printf("samples: %d\n\n", sess.state.Samples.Len())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARAM\tKIND\tMIN\tMAX")
	for _, d := range sess.space.Dimensions() {
		fmt.Fprintf(w, "%s\t%s\t%g\t%g\n", d.Name, d.Kind, d.Min, d.Max)
	}
	w.Flush()
	fmt.Println()
	return printMoments(sess)
}

func printMoments(sess *session) error {
	surr, err := sess.surrogate()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QOI\tMEAN\tVARIANCE\tSTD")
	for _, q := range sess.schema.QoIs() {
		m, err := surr.Moments(q.Name)
		if err != nil {
			return err
		}
		for i, label := range componentLabels(q) {
			fmt.Fprintf(w, "%s\t%.6g\t%.6g\t%.6g\n", label, m.Mean[i], m.Variance[i], m.Std[i])
		}
	}
	return w.Flush()
}

func showErrors(cmd *cobra.Command, args []string) error {
	sess, err := openSession(args)
	if err != nil {
		return err
	}
	if qoi != "" {
		if _, err := sess.schema.Lookup(qoi); err != nil {
			return err
		}
	}
	history := sess.state.Errors(qoi)
	if len(history) == 0 {
		fmt.Println("no refinements yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITER\tQOI\tINDEX\tERROR\tNORMALIZED")
	for _, h := range history {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.4e\t%.4e\n", h.Iteration, h.QoI, h.Index, h.Error, h.Normalized)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(history) < 2 {
		return nil
	}
	data := make([]float64, len(history))
	for i, h := range history {
		data[i] = math.Log10(math.Max(h.Normalized, 1e-300))
	}
	graph := asciigraph.Plot(data,
		asciigraph.Height(10),
		asciigraph.Width(60),
		asciigraph.Caption("log10 normalized error per iteration"),
	)
	fmt.Println()
	fmt.Println(graph)
	return nil
}

func listCampaigns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	campaigns, err := st.List()
	if err != nil {
		return err
	}
	if len(campaigns) == 0 {
		fmt.Println("no campaigns found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tCREATED\tPARAMS\tACCEPTED\tSAMPLES")
	for _, c := range campaigns {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			c.ID,
			c.Model,
			c.Created.Format("2006-01-02 15:04:05"),
			strings.Join(c.Params, ","),
			c.Accepted,
			c.Samples,
		)
	}
	return w.Flush()
}

func listRuns(cmd *cobra.Command, args []string) error {
	sess, err := openSession(args)
	if err != nil {
		return err
	}
	switch campaign.RunStatus(runStatus) {
	case "", campaign.StatusRunning, campaign.StatusComplete, campaign.StatusFailed:
	default:
		return fmt.Errorf("unknown run status: %s", runStatus)
	}

	db, err := campaign.OpenRunDB(cmd.Context(), filepath.Join(sess.dir(), runDBName))
	if err != nil {
		return err
	}
	defer db.Close()
	runs, err := db.Runs(cmd.Context(), campaign.RunStatus(runStatus))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPOINT\tSTATUS\tDIR\tELAPSED\tERROR")
	for _, r := range runs {
		elapsed := "-"
		if !r.Finished.IsZero() {
			elapsed = r.Finished.Sub(r.Started).String()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Key, r.Status, r.Dir, elapsed, r.Error)
	}
	return w.Flush()
}

func exportJSON(cmd *cobra.Command, args []string) error {
	sess, err := openSession(args)
	if err != nil {
		return err
	}
	report := storage.NewReport(*sess.meta, sess.state)

	surr, err := sess.surrogate()
	if err != nil {
		return err
	}
	for _, q := range sess.schema.Names() {
		m, err := surr.Moments(q)
		if err != nil {
			return err
		}
		report.Moments[q] = m
		indices, err := surr.Sobol(q, sc.FirstOrder)
		if errors.Is(err, sc.ErrInsufficientData) {
			continue
		}
		if err != nil {
			return err
		}
		report.Sobol[q] = indices
	}

	if outputFile == "" {
		return storage.ExportJSONStdout(report)
	}
	if err := storage.ExportJSON(outputFile, report); err != nil {
		return err
	}
	fmt.Printf("exported to %s\n", outputFile)
	return nil
}

func exportSVG(cmd *cobra.Command, args []string) error {
	sess, err := openSession(args)
	if err != nil {
		return err
	}
	if qoi != "" {
		if _, err := sess.schema.Lookup(qoi); err != nil {
			return err
		}
	}
	svg, err := storage.ErrorHistorySVG(sess.state.Errors(qoi), 800, 400)
	if err != nil {
		return err
	}
	if outputFile == "" {
		_, err = fmt.Print(svg)
		return err
	}
	if err := os.WriteFile(outputFile, []byte(svg), 0644); err != nil {
		return err
	}
	fmt.Printf("exported to %s\n", outputFile)
	return nil
}

func validateCampaign(cmd *cobra.Command, args []string) error {
	sess, err := openSession(args)
	if err != nil {
		return err
	}
	qois, err := selectedQoIs(sess.schema, qoi)
	if err != nil {
		return err
	}
	surr, err := sess.surrogate()
	if err != nil {
		return err
	}
	if err := applyExecutionFlags(cmd, sess.cfg); err != nil {
		return err
	}
	grid, err := validate.Uniform(sess.space, points)
	if err != nil {
		return err
	}
	runner, err := newRunner(sess.cfg)
	if err != nil {
		return err
	}
	eval := campaign.NewEvaluator(sess.space, sess.cfg.Fixed, runner, nil, filepath.Join(sess.dir(), validationDir), sess.schema)

	ex := sess.cfg.Execution
	report, err := validate.Check(cmd.Context(), grid, eval, surr.Evaluate, qois, ex.Workers, ex.BatchSize)
	if err != nil {
		return err
	}
	fmt.Printf("test points: %d (%d failed)\n\n", report.Points, report.Failed)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QOI\tPOINTS\tMAX ABS\tRMS\tRELATIVE")
	for _, r := range report.Results {
		fmt.Fprintf(w, "%s\t%d\t%.4e\t%.4e\t%.4e\n", r.QoI, r.Points, r.MaxAbs, r.RMS, r.Relative)
	}
	return w.Flush()
}

func showPresets(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PRESET\tMODEL\tPARAMS\tQOIS")
		for _, name := range config.ListPresets() {
			cfg := config.GetPreset(name)
			params := make([]string, len(cfg.Params))
			for i, d := range cfg.Params {
				params[i] = d.Name
			}
			qois := make([]string, len(cfg.QoIs))
			for i, q := range cfg.QoIs {
				qois[i] = q.Name
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, cfg.Execution.Model, strings.Join(params, ","), strings.Join(qois, ","))
		}
		return w.Flush()
	}

	cfg := config.GetPreset(args[0])
	if cfg == nil {
		return fmt.Errorf("unknown preset: %s (available: %v)", args[0], config.ListPresets())
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func listModels(cmd *cobra.Command, args []string) error {
	registry := models.NewRegistry()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tPARAMS\tQOIS")
	for _, name := range registry.List() {
		m, err := registry.Get(name)
		if err != nil {
			return err
		}
		var params, qois []string
		for _, d := range m.Params() {
			params = append(params, fmt.Sprintf("%s[%g,%g]", d.Name, d.Min, d.Max))
		}
		for _, q := range m.QoIs() {
			qois = append(qois, q.Name)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, strings.Join(params, " "), strings.Join(qois, ","))
	}
	return w.Flush()
}
