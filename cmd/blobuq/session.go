package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/san-kum/blobuq/internal/campaign"
	"github.com/san-kum/blobuq/internal/config"
	"github.com/san-kum/blobuq/internal/models"
	"github.com/san-kum/blobuq/internal/params"
	"github.com/san-kum/blobuq/internal/refine"
	"github.com/san-kum/blobuq/internal/sc"
	"github.com/san-kum/blobuq/internal/storage"
)

const (
	configName = "campaign.yaml"
	runDBName  = "campaign.db"
	runsDir    = "runs"
)

// session is a campaign opened from the data directory.
type session struct {
	store  *storage.Store
	id     string
	meta   *storage.CampaignMetadata
	cfg    *config.Config
	space  *params.Space
	gen    *sc.Generator
	schema *sc.Schema
	state  *sc.State
}

func (s *session) dir() string { return s.store.Dir(s.id) }

// openSession loads the campaign named by args, or the latest one.
func openSession(args []string) (*session, error) {
	st := storage.New(dataDir)
	id := ""
	if len(args) > 0 {
		id = args[0]
	} else {
		latest, err := st.Latest()
		if err != nil {
			return nil, err
		}
		id = latest
	}

	meta, err := st.Load(id)
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", id, err)
	}
	cfg, err := config.Load(filepath.Join(st.Dir(id), configName))
	if err != nil {
		return nil, err
	}
	s, err := newSession(st, id, meta, cfg)
	if err != nil {
		return nil, err
	}
	if s.state, err = st.LoadState(id); err != nil {
		return nil, fmt.Errorf("campaign %s: %w", id, err)
	}
	return s, nil
}

func newSession(st *storage.Store, id string, meta *storage.CampaignMetadata, cfg *config.Config) (*session, error) {
	space, err := cfg.Space()
	if err != nil {
		return nil, err
	}
	gen, err := cfg.Generator()
	if err != nil {
		return nil, err
	}
	schema, err := cfg.Schema()
	if err != nil {
		return nil, err
	}
	return &session{store: st, id: id, meta: meta, cfg: cfg, space: space, gen: gen, schema: schema}, nil
}

func (s *session) surrogate() (*sc.Surrogate, error) {
	return sc.NewSurrogate(s.gen, s.schema, s.state.Accepted, s.state.Samples)
}

func (s *session) save() error {
	if s.state == nil {
		return nil
	}
	return s.store.Save(s.id, s.state, s.schema)
}

// applyExecutionFlags overrides configuration with explicitly set flags.
func applyExecutionFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("workers") {
		cfg.Execution.Workers = workers
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.Execution.BatchSize = batchSize
	}
	if cmd.Flags().Changed("method") {
		cfg.Refinement.Method = refine.Method(method)
	}
	return cfg.Validate()
}

// evaluator wires the configured model or solver command to the run
// database of the campaign.
func (s *session) evaluator(db *campaign.RunDB) (*campaign.Evaluator, error) {
	runner, err := newRunner(s.cfg)
	if err != nil {
		return nil, err
	}
	return campaign.NewEvaluator(s.space, s.cfg.Fixed, runner, db, filepath.Join(s.dir(), runsDir), s.schema), nil
}

func newRunner(cfg *config.Config) (campaign.Runner, error) {
	ex := cfg.Execution
	if ex.Model != "" {
		m, err := models.NewRegistry().Get(ex.Model)
		if err != nil {
			return nil, err
		}
		return campaign.FuncRunner(func(ctx context.Context, values map[string]float64) (map[string][]float64, error) {
			if ex.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, ex.Timeout)
				defer cancel()
			}
			return m.Evaluate(ctx, values)
		}), nil
	}

	runner := &campaign.CommandRunner{
		Executor: &campaign.Executor{Command: ex.Command, Timeout: ex.Timeout},
	}
	if ex.Template != "" {
		enc, err := campaign.NewEncoder(ex.Template, ex.TargetFilename)
		if err != nil {
			return nil, err
		}
		runner.Encoder = enc
	}
	dec, err := campaign.NewDecoder(ex.Decoder, ex.OutputFile)
	if err != nil {
		return nil, err
	}
	runner.Decoder = dec
	return runner, nil
}

// pointFor completes named values with each dimension's default, or its
// midpoint when the default lies outside the bounds.
func pointFor(space *params.Space, values map[string]float64) ([]float64, error) {
	full := make(map[string]float64, space.Dim())
	for _, d := range space.Dimensions() {
		if d.Contains(d.Default) {
			full[d.Name] = d.Default
		} else {
			full[d.Name] = d.Midpoint()
		}
	}
	for name, v := range values {
		full[name] = v
	}
	return space.Vector(full)
}
