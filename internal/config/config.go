package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/blobuq/internal/logging"
	"github.com/san-kum/blobuq/internal/params"
	"github.com/san-kum/blobuq/internal/quadrature"
	"github.com/san-kum/blobuq/internal/refine"
	"github.com/san-kum/blobuq/internal/sc"
)

const (
	DefaultMaxLevel  = quadrature.DefaultMaxLevel
	DefaultWorkers   = 4
	DefaultBatchSize = 1
	DefaultTimeout   = 30 * time.Minute
	DefaultTolerance = 0.1
)

// Config describes one UQ campaign.
type Config struct {
	Name       string             `yaml:"name"`
	Params     []params.Dimension `yaml:"params"`
	Fixed      map[string]float64 `yaml:"fixed,omitempty"`
	QoIs       []sc.QoI           `yaml:"qois"`
	Sampler    SamplerConfig      `yaml:"sampler"`
	Refinement RefinementConfig   `yaml:"refinement"`
	Execution  ExecutionConfig    `yaml:"execution"`
	Log        LogConfig          `yaml:"log"`
}

type SamplerConfig struct {
	Growth   quadrature.Growth `yaml:"growth"`
	MaxLevel int               `yaml:"max_level"`
}

type RefinementConfig struct {
	Method    refine.Method `yaml:"method"`
	Normalize bool          `yaml:"normalize"`
	Passes    []Pass        `yaml:"passes"`
}

// Pass refines for one QoI until its normalized error is within Tolerance,
// running between MinIterations and MaxIterations iterations.
type Pass struct {
	QoI           string  `yaml:"qoi"`
	Tolerance     float64 `yaml:"tolerance"`
	MinIterations int     `yaml:"min_iterations"`
	MaxIterations int     `yaml:"max_iterations"`
}

// ExecutionConfig selects how points are evaluated: an in-process model,
// or an external command run once per point in its own directory.
type ExecutionConfig struct {
	Model          string        `yaml:"model,omitempty"`
	Command        string        `yaml:"command,omitempty"`
	Template       string        `yaml:"template,omitempty"`
	TargetFilename string        `yaml:"target_filename,omitempty"`
	Decoder        string        `yaml:"decoder,omitempty"`
	OutputFile     string        `yaml:"output_file,omitempty"`
	Workers        int           `yaml:"workers"`
	BatchSize      int           `yaml:"batch_size"`
	Timeout        time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Sampler: SamplerConfig{
			Growth:   quadrature.Doubling,
			MaxLevel: DefaultMaxLevel,
		},
		Refinement: RefinementConfig{
			Method:    refine.SurplusMethod,
			Normalize: true,
		},
		Execution: ExecutionConfig{
			Workers:   DefaultWorkers,
			BatchSize: DefaultBatchSize,
			Timeout:   DefaultTimeout,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a campaign file on top of DefaultConfig and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Params = append([]params.Dimension(nil), c.Params...)
	out.QoIs = append([]sc.QoI(nil), c.QoIs...)
	out.Refinement.Passes = append([]Pass(nil), c.Refinement.Passes...)
	if c.Fixed != nil {
		out.Fixed = make(map[string]float64, len(c.Fixed))
		for k, v := range c.Fixed {
			out.Fixed[k] = v
		}
	}
	return &out
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Name == "" {
		add("name is required")
	}
	if _, err := c.Space(); err != nil {
		errs = append(errs, err)
	}
	schema, err := c.Schema()
	if err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Rule(); err != nil {
		errs = append(errs, err)
	}

	switch c.Refinement.Method {
	case refine.SurplusMethod, refine.VarianceMethod:
	default:
		add("unknown refinement method: %q", c.Refinement.Method)
	}
	if len(c.Refinement.Passes) == 0 {
		add("at least one refinement pass is required")
	}
	for i, p := range c.Refinement.Passes {
		if schema != nil {
			if _, err := schema.Lookup(p.QoI); err != nil {
				add("pass %d: %w", i+1, err)
			}
		}
		if p.Tolerance < 0 {
			add("pass %d: tolerance must not be negative", i+1)
		}
		if p.MinIterations < 0 || p.MaxIterations < p.MinIterations {
			add("pass %d: invalid iteration bounds: min %d, max %d", i+1, p.MinIterations, p.MaxIterations)
		}
	}

	if err := c.Execution.validate(); err != nil {
		errs = append(errs, err)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		add("unknown log format: %q", c.Log.Format)
	}
	return errors.Join(errs...)
}

func (e ExecutionConfig) validate() error {
	var errs []error
	switch {
	case e.Model != "" && e.Command != "":
		errs = append(errs, fmt.Errorf("execution: set either model or command, not both"))
	case e.Model == "" && e.Command == "":
		errs = append(errs, fmt.Errorf("execution: a model or a command is required"))
	case e.Command != "":
		switch e.Decoder {
		case "json", "blob":
		default:
			errs = append(errs, fmt.Errorf("execution: unknown decoder %q", e.Decoder))
		}
		if e.OutputFile == "" {
			errs = append(errs, fmt.Errorf("execution: output_file is required with a command"))
		}
		if e.Template != "" && e.TargetFilename == "" {
			errs = append(errs, fmt.Errorf("execution: target_filename is required with a template"))
		}
	}
	if e.Workers < 1 {
		errs = append(errs, fmt.Errorf("execution: workers must be at least 1"))
	}
	if e.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("execution: batch_size must be at least 1"))
	}
	if e.Timeout < 0 {
		errs = append(errs, fmt.Errorf("execution: timeout must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) Space() (*params.Space, error) {
	return params.NewSpace(c.Params...)
}

func (c *Config) Schema() (*sc.Schema, error) {
	return sc.NewSchema(c.QoIs...)
}

func (c *Config) Rule() (*quadrature.Rule, error) {
	return quadrature.New(c.Sampler.Growth, c.Sampler.MaxLevel)
}

// Generator builds the grid generator for the campaign's parameters and
// sampler settings.
func (c *Config) Generator() (*sc.Generator, error) {
	space, err := c.Space()
	if err != nil {
		return nil, err
	}
	rule, err := c.Rule()
	if err != nil {
		return nil, err
	}
	return sc.NewGenerator(space, rule), nil
}

func (c *Config) Options() refine.Options {
	return refine.Options{
		Method:    c.Refinement.Method,
		Normalize: c.Refinement.Normalize,
		Workers:   c.Execution.Workers,
		BatchSize: c.Execution.BatchSize,
	}
}
