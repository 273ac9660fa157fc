package config

import (
	"math"
	"sort"

	"github.com/san-kum/blobuq/internal/params"
	"github.com/san-kum/blobuq/internal/quadrature"
	"github.com/san-kum/blobuq/internal/refine"
	"github.com/san-kum/blobuq/internal/sc"
)

// Presets are ready-to-run campaigns. GetPreset hands out copies.
var Presets = map[string]*Config{
	"blob2d": {
		Name: "blob2d",
		Params: []params.Dimension{
			{Name: "height", Kind: params.Uniform, Min: 0.25, Max: 0.75, Default: 0.5},
			{Name: "width", Kind: params.Uniform, Min: 0.03, Max: 0.15, Default: 0.09},
		},
		Fixed: map[string]float64{"Te0": 5.0, "n0": 2.0e18, "D_vort": 1.0e-6, "D_n": 1.0e-6},
		QoIs: []sc.QoI{
			{Name: "maxV"}, {Name: "maxX"}, {Name: "avgTransp"}, {Name: "massLoss"},
			{Name: "peaked", Kind: sc.Flag},
		},
		Sampler: SamplerConfig{Growth: quadrature.Doubling, MaxLevel: DefaultMaxLevel},
		Refinement: RefinementConfig{
			Method:    refine.SurplusMethod,
			Normalize: true,
			Passes:    []Pass{{QoI: "avgTransp", Tolerance: DefaultTolerance, MinIterations: 1, MaxIterations: 1}},
		},
		Execution: ExecutionConfig{Model: "blob", Workers: DefaultWorkers, BatchSize: DefaultBatchSize, Timeout: DefaultTimeout},
		Log:       LogConfig{Level: "info", Format: "text"},
	},
	"additive": {
		Name: "additive",
		Params: []params.Dimension{
			{Name: "x", Kind: params.Uniform, Min: 0, Max: 1},
			{Name: "y", Kind: params.Uniform, Min: 0, Max: 1},
		},
		QoIs:    []sc.QoI{{Name: "q"}},
		Sampler: SamplerConfig{Growth: quadrature.Linear, MaxLevel: 6},
		Refinement: RefinementConfig{
			Method:    refine.SurplusMethod,
			Normalize: true,
			Passes:    []Pass{{QoI: "q", Tolerance: 1e-10, MinIterations: 2, MaxIterations: 10}},
		},
		Execution: ExecutionConfig{Model: "additive", Workers: DefaultWorkers, BatchSize: DefaultBatchSize, Timeout: DefaultTimeout},
		Log:       LogConfig{Level: "info", Format: "text"},
	},
	"ishigami": {
		Name: "ishigami",
		Params: []params.Dimension{
			{Name: "x1", Kind: params.Uniform, Min: -math.Pi, Max: math.Pi},
			{Name: "x2", Kind: params.Uniform, Min: -math.Pi, Max: math.Pi},
			{Name: "x3", Kind: params.Uniform, Min: -math.Pi, Max: math.Pi},
		},
		Fixed:   map[string]float64{"a": 7, "b": 0.1},
		QoIs:    []sc.QoI{{Name: "y"}},
		Sampler: SamplerConfig{Growth: quadrature.Doubling, MaxLevel: DefaultMaxLevel},
		Refinement: RefinementConfig{
			Method:    refine.VarianceMethod,
			Normalize: true,
			Passes:    []Pass{{QoI: "y", Tolerance: 1e-3, MinIterations: 5, MaxIterations: 40}},
		},
		Execution: ExecutionConfig{Model: "ishigami", Workers: DefaultWorkers, BatchSize: DefaultBatchSize, Timeout: DefaultTimeout},
		Log:       LogConfig{Level: "info", Format: "text"},
	},
}

func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
