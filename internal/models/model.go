// Package models holds in-process models that stand in for the plasma
// solver in demos and tests.
package models

import (
	"context"
	"fmt"
	"sort"

	"github.com/san-kum/blobuq/internal/params"
	"github.com/san-kum/blobuq/internal/sc"
)

// Model evaluates QoIs for one set of named parameter values.
type Model interface {
	// Params is the default uncertain parameter space of the model.
	Params() []params.Dimension
	QoIs() []sc.QoI
	Evaluate(ctx context.Context, values map[string]float64) (map[string][]float64, error)
}

type Registry struct {
	models map[string]func() Model
}

func NewRegistry() *Registry {
	r := &Registry{models: make(map[string]func() Model)}

	r.models["additive"] = func() Model { return NewAdditive() }
	r.models["ishigami"] = func() Model { return NewIshigami() }
	r.models["product"] = func() Model { return NewProduct() }
	r.models["blob"] = func() Model { return NewBlob() }

	return r
}

func (r *Registry) Get(name string) (Model, error) {
	fn, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("unknown model: %s", name)
	}
	return fn(), nil
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(values map[string]float64, names ...string) ([]float64, error) {
	out := make([]float64, len(names))
	for i, n := range names {
		v, ok := values[n]
		if !ok {
			return nil, fmt.Errorf("missing parameter %s", n)
		}
		out[i] = v
	}
	return out, nil
}

func valueOr(values map[string]float64, name string, def float64) float64 {
	if v, ok := values[name]; ok {
		return v
	}
	return def
}
