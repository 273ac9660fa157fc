package campaign

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Encoder renders a solver input file from a template in which $name or
// ${name} stands for a parameter value.
type Encoder struct {
	Template string
	Target   string
}

func NewEncoder(templatePath, target string) (*Encoder, error) {
	data, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	if target == "" {
		return nil, fmt.Errorf("encoder needs a target filename")
	}
	return &Encoder{Template: string(data), Target: target}, nil
}

// Render substitutes values into the template. Every placeholder must name a
// known value.
func (e *Encoder) Render(values map[string]float64) (string, error) {
	missing := make(map[string]bool)
	out := os.Expand(e.Template, func(name string) string {
		v, ok := values[name]
		if !ok {
			missing[name] = true
			return ""
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	})
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return "", fmt.Errorf("template references unknown parameters: %s", strings.Join(names, ", "))
	}
	return out, nil
}

// Encode writes the rendered template into runDir.
func (e *Encoder) Encode(runDir string, values map[string]float64) error {
	out, err := e.Render(values)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(runDir, e.Target), []byte(out), 0644)
}
