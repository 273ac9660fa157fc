package campaign

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Decoder turns the output of one run into QoI values.
type Decoder interface {
	Decode(runDir string) (map[string][]float64, error)
}

// NewDecoder returns the decoder registered under kind.
func NewDecoder(kind, filename string) (Decoder, error) {
	switch kind {
	case "json":
		return &JSONDecoder{Filename: filename}, nil
	case "blob":
		return &BlobDecoder{Filename: filename}, nil
	}
	return nil, fmt.Errorf("unknown decoder: %s", kind)
}

// JSONDecoder reads a JSON object of QoI names to numbers, number arrays or
// booleans.
type JSONDecoder struct {
	Filename string
}

func (d *JSONDecoder) Decode(runDir string) (map[string][]float64, error) {
	data, err := os.ReadFile(filepath.Join(runDir, d.Filename))
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", d.Filename, err)
	}

	out := make(map[string][]float64, len(raw))
	for name, msg := range raw {
		var (
			num  float64
			nums []float64
			flag bool
		)
		switch {
		case string(msg) == "null":
			return nil, fmt.Errorf("%s: quantity %s is null", d.Filename, name)
		case json.Unmarshal(msg, &num) == nil:
			out[name] = []float64{num}
		case json.Unmarshal(msg, &nums) == nil:
			out[name] = nums
		case json.Unmarshal(msg, &flag) == nil:
			out[name] = []float64{boolValue(flag)}
		default:
			return nil, fmt.Errorf("%s: quantity %s is not numeric", d.Filename, name)
		}
	}
	return out, nil
}

// BlobDecoder reads the blob time series written by the solver post-processing
// step: a CSV with columns t, density (integrated density perturbation) and
// transport (integrated density-weighted radial position).
type BlobDecoder struct {
	Filename string
}

func (d *BlobDecoder) Decode(runDir string) (map[string][]float64, error) {
	file, err := os.Open(filepath.Join(runDir, d.Filename))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Filename, err)
	}
	if len(records) < 3 {
		return nil, fmt.Errorf("%s: need a header and at least two samples", d.Filename)
	}

	cols := map[string]int{"t": -1, "density": -1, "transport": -1}
	for i, h := range records[0] {
		if _, ok := cols[strings.TrimSpace(h)]; ok {
			cols[strings.TrimSpace(h)] = i
		}
	}
	for name, i := range cols {
		if i < 0 {
			return nil, fmt.Errorf("%s: missing column %s", d.Filename, name)
		}
	}

	n := len(records) - 1
	t, density, transport := make([]float64, n), make([]float64, n), make([]float64, n)
	for row, record := range records[1:] {
		for name, dst := range map[string][]float64{"t": t, "density": density, "transport": transport} {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[cols[name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("%s: row %d: %w", d.Filename, row+2, err)
			}
			dst[row] = v
		}
	}
	return BlobQoIs(t, density, transport)
}

// BlobQoIs derives the blob quantities from its time series. The centre of
// mass is transport/density and the velocity its time derivative; the QoIs
// are read at the first velocity maximum:
//
//   - maxV: peak radial velocity
//   - maxX: centre of mass at peak velocity
//   - avgTransp: mean transport up to and including the peak
//   - massLoss: density at the peak relative to the initial density
//   - peaked: 1 if the velocity maximum is not the last sample
func BlobQoIs(t, density, transport []float64) (map[string][]float64, error) {
	n := len(t)
	if n < 2 || len(density) != n || len(transport) != n {
		return nil, fmt.Errorf("blob series need at least two samples of equal length")
	}
	com := make([]float64, n)
	for i := range com {
		if density[i] == 0 {
			return nil, fmt.Errorf("zero integrated density at t=%g", t[i])
		}
		com[i] = transport[i] / density[i]
	}
	v, err := gradient(com, t)
	if err != nil {
		return nil, err
	}

	peak := floats.MaxIdx(v)
	return map[string][]float64{
		"maxV":      {v[peak]},
		"maxX":      {com[peak]},
		"avgTransp": {stat.Mean(transport[:peak+1], nil)},
		"massLoss":  {density[peak] / density[0]},
		"peaked":    {boolValue(v[peak] != v[n-1])},
	}, nil
}

// gradient differentiates y over a possibly non-uniform grid x with second
// order central differences inside and one-sided differences at the ends.
func gradient(y, x []float64) ([]float64, error) {
	n := len(y)
	d := make([]float64, n)
	for i := 1; i < n; i++ {
		if x[i] <= x[i-1] {
			return nil, fmt.Errorf("time must be strictly increasing at sample %d", i)
		}
	}
	d[0] = (y[1] - y[0]) / (x[1] - x[0])
	d[n-1] = (y[n-1] - y[n-2]) / (x[n-1] - x[n-2])
	for i := 1; i < n-1; i++ {
		hd := x[i] - x[i-1]
		hs := x[i+1] - x[i]
		d[i] = (hd*hd*y[i+1] - hs*hs*y[i-1] + (hs*hs-hd*hd)*y[i]) / (hd * hs * (hd + hs))
	}
	return d, nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
