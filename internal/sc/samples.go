package sc

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

type QoIKind string

const (
	Scalar QoIKind = "scalar"
	Vector QoIKind = "vector"
	// Flag is a boolean outcome stored as 0 or 1.
	Flag QoIKind = "flag"
)

// QoI declares one quantity of interest and its width.
type QoI struct {
	Name string  `yaml:"name" json:"name"`
	Kind QoIKind `yaml:"kind,omitempty" json:"kind,omitempty"`
	Size int     `yaml:"size,omitempty" json:"size,omitempty"`
}

// Width is the number of components the QoI carries.
func (q QoI) Width() int {
	if q.Kind == Vector && q.Size > 0 {
		return q.Size
	}
	return 1
}

// Schema is the fixed set of declared QoIs, validated up front.
type Schema struct {
	qois  []QoI
	index map[string]int
}

func NewSchema(qois ...QoI) (*Schema, error) {
	if len(qois) == 0 {
		return nil, fmt.Errorf("at least one quantity of interest is required")
	}
	s := &Schema{index: make(map[string]int, len(qois))}
	for _, q := range qois {
		if q.Name == "" {
			return nil, fmt.Errorf("quantity of interest needs a name")
		}
		if _, dup := s.index[q.Name]; dup {
			return nil, fmt.Errorf("duplicate quantity of interest: %s", q.Name)
		}
		switch q.Kind {
		case "":
			q.Kind = Scalar
		case Scalar, Flag:
		case Vector:
			if q.Size < 1 {
				return nil, fmt.Errorf("vector quantity %s needs a positive size", q.Name)
			}
		default:
			return nil, fmt.Errorf("quantity %s: unknown kind %q", q.Name, q.Kind)
		}
		s.index[q.Name] = len(s.qois)
		s.qois = append(s.qois, q)
	}
	return s, nil
}

func (s *Schema) QoIs() []QoI {
	out := make([]QoI, len(s.qois))
	copy(out, s.qois)
	return out
}

func (s *Schema) Names() []string {
	names := make([]string, len(s.qois))
	for i, q := range s.qois {
		names[i] = q.Name
	}
	return names
}

func (s *Schema) Lookup(name string) (QoI, error) {
	i, ok := s.index[name]
	if !ok {
		return QoI{}, fmt.Errorf("%w: %s", ErrUnknownQoI, name)
	}
	return s.qois[i], nil
}

// Check validates one evaluation result against the schema.
func (s *Schema) Check(values map[string][]float64) error {
	for _, q := range s.qois {
		v, ok := values[q.Name]
		if !ok {
			return fmt.Errorf("missing quantity %s", q.Name)
		}
		if len(v) != q.Width() {
			return fmt.Errorf("quantity %s: expected %d components, got %d", q.Name, q.Width(), len(v))
		}
		for _, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return fmt.Errorf("quantity %s: non-finite value", q.Name)
			}
			if q.Kind == Flag && x != 0 && x != 1 {
				return fmt.Errorf("flag %s: expected 0 or 1, got %g", q.Name, x)
			}
		}
	}
	return nil
}

// Sample is an observed QoI vector at one collocation point.
type Sample struct {
	Point  []float64            `json:"point"`
	Values map[string][]float64 `json:"values"`
}

// Samples maps point keys to recorded samples. A recorded sample is never
// replaced.
type Samples struct {
	items map[string]Sample
}

func NewSamples() *Samples {
	return &Samples{items: make(map[string]Sample)}
}

func (s *Samples) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

func (s *Samples) Get(coords []float64) (Sample, bool) {
	sm, ok := s.items[PointKey(coords)]
	return sm, ok
}

func (s *Samples) Has(coords []float64) bool {
	_, ok := s.items[PointKey(coords)]
	return ok
}

// Value returns the components of one QoI at a point.
func (s *Samples) Value(coords []float64, qoi string) ([]float64, bool) {
	sm, ok := s.items[PointKey(coords)]
	if !ok {
		return nil, false
	}
	v, ok := sm.Values[qoi]
	return v, ok
}

// Record stores a sample. Recording the same point twice is accepted only
// when the values are identical.
func (s *Samples) Record(coords []float64, values map[string][]float64) error {
	key := PointKey(coords)
	if prev, ok := s.items[key]; ok {
		if !sameValues(prev.Values, values) {
			return fmt.Errorf("sample at %s already recorded with different values", key)
		}
		return nil
	}
	sm := Sample{
		Point:  append([]float64(nil), coords...),
		Values: make(map[string][]float64, len(values)),
	}
	for k, v := range values {
		sm.Values[k] = append([]float64(nil), v...)
	}
	s.items[key] = sm
	return nil
}

// Sorted returns samples ordered by point key.
func (s *Samples) Sorted() []Sample {
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Sample, len(keys))
	for i, k := range keys {
		out[i] = s.items[k]
	}
	return out
}

func (s *Samples) Clone() *Samples {
	c := NewSamples()
	for k, sm := range s.items {
		c.items[k] = sm
	}
	return c
}

// Equal reports whether both hold the same points with identical values.
func (s *Samples) Equal(o *Samples) bool {
	if s.Len() != o.Len() {
		return false
	}
	for k, sm := range s.items {
		other, ok := o.items[k]
		if !ok || !sameValues(sm.Values, other.Values) {
			return false
		}
	}
	return true
}

func (s *Samples) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *Samples) UnmarshalJSON(data []byte) error {
	var list []Sample
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	s.items = make(map[string]Sample, len(list))
	for _, sm := range list {
		if err := s.Record(sm.Point, sm.Values); err != nil {
			return err
		}
	}
	return nil
}

func sameValues(a, b map[string][]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if va[i] != vb[i] {
				return false
			}
		}
	}
	return true
}
