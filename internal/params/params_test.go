package params

import (
	"math"
	"testing"
)

func TestDimensionValidate(t *testing.T) {
	tests := []struct {
		name string
		dim  Dimension
		ok   bool
	}{
		{"uniform", Dimension{Name: "height", Min: 0.25, Max: 0.75}, true},
		{"explicit kind", Dimension{Name: "width", Kind: Uniform, Min: 0.03, Max: 0.15}, true},
		{"beta", Dimension{Name: "te", Kind: Beta, Min: 2.5, Max: 7.5, Alpha: 2, Beta: 3}, true},
		{"empty name", Dimension{Min: 0, Max: 1}, false},
		{"inverted", Dimension{Name: "x", Min: 1, Max: 0}, false},
		{"degenerate", Dimension{Name: "x", Min: 1, Max: 1}, false},
		{"infinite", Dimension{Name: "x", Min: 0, Max: math.Inf(1)}, false},
		{"bad beta", Dimension{Name: "x", Kind: Beta, Min: 0, Max: 1}, false},
		{"unknown kind", Dimension{Name: "x", Kind: "cauchy", Min: 0, Max: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dim.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestUniformMapping(t *testing.T) {
	d := Dimension{Name: "height", Min: 0.25, Max: 0.75}

	if got := d.FromUnit(0.5); math.Abs(got-0.5) > 1e-15 {
		t.Errorf("FromUnit(0.5) = %v, want 0.5", got)
	}
	if got := d.FromUnit(0); got != 0.25 {
		t.Errorf("FromUnit(0) = %v, want 0.25", got)
	}
	if got := d.FromUnit(1); got != 0.75 {
		t.Errorf("FromUnit(1) = %v, want 0.75", got)
	}
	if got := d.ToUnit(0.375); math.Abs(got-0.25) > 1e-12 {
		t.Errorf("ToUnit(0.375) = %v, want 0.25", got)
	}
}

func TestBetaRoundTrip(t *testing.T) {
	d := Dimension{Name: "te", Kind: Beta, Min: 2.5, Max: 7.5, Alpha: 2, Beta: 5}
	for _, u := range []float64{0.1, 0.25, 0.5, 0.9} {
		x := d.FromUnit(u)
		if !d.Contains(x) {
			t.Fatalf("FromUnit(%v) = %v outside bounds", u, x)
		}
		if back := d.ToUnit(x); math.Abs(back-u) > 1e-7 {
			t.Errorf("ToUnit(FromUnit(%v)) = %v", u, back)
		}
	}
}

func TestSpace(t *testing.T) {
	s, err := NewSpace(
		Dimension{Name: "height", Min: 0.25, Max: 0.75, Default: 0.5},
		Dimension{Name: "width", Min: 0.03, Max: 0.15, Default: 0.09},
	)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	if s.Dim() != 2 {
		t.Fatalf("expected 2 dims, got %d", s.Dim())
	}
	if i, ok := s.Lookup("width"); !ok || i != 1 {
		t.Errorf("Lookup(width) = %d, %v", i, ok)
	}

	x, err := s.Vector(map[string]float64{"width": 0.1})
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}
	if x[0] != 0.5 || x[1] != 0.1 {
		t.Errorf("Vector = %v, want [0.5 0.1]", x)
	}
	if _, err := s.Vector(map[string]float64{"depth": 1}); err == nil {
		t.Error("expected error for unknown parameter")
	}

	if _, err := NewSpace(Dimension{Name: "a", Min: 0, Max: 1}, Dimension{Name: "a", Min: 0, Max: 1}); err == nil {
		t.Error("expected duplicate name error")
	}
	if _, err := NewSpace(); err == nil {
		t.Error("expected error for empty space")
	}
}
