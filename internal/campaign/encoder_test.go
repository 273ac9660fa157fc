package campaign

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEncoderRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		values   map[string]float64
		want     string
		wantErr  string
	}{
		{
			name:     "plain and braced",
			template: "height = $height\nwidth = ${width}\n",
			values:   map[string]float64{"height": 0.5, "width": 0.09},
			want:     "height = 0.5\nwidth = 0.09\n",
		},
		{
			name:     "shortest representation",
			template: "x=${x}",
			values:   map[string]float64{"x": 1.0 / 3},
			want:     "x=0.3333333333333333",
		},
		{
			name:     "no placeholders",
			template: "[mesh]\nnx = 64\n",
			values:   nil,
			want:     "[mesh]\nnx = 64\n",
		},
		{
			name:     "unknown placeholders",
			template: "${b} ${a} ${x}",
			values:   map[string]float64{"x": 1},
			wantErr:  "a, b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Encoder{Template: tt.template, Target: "BOUT.inp"}
			got, err := e.Render(tt.values)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Render error = %v, want mention of %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if got != tt.want {
				t.Errorf("Render = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncoderEncode(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "input.template")
	if err := os.WriteFile(tmpl, []byte("Te0 = $Te0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewEncoder(tmpl, ""); err == nil {
		t.Error("expected error without target")
	}
	if _, err := NewEncoder(filepath.Join(dir, "missing"), "BOUT.inp"); err == nil {
		t.Error("expected error for missing template")
	}

	e, err := NewEncoder(tmpl, "BOUT.inp")
	if err != nil {
		t.Fatal(err)
	}
	runDir := t.TempDir()
	if err := e.Encode(runDir, map[string]float64{"Te0": 5}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(runDir, "BOUT.inp"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "Te0 = 5\n" {
		t.Errorf("encoded %q", data)
	}
}
