package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/san-kum/blobuq/internal/sc"
)

func testState(t *testing.T) (*sc.State, *sc.Schema) {
	t.Helper()
	schema, err := sc.NewSchema(sc.QoI{Name: "maxV"}, sc.QoI{Name: "profile", Kind: sc.Vector, Size: 2})
	if err != nil {
		t.Fatal(err)
	}
	st := sc.NewState([]string{"height", "width"})
	st.Accepted.Insert(sc.MultiIndex{1, 0})
	record := func(p []float64, v float64) {
		if err := st.Samples.Record(p, map[string][]float64{"maxV": {v}, "profile": {v / 3, -v}}); err != nil {
			t.Fatal(err)
		}
	}
	record([]float64{0.5, 0.09}, 0.1+0.2)
	record([]float64{0.25, 0.09}, 1.0/3)
	record([]float64{0.75, 0.09}, 6.02214076e23)
	st.RecordSurplus(sc.Surplus{Index: sc.MultiIndex{0, 0}, QoI: "maxV", Points: [][]float64{{0.5, 0.09}}, Values: [][]float64{{0.1 + 0.2}}, Magnitude: 0.1 + 0.2})
	st.History = []sc.AdaptationError{{Iteration: 1, QoI: "maxV", Index: sc.MultiIndex{1, 0}, Error: 2.0 / 3, Normalized: 1e-300}}
	return st, schema
}

func TestStateRoundTrip(t *testing.T) {
	st, _ := testState(t)
	path := filepath.Join(t.TempDir(), "analysis.state")

	if err := SaveState(path, st); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	got, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if diff := cmp.Diff(st, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

func TestDecodeStateRejects(t *testing.T) {
	st, _ := testState(t)
	var good bytes.Buffer
	if err := EncodeState(&good, st); err != nil {
		t.Fatal(err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(good.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	with := func(key, value string) string {
		m := make(map[string]json.RawMessage, len(raw))
		for k, v := range raw {
			m[k] = v
		}
		m[key] = json.RawMessage(value)
		data, _ := json.Marshal(m)
		return string(data)
	}
	withState := func(key, value string) string {
		var inner map[string]json.RawMessage
		_ = json.Unmarshal(raw["state"], &inner)
		inner[key] = json.RawMessage(value)
		data, _ := json.Marshal(inner)
		return with("state", string(data))
	}

	tests := []struct {
		name  string
		input string
	}{
		{"garbage", "{not json"},
		{"wrong format", with("format", `"other.tool"`)},
		{"future version", with("version", "2")},
		{"no state", with("state", "null")},
		{"not downward closed", withState("accepted", "[[0,0],[2,0]]")},
		{"no zero index", withState("accepted", "[[1,0]]")},
		{"ragged indices", withState("accepted", "[[0,0],[1]]")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeState(strings.NewReader(tt.input))
			if !errors.Is(err, sc.ErrCorruptState) {
				t.Errorf("err = %v, want ErrCorruptState", err)
			}
		})
	}
}

func TestStoreSaveLoad(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	id, err := st.Create(CampaignMetadata{Name: "blob2d", Model: "command", Params: []string{"height", "width"}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	state, schema := testState(t)
	if err := st.Save(id, state, schema); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	meta, err := st.Load(id)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.Name != "blob2d" || meta.Accepted != 2 || meta.Samples != 3 {
		t.Errorf("metadata = %+v", meta)
	}
	if meta.Refinements["maxV"] != 1 || meta.Errors["maxV"] != 1e-300 {
		t.Errorf("refinements = %v, errors = %v", meta.Refinements, meta.Errors)
	}

	loaded, err := st.LoadState(id)
	if err != nil {
		t.Fatalf("load state failed: %v", err)
	}
	if diff := cmp.Diff(state, loaded); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}

	header, rows, err := st.LoadSamples(id)
	if err != nil {
		t.Fatalf("load samples failed: %v", err)
	}
	if diff := cmp.Diff([]string{"height", "width", "maxV", "profile[0]", "profile[1]"}, header); diff != "" {
		t.Errorf("header mismatch:\n%s", diff)
	}
	if len(rows) != 3 || rows[2][2] != 6.02214076e23 {
		t.Errorf("rows = %v", rows)
	}
}

func TestStoreList(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	if _, err := st.Latest(); err == nil {
		t.Error("expected error for empty store")
	}

	first, _ := st.Create(CampaignMetadata{Name: "a"})
	second, _ := st.Create(CampaignMetadata{Name: "b"})

	campaigns, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(campaigns) != 2 || campaigns[0].ID != first {
		t.Errorf("campaigns = %+v", campaigns)
	}
	latest, err := st.Latest()
	if err != nil || latest != second {
		t.Errorf("Latest() = %q, %v; want %q", latest, err, second)
	}
}

func TestListMissingDir(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "absent"))
	campaigns, err := st.List()
	if err != nil || len(campaigns) != 0 {
		t.Errorf("List() = %v, %v", campaigns, err)
	}
}

func TestExportJSON(t *testing.T) {
	state, _ := testState(t)
	r := NewReport(CampaignMetadata{ID: "c1", Name: "blob2d"}, state)
	r.Moments["maxV"] = sc.Moments{Mean: []float64{1}, Variance: []float64{0.5}, Std: []float64{0.7}}

	path := filepath.Join(t.TempDir(), "report.json")
	if err := ExportJSON(path, r); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var back Report
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff([][]int{{0, 0}, {1, 0}}, back.Accepted); diff != "" {
		t.Errorf("accepted mismatch:\n%s", diff)
	}
	if len(back.Samples) != 3 || back.Moments["maxV"].Std[0] != 0.7 {
		t.Errorf("report = %+v", back)
	}
}
