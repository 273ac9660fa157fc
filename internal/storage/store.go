package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/blobuq/internal/sc"
)

const (
	metadataName = "metadata.json"
	stateName    = "analysis.state"
	samplesName  = "samples.csv"
)

// Store keeps one directory per campaign under baseDir.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir(id string) string {
	return filepath.Join(s.baseDir, id)
}

type CampaignMetadata struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Model       string             `json:"model"`
	Created     time.Time          `json:"created"`
	Updated     time.Time          `json:"updated"`
	Params      []string           `json:"params"`
	QoIs        []string           `json:"qois"`
	Growth      string             `json:"growth"`
	MaxLevel    int                `json:"max_level"`
	Method      string             `json:"method"`
	Accepted    int                `json:"accepted"`
	Samples     int                `json:"samples"`
	Refinements map[string]int     `json:"refinements"`
	Errors      map[string]float64 `json:"errors"`
}

// Create allocates a new campaign directory and returns its ID.
func (s *Store) Create(meta CampaignMetadata) (string, error) {
	now := time.Now()
	id := fmt.Sprintf("%s_%d", meta.Name, now.UnixNano())
	if err := os.MkdirAll(s.Dir(id), 0755); err != nil {
		return "", err
	}
	meta.ID = id
	meta.Created = now
	meta.Updated = now
	if err := writeJSON(filepath.Join(s.Dir(id), metadataName), meta); err != nil {
		return "", err
	}
	return id, nil
}

// Save persists the analysis state of a campaign together with refreshed
// metadata and a CSV view of the samples.
func (s *Store) Save(id string, state *sc.State, schema *sc.Schema) error {
	meta, err := s.Load(id)
	if err != nil {
		return err
	}
	dir := s.Dir(id)
	if err := SaveState(filepath.Join(dir, stateName), state); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	meta.Updated = time.Now()
	meta.Accepted = state.Accepted.Len()
	meta.Samples = state.Samples.Len()
	meta.Refinements = state.Refinements()
	meta.Errors = make(map[string]float64)
	for _, q := range schema.Names() {
		if last, ok := state.LatestError(q); ok {
			meta.Errors[q] = last.Normalized
		}
	}
	if err := writeJSON(filepath.Join(dir, metadataName), meta); err != nil {
		return err
	}
	return writeSamples(filepath.Join(dir, samplesName), state, schema)
}

func (s *Store) List() ([]CampaignMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []CampaignMetadata{}, nil
		}
		return nil, err
	}

	campaigns := make([]CampaignMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		campaigns = append(campaigns, *meta)
	}
	sort.Slice(campaigns, func(i, j int) bool {
		return campaigns[i].Created.Before(campaigns[j].Created)
	})
	return campaigns, nil
}

func (s *Store) Load(id string) (*CampaignMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(id), metadataName))
	if err != nil {
		return nil, err
	}
	var meta CampaignMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *Store) LoadState(id string) (*sc.State, error) {
	return LoadState(filepath.Join(s.Dir(id), stateName))
}

// Latest returns the ID of the most recently created campaign.
func (s *Store) Latest() (string, error) {
	campaigns, err := s.List()
	if err != nil {
		return "", err
	}
	if len(campaigns) == 0 {
		return "", fmt.Errorf("no campaigns in %s", s.baseDir)
	}
	return campaigns[len(campaigns)-1].ID, nil
}

// LoadSamples reads the samples table of a campaign: the header and one row
// of parameter and QoI columns per sample.
func (s *Store) LoadSamples(id string) ([]string, [][]float64, error) {
	file, err := os.Open(filepath.Join(s.Dir(id), samplesName))
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	rows := make([][]float64, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make([]float64, len(record))
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("samples.csv: %w", err)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	return records[0], rows, nil
}

func writeSamples(path string, state *sc.State, schema *sc.Schema) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	header := append([]string(nil), state.Params...)
	for _, q := range schema.QoIs() {
		if q.Width() == 1 {
			header = append(header, q.Name)
			continue
		}
		for i := 0; i < q.Width(); i++ {
			header = append(header, fmt.Sprintf("%s[%d]", q.Name, i))
		}
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, sm := range state.Samples.Sorted() {
		row := make([]string, 0, len(header))
		for _, x := range sm.Point {
			row = append(row, strconv.FormatFloat(x, 'g', -1, 64))
		}
		for _, q := range schema.QoIs() {
			for _, v := range sm.Values[q.Name] {
				row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
			}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeJSON(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
