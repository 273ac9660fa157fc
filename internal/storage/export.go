package storage

import (
	"encoding/json"
	"io"
	"os"

	"github.com/san-kum/blobuq/internal/sc"
)

// Report is the JSON summary of a campaign written by export-json.
type Report struct {
	Campaign CampaignMetadata           `json:"campaign"`
	Accepted [][]int                    `json:"accepted"`
	History  []sc.AdaptationError       `json:"history"`
	Moments  map[string]sc.Moments      `json:"moments"`
	Sobol    map[string][]sc.SobolIndex `json:"sobol,omitempty"`
	Samples  []sc.Sample                `json:"samples"`
}

func NewReport(meta CampaignMetadata, state *sc.State) Report {
	r := Report{
		Campaign: meta,
		History:  state.History,
		Moments:  make(map[string]sc.Moments),
		Sobol:    make(map[string][]sc.SobolIndex),
		Samples:  state.Samples.Sorted(),
	}
	for _, k := range state.Accepted.Sorted() {
		r.Accepted = append(r.Accepted, k)
	}
	return r
}

func ExportJSON(path string, r Report) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return writeReport(file, r)
}

func ExportJSONStdout(r Report) error {
	return writeReport(os.Stdout, r)
}

func writeReport(w io.Writer, r Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}
