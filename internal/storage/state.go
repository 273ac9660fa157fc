package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/san-kum/blobuq/internal/sc"
)

const (
	StateFormat  = "blobuq.analysis-state"
	StateVersion = 1
)

type stateFile struct {
	Format  string    `json:"format"`
	Version int       `json:"version"`
	State   *sc.State `json:"state"`
}

// EncodeState writes state with its format tag. Floats are written in their
// shortest exact form, so decoding restores identical values.
func EncodeState(w io.Writer, state *sc.State) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(stateFile{Format: StateFormat, Version: StateVersion, State: state})
}

// DecodeState reads a state written by EncodeState. Anything that is not a
// valid state of the current version fails with sc.ErrCorruptState.
func DecodeState(r io.Reader) (*sc.State, error) {
	var f stateFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", sc.ErrCorruptState, err)
	}
	if f.Format != StateFormat {
		return nil, fmt.Errorf("%w: unknown format %q", sc.ErrCorruptState, f.Format)
	}
	if f.Version != StateVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", sc.ErrCorruptState, f.Version)
	}
	if f.State == nil {
		return nil, fmt.Errorf("%w: no state", sc.ErrCorruptState)
	}
	if err := f.State.Validate(); err != nil {
		return nil, errors.Join(sc.ErrCorruptState, err)
	}
	return f.State, nil
}

// SaveState writes state to path, replacing any previous file atomically.
func SaveState(path string, state *sc.State) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := EncodeState(tmp, state); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func LoadState(path string) (*sc.State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeState(f)
}
