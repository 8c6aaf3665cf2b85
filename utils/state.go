package utils

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/setanarut/swapsort"
	"gopkg.in/yaml.v3"
)

// RunState is the resume sidecar written next to the output.
type RunState struct {
	RunID      string           `yaml:"run_id"`
	Input      string           `yaml:"input"`
	Checkpoint string           `yaml:"checkpoint"` // Last published image
	Iteration  uint64           `yaml:"iteration"`
	Frame      int              `yaml:"frame"`
	Final      bool             `yaml:"final"`
	UpdatedAt  time.Time        `yaml:"updated_at"`
	Options    swapsort.Options `yaml:"options"`
}

// StatePath returns the sidecar location of an output path.
func StatePath(output string) string {
	return output + ".state.yaml"
}

func SaveState(path string, st *RunState) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(st); err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func LoadState(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	st := &RunState{}
	if err := yaml.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("parse run state %s: %w", path, err)
	}
	return st, nil
}

// ResumeOptions continues the saved run: the pairing sequence picks up at
// the saved iteration and sequence numbering after the saved frame.
func (st *RunState) ResumeOptions() swapsort.Options {
	opts := st.Options
	opts.RunID = st.RunID
	opts.StartIteration = st.Iteration
	opts.StartFrame = st.Frame
	return opts
}
