package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes the pipeline as JSON. The file is replaced atomically.
func (p *Pipeline) Save(path string) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshalling pipeline: %w", err)
	}

	dir := filepath.Dir(path)
	err = os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("creating directory [%s]: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(data)
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing pipeline: %w", err)
	}
	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		return fmt.Errorf("renaming to [%s]: %w", path, err)
	}
	return nil
}

func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline [%s]: %w", path, err)
	}
	return Decode(data)
}

// Decode parses and validates a serialized pipeline.
func Decode(data []byte) (*Pipeline, error) {
	var p Pipeline
	err := json.Unmarshal(data, &p)
	if err != nil {
		return nil, fmt.Errorf("unmarshalling pipeline: %w", err)
	}
	err = p.validate()
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	return &p, nil
}
