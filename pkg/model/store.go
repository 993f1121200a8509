// Package model persists versioned model artifacts as one JSON file
// per version under models/.
package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/absmach/flotilla/pkg/errors"
	"github.com/absmach/flotilla/pkg/fl"
)

// Artifact is the on-disk model payload.
type Artifact struct {
	Version string      `json:"version"`
	Weights [][]float64 `json:"weights"`
}

func (a Artifact) Shape() fl.Shape {
	shape := make(fl.Shape, len(a.Weights))
	for i, layer := range a.Weights {
		shape[i] = len(layer)
	}

	return shape
}

// Store is a versioned, content-addressed model directory. Artifacts
// are immutable once written. Disk writes are atomic
// (write-temp-then-rename) and safe to run outside the coordinator
// lock.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create models directory: %w", err)
	}

	return &Store{dir: dir}, nil
}

// Bootstrap writes the deterministic all-zero v1 when the store is
// empty and returns the latest version either way.
func (s *Store) Bootstrap(shape fl.Shape) (string, error) {
	if latest, ok, err := s.Latest(); err != nil {
		return "", err
	} else if ok {
		return latest, nil
	}

	weights := make([][]float64, len(shape))
	for i, n := range shape {
		weights[i] = make([]float64, n)
	}
	if err := s.Put(InitialVersion, weights); err != nil {
		return "", err
	}

	return InitialVersion, nil
}

func (s *Store) Put(version string, weights [][]float64) error {
	if _, err := ParseVersion(version); err != nil {
		return err
	}

	data, err := json.Marshal(Artifact{Version: version, Weights: weights})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, version+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return err
	}

	return os.Rename(tmp.Name(), s.path(version))
}

func (s *Store) Get(version string) (Artifact, error) {
	if _, err := ParseVersion(version); err != nil {
		return Artifact{}, err
	}

	data, err := os.ReadFile(s.path(version))
	if err != nil {
		if os.IsNotExist(err) {
			return Artifact{}, errors.ErrUnknownVersion
		}

		return Artifact{}, err
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return Artifact{}, err
	}

	return artifact, nil
}

// Latest scans the directory and returns the highest version.
func (s *Store) Latest() (string, bool, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", false, err
	}

	var highest uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		n, err := ParseVersion(name[:len(name)-len(".json")])
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	if highest == 0 {
		return "", false, nil
	}

	return FormatVersion(highest), true, nil
}

func (s *Store) path(version string) string {
	return filepath.Join(s.dir, version+".json")
}
