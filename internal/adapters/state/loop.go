package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/fsutil"
)

// LoopFile implements core.LoopStateStore with a single JSON file.
type LoopFile struct {
	path string
	mu   sync.Mutex
}

// NewLoopFile creates a loop state store at path.
func NewLoopFile(path string) *LoopFile {
	return &LoopFile{path: path}
}

// loopEnvelope wraps state with a checksum of its encoding.
type loopEnvelope struct {
	Version   int             `json:"version"`
	Checksum  string          `json:"checksum"`
	UpdatedAt time.Time       `json:"updated_at"`
	State     *core.LoopState `json:"state"`
}

// Save writes s atomically, overwriting any previous state.
func (f *LoopFile) Save(_ context.Context, s *core.LoopState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stateBytes, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling loop state: %w", err)
	}
	hash := sha256.Sum256(stateBytes)

	data, err := json.MarshalIndent(loopEnvelope{
		Version:   1,
		Checksum:  hex.EncodeToString(hash[:]),
		UpdatedAt: time.Now(),
		State:     s,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	if err := fsutil.WriteFileAtomic(f.path, data, 0o644); err != nil {
		return fmt.Errorf("writing loop state: %w", err)
	}
	return nil
}

// Load reads the state. A missing, unreadable or invalid file is reported as
// no state.
func (f *LoopFile) Load(_ context.Context) (*core.LoopState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := fsutil.ReadFileScoped(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading loop state: %w", err)
	}

	var env loopEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.State == nil {
		return nil, nil
	}
	stateBytes, err := json.Marshal(env.State)
	if err != nil {
		return nil, nil
	}
	hash := sha256.Sum256(stateBytes)
	if hex.EncodeToString(hash[:]) != env.Checksum {
		return nil, nil
	}
	if env.State.Validate() != nil {
		return nil, nil
	}
	return env.State, nil
}

// Clear removes the state file.
func (f *LoopFile) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing loop state: %w", err)
	}
	return nil
}

// Path returns the state file path.
func (f *LoopFile) Path() string {
	return f.path
}

var _ core.LoopStateStore = (*LoopFile)(nil)
