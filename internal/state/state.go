package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/skiff-io/skiff/internal/ir"
)

// Manager handles reading and writing of the local state file.
type Manager struct {
	path string
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// NewEmptyState returns a fresh state with a new lineage.
func NewEmptyState() *ir.State {
	return &ir.State{
		Version: 1,
		Serial:  0,
		Lineage: uuid.NewString(),
	}
}

// Read loads the state from the configured path. A missing file yields
// an empty state. Encrypted files are transparently decrypted.
func (m *Manager) Read(ctx context.Context) (*ir.State, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewEmptyState(), nil
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}

	if IsEncrypted(raw) {
		raw, err = Decrypt(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt state: %w", err)
		}
	}

	var state ir.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state from %s: %w", m.path, err)
	}
	if state.Lineage == "" {
		state.Lineage = uuid.NewString()
	}
	return &state, nil
}

// Write saves the state to the configured path. If SKIFF_STATE_KEY is
// set, the file is transparently encrypted.
func (m *Manager) Write(ctx context.Context, state *ir.State) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if state.Lineage == "" {
		state.Lineage = uuid.NewString()
	}

	content, err := Serialize(state)
	if err != nil {
		return err
	}

	encrypted, err := Encrypt(content)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	if err := os.WriteFile(m.path, encrypted, 0600); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", m.path, err)
	}
	return nil
}

// Serialize renders a State to its on-disk JSON form. The same bytes
// round-trip back through json.Unmarshal without loss.
func Serialize(state *ir.State) ([]byte, error) {
	content, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state: %w", err)
	}
	return append(content, '\n'), nil
}
