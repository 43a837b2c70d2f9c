package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiff-io/skiff/internal/ir"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(filepath.Join(t.TempDir(), ".skiff", "state.json"))
}

func TestManager_ReadMissingReturnsEmptyState(t *testing.T) {
	mgr := testManager(t)

	s, err := mgr.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.Resources)
	assert.NotEmpty(t, s.Lineage, "a fresh state gets a lineage")
}

func TestManager_WriteReadRoundTrip(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()

	s := NewEmptyState()
	s.Serial = 3
	s.Resources = []*ir.ResourceState{
		{
			Type:     "aws:EC2.Instance",
			Name:     "web",
			Provider: "aws",
			Inputs:   map[string]any{"instance_type": "t3.micro"},
			Outputs:  map[string]any{"id": "i-0abc", "public_ip": "203.0.113.10"},
		},
	}
	s.Outputs = map[string]any{"web_ip": "203.0.113.10"}

	require.NoError(t, mgr.Write(ctx, s))

	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.Lineage, got.Lineage)
	assert.Equal(t, 3, got.Serial)
	require.Len(t, got.Resources, 1)

	rs := got.Lookup("aws:EC2.Instance.web")
	require.NotNil(t, rs)
	assert.Equal(t, "i-0abc", rs.Outputs["id"])
	assert.Equal(t, "203.0.113.10", rs.Outputs["public_ip"])
	assert.Equal(t, "203.0.113.10", got.Outputs["web_ip"])
}

func TestManager_LockBlocksSecondLock(t *testing.T) {
	mgr := testManager(t)

	require.NoError(t, mgr.Lock())
	err := mgr.Lock()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")

	require.NoError(t, mgr.Unlock())
	require.NoError(t, mgr.Lock())
	require.NoError(t, mgr.Unlock())
}

func TestManager_UnlockWithoutLockIsFine(t *testing.T) {
	mgr := testManager(t)
	assert.NoError(t, mgr.Unlock())
}

func TestSerialize_IsStableJSON(t *testing.T) {
	s := NewEmptyState()
	s.Lineage = "fixed"

	a, err := Serialize(s)
	require.NoError(t, err)
	b, err := Serialize(s)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, string(a), "\"lineage\": \"fixed\"")
}

func TestNewBackend(t *testing.T) {
	dir := t.TempDir()

	backend, err := NewBackend(&BackendConfig{
		Type:   "local",
		Config: map[string]string{"path": filepath.Join(dir, "state.json")},
	})
	require.NoError(t, err)
	assert.IsType(t, &Manager{}, backend)

	_, err = NewBackend(&BackendConfig{Type: "local", Config: map[string]string{}})
	require.Error(t, err)

	_, err = NewBackend(&BackendConfig{Type: "consul", Config: map[string]string{}})
	require.Error(t, err)

	_, err = NewBackend(nil)
	require.Error(t, err)
}

func TestManager_WriteCreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deep", "nested", "state.json")
	mgr := NewManager(path)

	require.NoError(t, mgr.Write(context.Background(), NewEmptyState()))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
