package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncrypt_NoKeyPassesThrough(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "")

	content := []byte(`{"version":1}`)
	out, err := Encrypt(content)
	require.NoError(t, err)
	assert.Equal(t, content, out)
	assert.False(t, IsEncrypted(out))
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "correct horse battery staple")

	content := []byte(`{"version":1,"serial":7}`)
	encrypted, err := Encrypt(content)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(encrypted))
	assert.NotContains(t, string(encrypted), "serial", "plaintext must not leak")

	decrypted, err := Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, content, decrypted)
}

func TestDecrypt_WithoutKeyFails(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "some key")
	encrypted, err := Encrypt([]byte(`{"version":1}`))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "")
	_, err = Decrypt(encrypted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), EncryptionKeyEnvVar)
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "key one")
	encrypted, err := Encrypt([]byte(`{"version":1}`))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "key two")
	_, err = Decrypt(encrypted)
	require.Error(t, err)
}

func TestManager_EncryptedStateOnDisk(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "state file key")

	path := filepath.Join(t.TempDir(), "state.json")
	mgr := NewManager(path)
	ctx := context.Background()

	s := NewEmptyState()
	s.Outputs = map[string]any{"secret_note": "not on disk in the clear"}
	require.NoError(t, mgr.Write(ctx, s))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))
	assert.NotContains(t, string(raw), "secret_note")

	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "not on disk in the clear", got.Outputs["secret_note"])
}
