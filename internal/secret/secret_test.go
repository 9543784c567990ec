package secret_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eventlake/ingestcore/internal/secret"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFileRef(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.txt")
	require.NoError(t, os.WriteFile(path, []byte("  s3cr3t\n"), 0o600))

	got, ok := secret.Resolve(secret.Source{Ref: &path}, nil)
	require.True(t, ok)
	assert.Equal(t, "s3cr3t", got)
}

func TestResolveMissingFileRef(t *testing.T) {
	path := "/nonexistent/path/secret.txt"
	_, ok := secret.Resolve(secret.Source{Ref: &path}, nil)
	assert.False(t, ok)
}

func TestResolveEncryptedPreferredOverPlaintextFallback(t *testing.T) {
	key := secret.DeriveKey("process-secret")
	blob, err := secret.Seal(key, "hunter2")
	require.NoError(t, err)

	got, ok := secret.Resolve(secret.Source{Enc: blob}, key)
	require.True(t, ok)
	assert.Equal(t, "hunter2", got)
}

func TestResolveEncryptedWrongKeyFallsBackToUTF8(t *testing.T) {
	// Ciphertext can't be decrypted with this key, but it is itself
	// valid UTF-8, so it's returned as-is, matching the original's
	// InvalidToken -> utf-8 fallback.
	got, ok := secret.Resolve(secret.Source{Enc: []byte("plain-bytes")}, secret.DeriveKey("some-key"))
	require.True(t, ok)
	assert.Equal(t, "plain-bytes", got)
}

func TestResolveEncryptedInvalidUTF8AndNoKey(t *testing.T) {
	_, ok := secret.Resolve(secret.Source{Enc: []byte{0xff, 0xfe, 0xfd}}, nil)
	assert.False(t, ok)
}

func TestResolveNone(t *testing.T) {
	_, ok := secret.Resolve(secret.Source{}, nil)
	assert.False(t, ok)
}

func TestResolvePrefersRefOverEnc(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.txt")
	require.NoError(t, os.WriteFile(path, []byte("from-file"), 0o600))

	got, ok := secret.Resolve(secret.Source{Ref: &path, Enc: []byte("from-enc")}, nil)
	require.True(t, ok)
	assert.Equal(t, "from-file", got)
}
