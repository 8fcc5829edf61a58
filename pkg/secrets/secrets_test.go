package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paths(t *testing.T) (secretsFile, keyFile string) {
	dir := t.TempDir()
	return filepath.Join(dir, "secrets.enc"), filepath.Join(dir, "key.bin")
}

func TestInit_CreatesKeyAndEmptyStore(t *testing.T) {
	secretsFile, keyFile := paths(t)
	require.NoError(t, Init(secretsFile, keyFile))

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	store, err := Load(secretsFile, keyFile)
	require.NoError(t, err)
	assert.Empty(t, store)
}

func TestInit_DoesNotOverwriteExistingKey(t *testing.T) {
	secretsFile, keyFile := paths(t)
	require.NoError(t, Init(secretsFile, keyFile))
	firstKey, err := LoadKey(keyFile)
	require.NoError(t, err)

	require.NoError(t, Init(secretsFile, keyFile))
	secondKey, err := LoadKey(keyFile)
	require.NoError(t, err)

	assert.Equal(t, firstKey, secondKey)
}

func TestSetAndLoad_RoundTrips(t *testing.T) {
	secretsFile, keyFile := paths(t)
	require.NoError(t, Init(secretsFile, keyFile))

	require.NoError(t, Set(secretsFile, keyFile, "polaris_api_key", "abc123"))
	require.NoError(t, Set(secretsFile, keyFile, "another", "value2"))

	store, err := Load(secretsFile, keyFile)
	require.NoError(t, err)
	assert.Equal(t, "abc123", store["polaris_api_key"])
	assert.Equal(t, "value2", store["another"])
}

func TestList_ReturnsSortedNamesOnly(t *testing.T) {
	secretsFile, keyFile := paths(t)
	require.NoError(t, Init(secretsFile, keyFile))
	require.NoError(t, Set(secretsFile, keyFile, "zzz", "v"))
	require.NoError(t, Set(secretsFile, keyFile, "aaa", "v"))

	names, err := List(secretsFile, keyFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaa", "zzz"}, names)
}

func TestRekey_ReEncryptsUnderNewKey(t *testing.T) {
	secretsFile, keyFile := paths(t)
	newKeyFile := keyFile + ".new"
	require.NoError(t, Init(secretsFile, keyFile))
	require.NoError(t, Set(secretsFile, keyFile, "k", "v"))

	require.NoError(t, Rekey(secretsFile, keyFile, newKeyFile))

	store, err := Load(secretsFile, newKeyFile)
	require.NoError(t, err)
	assert.Equal(t, "v", store["k"])

	_, err = Load(secretsFile, keyFile)
	assert.Error(t, err, "old key should no longer decrypt the store")
}

func TestLoadKey_RejectsWrongSize(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "bad.key")
	require.NoError(t, os.WriteFile(keyFile, []byte("too-short"), 0o600))

	_, err := LoadKey(keyFile)
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestDecryptStore_RejectsBadMagic(t *testing.T) {
	secretsFile, keyFile := paths(t)
	require.NoError(t, Init(secretsFile, keyFile))
	require.NoError(t, os.WriteFile(secretsFile, []byte("not a secrets file at all"), 0o600))

	_, err := Load(secretsFile, keyFile)
	assert.ErrorIs(t, err, ErrBadMagic)
}
