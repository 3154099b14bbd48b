package stage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/sidecar/internal/constants"
)

func TestFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	size, err := Fingerprint(path, constants.FingerprintSize)
	require.NoError(t, err)
	assert.Equal(t, "size:5", size)

	def, err := Fingerprint(path, "")
	require.NoError(t, err)
	assert.Equal(t, size, def)

	hash, err := Fingerprint(path, constants.FingerprintXXHash)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "xxhash:"))
	assert.Len(t, hash, len("xxhash:")+16)

	_, err = Fingerprint(path, "md5")
	assert.Error(t, err)

	_, err = Fingerprint(filepath.Join(t.TempDir(), "missing"), constants.FingerprintSize)
	assert.Error(t, err)
}

func TestIsSharedLibrary(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"libssl.so", true},
		{"libssl.so.3", true},
		{"libffi.dylib", true},
		{"base_library.zip", false},
		{"solver.pyd", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isSharedLibrary(tt.name), tt.name)
	}
}

func TestDefaultCacheDir(t *testing.T) {
	dir, err := DefaultCacheDir()
	if err != nil {
		t.Skipf("no user data dir: %v", err)
	}
	assert.Equal(t, filepath.Join(constants.AppName, "sidecar"), filepath.Join(filepath.Base(filepath.Dir(dir)), filepath.Base(dir)))
}
