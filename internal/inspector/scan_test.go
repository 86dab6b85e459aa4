package inspector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverPackages_PnpmStore(t *testing.T) {
	root := t.TempDir()
	modules := filepath.Join(root, "node_modules")

	storeDir := filepath.Join(modules, ".pnpm", "vue@3.5.0", "node_modules")
	writePackage(t, filepath.Join(storeDir, "vue"), map[string]interface{}{"name": "vue", "version": "3.5.0"})
	writePackage(t, filepath.Join(storeDir, "@vue", "shared"), map[string]interface{}{"name": "@vue/shared", "version": "3.5.0"})

	require.NoError(t, os.Symlink(filepath.Join(storeDir, "vue"), filepath.Join(modules, "vue")))

	dirs, err := discoverPackages(root)
	require.NoError(t, err)
	require.Len(t, dirs, 2)

	// the top-level link wins, the store copy is deduplicated
	assert.Equal(t, filepath.Join(modules, "vue"), dirs[0].path)
	assert.Equal(t, 1, dirs[0].depth)
	assert.Equal(t, filepath.Join(storeDir, "@vue", "shared"), dirs[1].path)
	assert.Equal(t, 2, dirs[1].depth)
}

func TestDiscoverPackages_SymlinkCycle(t *testing.T) {
	root := t.TempDir()
	pkg := filepath.Join(root, "node_modules", "a")
	writePackage(t, pkg, map[string]interface{}{"name": "a", "version": "1.0.0"})

	require.NoError(t, os.MkdirAll(filepath.Join(pkg, "node_modules"), 0o755))
	require.NoError(t, os.Symlink(pkg, filepath.Join(pkg, "node_modules", "a")))

	dirs, err := discoverPackages(root)
	require.NoError(t, err)
	assert.Len(t, dirs, 1)
}

func TestDiscoverPackages_BrokenSymlink(t *testing.T) {
	root := t.TempDir()
	modules := filepath.Join(root, "node_modules")
	require.NoError(t, os.MkdirAll(modules, 0o755))
	require.NoError(t, os.Symlink(filepath.Join(root, "missing"), filepath.Join(modules, "ghost")))

	dirs, err := discoverPackages(root)
	require.NoError(t, err)
	assert.Empty(t, dirs)
}

func TestDetectAgent(t *testing.T) {
	tests := []struct {
		lockfile string
		want     string
	}{
		{"pnpm-lock.yaml", "pnpm"},
		{"yarn.lock", "yarn"},
		{"bun.lockb", "bun"},
		{"package-lock.json", "npm"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			dir := t.TempDir()
			if tt.lockfile != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, tt.lockfile), nil, 0o644))
			}
			assert.Equal(t, tt.want, detectAgent(dir))
		})
	}
}
