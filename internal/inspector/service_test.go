package inspector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/modinspect/modinspect/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePackage(t *testing.T, dir string, manifest map[string]interface{}) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), data, 0o644))
}

// newProject lays out:
//
//	node_modules/vue@3.5.0 (depends on @vue/shared)
//	node_modules/@vue/shared@3.5.0
//	node_modules/vue/node_modules/semver@7.6.0
func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writePackage(t, root, map[string]interface{}{"name": "app", "private": true})

	modules := filepath.Join(root, "node_modules")
	writePackage(t, filepath.Join(modules, "vue"), map[string]interface{}{
		"name":         "vue",
		"version":      "3.5.0",
		"license":      "MIT",
		"dependencies": map[string]string{"@vue/shared": "3.5.0"},
	})
	writePackage(t, filepath.Join(modules, "@vue", "shared"), map[string]interface{}{
		"name":    "@vue/shared",
		"version": "3.5.0",
		"license": map[string]string{"type": "MIT"},
	})
	writePackage(t, filepath.Join(modules, "vue", "node_modules", "semver"), map[string]interface{}{
		"name":    "semver",
		"version": "7.6.0",
	})
	require.NoError(t, os.MkdirAll(filepath.Join(modules, ".bin"), 0o755))
	return root
}

func specs(p *Payload) map[string]*PackageNode {
	out := make(map[string]*PackageNode, len(p.Packages))
	for _, node := range p.Packages {
		out[node.Spec] = node
	}
	return out
}

func TestService_GetPayload(t *testing.T) {
	root := newProject(t)
	svc := NewService(Config{Cwd: root})

	payload, err := svc.GetPayload(context.Background(), false)
	require.NoError(t, err)

	nodes := specs(payload)
	require.Len(t, nodes, 3)

	vue := nodes["vue@3.5.0"]
	require.NotNil(t, vue)
	assert.Equal(t, "node_modules/vue", vue.Path)
	assert.Equal(t, 1, vue.Depth)
	assert.Equal(t, "MIT", vue.License)
	assert.Equal(t, map[string]string{"@vue/shared": "3.5.0"}, vue.Dependencies)

	shared := nodes["@vue/shared@3.5.0"]
	require.NotNil(t, shared)
	assert.Equal(t, "MIT", shared.License)

	semver := nodes["semver@7.6.0"]
	require.NotNil(t, semver)
	assert.Equal(t, 2, semver.Depth)
	assert.Equal(t, "node_modules/vue/node_modules/semver", semver.Path)
}

func TestService_GetPayloadMemoized(t *testing.T) {
	root := newProject(t)
	svc := NewService(Config{Cwd: root})
	ctx := context.Background()

	first, err := svc.GetPayload(ctx, false)
	require.NoError(t, err)

	writePackage(t, filepath.Join(root, "node_modules", "lodash"), map[string]interface{}{"name": "lodash", "version": "4.17.21"})

	second, err := svc.GetPayload(ctx, false)
	require.NoError(t, err)
	assert.Same(t, first, second)

	forced, err := svc.GetPayload(ctx, true)
	require.NoError(t, err)
	assert.NotSame(t, first, forced)
	assert.Len(t, forced.Packages, 4)
}

func TestService_GetPayloadConcurrent(t *testing.T) {
	root := newProject(t)
	svc := NewService(Config{Cwd: root})

	const callers = 10
	results := make([]*Payload, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := svc.GetPayload(context.Background(), false)
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	wg.Wait()

	for _, p := range results[1:] {
		assert.Same(t, results[0], p)
	}
}

func TestService_GetPayloadAttachesStorage(t *testing.T) {
	root := newProject(t)
	ctx := context.Background()

	npmMeta := storage.NewMemoryCache(storage.DefaultCacheConfig(storage.NpmMeta))
	defer npmMeta.Close()
	publint := storage.NewMemoryCache(storage.DefaultCacheConfig(storage.Publint))
	defer publint.Close()

	published := time.Date(2024, 9, 3, 0, 0, 0, 0, time.UTC)
	meta, _ := json.Marshal(NpmMeta{PublishedAt: published})
	require.NoError(t, npmMeta.Set(ctx, "vue@3.5.0", meta, 0))

	lint, _ := json.Marshal([]PublintMessage{{Code: "FILE_DOES_NOT_EXIST", Type: "error"}})
	require.NoError(t, publint.Set(ctx, "semver@7.6.0", lint, 0))
	require.NoError(t, publint.Set(ctx, "@vue/shared@3.5.0", []byte("not json"), 0))

	svc := NewService(Config{Cwd: root, NpmMeta: npmMeta, Publint: publint})
	payload, err := svc.GetPayload(ctx, false)
	require.NoError(t, err)

	nodes := specs(payload)
	require.NotNil(t, nodes["vue@3.5.0"].Resolved)
	assert.True(t, published.Equal(nodes["vue@3.5.0"].Resolved.PublishedAt))
	assert.Nil(t, nodes["semver@7.6.0"].Resolved)

	require.Len(t, nodes["semver@7.6.0"].Publint, 1)
	assert.Equal(t, "FILE_DOES_NOT_EXIST", nodes["semver@7.6.0"].Publint[0].Code)
	assert.Empty(t, nodes["@vue/shared@3.5.0"].Publint)
}

func TestService_GetPayloadRecordsManifestMeta(t *testing.T) {
	root := newProject(t)
	writePackage(t, filepath.Join(root, "node_modules", "request"), map[string]interface{}{
		"name":       "request",
		"version":    "2.88.2",
		"deprecated": "request has been deprecated",
		"engines":    map[string]string{"node": ">= 6"},
	})
	ctx := context.Background()

	npmMeta := storage.NewMemoryCache(storage.DefaultCacheConfig(storage.NpmMeta))
	defer npmMeta.Close()

	svc := NewService(Config{Cwd: root, NpmMeta: npmMeta})
	payload, err := svc.GetPayload(ctx, false)
	require.NoError(t, err)

	nodes := specs(payload)
	require.NotNil(t, nodes["request@2.88.2"].Resolved)
	assert.Equal(t, "request has been deprecated", nodes["request@2.88.2"].Resolved.Deprecated)
	assert.Nil(t, nodes["semver@7.6.0"].Resolved)

	data, err := npmMeta.Get(ctx, "request@2.88.2")
	require.NoError(t, err)
	var stored NpmMeta
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, map[string]string{"node": ">= 6"}, stored.Engines)

	_, err = npmMeta.Get(ctx, "semver@7.6.0")
	assert.True(t, storage.IsCacheMiss(err))

	// a stored entry wins over the manifest on the next scan
	published := time.Date(2020, 2, 11, 0, 0, 0, 0, time.UTC)
	entry, _ := json.Marshal(NpmMeta{PublishedAt: published, Deprecated: "from registry"})
	require.NoError(t, npmMeta.Set(ctx, "request@2.88.2", entry, 0))

	payload, err = svc.GetPayload(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "from registry", specs(payload)["request@2.88.2"].Resolved.Deprecated)
}

func TestService_SkipsInvalidManifests(t *testing.T) {
	root := newProject(t)
	broken := filepath.Join(root, "node_modules", "broken")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, "package.json"), []byte("{"), 0o644))
	writePackage(t, filepath.Join(root, "node_modules", "nameless"), map[string]interface{}{"version": "1.0.0"})

	svc := NewService(Config{Cwd: root})
	payload, err := svc.GetPayload(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, payload.Packages, 3)
}

func TestService_NoNodeModules(t *testing.T) {
	svc := NewService(Config{Cwd: t.TempDir()})

	payload, err := svc.GetPayload(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, payload.Packages)
}

func TestService_GetMetadata(t *testing.T) {
	root := newProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "pnpm-lock.yaml"), nil, 0o644))

	svc := NewService(Config{Cwd: root, Mode: ModeDev, Version: "1.2.3"})
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	ctx := context.Background()
	md, err := svc.GetMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Metadata{
		Cwd:       root,
		Mode:      ModeDev,
		Agent:     "pnpm",
		Version:   "1.2.3",
		Timestamp: fixed,
	}, md)

	_, err = svc.GetPayload(ctx, false)
	require.NoError(t, err)

	md, err = svc.GetMetadata(ctx)
	require.NoError(t, err)
	assert.True(t, md.PayloadReady)
	assert.Equal(t, 3, md.PackageCount)
}

func TestService_GetPayloadCancelledCaller(t *testing.T) {
	root := newProject(t)
	svc := NewService(Config{Cwd: root})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.GetPayload(ctx, false)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}

	// the shared build is not tied to the cancelled caller
	payload, err := svc.GetPayload(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, payload.Packages, 3)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("prod")
	require.NoError(t, err)
	assert.Equal(t, ModeProd, mode)

	_, err = ParseMode("staging")
	assert.Error(t, err)
}
