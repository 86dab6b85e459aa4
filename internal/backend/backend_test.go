package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modinspect/modinspect/internal/connection"
	"github.com/modinspect/modinspect/internal/inspector"
	"github.com/modinspect/modinspect/internal/rpc"
	"github.com/modinspect/modinspect/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newProject creates a project with vue and its nested semver copy.
func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	write := func(dir, manifest string) {
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(manifest), 0o644))
	}
	write(filepath.Join(root, "node_modules", "vue"), `{"name":"vue","version":"3.5.0"}`)
	write(filepath.Join(root, "node_modules", "vue", "node_modules", "semver"), `{"name":"semver","version":"7.6.0"}`)
	require.NoError(t, os.WriteFile(filepath.Join(root, "pnpm-lock.yaml"), nil, 0o644))
	return root
}

func newConfig(t *testing.T, cwd string) connection.Config {
	t.Helper()
	npmMeta := storage.NewMemoryCache(storage.DefaultCacheConfig(storage.NpmMeta))
	publint := storage.NewMemoryCache(storage.DefaultCacheConfig(storage.Publint))
	t.Cleanup(func() {
		npmMeta.Close()
		publint.Close()
	})

	return connection.NewConfig(cwd, inspector.ModeDev, map[string]storage.Cache{
		storage.NpmMeta: npmMeta,
		storage.Publint: publint,
	})
}

func connect(t *testing.T, opts Options, cwd string) connection.Connection {
	t.Helper()
	conn, err := NewConnector(opts).Connect(context.Background(), newConfig(t, cwd))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRegister(t *testing.T) {
	root := newProject(t)
	srv := rpc.NewServer(nil)
	Register(srv, inspector.NewService(inspector.Config{Cwd: root}))
	assert.Equal(t, []string{inspector.MethodGetMetadata, inspector.MethodGetPayload}, srv.Methods())

	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Shutdown(context.Background())

	client, err := rpc.Dial(context.Background(), "ws"+strings.TrimPrefix(ts.URL, "http"), rpc.DialOptions{})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()

	var md inspector.Metadata
	require.NoError(t, client.Call(ctx, inspector.MethodGetMetadata, nil, &md))
	assert.Equal(t, root, md.Cwd)
	assert.Equal(t, "pnpm", md.Agent)
	assert.False(t, md.PayloadReady)

	var payload inspector.Payload
	require.NoError(t, client.Call(ctx, inspector.MethodGetPayload, inspector.PayloadParams{Force: true}, &payload))
	assert.Len(t, payload.Packages, 2)

	err = client.Call(ctx, inspector.MethodGetPayload, "not an object", &payload)
	assert.Error(t, err)
}

func TestServer_Health(t *testing.T) {
	srv, err := NewServer(inspector.NewService(inspector.Config{Cwd: t.TempDir()}), "127.0.0.1:0", nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status healthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, 0, status.Connections)
	assert.Equal(t, []string{"getMetadata", "getPayload"}, status.Methods)
}

func TestConnector_Embedded(t *testing.T) {
	root := newProject(t)
	conn := connect(t, DefaultOptions(), root)
	ctx := context.Background()

	md, err := conn.GetMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, md.Cwd)
	assert.Equal(t, inspector.ModeDev, md.Mode)

	payload, err := conn.GetPayload(ctx)
	require.NoError(t, err)
	assert.Len(t, payload.Packages, 2)

	md, err = conn.GetMetadata(ctx)
	require.NoError(t, err)
	assert.True(t, md.PayloadReady)
	assert.Equal(t, 2, md.PackageCount)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	_, err = conn.GetMetadata(ctx)
	assert.ErrorIs(t, err, rpc.ErrClosed)
}

func TestConnector_Remote(t *testing.T) {
	root := newProject(t)
	srv, err := NewServer(inspector.NewService(inspector.Config{Cwd: root, Version: "1.2.3"}), "127.0.0.1:0", nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	opts := DefaultOptions()
	opts.URL = srv.URL()
	conn := connect(t, opts, root)

	md, err := conn.GetMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", md.Version)

	// closing the connection leaves a remote backend running
	require.NoError(t, conn.Close())
	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConnector_DialFailure(t *testing.T) {
	srv, err := NewServer(inspector.NewService(inspector.Config{Cwd: t.TempDir()}), "127.0.0.1:0", nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	url := srv.URL()
	require.NoError(t, srv.Shutdown(context.Background()))

	opts := DefaultOptions()
	opts.URL = url
	opts.DialTimeout = time.Second

	_, err = NewConnector(opts).Connect(context.Background(), newConfig(t, t.TempDir()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reach backend")
}

func TestConnector_ListenFailure(t *testing.T) {
	opts := DefaultOptions()
	opts.ListenAddr = "256.0.0.1:bad"

	_, err := NewConnector(opts).Connect(context.Background(), newConfig(t, t.TempDir()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start backend")
}

// The manager's warm-up primes the embedded backend, so metadata eventually
// reports a ready payload without any explicit getPayload from the caller.
func TestConnector_WithManagerWarmup(t *testing.T) {
	root := newProject(t)
	manager := connection.NewManager(newConfig(t, root), NewConnector(DefaultOptions()).Connect, connection.DefaultOptions())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		manager.Close(ctx)
	})

	ctx := context.Background()
	_, err := manager.CallMetadata(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		md, err := manager.CallMetadata(ctx)
		return err == nil && md.PayloadReady && md.PackageCount == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, manager.Attempts())
}
