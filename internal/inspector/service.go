// Package inspector implements the backend that reads a project's installed
// packages and serves them to the dev server over RPC.
package inspector

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/modinspect/modinspect/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Config configures a Service.
type Config struct {
	// Cwd is the root of the inspected project
	Cwd string
	// Mode is reported back through metadata
	Mode Mode
	// Version is the tool version reported through metadata
	Version string

	// Storage handles; either may be nil
	NpmMeta storage.Cache
	Publint storage.Cache

	// Concurrency bounds manifest reads during a scan
	Concurrency int

	Logger *zap.Logger
}

// Service builds and memoizes the package payload for one project.
type Service struct {
	config Config
	logger *zap.Logger

	group singleflight.Group

	mu      sync.RWMutex
	payload *Payload

	now func() time.Time
}

// NewService creates a Service. The first payload is built lazily.
func NewService(config Config) *Service {
	if config.Mode == "" {
		config.Mode = ModeDev
	}
	if config.Version == "" {
		config.Version = "dev"
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 8
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Service{
		config: config,
		logger: config.Logger.Named("inspector"),
		now:    time.Now,
	}
}

// GetPayload returns the memoized payload, building it on first use or when
// force is set. Concurrent builds are coalesced into one scan that outlives
// any single caller's context.
func (s *Service) GetPayload(ctx context.Context, force bool) (*Payload, error) {
	if !force {
		if p := s.cached(); p != nil {
			return p, nil
		}
	}

	ch := s.group.DoChan("payload", func() (interface{}, error) {
		return s.build(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Payload), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetMetadata describes the project without scanning it.
func (s *Service) GetMetadata(ctx context.Context) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	md := &Metadata{
		Cwd:       s.config.Cwd,
		Mode:      s.config.Mode,
		Agent:     detectAgent(s.config.Cwd),
		Version:   s.config.Version,
		Timestamp: s.now(),
	}
	if p := s.cached(); p != nil {
		md.PayloadReady = true
		md.PackageCount = len(p.Packages)
	}
	return md, nil
}

func (s *Service) cached() *Payload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.payload
}

func (s *Service) build(ctx context.Context) (*Payload, error) {
	start := time.Now()

	dirs, err := discoverPackages(s.config.Cwd)
	if err != nil {
		return nil, fmt.Errorf("failed to scan node_modules: %w", err)
	}

	nodes := make([]*PackageNode, len(dirs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for i, dir := range dirs {
		i, dir := i, dir
		g.Go(func() error {
			node, err := s.readPackage(gctx, dir)
			if err != nil {
				s.logger.Warn("skipping package", zap.String("path", dir.path), zap.Error(err))
				return nil
			}
			nodes[i] = node
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	payload := &Payload{
		Cwd:       s.config.Cwd,
		Timestamp: s.now(),
		Packages:  make([]*PackageNode, 0, len(nodes)),
	}
	for _, node := range nodes {
		if node != nil {
			payload.Packages = append(payload.Packages, node)
		}
	}

	s.mu.Lock()
	s.payload = payload
	s.mu.Unlock()

	s.logger.Info("payload built",
		zap.Int("packages", len(payload.Packages)),
		zap.Duration("took", time.Since(start)),
	)
	return payload, nil
}

func (s *Service) readPackage(ctx context.Context, dir packageDir) (*PackageNode, error) {
	m, err := readManifest(dir.path)
	if err != nil {
		return nil, err
	}
	if m.Name == "" {
		return nil, fmt.Errorf("package.json has no name")
	}

	rel, err := filepath.Rel(s.config.Cwd, dir.path)
	if err != nil {
		rel = dir.path
	}

	node := &PackageNode{
		Spec:                 m.Name + "@" + m.Version,
		Name:                 m.Name,
		Version:              m.Version,
		Path:                 filepath.ToSlash(rel),
		Depth:                dir.depth,
		License:              m.license(),
		Private:              m.Private,
		Dependencies:         m.Dependencies,
		DevDependencies:      m.DevDependencies,
		PeerDependencies:     m.PeerDependencies,
		OptionalDependencies: m.OptionalDependencies,
	}

	var meta NpmMeta
	if s.lookup(ctx, s.config.NpmMeta, node.Spec, &meta) {
		node.Resolved = &meta
	} else if local := m.npmMeta(); local != nil {
		node.Resolved = local
		s.store(ctx, s.config.NpmMeta, node.Spec, local)
	}
	var messages []PublintMessage
	if s.lookup(ctx, s.config.Publint, node.Spec, &messages) {
		node.Publint = messages
	}

	return node, nil
}

// lookup decodes the stored entry for spec into v. Storage failures degrade
// to a missing entry.
func (s *Service) lookup(ctx context.Context, cache storage.Cache, spec string, v interface{}) bool {
	if cache == nil {
		return false
	}

	data, err := cache.Get(ctx, spec)
	if err != nil {
		if !storage.IsCacheMiss(err) {
			s.logger.Warn("storage lookup failed", zap.String("spec", spec), zap.Error(err))
		}
		return false
	}

	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("corrupt storage entry", zap.String("spec", spec), zap.Error(err))
		return false
	}
	return true
}

// store records v under spec with the handle's configured TTL. Failures are
// logged and otherwise ignored.
func (s *Service) store(ctx context.Context, cache storage.Cache, spec string, v interface{}) {
	if cache == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("cannot encode storage entry", zap.String("spec", spec), zap.Error(err))
		return
	}
	if err := cache.Set(ctx, spec, data, 0); err != nil {
		s.logger.Warn("storage write failed", zap.String("spec", spec), zap.Error(err))
	}
}
