// Package dispatch builds the routing table that maps listening ports and
// URL paths to backend sessions. The table is assembled once at startup and
// read-only afterwards, so lookups need no locking.
package dispatch

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Warspoot/tlserver/internal/config"
	"github.com/Warspoot/tlserver/internal/session"
	"github.com/Warspoot/tlserver/internal/translator"
)

// Registry routes requests to sessions by port and by path. A session
// appears under every port and path its config binds.
type Registry struct {
	byPort map[int]*session.Session
	byPath map[string]*session.Session
}

func New() *Registry {
	return &Registry{
		byPort: make(map[int]*session.Session),
		byPath: make(map[string]*session.Session),
	}
}

// Build constructs, activates, and registers a session per enabled backend.
// Backends that fail activation are logged and left out; the server still
// starts with the ones that came up.
func Build(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) *Registry {
	registry := New()
	constructors := translator.Constructors()

	for i := range cfg.Translators {
		tc := &cfg.Translators[i]
		backendLogger := logger.With().Str("backend", string(tc.Kind)).Logger()

		if !tc.Enabled {
			backendLogger.Info().Msg("backend disabled, skipping")
			continue
		}

		construct, known := constructors[tc.Kind]
		if !known || construct == nil {
			backendLogger.Info().Msg("backend kind has no engine implementation, skipping")
			continue
		}

		adapter, err := construct(tc, backendLogger)
		if err != nil {
			backendLogger.Warn().Err(err).Msg("backend construction failed, skipping")
			continue
		}

		sess := session.New(adapter, tc, backendLogger)
		if err := sess.Activate(ctx); err != nil {
			backendLogger.Warn().Err(err).Msg("backend activation failed, skipping")
			continue
		}

		if tc.HasPort() {
			registry.RegisterPort(*tc.Port, sess)
			backendLogger.Info().Int("port", *tc.Port).Msg("backend registered on port")
		}
		if tc.HasPath() {
			path := NormalizePath(*tc.Path)
			registry.RegisterPath(path, sess)
			backendLogger.Info().Str("path", "/"+path).Msg("backend registered on path")
		}
	}

	return registry
}

// NormalizePath strips surrounding slashes so "/llm/", "llm/" and "llm" all
// name the same route.
func NormalizePath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

func (r *Registry) RegisterPort(port int, sess *session.Session) {
	r.byPort[port] = sess
}

func (r *Registry) RegisterPath(path string, sess *session.Session) {
	r.byPath[NormalizePath(path)] = sess
}

// ByPort returns the session bound to port, if any.
func (r *Registry) ByPort(port int) (*session.Session, bool) {
	sess, ok := r.byPort[port]
	return sess, ok
}

// ByPath returns the session bound to a normalized path, if any.
func (r *Registry) ByPath(path string) (*session.Session, bool) {
	sess, ok := r.byPath[NormalizePath(path)]
	return sess, ok
}

// Ports lists every bound port in ascending order.
func (r *Registry) Ports() []int {
	ports := make([]int, 0, len(r.byPort))
	for port := range r.byPort {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

// Paths lists every bound path in sorted order, without leading slashes.
func (r *Registry) Paths() []string {
	paths := make([]string, 0, len(r.byPath))
	for path := range r.byPath {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Empty reports whether no backend was registered at all.
func (r *Registry) Empty() bool {
	return len(r.byPort) == 0 && len(r.byPath) == 0
}
