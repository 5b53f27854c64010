// Package streammgr owns the directory of per-source MJPEG proxies
// keyed by canonical source id (spec §4.5).
package streammgr

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"camfeed/internal/bufpool"
	"camfeed/internal/mjpeg"
)

// SourceSummary is the listSources() wire shape (spec §4.5, §6).
type SourceSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayURL  string `json:"displayUrl"`
	IsDefault   bool   `json:"isDefault"`
}

// Manager is the id->proxy directory. Invariant: for any canonical
// source id there is at most one proxy in the map at any time; the
// "default" alias is never a key (spec §4.5).
type Manager struct {
	mu      sync.RWMutex
	configs map[string]mjpeg.SourceConfig
	proxies map[string]*mjpeg.Proxy
	defaultID string

	pool             *bufpool.Pool
	preBufferFrames  int
	motionFPS        int
	logger           *log.Logger
}

// New builds a manager over the given source configs. Exactly one
// config must have IsDefault set; it becomes the "default" alias
// target. preBufferFrames is the pre-buffer capacity (preBufferSeconds
// * sourceFPS) shared by every proxy; motionFPS is the sample-tap rate.
func New(sources []mjpeg.SourceConfig, pool *bufpool.Pool, preBufferFrames, motionFPS int, logger *log.Logger) (*Manager, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one stream source is required")
	}
	configs := make(map[string]mjpeg.SourceConfig, len(sources))
	defaultID := ""
	for _, s := range sources {
		if s.ID == "default" {
			return nil, fmt.Errorf("source id %q is reserved for the default alias", s.ID)
		}
		configs[s.ID] = s
		if s.IsDefault {
			if defaultID != "" {
				return nil, fmt.Errorf("more than one source marked as default: %q and %q", defaultID, s.ID)
			}
			defaultID = s.ID
		}
	}
	if defaultID == "" {
		return nil, fmt.Errorf("exactly one source must be marked as default")
	}

	return &Manager{
		configs:         configs,
		proxies:         make(map[string]*mjpeg.Proxy),
		defaultID:       defaultID,
		pool:            pool,
		preBufferFrames: preBufferFrames,
		motionFPS:       motionFPS,
		logger:          logger,
	}, nil
}

// canonicalize resolves "default" to the configured default source id.
func (m *Manager) canonicalize(id string) string {
	if id == "default" {
		return m.defaultID
	}
	return id
}

// GetProxy resolves id (canonicalizing "default" first) and returns its
// proxy, constructing and eagerly connecting one on first lookup if
// needed. Returns an error if id does not name a configured source.
func (m *Manager) GetProxy(id string) (*mjpeg.Proxy, error) {
	canonical := m.canonicalize(id)

	m.mu.RLock()
	p, ok := m.proxies[canonical]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	cfg, ok := m.configs[canonical]
	if !ok {
		return nil, fmt.Errorf("unknown source id %q", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// double-checked: another goroutine may have constructed it while
	// we waited for the write lock.
	if p, ok := m.proxies[canonical]; ok {
		return p, nil
	}
	p = mjpeg.New(cfg, m.pool, m.preBufferFrames, m.motionFPS, m.logger)
	p.Start()
	m.proxies[canonical] = p
	m.logger.Printf("[streammgr] connected source %q (%s)", canonical, cfg.URL)
	return p, nil
}

// PreWarm eagerly constructs proxies for every configured source, used
// at server start so sources connect immediately rather than on first
// viewer.
func (m *Manager) PreWarm() {
	for id := range m.configs {
		if _, err := m.GetProxy(id); err != nil {
			m.logger.Printf("[streammgr] prewarm %q failed: %v", id, err)
		}
	}
}

// ListSources returns every configured source, cosmetically stripping a
// trailing "/video" path segment from the displayed URL.
func (m *Manager) ListSources() []SourceSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SourceSummary, 0, len(m.configs))
	for _, cfg := range m.configs {
		out = append(out, SourceSummary{
			ID:         cfg.ID,
			Name:       cfg.Name,
			DisplayURL: strings.TrimSuffix(cfg.URL, "/video"),
			IsDefault:  cfg.IsDefault,
		})
	}
	return out
}

// Shutdown disconnects every live proxy.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	proxies := make([]*mjpeg.Proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		proxies = append(proxies, p)
	}
	m.proxies = make(map[string]*mjpeg.Proxy)
	m.mu.Unlock()

	for _, p := range proxies {
		p.Disconnect()
	}
}
