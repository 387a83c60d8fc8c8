package fan

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/mLihs/SmartMiFanAsync/netudp"
)

// FastConnect validates a statically configured (ip, token[, model])
// list and pre-populates the registry, skipping broadcast discovery
// (C7).
type FastConnect struct {
	endpoint *netudp.Endpoint
	registry *Registry

	mu       sync.Mutex
	entries  []FastConnectEntry
	enabled  bool
	indices  []int
	callback ValidationCallback
}

// NewFastConnect returns a Fast-Connect instance bound to the shared
// endpoint and registry.
func NewFastConnect(endpoint *netudp.Endpoint, registry *Registry) *FastConnect {
	return &FastConnect{endpoint: endpoint, registry: registry}
}

// SetConfig validates and stores up to MaxFastConnect entries. Invalid
// entries (malformed IP, token not exactly 32 hex chars) are silently
// skipped. If at least one valid entry remains, the config is enabled.
func (fc *FastConnect) SetConfig(entries []FastConnectEntry) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	valid := make([]FastConnectEntry, 0, MaxFastConnect)
	for _, e := range entries {
		if len(valid) >= MaxFastConnect {
			break
		}
		if net.ParseIP(e.IP) == nil {
			continue
		}
		if _, ok := parseToken(e.Token); !ok {
			continue
		}
		valid = append(valid, e)
	}
	fc.entries = valid
	fc.enabled = len(valid) > 0
}

// ClearConfig discards the entry list and disables Fast-Connect.
func (fc *FastConnect) ClearConfig() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.entries = nil
	fc.enabled = false
	fc.indices = nil
}

// SetEnabled toggles Fast-Connect without discarding the entry list.
func (fc *FastConnect) SetEnabled(enabled bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.enabled = enabled && len(fc.entries) > 0
}

// IsEnabled reports whether Fast-Connect will run on the next call.
func (fc *FastConnect) IsEnabled() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.enabled
}

// SetCallback installs the validation-result callback.
func (fc *FastConnect) SetCallback(cb ValidationCallback) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.callback = cb
}

// Entries returns a snapshot of the configured entries.
func (fc *FastConnect) Entries() []FastConnectEntry {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	out := make([]FastConnectEntry, len(fc.entries))
	copy(out, fc.entries)
	return out
}

// Register creates a not-ready registry record for every configured
// entry.
func (fc *FastConnect) Register() []int {
	fc.mu.Lock()
	entries := append([]FastConnectEntry{}, fc.entries...)
	fc.mu.Unlock()

	indices := make([]int, 0, len(entries))
	for _, e := range entries {
		tok, ok := parseToken(e.Token)
		if !ok {
			indices = append(indices, -1)
			continue
		}
		d := &DiscoveredDevice{
			IP:          net.ParseIP(e.IP),
			Model:       e.Model,
			TokenHex:    e.Token,
			Token:       tok,
			Ready:       false,
			UserEnabled: true,
		}
		idx := fc.registry.Insert(d)
		if idx >= 0 {
			_ = fc.registry.CacheCrypto(idx)
		}
		indices = append(indices, idx)
	}

	fc.mu.Lock()
	fc.indices = indices
	fc.mu.Unlock()
	return indices
}

// Validate attempts a handshake for each registered entry in order,
// following a successful handshake with a query_info if the entry has
// no configured model. The full result array is handed to the
// validation callback exactly once, at the end.
func (fc *FastConnect) Validate(ctx context.Context) []FastConnectResult {
	fc.mu.Lock()
	entries := append([]FastConnectEntry{}, fc.entries...)
	indices := append([]int{}, fc.indices...)
	cb := fc.callback
	fc.mu.Unlock()

	results := make([]FastConnectResult, 0, len(entries))
	for i, e := range entries {
		if i >= len(indices) || indices[i] < 0 {
			results = append(results, FastConnectResult{Entry: e, Success: false})
			continue
		}
		sess := NewSession(fc.endpoint, fc.registry, indices[i])
		ok := sess.Handshake(ctx)
		if ok && e.Model == "" {
			time.Sleep(100 * time.Millisecond)
			sess.QueryInfo(ctx)
		}
		results = append(results, FastConnectResult{Entry: e, Success: ok})
	}

	if cb != nil {
		cb(results)
	}
	return results
}
