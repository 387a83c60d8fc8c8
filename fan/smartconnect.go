package fan

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mLihs/SmartMiFanAsync/netudp"
)

// SmartConnectState names a Smart-Connect FSM state (C8).
type SmartConnectState int

const (
	SmartConnectIdle SmartConnectState = iota
	SmartConnectValidatingFastConnect
	SmartConnectStartingDiscovery
	SmartConnectDiscovering
	SmartConnectComplete
)

func (s SmartConnectState) String() string {
	switch s {
	case SmartConnectValidatingFastConnect:
		return "VALIDATING_FAST_CONNECT"
	case SmartConnectStartingDiscovery:
		return "STARTING_DISCOVERY"
	case SmartConnectDiscovering:
		return "DISCOVERING"
	case SmartConnectComplete:
		return "COMPLETE"
	default:
		return "IDLE"
	}
}

// SmartConnect composes Fast-Connect and Discovery: it validates the
// Fast-Connect list, then discovers only the tokens Fast-Connect failed
// to reach (C8).
type SmartConnect struct {
	endpoint    *netudp.Endpoint
	registry    *Registry
	fastConnect *FastConnect
	discovery   *Discovery

	mu    sync.Mutex
	state SmartConnectState
	done  chan struct{}
}

// NewSmartConnect composes a SmartConnect over an existing FastConnect
// and Discovery instance.
func NewSmartConnect(endpoint *netudp.Endpoint, registry *Registry, fc *FastConnect, disc *Discovery) *SmartConnect {
	return &SmartConnect{endpoint: endpoint, registry: registry, fastConnect: fc, discovery: disc, state: SmartConnectIdle}
}

func (fsm *SmartConnect) State() SmartConnectState {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	return fsm.state
}

func (fsm *SmartConnect) IsInProgress() bool {
	s := fsm.State()
	return s == SmartConnectValidatingFastConnect || s == SmartConnectStartingDiscovery || s == SmartConnectDiscovering
}

func (fsm *SmartConnect) IsComplete() bool {
	return fsm.State() == SmartConnectComplete
}

func (fsm *SmartConnect) setState(s SmartConnectState) {
	fsm.mu.Lock()
	fsm.state = s
	fsm.mu.Unlock()
}

// Cancel cancels any in-flight discovery and returns to IDLE.
func (fsm *SmartConnect) Cancel() {
	fsm.discovery.Cancel()
	fsm.setState(SmartConnectIdle)
}

// Wait blocks until the FSM reaches COMPLETE.
func (fsm *SmartConnect) Wait() {
	fsm.mu.Lock()
	done := fsm.done
	fsm.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Start runs Fast-Connect validation (if configured and enabled), then
// Discovery restricted to the tokens that failed. If Fast-Connect is not
// configured, it transitions directly to COMPLETE — callers are expected
// to populate tokens via Fast-Connect first.
func (fsm *SmartConnect) Start(ctx context.Context, discoveryMs time.Duration) {
	fsm.mu.Lock()
	fsm.state = SmartConnectValidatingFastConnect
	fsm.done = make(chan struct{})
	done := fsm.done
	fsm.mu.Unlock()

	go func() {
		defer close(done)
		fsm.run(ctx, discoveryMs)
	}()
}

func (fsm *SmartConnect) run(ctx context.Context, discoveryMs time.Duration) {
	if !fsm.fastConnect.IsEnabled() {
		fsm.setState(SmartConnectComplete)
		return
	}

	userCallback := fsm.fastConnect.callback

	var failedTokens []string
	resultCh := make(chan []FastConnectResult, 1)

	fsm.fastConnect.SetCallback(func(results []FastConnectResult) {
		var toRemove []int
		for i, r := range results {
			if r.Success {
				continue
			}
			failedTokens = append(failedTokens, r.Entry.Token)
			if i < len(fsm.fastConnect.indices) && fsm.fastConnect.indices[i] >= 0 {
				toRemove = append(toRemove, fsm.fastConnect.indices[i])
			}
		}
		// Remove highest index first so earlier indices stay valid.
		sort.Sort(sort.Reverse(sort.IntSlice(toRemove)))
		for _, idx := range toRemove {
			fsm.registry.RemoveAt(idx)
		}
		resultCh <- results
	})

	fsm.fastConnect.Register()
	fsm.fastConnect.Validate(ctx)
	results := <-resultCh

	fsm.fastConnect.SetCallback(userCallback)
	if userCallback != nil {
		userCallback(results)
	}

	if len(failedTokens) == 0 {
		fsm.setState(SmartConnectComplete)
		return
	}

	fsm.setState(SmartConnectStartingDiscovery)
	fsm.discovery.Start(ctx, failedTokens, discoveryMs)
	fsm.setState(SmartConnectDiscovering)
	fsm.discovery.Wait()
	fsm.setState(SmartConnectComplete)
}
