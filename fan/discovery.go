package fan

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mLihs/SmartMiFanAsync/miio"
	"github.com/mLihs/SmartMiFanAsync/netudp"
)

// DiscoveryState names a Discovery FSM state (C5).
type DiscoveryState int

const (
	DiscoveryIdle DiscoveryState = iota
	DiscoverySendingHello
	DiscoveryQueryingDevices
	DiscoveryComplete
	DiscoveryError
	DiscoveryTimeout
)

func (s DiscoveryState) String() string {
	switch s {
	case DiscoverySendingHello:
		return "SENDING_HELLO"
	case DiscoveryQueryingDevices:
		return "QUERYING_DEVICES"
	case DiscoveryComplete:
		return "COMPLETE"
	case DiscoveryError:
		return "ERROR"
	case DiscoveryTimeout:
		return "TIMEOUT"
	default:
		return "IDLE"
	}
}

type candidate struct {
	ip       net.IP
	deviceID [4]byte
	ts       uint32
}

// Discovery is the broadcast-hello-then-probe FSM (C5). The external
// contract (start/update/state/cancel) is preserved, but internally it
// suspends on a background goroutine rather than a hand-polled loop,
// as long as cumulative deadlines and the hello re-send cadence are met
// and no session is re-entered while in flight.
type Discovery struct {
	endpoint *netudp.Endpoint
	registry *Registry

	mu     sync.Mutex
	state  DiscoveryState
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDiscovery returns an idle Discovery bound to the shared endpoint and
// registry.
func NewDiscovery(endpoint *netudp.Endpoint, registry *Registry) *Discovery {
	return &Discovery{endpoint: endpoint, registry: registry, state: DiscoveryIdle}
}

// State returns the current FSM state.
func (fsm *Discovery) State() DiscoveryState {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	return fsm.state
}

// IsInProgress reports whether the FSM is actively running.
func (fsm *Discovery) IsInProgress() bool {
	s := fsm.State()
	return s == DiscoverySendingHello || s == DiscoveryQueryingDevices
}

// IsComplete reports whether the FSM reached a terminal state.
func (fsm *Discovery) IsComplete() bool {
	s := fsm.State()
	return s == DiscoveryComplete || s == DiscoveryError || s == DiscoveryTimeout
}

func (fsm *Discovery) setState(s DiscoveryState) {
	fsm.mu.Lock()
	fsm.state = s
	fsm.mu.Unlock()
}

// Cancel returns the FSM to IDLE, discarding any in-flight probe. It
// waits for the background run to exit before setting IDLE.
func (fsm *Discovery) Cancel() {
	fsm.mu.Lock()
	cancel := fsm.cancel
	done := fsm.done
	fsm.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	fsm.setState(DiscoveryIdle)
}

// Wait blocks until the FSM reaches a terminal state.
func (fsm *Discovery) Wait() {
	fsm.mu.Lock()
	done := fsm.done
	fsm.mu.Unlock()
	if done != nil {
		<-done
	}
}

func parseToken(hexStr string) ([16]byte, bool) {
	var t [16]byte
	if len(hexStr) != 32 {
		return t, false
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return t, false
	}
	copy(t[:], b)
	return t, true
}

// Start begins candidate collection over discoveryMs, then probes the
// cartesian product of discovered candidates × tokens, outer loop over
// candidates. Overall wall time is bounded by
// max(3·discoveryMs, discoveryMs + candidates·tokens·2.5s).
func (fsm *Discovery) Start(ctx context.Context, tokenHexList []string, discoveryMs time.Duration) {
	fsm.mu.Lock()
	if fsm.state == DiscoverySendingHello || fsm.state == DiscoveryQueryingDevices {
		fsm.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	fsm.cancel = cancel
	fsm.state = DiscoverySendingHello
	fsm.done = make(chan struct{})
	done := fsm.done
	fsm.mu.Unlock()

	go func() {
		defer close(done)
		fsm.run(runCtx, tokenHexList, discoveryMs)
	}()
}

func (fsm *Discovery) run(ctx context.Context, tokenHexList []string, discoveryMs time.Duration) {
	start := time.Now()
	candidates := fsm.collectCandidates(ctx, discoveryMs)
	fsm.setState(DiscoveryQueryingDevices)

	var tokens [][16]byte
	for _, h := range tokenHexList {
		if t, ok := parseToken(h); ok {
			tokens = append(tokens, t)
		}
	}

	overall := discoveryMs * 3
	guarded := discoveryMs + time.Duration(len(candidates)*len(tokens))*2500*time.Millisecond
	if guarded > overall {
		overall = guarded
	}
	queryCtx, cancel := context.WithDeadline(ctx, start.Add(overall))
	defer cancel()

	for _, c := range candidates {
		if fsm.registry.Count() >= MaxDevices {
			break
		}
		for _, tok := range tokens {
			if queryCtx.Err() != nil {
				fsm.setState(DiscoveryTimeout)
				return
			}
			fsm.probeOne(queryCtx, c, tok)
			if fsm.registry.Count() >= MaxDevices {
				break
			}
		}
	}

	select {
	case <-ctx.Done():
		fsm.setState(DiscoveryTimeout)
	default:
		fsm.setState(DiscoveryComplete)
	}
}

// collectCandidates broadcasts hello every 500ms for discoveryMs,
// collecting distinct-by-IP 32-byte replies.
func (fsm *Discovery) collectCandidates(ctx context.Context, discoveryMs time.Duration) []candidate {
	collectCtx, cancel := context.WithTimeout(ctx, discoveryMs)
	defer cancel()

	ticker := time.NewTicker(helloResendInterval)
	defer ticker.Stop()

	seen := make(map[string]candidate)
	hello := miio.HelloFrame()
	buf := make([]byte, 512)

	send := func() {
		_ = fsm.endpoint.SendTo(netudp.BroadcastAddr, hello)
	}
	send()

	for {
		select {
		case <-collectCtx.Done():
			out := make([]candidate, 0, len(seen))
			for _, c := range seen {
				out = append(out, c)
			}
			return out
		case <-ticker.C:
			send()
		default:
		}

		readCtx, readCancel := context.WithTimeout(collectCtx, 50*time.Millisecond)
		n, addr, err := fsm.endpoint.ReceiveFrom(readCtx, buf)
		readCancel()
		if err != nil || n != miio.HeaderLen {
			continue
		}
		deviceID, ts, err := miio.ParseHelloReply(buf[:n])
		if err != nil {
			continue
		}
		key := addr.IP.String()
		if _, ok := seen[key]; !ok && len(seen) < MaxDevices {
			seen[key] = candidate{ip: addr.IP, deviceID: deviceID, ts: ts}
		}
	}
}

// probeOne sends one encrypted miIO.info frame to c using tok and waits
// up to 2s for a decryptable reply carrying a model field; success
// inserts a new registry record.
func (fsm *Discovery) probeOne(ctx context.Context, c candidate, tok [16]byte) {
	probeCtx, cancel := context.WithTimeout(ctx, infoQueryTimeout)
	defer cancel()

	key, iv0 := miio.DeriveKeyIV(tok)
	q := miio.NewInfoQuery()
	payload, err := q.Marshal()
	if err != nil {
		return
	}
	stamp := c.ts + 1
	frame, err := miio.EncodeFrame(c.deviceID, stamp, tok, key, iv0, payload)
	if err != nil {
		return
	}
	if err := fsm.endpoint.SendTo(&net.UDPAddr{IP: c.ip, Port: netudp.Port}, frame); err != nil {
		return
	}

	buf := make([]byte, 512)
	for {
		n, addr, err := fsm.endpoint.ReceiveFrom(probeCtx, buf)
		if err != nil {
			return
		}
		if !addr.IP.Equal(c.ip) {
			continue
		}
		_, plain, decErr := miio.DecodeFrame(key, iv0, buf[:n])
		if decErr != nil {
			return
		}
		info, err := miio.ParseInfoResponse(plain)
		if err != nil {
			return
		}

		d := &DiscoveredDevice{
			IP:          append(net.IP{}, c.ip...),
			DeviceID:    c.deviceID,
			Model:       info.Model,
			TokenHex:    hex.EncodeToString(tok[:]),
			Token:       tok,
			FwVer:       info.FwVer,
			HwVer:       info.HwVer,
			Ready:       false,
			UserEnabled: true,
		}
		idx := fsm.registry.Insert(d)
		if idx >= 0 {
			_ = fsm.registry.CacheCrypto(idx)
			slog.Info("discovered fan", "ip", c.ip, "model", info.Model)
		}
		return
	}
}
