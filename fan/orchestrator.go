package fan

import (
	"context"
	"sync"
	"time"

	"github.com/mLihs/SmartMiFanAsync/miio"
	"github.com/mLihs/SmartMiFanAsync/netudp"
)

// Orchestrator drives fan-out power/speed/handshake commands across the
// registry, gated by derived participation state and a process-wide
// command-coalescing timer (C9).
type Orchestrator struct {
	endpoint *netudp.Endpoint
	registry *Registry

	mu              sync.Mutex
	sessions        map[int]*Session
	errCb           ErrorCallback
	lastCommandTime time.Time
}

// NewOrchestrator returns an orchestrator over the given endpoint and
// registry.
func NewOrchestrator(endpoint *netudp.Endpoint, registry *Registry) *Orchestrator {
	return &Orchestrator{endpoint: endpoint, registry: registry, sessions: make(map[int]*Session)}
}

func (o *Orchestrator) sessionFor(i int) *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[i]
	if !ok {
		s = NewSession(o.endpoint, o.registry, i)
		s.SetErrorCallback(o.errCb)
		o.sessions[i] = s
	}
	return s
}

// SetErrorCallback installs the error callback used by every managed
// session, including ones already created.
func (o *Orchestrator) SetErrorCallback(cb ErrorCallback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errCb = cb
	for _, s := range o.sessions {
		s.SetErrorCallback(cb)
	}
}

// IsFanReady reports device i's cached handshake readiness.
func (o *Orchestrator) IsFanReady(i int) bool {
	d := o.registry.Get(i)
	return d != nil && d.Ready
}

// LastError returns device i's last classified error.
func (o *Orchestrator) LastError(i int) miio.Err {
	d := o.registry.Get(i)
	if d == nil {
		return miio.ErrOK
	}
	return d.LastError
}

// GetParticipation derives device i's participation state.
func (o *Orchestrator) GetParticipation(i int) ParticipationState {
	return o.registry.Participation(i)
}

// SetEnabled sets device i's user-intent flag.
func (o *Orchestrator) SetEnabled(i int, enabled bool) {
	if d := o.registry.Get(i); d != nil {
		d.UserEnabled = enabled
	}
}

// IsEnabled reports device i's user-intent flag.
func (o *Orchestrator) IsEnabled(i int) bool {
	d := o.registry.Get(i)
	return d != nil && d.UserEnabled
}

// SetSoftActive sets the application override that forces ACTIVE despite
// errors.
func (o *Orchestrator) SetSoftActive(i int, active bool) {
	o.registry.SetSoftActive(i, active)
}

func (o *Orchestrator) activeIndices() []int {
	n := o.registry.Count()
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if o.registry.Participation(i) == ParticipationActive {
			out = append(out, i)
		}
	}
	return out
}

// coalesce reports whether a new command should be dropped because one
// ran within CommandCooldown, and otherwise stamps the new command time.
func (o *Orchestrator) coalesce() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now()
	if !o.lastCommandTime.IsZero() && now.Sub(o.lastCommandTime) < CommandCooldown {
		return true
	}
	o.lastCommandTime = now
	return false
}

// Power sets power on device i alone, regardless of its participation
// state. It bypasses the fleet-wide coalescing guard, which only governs
// the *All fan-outs below.
func (o *Orchestrator) Power(ctx context.Context, i int, on bool) bool {
	return o.sessionFor(i).SetPower(ctx, on)
}

// Speed sets speed on device i alone, regardless of its participation
// state. It bypasses the fleet-wide coalescing guard, which only governs
// the *All fan-outs below.
func (o *Orchestrator) Speed(ctx context.Context, i int, percent int) bool {
	return o.sessionFor(i).SetSpeed(ctx, percent)
}

// PowerAllOrchestrated sets power on every ACTIVE device, in
// index-ascending order. A call within CommandCooldown of the previous
// one returns true without issuing any frames.
func (o *Orchestrator) PowerAllOrchestrated(ctx context.Context, on bool) bool {
	if o.coalesce() {
		return true
	}
	ok := true
	for _, i := range o.activeIndices() {
		if !o.sessionFor(i).SetPower(ctx, on) {
			ok = false
		}
	}
	return ok
}

// SpeedAllOrchestrated sets speed on every ACTIVE device, in
// index-ascending order, subject to the same coalescing guard.
func (o *Orchestrator) SpeedAllOrchestrated(ctx context.Context, percent int) bool {
	if o.coalesce() {
		return true
	}
	ok := true
	for _, i := range o.activeIndices() {
		if !o.sessionFor(i).SetSpeed(ctx, percent) {
			ok = false
		}
	}
	return ok
}

// HandshakeAllOrchestrated forces a fresh handshake on every ACTIVE
// device, in index-ascending order. Unlike power/speed, it is not
// coalesced.
func (o *Orchestrator) HandshakeAllOrchestrated(ctx context.Context) bool {
	ok := true
	for _, i := range o.activeIndices() {
		if !o.sessionFor(i).Handshake(ctx) {
			ok = false
		}
	}
	return ok
}

// HealthCheck forces a fresh handshake on device i and updates its
// readiness/error state, reporting any failure under OpHealthCheck.
func (o *Orchestrator) HealthCheck(ctx context.Context, i int, timeout time.Duration) bool {
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return o.sessionFor(i).HealthCheck(checkCtx)
}

// HealthCheckAll runs HealthCheck across every registry record.
func (o *Orchestrator) HealthCheckAll(ctx context.Context, timeout time.Duration) {
	for i := 0; i < o.registry.Count(); i++ {
		o.HealthCheck(ctx, i, timeout)
	}
}

// PrepareForSleep marks every device not-ready, optionally closes the
// shared UDP endpoint and invalidates session handshake caches, and
// resets the coalescing timer.
func (o *Orchestrator) PrepareForSleep(closeUDP, invalidate bool) {
	for i := 0; i < o.registry.Count(); i++ {
		if d := o.registry.Get(i); d != nil {
			d.Ready = false
		}
		if invalidate {
			o.sessionFor(i).InvalidateHandshake()
		}
	}
	if closeUDP {
		_ = o.endpoint.Close()
	}
	o.mu.Lock()
	o.lastCommandTime = time.Time{}
	o.mu.Unlock()
}

// SoftWakeUp re-binds the shared UDP endpoint and clears ready and
// crypto-cached on every record, forcing re-handshake and
// re-derivation on next use.
func (o *Orchestrator) SoftWakeUp() error {
	if err := o.endpoint.Rebind(); err != nil {
		return err
	}
	for i := 0; i < o.registry.Count(); i++ {
		d := o.registry.Get(i)
		if d == nil {
			continue
		}
		d.Ready = false
		d.CryptoCached = false
		o.sessionFor(i).InvalidateHandshake()
	}
	return nil
}
