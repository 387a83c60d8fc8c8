package fan

import (
	"context"
	"testing"
	"time"

	"github.com/mLihs/SmartMiFanAsync/miio"
	"github.com/mLihs/SmartMiFanAsync/netudp"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *Registry, *netudp.Endpoint) {
	endpoint, err := netudp.Bind()
	require.NoError(t, err)
	t.Cleanup(func() { endpoint.Close() })

	r := NewRegistry()
	return NewOrchestrator(endpoint, r), r, endpoint
}

func TestOrchestratorSkipsInactiveDevices(t *testing.T) {
	o, r, _ := newTestOrchestrator(t)
	r.Insert(testDevice("192.0.2.1", [4]byte{1, 0, 0, 0})) // UserEnabled=false by default

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ok := o.PowerAllOrchestrated(ctx, true)
	require.True(t, ok, "no active devices means the fan-out is a vacuous success")
}

func TestOrchestratorCoalescesBackToBackCommands(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	// No devices at all: both calls are no-ops regardless of coalescing,
	// but the second must still be short-circuited by the cooldown guard
	// rather than re-stamping lastCommandTime.
	ctx := context.Background()

	require.True(t, o.PowerAllOrchestrated(ctx, true))
	first := o.lastCommandTime

	require.True(t, o.PowerAllOrchestrated(ctx, false))
	require.Equal(t, first, o.lastCommandTime, "second call within the cooldown must not advance the timer")

	time.Sleep(CommandCooldown + 10*time.Millisecond)
	require.True(t, o.PowerAllOrchestrated(ctx, true))
	require.NotEqual(t, first, o.lastCommandTime, "a call after the cooldown must advance the timer")
}

func TestOrchestratorHandshakeAllIsNotCoalesced(t *testing.T) {
	o, r, _ := newTestOrchestrator(t)
	r.Insert(testDevice("192.0.2.1", [4]byte{1, 0, 0, 0}))
	// Not enabled, so HandshakeAllOrchestrated has nothing to iterate and
	// returns true trivially without touching the coalescing timer.
	ctx := context.Background()
	require.True(t, o.HandshakeAllOrchestrated(ctx))
	require.True(t, o.lastCommandTime.IsZero())
}

func TestOrchestratorEnabledAndSoftActiveWiring(t *testing.T) {
	o, r, _ := newTestOrchestrator(t)
	idx := r.Insert(testDevice("192.0.2.1", [4]byte{1, 0, 0, 0}))

	require.False(t, o.IsEnabled(idx))
	o.SetEnabled(idx, true)
	require.True(t, o.IsEnabled(idx))
	require.Equal(t, ParticipationActive, o.GetParticipation(idx))

	r.Get(idx).LastError = miio.ErrTimeout
	require.Equal(t, ParticipationError, o.GetParticipation(idx))

	o.SetSoftActive(idx, true)
	require.Equal(t, ParticipationActive, o.GetParticipation(idx))
}

func TestOrchestratorPowerAndSpeedTargetSingleDeviceRegardlessOfParticipation(t *testing.T) {
	o, r, _ := newTestOrchestrator(t)
	idx := r.Insert(testDevice("127.0.0.1", [4]byte{1, 0, 0, 0}))
	tok := sessionTestToken()
	r.Get(idx).Token = tok
	require.NoError(t, r.CacheCrypto(idx))

	key, iv0 := miio.DeriveKeyIV(tok)
	_, stop := fakeFan(t, key, iv0, [4]byte{0xDE, 0xAD, 0xBE, 0xEF})
	defer stop()

	// Device is not UserEnabled, so it is INACTIVE and would be skipped by
	// the *All fan-outs, but Power/Speed must still reach it directly.
	require.Equal(t, ParticipationInactive, o.GetParticipation(idx))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.True(t, o.Power(ctx, idx, true))
	require.True(t, o.Speed(ctx, idx, 45))
}

func TestOrchestratorPrepareForSleepAndSoftWakeUp(t *testing.T) {
	o, r, _ := newTestOrchestrator(t)
	idx := r.Insert(testDevice("192.0.2.1", [4]byte{1, 0, 0, 0}))
	r.Get(idx).Ready = true
	r.CacheCrypto(idx)

	o.PrepareForSleep(false, true)
	require.False(t, r.Get(idx).Ready)

	r.Get(idx).Ready = true
	require.NoError(t, o.SoftWakeUp())
	require.False(t, r.Get(idx).Ready)
	require.False(t, r.Get(idx).CryptoCached)
}
