package fan

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mLihs/SmartMiFanAsync/miio"
	"github.com/mLihs/SmartMiFanAsync/netudp"
)

const (
	helloResendInterval = 500 * time.Millisecond
	handshakeTimeout    = 2 * time.Second
	infoQueryTimeout    = 2 * time.Second
	commandReplyTimeout = 1500 * time.Millisecond
)

// Session is the per-device client (C4): handshake, miIO.info query, and
// set_properties commands against one registry record, all funneled
// through the shared UDP endpoint.
type Session struct {
	mu          sync.Mutex
	endpoint    *netudp.Endpoint
	registry    *Registry
	index       int
	errCb       ErrorCallback
	globalSpeed uint8
}

// NewSession binds a session to registry record index i.
func NewSession(endpoint *netudp.Endpoint, registry *Registry, index int) *Session {
	return &Session{endpoint: endpoint, registry: registry, index: index}
}

// SetErrorCallback installs the fire-and-forget error callback.
func (s *Session) SetErrorCallback(cb ErrorCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errCb = cb
}

func (s *Session) device() *DiscoveredDevice {
	return s.registry.Get(s.index)
}

// SetGlobalSpeed caches percent (clamped to [1,100]) as this session's
// last-requested speed, independent of the device's actual wire value.
// It does not send anything.
func (s *Session) SetGlobalSpeed(percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalSpeed = miio.ClampSpeedPercent(percent)
}

// GetGlobalSpeed returns the last value cached by SetGlobalSpeed, or 0 if
// none was ever set.
func (s *Session) GetGlobalSpeed() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalSpeed
}

func (s *Session) emitError(op miio.Op, err miio.Err, elapsed time.Duration, invalidated bool) {
	s.mu.Lock()
	cb := s.errCb
	s.mu.Unlock()
	d := s.device()
	if cb == nil || d == nil {
		return
	}
	cb(FanErrorInfo{
		FanIndex:             s.index,
		IP:                   d.IP,
		Op:                   op,
		Err:                  err,
		ElapsedMs:            elapsed.Milliseconds(),
		HandshakeInvalidated: invalidated,
	})
}

// IsHandshakeValid reports whether the cached handshake is usable under
// ttl.
func (s *Session) IsHandshakeValid(ttl time.Duration) bool {
	d := s.device()
	if d == nil || !d.handshakeValid {
		return false
	}
	age := time.Since(time.UnixMilli(d.lastHandshakeMs))
	return age < ttl
}

// HandshakeAge returns how long ago the last successful handshake
// completed.
func (s *Session) HandshakeAge() time.Duration {
	d := s.device()
	if d == nil || !d.handshakeValid {
		return -1
	}
	return time.Since(time.UnixMilli(d.lastHandshakeMs))
}

// InvalidateHandshake forces the next operation to re-handshake.
func (s *Session) InvalidateHandshake() {
	d := s.device()
	if d == nil {
		return
	}
	d.handshakeValid = false
	d.Ready = false
}

// EnsureHandshake reuses a cached handshake under ttl, otherwise performs
// a fresh one.
func (s *Session) EnsureHandshake(ctx context.Context, ttl time.Duration) bool {
	if s.IsHandshakeValid(ttl) {
		return true
	}
	return s.Handshake(ctx)
}

// Handshake performs the hello/reply exchange, resending every 500ms
// until a reply from the expected IP arrives or ctx's deadline elapses.
func (s *Session) Handshake(ctx context.Context) bool {
	return s.handshake(ctx, miio.OpHandshake)
}

// HealthCheck re-runs the same hello/reply exchange as Handshake, but
// reports failures under OpHealthCheck instead of OpHandshake so the
// error callback distinguishes a liveness probe from the handshake that
// a command path performs on demand.
func (s *Session) HealthCheck(ctx context.Context) bool {
	return s.handshake(ctx, miio.OpHealthCheck)
}

func (s *Session) handshake(ctx context.Context, op miio.Op) bool {
	d := s.device()
	if d == nil {
		return false
	}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	ticker := time.NewTicker(helloResendInterval)
	defer ticker.Stop()

	buf := make([]byte, 512)
	hello := miio.HelloFrame()
	wrongSourceEmitted := false

	send := func() {
		_ = s.endpoint.SendTo(&net.UDPAddr{IP: d.IP, Port: netudp.Port}, hello)
	}
	send()

	for {
		select {
		case <-ctx.Done():
			d.Ready = false
			d.LastError = miio.ErrTimeout
			d.handshakeValid = false
			s.emitError(op, miio.ErrTimeout, time.Since(start), true)
			return false
		case <-ticker.C:
			send()
		default:
		}

		readCtx, readCancel := context.WithTimeout(ctx, 50*time.Millisecond)
		n, addr, err := s.endpoint.ReceiveFrom(readCtx, buf)
		readCancel()
		if err != nil {
			continue
		}
		if !addr.IP.Equal(d.IP) {
			if !wrongSourceEmitted {
				s.emitError(op, miio.ErrWrongSourceIP, time.Since(start), false)
				wrongSourceEmitted = true
			}
			continue
		}
		if n != miio.HeaderLen {
			continue
		}
		deviceID, stamp, err := miio.ParseHelloReply(buf[:n])
		if err != nil {
			continue
		}

		d.DeviceID = deviceID
		d.deviceTS = stamp
		d.Ready = true
		d.LastError = miio.ErrOK
		d.handshakeValid = true
		d.lastHandshakeMs = time.Now().UnixMilli()
		if !d.CryptoCached {
			_ = s.registry.CacheCrypto(s.index)
		}
		slog.Debug("handshake complete", "ip", d.IP, "device_id", deviceID, "stamp", stamp)
		return true
	}
}

// QueryInfo sends an encrypted miIO.info request and parses the reply,
// refreshing the device's model and model-type cache on success.
func (s *Session) QueryInfo(ctx context.Context) (miio.InfoResponse, bool) {
	d := s.device()
	if d == nil {
		return miio.InfoResponse{}, false
	}
	start := time.Now()
	if !s.EnsureHandshake(ctx, DefaultTTL) {
		return miio.InfoResponse{}, false
	}

	q := miio.NewInfoQuery()
	payload, err := q.Marshal()
	if err != nil {
		return miio.InfoResponse{}, false
	}

	resp, ok := s.exchange(ctx, payload, infoQueryTimeout, miio.OpReceiveResponse, start)
	if !ok {
		return miio.InfoResponse{}, false
	}

	info, err := miio.ParseInfoResponse(resp)
	if err != nil {
		d.LastError = miio.ErrInvalidResponse
		s.emitError(miio.OpReceiveResponse, miio.ErrInvalidResponse, time.Since(start), false)
		return miio.InfoResponse{}, false
	}

	d.Model = info.Model
	d.FwVer = info.FwVer
	d.HwVer = info.HwVer
	_ = s.registry.CacheCrypto(s.index)
	d.LastError = miio.ErrOK
	return info, true
}

// SetPower sends a set_properties(power) command and waits for any
// well-formed reply from the expected peer.
func (s *Session) SetPower(ctx context.Context, on bool) bool {
	d := s.device()
	if d == nil {
		return false
	}
	start := time.Now()
	if !s.EnsureHandshake(ctx, DefaultTTL) {
		return false
	}
	cmd := miio.NewSetPropertyCommand(nextCommandID(), miio.PowerSIID, miio.PowerPIID, on)
	payload, err := cmd.Marshal()
	if err != nil {
		return false
	}
	_, ok := s.exchange(ctx, payload, commandReplyTimeout, miio.OpSendCommand, start)
	return ok
}

// SetSpeed clamps percent to [1,100], maps it to the device's property
// address (percent passthrough or 3-level fan_level), and sends it.
func (s *Session) SetSpeed(ctx context.Context, percent int) bool {
	d := s.device()
	if d == nil {
		return false
	}
	start := time.Now()
	if !s.EnsureHandshake(ctx, DefaultTTL) {
		return false
	}
	clamped := miio.ClampSpeedPercent(percent)
	params := miio.SpeedParamsFor(d.ModelType)

	var value interface{} = int(clamped)
	if params.UseFanLevel {
		value = int(miio.SpeedLevel(clamped))
	}
	cmd := miio.NewSetPropertyCommand(nextCommandID(), params.SIID, params.PIID, value)
	payload, err := cmd.Marshal()
	if err != nil {
		return false
	}
	_, ok := s.exchange(ctx, payload, commandReplyTimeout, miio.OpSendCommand, start)
	return ok
}

// exchange encrypts payload, sends it with device_ts+1, and waits up to
// timeout for any unicast reply from the expected IP. Replies from other
// IPs are discarded, emitting WRONG_SOURCE_IP once. The raw decrypted
// plaintext of the first accepted reply is returned; LastError only
// becomes OK once a reply has actually been accepted as success — for
// OpReceiveResponse (QueryInfo) that means a clean decode, since a
// garbled/stale-token body is exactly the DECRYPT_FAIL case the caller
// needs to see. SetPower/SetSpeed still treat any well-formed reply as
// success even if decryption fails, since the device itself is
// authoritative for those.
func (s *Session) exchange(ctx context.Context, plaintext []byte, timeout time.Duration, op miio.Op, start time.Time) ([]byte, bool) {
	d := s.device()
	if d == nil {
		return nil, false
	}

	d.deviceTS++
	frame, err := miio.EncodeFrame(d.DeviceID, d.deviceTS, d.Token, d.Key, d.IV0, plaintext)
	if err != nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.endpoint.SendTo(&net.UDPAddr{IP: d.IP, Port: netudp.Port}, frame); err != nil {
		return nil, false
	}

	buf := make([]byte, 512)
	wrongSourceEmitted := false
	for {
		n, addr, err := s.endpoint.ReceiveFrom(ctx, buf)
		if err != nil {
			d.Ready = false
			d.LastError = miio.ErrTimeout
			s.emitError(op, miio.ErrTimeout, time.Since(start), true)
			return nil, false
		}
		if !addr.IP.Equal(d.IP) {
			if !wrongSourceEmitted {
				s.emitError(op, miio.ErrWrongSourceIP, time.Since(start), false)
				wrongSourceEmitted = true
			}
			continue
		}

		_, plain, decErr := miio.DecodeFrame(d.Key, d.IV0, buf[:n])
		if decErr != nil {
			if op == miio.OpReceiveResponse {
				d.Ready = false
				d.LastError = miio.ErrDecryptFail
				s.emitError(op, miio.ErrDecryptFail, time.Since(start), true)
				return nil, false
			}
			d.LastError = miio.ErrOK
			return nil, true
		}
		d.LastError = miio.ErrOK
		return plain, true
	}
}
