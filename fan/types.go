// Package fan implements the device registry, client session, discovery
// state machines, and fleet orchestrator for a bounded population of
// miIO-protocol smart fans.
package fan

import (
	"net"
	"time"

	"github.com/mLihs/SmartMiFanAsync/miio"
)

// MaxDevices bounds the device registry; index identity is stable for the
// registry's lifetime between Reset calls.
const MaxDevices = 16

// MaxFastConnect bounds the Fast-Connect configuration list.
const MaxFastConnect = 4

// DefaultTTL is the default handshake cache lifetime.
const DefaultTTL = 60 * time.Second

// CommandCooldown guards power_all/speed_all against back-to-back bursts.
const CommandCooldown = 100 * time.Millisecond

// ParticipationState is derived from a device's enabled/error/override
// flags; it is never stored on the record itself.
type ParticipationState int

const (
	ParticipationInactive ParticipationState = iota
	ParticipationActive
	ParticipationError
)

func (p ParticipationState) String() string {
	switch p {
	case ParticipationActive:
		return "ACTIVE"
	case ParticipationError:
		return "ERROR"
	default:
		return "INACTIVE"
	}
}

// SystemState is an informational tag the orchestrator never sets itself;
// callers use it to record their own sleep/wake bookkeeping.
type SystemState int

const (
	SystemActive SystemState = iota
	SystemIdle
	SystemSleep
)

// DiscoveredDevice is a single registry record.
type DiscoveredDevice struct {
	IP           net.IP
	DeviceID     [4]byte
	Model        string
	TokenHex     string
	Token        [16]byte
	FwVer        string
	HwVer        string
	Ready        bool
	LastError    miio.Err
	UserEnabled  bool
	CryptoCached bool
	Key          [16]byte
	IV0          [16]byte
	ModelType    miio.ModelType

	deviceTS        uint32
	handshakeValid  bool
	lastHandshakeMs int64
}

// DeviceIDUint32 folds the 4 raw device-id bytes into a 32-bit integer,
// matching the value miIO.info's "did" field reports.
func (d *DiscoveredDevice) DeviceIDUint32() uint32 {
	return uint32(d.DeviceID[0])<<24 | uint32(d.DeviceID[1])<<16 | uint32(d.DeviceID[2])<<8 | uint32(d.DeviceID[3])
}

// FastConnectEntry is one statically configured (ip, token[, model]) tuple.
type FastConnectEntry struct {
	IP    string
	Token string
	Model string
}

// FastConnectResult reports the outcome of validating one Fast-Connect
// entry.
type FastConnectResult struct {
	Entry   FastConnectEntry
	Success bool
	Err     error
}

// FanErrorInfo is the payload handed to a registered error callback.
type FanErrorInfo struct {
	FanIndex             int
	IP                   net.IP
	Op                   miio.Op
	Err                  miio.Err
	ElapsedMs            int64
	HandshakeInvalidated bool
}

// ErrorCallback is informational: it must not block, reenter the core, or
// retry.
type ErrorCallback func(FanErrorInfo)

// ValidationCallback receives the full Fast-Connect validation result
// exactly once, at the end of validate().
type ValidationCallback func([]FastConnectResult)
