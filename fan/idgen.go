package fan

import "sync/atomic"

// commandID is the process-wide monotonic command counter: starts at 1,
// incrementing once per outgoing set_properties command across every
// device.
var commandID uint32

func nextCommandID() uint32 {
	return atomic.AddUint32(&commandID, 1)
}
