package fan

import (
	"fmt"
	"io"
	"net"
	"slices"
	"sync"

	"github.com/mLihs/SmartMiFanAsync/miio"
)

// Registry is the fixed-capacity device table (C3). It owns the
// parallel soft-active override array and is safe for single-threaded,
// cooperative use: the orchestrator and FSMs are the only readers and
// writers, and they never run concurrently against the same registry.
type Registry struct {
	mu         sync.Mutex
	devices    []*DiscoveredDevice
	softActive [MaxDevices]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: make([]*DiscoveredDevice, 0, MaxDevices)}
}

// Reset clears every record and every soft-active override.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = r.devices[:0]
	r.softActive = [MaxDevices]bool{}
}

// Count returns the number of populated records.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Get returns the record at index i, or nil if out of range.
func (r *Registry) Get(i int) *DiscoveredDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.devices) {
		return nil
	}
	return r.devices[i]
}

// Devices returns a snapshot slice of every record, in index order.
func (r *Registry) Devices() []*DiscoveredDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.devices)
}

// Insert adds a new record, enforcing capacity and the unique-by-IP /
// unique-by-nonzero-device-id invariants. It returns the new record's
// index, or -1 if rejected.
func (r *Registry) Insert(d *DiscoveredDevice) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.devices) >= MaxDevices {
		return -1
	}
	for _, existing := range r.devices {
		if existing.IP.Equal(d.IP) {
			return -1
		}
		if d.DeviceID != [4]byte{} && existing.DeviceID == d.DeviceID {
			return -1
		}
	}
	r.devices = append(r.devices, d)
	return len(r.devices) - 1
}

// FindByIP returns the index of the record with the given IP, or -1.
func (r *Registry) FindByIP(ip net.IP) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.IndexFunc(r.devices, func(d *DiscoveredDevice) bool {
		return d.IP.Equal(ip)
	})
}

// RemoveAt deletes the record at index i, shifting later records down.
// This intentionally breaks the "stable index identity" invariant, so it
// is only ever called by Smart-Connect while discarding Fast-Connect
// records it is about to replace via fresh Discovery results, before any
// orchestrated command has observed the old indices.
func (r *Registry) RemoveAt(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.devices) {
		return
	}
	r.devices = append(r.devices[:i], r.devices[i+1:]...)
}

// SetSoftActive sets the override flag for index i.
func (r *Registry) SetSoftActive(i int, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= 0 && i < MaxDevices {
		r.softActive[i] = active
	}
}

// SoftActive reports the override flag for index i.
func (r *Registry) SoftActive(i int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= MaxDevices {
		return false
	}
	return r.softActive[i]
}

// CacheCrypto derives and stores key/iv0/model-type for record i from its
// current token and model fields. It is idempotent and must succeed
// before a record is usable by a Session.
func (r *Registry) CacheCrypto(i int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.devices) {
		return fmt.Errorf("fan: registry index %d out of range", i)
	}
	d := r.devices[i]
	key, iv0 := miio.DeriveKeyIV(d.Token)
	d.Key = key
	d.IV0 = iv0
	if d.Model != "" {
		d.ModelType = miio.ModelTypeOf(d.Model)
	}
	d.CryptoCached = true
	return nil
}

// Dump writes a human-readable listing of every record to w.
func (r *Registry) Dump(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range r.devices {
		fmt.Fprintf(w, "[%2d] %-15s model=%-20s ready=%-5v last_error=%-18s device_id=%08x\n",
			i, d.IP, d.Model, d.Ready, d.LastError, d.DeviceIDUint32())
	}
}

// Participation derives the ACTIVE/INACTIVE/ERROR label for record i.
func (r *Registry) Participation(i int) ParticipationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.devices) {
		return ParticipationInactive
	}
	d := r.devices[i]
	if !d.UserEnabled {
		return ParticipationInactive
	}
	if d.LastError == miio.ErrOK || r.softActive[i] {
		return ParticipationActive
	}
	return ParticipationError
}
