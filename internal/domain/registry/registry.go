/*
Package registry owns device identity records and their lifecycle state
machine.

Key architectural concepts:
  - Forward-only transitions: pending → provisioned → active → revoked. A
    revoked record is frozen except for its key-rotation fields.
  - Audit permanence: records are never deleted, revocation included.
  - Demo activity window: when demo mode is enabled at startup, a device
    touched within the last five minutes counts as active regardless of
    state, so HTTP-only demo clients can participate. Production deployments
    must keep this off.
*/
package registry

import (
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/abiqua/relay-service/internal/domain/model"
)

var (
	ErrExists   = errors.New("registry: device already exists")
	ErrNotFound = errors.New("registry: device not found")
	ErrBadState = errors.New("registry: transition not allowed from current state")
)

// Identifier defines the capability surface consumed by the authorization
// gate and the services.
type Identifier interface {
	Register(id, publicKey, controllerID string) (*model.Device, error)
	Provision(id string) (*model.Device, error)
	Confirm(id string) (*model.Device, error)
	Revoke(id, controllerID string) (*model.Device, bool, error)
	RotateKey(id, publicKey string) (*model.Device, error)

	Get(id string) (*model.Device, bool)
	IsActive(id string) bool
	CanSend(id string) bool
	CanCreate(id string) bool
	CanJoin(id string) bool
	CanRead(id string) bool

	Touch(id string)
	EnsureDevice(id string) *model.Device

	ActiveDevices() []*model.Device
	RevokedDevices() []*model.Device
	DevicesNeedingRotation(now time.Time) []*model.Device
}

// Interface guard
var _ Identifier = (*Registry)(nil)

type Registry struct {
	mu      sync.RWMutex
	devices map[string]*model.Device

	// lastSeen backs the demo activity window; entries self-expire.
	lastSeen *lru.LRU[string, time.Time]

	config struct {
		demoMode       bool
		activityWindow time.Duration
		clock          func() time.Time
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		devices: make(map[string]*model.Device),
	}
	r.config.activityWindow = model.DemoActivityWindow
	r.config.clock = time.Now

	for _, opt := range opts {
		opt(r)
	}

	r.lastSeen = lru.NewLRU[string, time.Time](4096, nil, r.config.activityWindow)
	return r
}

// Register inserts a new record in the pending state. A second registration
// for the same identifier fails; registration is deliberately not idempotent.
func (r *Registry) Register(id, publicKey, controllerID string) (*model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; ok {
		return nil, ErrExists
	}

	now := r.config.clock()
	next := now.Add(model.KeyRotationInterval)
	d := &model.Device{
		ID:              id,
		PublicKey:       publicKey,
		ControllerID:    controllerID,
		State:           model.DevicePending,
		CreatedAt:       now,
		LastKeyRotation: now,
		NextKeyRotation: &next,
	}
	r.devices[id] = d
	return snapshot(d), nil
}

// Provision moves pending → provisioned.
func (r *Registry) Provision(id string) (*model.Device, error) {
	return r.transition(id, model.DevicePending, model.DeviceProvisioned)
}

// Confirm moves provisioned → active.
func (r *Registry) Confirm(id string) (*model.Device, error) {
	return r.transition(id, model.DeviceProvisioned, model.DeviceActive)
}

func (r *Registry) transition(id string, from, to model.DeviceState) (*model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.State != from {
		return nil, ErrBadState
	}

	now := r.config.clock()
	d.State = to
	switch to {
	case model.DeviceProvisioned:
		d.ProvisionedAt = &now
	case model.DeviceActive:
		d.ActivatedAt = &now
	}
	return snapshot(d), nil
}

// Revoke is permitted from active or provisioned and is terminal. The second
// return reports whether the device was already revoked, in which case the
// call is a successful no-op so controllers can retry safely.
func (r *Registry) Revoke(id, controllerID string) (*model.Device, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if d.State == model.DeviceRevoked {
		return snapshot(d), true, nil
	}
	if d.State != model.DeviceActive && d.State != model.DeviceProvisioned {
		return nil, false, ErrBadState
	}

	now := r.config.clock()
	d.State = model.DeviceRevoked
	d.RevokedAt = &now
	if controllerID != "" {
		d.ControllerID = controllerID
	}
	// Force an immediate re-key downstream and stop scheduling further ones.
	d.LastKeyRotation = now
	d.NextKeyRotation = nil
	return snapshot(d), false, nil
}

// RotateKey records a completed rotation. This is the one mutation allowed on
// revoked records.
func (r *Registry) RotateKey(id, publicKey string) (*model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, ErrNotFound
	}

	now := r.config.clock()
	d.PublicKey = publicKey
	d.LastKeyRotation = now
	if d.State == model.DeviceRevoked {
		d.NextKeyRotation = nil
	} else {
		next := now.Add(model.KeyRotationInterval)
		d.NextKeyRotation = &next
	}
	return snapshot(d), nil
}

func (r *Registry) Get(id string) (*model.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, false
	}
	return snapshot(d), true
}

// Touch records device activity for the demo window.
func (r *Registry) Touch(id string) {
	r.lastSeen.Add(id, r.config.clock())
}

// IsActive reports whether the device may act. Under demo mode a recent touch
// substitutes for the active state.
func (r *Registry) IsActive(id string) bool {
	r.mu.RLock()
	d, ok := r.devices[id]
	var active bool
	if ok {
		active = d.State == model.DeviceActive
	}
	r.mu.RUnlock()

	if active {
		return true
	}
	if r.config.demoMode {
		if seen, ok := r.lastSeen.Get(id); ok {
			return r.config.clock().Sub(seen) < r.config.activityWindow
		}
	}
	return false
}

func (r *Registry) CanSend(id string) bool   { return r.IsActive(id) }
func (r *Registry) CanCreate(id string) bool { return r.IsActive(id) }
func (r *Registry) CanJoin(id string) bool   { return r.IsActive(id) }

// CanRead is true for active and revoked devices: revocation leaves a device
// in neutral read-only mode.
func (r *Registry) CanRead(id string) bool {
	if r.IsActive(id) {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return ok && d.State == model.DeviceRevoked
}

// EnsureDevice registers and activates a device on first contact. Used only
// by the demo/development bootstrap paths; never called in production wiring.
func (r *Registry) EnsureDevice(id string) *model.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[id]; ok {
		return snapshot(d)
	}

	now := r.config.clock()
	next := now.Add(model.KeyRotationInterval)
	d := &model.Device{
		ID:              id,
		State:           model.DeviceActive,
		CreatedAt:       now,
		ProvisionedAt:   &now,
		ActivatedAt:     &now,
		LastKeyRotation: now,
		NextKeyRotation: &next,
	}
	r.devices[id] = d
	return snapshot(d)
}

func (r *Registry) ActiveDevices() []*model.Device {
	return r.filter(func(d *model.Device) bool { return d.State == model.DeviceActive })
}

func (r *Registry) RevokedDevices() []*model.Device {
	return r.filter(func(d *model.Device) bool { return d.State == model.DeviceRevoked })
}

// DevicesNeedingRotation returns devices whose scheduled rotation is due.
func (r *Registry) DevicesNeedingRotation(now time.Time) []*model.Device {
	return r.filter(func(d *model.Device) bool {
		return d.NextKeyRotation != nil && !now.Before(*d.NextKeyRotation)
	})
}

func (r *Registry) filter(keep func(*model.Device) bool) []*model.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Device
	for _, d := range r.devices {
		if keep(d) {
			out = append(out, snapshot(d))
		}
	}
	return out
}

// snapshot copies the record so callers never hold a pointer into the map.
func snapshot(d *model.Device) *model.Device {
	cp := *d
	return &cp
}
