package model

import "time"

type DeviceState string

const (
	DevicePending     DeviceState = "pending"
	DeviceProvisioned DeviceState = "provisioned"
	DeviceActive      DeviceState = "active"
	DeviceRevoked     DeviceState = "revoked"
)

// Device is the identity record owned by the registry. Records are never
// destroyed; revocation freezes everything except the key-rotation fields.
type Device struct {
	ID           string
	PublicKey    string
	ControllerID string
	State        DeviceState

	CreatedAt     time.Time
	ProvisionedAt *time.Time
	ActivatedAt   *time.Time
	RevokedAt     *time.Time

	LastKeyRotation time.Time
	// NextKeyRotation is LastKeyRotation + 90 days, nil once revoked.
	NextKeyRotation *time.Time
}

func (d *Device) IsActive() bool  { return d.State == DeviceActive }
func (d *Device) IsRevoked() bool { return d.State == DeviceRevoked }

// CanRead reports the neutral read-only capability: revoked devices keep
// read access to their historical conversations.
func (d *Device) CanRead() bool {
	return d.State == DeviceActive || d.State == DeviceRevoked
}
