package auth

import (
	"crypto/subtle"
)

// Keyring validates controller credentials from the X-Controller-Key header
// against the deployment's configured key set.
type Keyring struct {
	keys []string
}

func NewKeyring(keys []string) *Keyring {
	return &Keyring{keys: keys}
}

// Validate reports whether the presented key matches a configured one. An
// empty keyring rejects everything, so a deployment without keys has no
// controller surface at all.
func (k *Keyring) Validate(presented string) bool {
	if presented == "" {
		return false
	}
	valid := false
	for _, key := range k.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1 {
			valid = true
		}
	}
	return valid
}
