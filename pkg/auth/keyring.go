package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// KeyIDLength is the number of hex characters of the secret hash used as kid
const KeyIDLength = 16

// ErrNoSecrets is returned when a key ring is built without any secret
var ErrNoSecrets = errors.New("at least one signing secret is required")

// Key is a symmetric signing secret and its derived identifier
type Key struct {
	ID     string
	secret []byte
}

// KeyRing is an ordered list of signing secrets, newest first. The first key
// signs new tokens; every key verifies.
type KeyRing struct {
	keys []Key
	byID map[string]int
}

// KeyID derives the kid of a secret: a prefix of its SHA-256 hash
func KeyID(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:])[:KeyIDLength]
}

// NewKeyRing builds a key ring from secrets in priority order.
// Blank entries are skipped and duplicates keep their first position.
func NewKeyRing(secrets ...string) (*KeyRing, error) {
	ring := &KeyRing{byID: make(map[string]int)}
	for _, s := range secrets {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		secret := []byte(s)
		id := KeyID(secret)
		if _, dup := ring.byID[id]; dup {
			continue
		}
		ring.byID[id] = len(ring.keys)
		ring.keys = append(ring.keys, Key{ID: id, secret: secret})
	}
	if len(ring.keys) == 0 {
		return nil, ErrNoSecrets
	}
	return ring, nil
}

// Primary returns the key used for issuance
func (r *KeyRing) Primary() Key {
	return r.keys[0]
}

// Len returns the number of configured secrets
func (r *KeyRing) Len() int {
	return len(r.keys)
}

// IDs returns the key identifiers in priority order
func (r *KeyRing) IDs() []string {
	ids := make([]string, len(r.keys))
	for i, k := range r.keys {
		ids[i] = k.ID
	}
	return ids
}

// Has reports whether a key with the given kid is configured
func (r *KeyRing) Has(kid string) bool {
	_, ok := r.byID[kid]
	return ok
}

// candidates returns the keys to try for a token carrying kid. A known kid
// narrows the scan to that key; otherwise all keys are tried in order.
func (r *KeyRing) candidates(kid string) []Key {
	if i, ok := r.byID[kid]; ok {
		return r.keys[i : i+1]
	}
	return r.keys
}
