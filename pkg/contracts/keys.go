package contracts

import "time"

// KeyRecord is one custody entry. EncryptedSecret and IV are opaque to
// everything except the custody store.
type KeyRecord struct {
	ID              string        `json:"id"`
	Role            Role          `json:"role"`
	PublicKey       string        `json:"public_key"` // base58
	EncryptedSecret []byte        `json:"-"`
	IV              []byte        `json:"-"`
	KeyFingerprint  string        `json:"key_fingerprint"`
	OwnerID         string        `json:"owner_id"` // agent id or realm id
	AuthorityKind   AuthorityKind `json:"authority_kind"`
	CreatedAt       time.Time     `json:"created_at"`
}
