package contracts

import "errors"

// Authorization errors. These are fatal and never retried; callers receive
// them verbatim.
var (
	ErrNotAuthorized               = errors.New("not authorized")
	ErrAuthorityIntegrityViolation = errors.New("authority integrity violation")
	ErrMissingCredential           = errors.New("missing credential")
	ErrNoTreasuryConfigured        = errors.New("no treasury configured")
	ErrRoleCollision               = errors.New("role collision")
	ErrSuppliedTreasurySecret      = errors.New("treasury secret must come from custody")
	ErrUnknownRole                 = errors.New("unknown role")
)

// Custody errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrCorruptedKey  = errors.New("corrupted key")
	ErrKeyExists     = errors.New("key already provisioned")
	ErrInvalidSecret = errors.New("invalid secret")
)

// IsAuthorizationError reports whether err belongs to the authorization
// class of the taxonomy.
func IsAuthorizationError(err error) bool {
	for _, target := range []error{
		ErrNotAuthorized,
		ErrAuthorityIntegrityViolation,
		ErrMissingCredential,
		ErrNoTreasuryConfigured,
		ErrRoleCollision,
		ErrSuppliedTreasurySecret,
		ErrUnknownRole,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
