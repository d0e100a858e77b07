// Package authority decides which key may sign a batch.
//
// Treasury keys come only from custody. Agent and delegated keys come only
// from the caller. Every resolved key is cross-checked against the public
// keys registered under the opposing role before it is handed out.
package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/crypto"
)

// KeySource is the subset of the custody store the resolver reads.
type KeySource interface {
	LoadFor(ctx context.Context, ownerID string, role contracts.Role) ([]byte, error)
	RolesFor(ctx context.Context, publicKey string) ([]contracts.Role, error)
}

// Resolver produces transient signing keys.
type Resolver struct {
	keys   KeySource
	logger *slog.Logger
}

// NewResolver creates a resolver over a key source.
func NewResolver(keys KeySource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{keys: keys, logger: logger.With("component", "authority")}
}

// Resolve returns the signing key for role in contextID. The caller owns
// the returned signer and must Zero it when the batch is finished.
func (r *Resolver) Resolve(ctx context.Context, role contracts.Role, contextID string, supplied []byte) (*crypto.Ed25519Signer, error) {
	var (
		signer *crypto.Ed25519Signer
		err    error
	)
	switch role {
	case contracts.RoleTreasury:
		signer, err = r.resolveTreasury(ctx, contextID, supplied)
	case contracts.RoleAgent, contracts.RoleDelegated:
		signer, err = r.resolveSupplied(role, supplied)
	default:
		err = fmt.Errorf("authority: %w: %s", contracts.ErrUnknownRole, role)
	}
	if err != nil {
		return nil, err
	}

	if err := r.checkSeparation(ctx, role, signer); err != nil {
		signer.Zero()
		return nil, err
	}
	return signer, nil
}

func (r *Resolver) resolveTreasury(ctx context.Context, realmID string, supplied []byte) (*crypto.Ed25519Signer, error) {
	if len(supplied) > 0 {
		r.logger.WarnContext(ctx, "caller supplied a secret for treasury signing", "realm_id", realmID)
		return nil, fmt.Errorf("authority: %w", contracts.ErrSuppliedTreasurySecret)
	}
	if realmID == "" {
		return nil, fmt.Errorf("authority: %w: empty realm id", contracts.ErrNoTreasuryConfigured)
	}

	secret, err := r.keys.LoadFor(ctx, realmID, contracts.RoleTreasury)
	if err != nil {
		if errors.Is(err, contracts.ErrNotFound) {
			return nil, fmt.Errorf("authority: %w: realm %s", contracts.ErrNoTreasuryConfigured, realmID)
		}
		return nil, fmt.Errorf("authority: treasury key for %s: %w", realmID, err)
	}
	defer zero(secret)

	signer, err := crypto.NewEd25519SignerFromSecret(secret, contracts.RoleTreasury)
	if err != nil {
		return nil, fmt.Errorf("authority: treasury key for %s: %w", realmID, contracts.ErrCorruptedKey)
	}
	return signer, nil
}

func (r *Resolver) resolveSupplied(role contracts.Role, supplied []byte) (*crypto.Ed25519Signer, error) {
	if len(supplied) == 0 {
		return nil, fmt.Errorf("authority: %w: %s role requires a supplied secret", contracts.ErrMissingCredential, role)
	}
	signer, err := crypto.NewEd25519SignerFromSecret(supplied, role)
	if err != nil {
		return nil, fmt.Errorf("authority: %w", err)
	}
	return signer, nil
}

// checkSeparation refuses a key that is registered under a role opposing
// the one it is about to sign for.
func (r *Resolver) checkSeparation(ctx context.Context, role contracts.Role, signer *crypto.Ed25519Signer) error {
	opposing, err := role.Opposing()
	if err != nil {
		return fmt.Errorf("authority: %w", err)
	}
	held, err := r.keys.RolesFor(ctx, signer.Address())
	if err != nil {
		return fmt.Errorf("authority: separation check: %w", err)
	}
	for _, h := range held {
		for _, o := range opposing {
			if h == o {
				r.logger.ErrorContext(ctx, "authority integrity violation",
					"public_key", signer.Address(), "requested_role", role.String(), "held_role", h.String())
				return fmt.Errorf("authority: %w: %s is registered as %s", contracts.ErrAuthorityIntegrityViolation, signer.Address(), h)
			}
		}
	}
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
