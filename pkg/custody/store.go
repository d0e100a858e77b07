// Package custody keeps treasury and agent secrets encrypted at rest and
// enforces that no public key is ever held under both an agent-controlled
// role and the treasury role.
package custody

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/crypto"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/kms"
)

// Schema creates the custody table. public_key is globally unique so the
// role-separation invariant also holds under concurrent writers.
const Schema = `
CREATE TABLE IF NOT EXISTS custody_keys (
	id TEXT PRIMARY KEY,
	role TEXT NOT NULL,
	public_key TEXT NOT NULL UNIQUE,
	encrypted_secret TEXT NOT NULL,
	iv TEXT NOT NULL,
	key_fingerprint TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	authority_kind TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (owner_id, role)
);
`

const selectColumns = `id, role, public_key, encrypted_secret, iv, key_fingerprint, owner_id, authority_kind, created_at`

// StoreRequest describes a key to provision.
type StoreRequest struct {
	OwnerID       string
	Role          contracts.Role
	AuthorityKind contracts.AuthorityKind
	Secret        []byte
}

// Store is the SQL-backed key custody store.
type Store struct {
	db     *sql.DB
	cipher *kms.Cipher
	now    func() time.Time
	logger *slog.Logger
}

// StoreOption configures the custody store.
type StoreOption func(*Store)

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a custody store over db using cipher for sealing.
func NewStore(db *sql.DB, cipher *kms.Cipher, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, errors.New("custody: db is required")
	}
	if cipher == nil {
		return nil, errors.New("custody: cipher is required")
	}
	s := &Store{
		db:     db,
		cipher: cipher,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default().With("component", "custody"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Init creates the schema.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

// Store encrypts and persists a new key. The collision check and the insert
// run in one transaction.
func (s *Store) Store(ctx context.Context, req StoreRequest) (*contracts.KeyRecord, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, errors.New("custody: owner id is required")
	}
	opposing, err := req.Role.Opposing()
	if err != nil {
		return nil, fmt.Errorf("custody: %w", err)
	}
	pub, err := crypto.PublicKeyFromSecret(req.Secret)
	if err != nil {
		return nil, fmt.Errorf("custody: %w", err)
	}
	if req.AuthorityKind == "" {
		req.AuthorityKind = defaultAuthorityKind(req.Role)
	}

	rec := &contracts.KeyRecord{
		ID:             uuid.New().String(),
		Role:           req.Role,
		PublicKey:      pub,
		KeyFingerprint: s.cipher.Fingerprint(),
		OwnerID:        req.OwnerID,
		AuthorityKind:  req.AuthorityKind,
		CreatedAt:      s.now(),
	}
	rec.IV, rec.EncryptedSecret, err = s.cipher.Seal(req.Secret, recordAAD(rec))
	if err != nil {
		return nil, fmt.Errorf("custody: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("custody: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := rolesForQuerier(ctx, tx, pub)
	if err != nil {
		return nil, err
	}
	for _, r := range existing {
		if containsRole(opposing, r) {
			s.logger.ErrorContext(ctx, "role collision rejected",
				"public_key", pub, "requested_role", req.Role.String(), "held_role", r.String())
			return nil, fmt.Errorf("custody: %w: %s already held as %s", contracts.ErrRoleCollision, pub, r)
		}
		return nil, fmt.Errorf("custody: %w: %s already held as %s", contracts.ErrKeyExists, pub, r)
	}

	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM custody_keys WHERE owner_id = $1 AND role = $2`,
		req.OwnerID, req.Role.String(),
	).Scan(&one)
	switch {
	case err == nil:
		return nil, fmt.Errorf("custody: %w: %s/%s", contracts.ErrKeyExists, req.OwnerID, req.Role)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("custody: owner lookup: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO custody_keys (`+selectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID,
		rec.Role.String(),
		rec.PublicKey,
		base64.StdEncoding.EncodeToString(rec.EncryptedSecret),
		base64.StdEncoding.EncodeToString(rec.IV),
		rec.KeyFingerprint,
		rec.OwnerID,
		string(rec.AuthorityKind),
		rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("custody: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("custody: commit: %w", err)
	}

	s.logger.InfoContext(ctx, "key provisioned",
		"owner_id", rec.OwnerID, "role", rec.Role.String(), "public_key", rec.PublicKey)
	return rec, nil
}

// Load returns the raw secret for an owner id or public key. When an owner
// holds keys under several roles the lookup is ambiguous; use LoadFor.
func (s *Store) Load(ctx context.Context, ownerOrPubkey string) ([]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM custody_keys WHERE owner_id = $1 OR public_key = $1`,
		ownerOrPubkey)
	if err != nil {
		return nil, fmt.Errorf("custody: load: %w", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	switch len(recs) {
	case 0:
		return nil, fmt.Errorf("custody: %w: %s", contracts.ErrNotFound, ownerOrPubkey)
	case 1:
		return s.open(ctx, recs[0])
	default:
		for _, r := range recs {
			if r.PublicKey == ownerOrPubkey {
				return s.open(ctx, r)
			}
		}
		return nil, fmt.Errorf("custody: %q matches %d records, specify a role", ownerOrPubkey, len(recs))
	}
}

// LoadFor returns the raw secret held by ownerID under role.
func (s *Store) LoadFor(ctx context.Context, ownerID string, role contracts.Role) ([]byte, error) {
	rec, err := s.LoadRecord(ctx, ownerID, role)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, rec)
}

// LoadRecord returns the encrypted record without opening it.
func (s *Store) LoadRecord(ctx context.Context, ownerID string, role contracts.Role) (*contracts.KeyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM custody_keys WHERE owner_id = $1 AND role = $2`,
		ownerID, role.String())
	if err != nil {
		return nil, fmt.Errorf("custody: load record: %w", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("custody: %w: %s/%s", contracts.ErrNotFound, ownerID, role)
	}
	return recs[0], nil
}

// PublicKeys lists every public key held under role.
func (s *Store) PublicKeys(ctx context.Context, role contracts.Role) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT public_key FROM custody_keys WHERE role = $1 ORDER BY public_key`, role.String())
	if err != nil {
		return nil, fmt.Errorf("custody: list keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RolesFor returns the roles a public key is registered under.
func (s *Store) RolesFor(ctx context.Context, publicKey string) ([]contracts.Role, error) {
	return rolesForQuerier(ctx, s.db, publicKey)
}

func (s *Store) open(ctx context.Context, rec *contracts.KeyRecord) ([]byte, error) {
	if rec.KeyFingerprint != s.cipher.Fingerprint() {
		s.logger.ErrorContext(ctx, "master key fingerprint mismatch",
			"owner_id", rec.OwnerID, "role", rec.Role.String(),
			"record_fingerprint", rec.KeyFingerprint, "active_fingerprint", s.cipher.Fingerprint())
	}
	secret, err := s.cipher.Open(rec.IV, rec.EncryptedSecret, recordAAD(rec))
	if err != nil {
		s.logger.ErrorContext(ctx, "custody record failed to decrypt",
			"owner_id", rec.OwnerID, "role", rec.Role.String(), "public_key", rec.PublicKey)
		return nil, fmt.Errorf("custody: %s/%s: %w", rec.OwnerID, rec.Role, err)
	}
	pub, err := crypto.PublicKeyFromSecret(secret)
	if err != nil || pub != rec.PublicKey {
		s.logger.ErrorContext(ctx, "custody record decrypted to a different key",
			"owner_id", rec.OwnerID, "role", rec.Role.String())
		return nil, fmt.Errorf("custody: %s/%s: %w: public key mismatch", rec.OwnerID, rec.Role, contracts.ErrCorruptedKey)
	}
	return secret, nil
}

// recordAAD binds a ciphertext to its owner, role and public key.
func recordAAD(rec *contracts.KeyRecord) []byte {
	return []byte(rec.OwnerID + "|" + rec.Role.String() + "|" + rec.PublicKey)
}

func defaultAuthorityKind(r contracts.Role) contracts.AuthorityKind {
	switch r {
	case contracts.RoleTreasury:
		return contracts.AuthorityGovernancePDA
	case contracts.RoleAgent, contracts.RoleDelegated:
		return contracts.AuthorityAIRuntime
	default:
		return contracts.AuthorityOperator
	}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func rolesForQuerier(ctx context.Context, q querier, publicKey string) ([]contracts.Role, error) {
	rows, err := q.QueryContext(ctx, `SELECT role FROM custody_keys WHERE public_key = $1`, publicKey)
	if err != nil {
		return nil, fmt.Errorf("custody: role lookup: %w", err)
	}
	defer func() { _ = rows.Close() }()

	roles := make([]contracts.Role, 0, 1)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		r, err := contracts.ParseRole(raw)
		if err != nil {
			return nil, fmt.Errorf("custody: stored role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func scanRecords(rows *sql.Rows) ([]*contracts.KeyRecord, error) {
	defer func() { _ = rows.Close() }()

	out := make([]*contracts.KeyRecord, 0, 1)
	for rows.Next() {
		var (
			rec              contracts.KeyRecord
			role, kind       string
			encSecret, ivB64 string
		)
		if err := rows.Scan(&rec.ID, &role, &rec.PublicKey, &encSecret, &ivB64,
			&rec.KeyFingerprint, &rec.OwnerID, &kind, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("custody: scan: %w", err)
		}
		r, err := contracts.ParseRole(role)
		if err != nil {
			return nil, fmt.Errorf("custody: stored role: %w", err)
		}
		rec.Role = r
		rec.AuthorityKind = contracts.AuthorityKind(kind)
		if rec.EncryptedSecret, err = base64.StdEncoding.DecodeString(encSecret); err != nil {
			return nil, fmt.Errorf("custody: %w: ciphertext encoding", contracts.ErrCorruptedKey)
		}
		if rec.IV, err = base64.StdEncoding.DecodeString(ivB64); err != nil {
			return nil, fmt.Errorf("custody: %w: iv encoding", contracts.ErrCorruptedKey)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func containsRole(set []contracts.Role, r contracts.Role) bool {
	for _, x := range set {
		if x == r {
			return true
		}
	}
	return false
}
