package custody

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/crypto"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/kms"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// one connection so every query sees the same in-memory database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newCipher(t testing.TB, secret string) *kms.Cipher {
	t.Helper()
	c, err := kms.NewCipher(kms.Config{
		MasterSecret: []byte(secret),
		Salt:         bytes.Repeat([]byte("x"), 16),
		KDF:          kms.KDFParams{N: 1024, R: 8, P: 1},
	})
	require.NoError(t, err)
	return c
}

func newStore(t *testing.T, db *sql.DB, secret string) *Store {
	t.Helper()
	s, err := NewStore(db, newCipher(t, secret))
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func randomSecret(t testing.TB) []byte {
	t.Helper()
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	return secret
}

func TestStore_StoreAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, setupTestDB(t), "master")
	secret := randomSecret(t)

	rec, err := s.Store(ctx, StoreRequest{OwnerID: "realm-1", Role: contracts.RoleTreasury, Secret: secret})
	require.NoError(t, err)
	assert.Equal(t, contracts.AuthorityGovernancePDA, rec.AuthorityKind)
	assert.NotEmpty(t, rec.IV)
	assert.False(t, bytes.Contains(rec.EncryptedSecret, secret))

	pub, err := crypto.PublicKeyFromSecret(secret)
	require.NoError(t, err)
	assert.Equal(t, pub, rec.PublicKey)

	got, err := s.LoadFor(ctx, "realm-1", contracts.RoleTreasury)
	require.NoError(t, err)
	assert.Equal(t, secret, got)

	got, err = s.Load(ctx, "realm-1")
	require.NoError(t, err)
	assert.Equal(t, secret, got)

	got, err = s.Load(ctx, pub)
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, setupTestDB(t), "master")

	_, err := s.Load(ctx, "nobody")
	require.ErrorIs(t, err, contracts.ErrNotFound)

	_, err = s.LoadFor(ctx, "realm-1", contracts.RoleTreasury)
	require.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestStore_RoleCollision(t *testing.T) {
	ctx := context.Background()

	t.Run("agent then treasury", func(t *testing.T) {
		s := newStore(t, setupTestDB(t), "master")
		secret := randomSecret(t)
		_, err := s.Store(ctx, StoreRequest{OwnerID: "agent-1", Role: contracts.RoleAgent, Secret: secret})
		require.NoError(t, err)
		_, err = s.Store(ctx, StoreRequest{OwnerID: "realm-1", Role: contracts.RoleTreasury, Secret: secret})
		require.ErrorIs(t, err, contracts.ErrRoleCollision)
	})

	t.Run("treasury then agent", func(t *testing.T) {
		s := newStore(t, setupTestDB(t), "master")
		secret := randomSecret(t)
		_, err := s.Store(ctx, StoreRequest{OwnerID: "realm-1", Role: contracts.RoleTreasury, Secret: secret})
		require.NoError(t, err)
		_, err = s.Store(ctx, StoreRequest{OwnerID: "agent-1", Role: contracts.RoleAgent, Secret: secret})
		require.ErrorIs(t, err, contracts.ErrRoleCollision)
	})

	t.Run("treasury then delegated", func(t *testing.T) {
		s := newStore(t, setupTestDB(t), "master")
		secret := randomSecret(t)
		_, err := s.Store(ctx, StoreRequest{OwnerID: "realm-1", Role: contracts.RoleTreasury, Secret: secret})
		require.NoError(t, err)
		_, err = s.Store(ctx, StoreRequest{OwnerID: "delegate-1", Role: contracts.RoleDelegated, Secret: secret})
		require.ErrorIs(t, err, contracts.ErrRoleCollision)
	})
}

func TestStore_NoRekeying(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, setupTestDB(t), "master")

	_, err := s.Store(ctx, StoreRequest{OwnerID: "realm-1", Role: contracts.RoleTreasury, Secret: randomSecret(t)})
	require.NoError(t, err)

	_, err = s.Store(ctx, StoreRequest{OwnerID: "realm-1", Role: contracts.RoleTreasury, Secret: randomSecret(t)})
	require.ErrorIs(t, err, contracts.ErrKeyExists)

	// same key, same role, other owner
	shared := randomSecret(t)
	_, err = s.Store(ctx, StoreRequest{OwnerID: "agent-1", Role: contracts.RoleAgent, Secret: shared})
	require.NoError(t, err)
	_, err = s.Store(ctx, StoreRequest{OwnerID: "agent-2", Role: contracts.RoleAgent, Secret: shared})
	require.ErrorIs(t, err, contracts.ErrKeyExists)
}

func TestStore_RejectsBadRequests(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, setupTestDB(t), "master")

	_, err := s.Store(ctx, StoreRequest{OwnerID: "", Role: contracts.RoleAgent, Secret: randomSecret(t)})
	require.Error(t, err)

	_, err = s.Store(ctx, StoreRequest{OwnerID: "x", Role: contracts.RoleUnknown, Secret: randomSecret(t)})
	require.ErrorIs(t, err, contracts.ErrUnknownRole)

	_, err = s.Store(ctx, StoreRequest{OwnerID: "x", Role: contracts.RoleAgent, Secret: []byte("short")})
	require.ErrorIs(t, err, contracts.ErrInvalidSecret)
}

func TestStore_WrongMasterSecret(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	good := newStore(t, db, "master")
	_, err := good.Store(ctx, StoreRequest{OwnerID: "realm-1", Role: contracts.RoleTreasury, Secret: randomSecret(t)})
	require.NoError(t, err)

	bad := newStore(t, db, "not-the-master")
	secret, err := bad.LoadFor(ctx, "realm-1", contracts.RoleTreasury)
	require.ErrorIs(t, err, contracts.ErrCorruptedKey)
	assert.Nil(t, secret)
}

func TestStore_TamperedCiphertext(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	s := newStore(t, db, "master")
	rec, err := s.Store(ctx, StoreRequest{OwnerID: "realm-1", Role: contracts.RoleTreasury, Secret: randomSecret(t)})
	require.NoError(t, err)

	tampered := append([]byte(nil), rec.EncryptedSecret...)
	tampered[len(tampered)/2] ^= 0x01
	_, err = db.ExecContext(ctx, `UPDATE custody_keys SET encrypted_secret = $1 WHERE id = $2`,
		base64.StdEncoding.EncodeToString(tampered), rec.ID)
	require.NoError(t, err)

	_, err = s.LoadFor(ctx, "realm-1", contracts.RoleTreasury)
	require.ErrorIs(t, err, contracts.ErrCorruptedKey)
}

func TestStore_SwappedCiphertextDetected(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	s := newStore(t, db, "master")

	a, err := s.Store(ctx, StoreRequest{OwnerID: "realm-a", Role: contracts.RoleTreasury, Secret: randomSecret(t)})
	require.NoError(t, err)
	_, err = s.Store(ctx, StoreRequest{OwnerID: "realm-b", Role: contracts.RoleTreasury, Secret: randomSecret(t)})
	require.NoError(t, err)

	// copy realm-a's sealed secret onto realm-b
	_, err = db.ExecContext(ctx, `
		UPDATE custody_keys
		SET encrypted_secret = (SELECT encrypted_secret FROM custody_keys WHERE id = $1),
		    iv = (SELECT iv FROM custody_keys WHERE id = $1)
		WHERE owner_id = $2`, a.ID, "realm-b")
	require.NoError(t, err)

	_, err = s.LoadFor(ctx, "realm-b", contracts.RoleTreasury)
	require.ErrorIs(t, err, contracts.ErrCorruptedKey)
}

func TestStore_PublicKeysAndRoles(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, setupTestDB(t), "master")

	tr, err := s.Store(ctx, StoreRequest{OwnerID: "realm-1", Role: contracts.RoleTreasury, Secret: randomSecret(t)})
	require.NoError(t, err)
	ag, err := s.Store(ctx, StoreRequest{OwnerID: "agent-1", Role: contracts.RoleAgent, Secret: randomSecret(t)})
	require.NoError(t, err)

	keys, err := s.PublicKeys(ctx, contracts.RoleTreasury)
	require.NoError(t, err)
	assert.Equal(t, []string{tr.PublicKey}, keys)

	roles, err := s.RolesFor(ctx, ag.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, []contracts.Role{contracts.RoleAgent}, roles)

	roles, err = s.RolesFor(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestStore_AmbiguousLoad(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, setupTestDB(t), "master")

	_, err := s.Store(ctx, StoreRequest{OwnerID: "dao-1", Role: contracts.RoleTreasury, Secret: randomSecret(t)})
	require.NoError(t, err)
	_, err = s.Store(ctx, StoreRequest{OwnerID: "dao-1", Role: contracts.RoleAgent, Secret: randomSecret(t)})
	require.NoError(t, err)

	_, err = s.Load(ctx, "dao-1")
	require.Error(t, err)

	_, err = s.LoadFor(ctx, "dao-1", contracts.RoleAgent)
	require.NoError(t, err)
}

func TestStore_SQLStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	now := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)
	s, err := NewStore(db, newCipher(t, "master"), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	secret := randomSecret(t)
	pub, err := crypto.PublicKeyFromSecret(secret)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT role FROM custody_keys WHERE public_key").
		WithArgs(pub).
		WillReturnRows(sqlmock.NewRows([]string{"role"}))
	mock.ExpectQuery("SELECT 1 FROM custody_keys WHERE owner_id").
		WithArgs("realm-1", "treasury").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec("INSERT INTO custody_keys").
		WithArgs(sqlmock.AnyArg(), "treasury", pub, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), "realm-1", "governance_pda", now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err = s.Store(context.Background(), StoreRequest{OwnerID: "realm-1", Role: contracts.RoleTreasury, Secret: secret})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SQLCollisionRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s, err := NewStore(db, newCipher(t, "master"))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT role FROM custody_keys WHERE public_key").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("agent"))
	mock.ExpectRollback()

	_, err = s.Store(context.Background(), StoreRequest{OwnerID: "realm-1", Role: contracts.RoleTreasury, Secret: randomSecret(t)})
	require.ErrorIs(t, err, contracts.ErrRoleCollision)
	require.NoError(t, mock.ExpectationsWereMet())
}
