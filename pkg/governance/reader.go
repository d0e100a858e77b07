package governance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// ErrProposalNotFound is returned by readers with no record of a proposal.
var ErrProposalNotFound = errors.New("proposal not found")

// RawState is what the external proposal store reports: the state as a
// name or numeric code, plus the approval percentage.
type RawState struct {
	State              string
	ApprovalPercentage float64
}

// ProposalReader fetches proposal state from the store the dashboard owns.
type ProposalReader interface {
	GetState(ctx context.Context, proposalID string) (RawState, error)
}

// StaticReader serves fixed states. Safe for concurrent use.
type StaticReader struct {
	mu     sync.RWMutex
	states map[string]RawState
}

// NewStaticReader returns a reader preloaded with states.
func NewStaticReader(states map[string]RawState) *StaticReader {
	r := &StaticReader{states: make(map[string]RawState, len(states))}
	for k, v := range states {
		r.states[k] = v
	}
	return r
}

// Set replaces the state of one proposal.
func (r *StaticReader) Set(proposalID string, st RawState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[proposalID] = st
}

func (r *StaticReader) GetState(_ context.Context, proposalID string) (RawState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[proposalID]
	if !ok {
		return RawState{}, fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
	}
	return st, nil
}

const proposalsSchema = `
CREATE TABLE IF NOT EXISTS proposals (
	id                  TEXT PRIMARY KEY,
	realm_id            TEXT NOT NULL DEFAULT '',
	state               TEXT NOT NULL,
	approval_percentage REAL NOT NULL DEFAULT 0
);`

// SQLProposalReader reads the dashboard's proposals table.
type SQLProposalReader struct {
	db *sql.DB
}

func NewSQLProposalReader(db *sql.DB) *SQLProposalReader {
	return &SQLProposalReader{db: db}
}

// Init creates the proposals table. Production deployments share the
// dashboard's table; lite mode and tests create their own.
func (r *SQLProposalReader) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, proposalsSchema)
	return err
}

// Upsert writes a proposal row. Used by lite mode and tests.
func (r *SQLProposalReader) Upsert(ctx context.Context, proposalID, realmID string, st RawState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO proposals (id, realm_id, state, approval_percentage)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET state = excluded.state, approval_percentage = excluded.approval_percentage`,
		proposalID, realmID, st.State, st.ApprovalPercentage)
	if err != nil {
		return fmt.Errorf("upsert proposal: %w", err)
	}
	return nil
}

func (r *SQLProposalReader) GetState(ctx context.Context, proposalID string) (RawState, error) {
	var st RawState
	err := r.db.QueryRowContext(ctx,
		`SELECT state, approval_percentage FROM proposals WHERE id = $1`, proposalID,
	).Scan(&st.State, &st.ApprovalPercentage)
	if errors.Is(err, sql.ErrNoRows) {
		return RawState{}, fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
	}
	if err != nil {
		return RawState{}, fmt.Errorf("read proposal %s: %w", proposalID, err)
	}
	return st, nil
}
