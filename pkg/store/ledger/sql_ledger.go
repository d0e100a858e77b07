package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/canonicalize"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
)

// SQLLedger implements Ledger using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLLedger struct {
	db     *sql.DB
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures an SQLLedger.
type Option func(*SQLLedger)

func WithClock(now func() time.Time) Option {
	return func(s *SQLLedger) { s.now = now }
}

func WithIDGenerator(f func() string) Option {
	return func(s *SQLLedger) { s.newID = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *SQLLedger) { s.logger = l }
}

func NewSQLLedger(db *sql.DB, opts ...Option) *SQLLedger {
	s := &SQLLedger{
		db:     db,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var schema = []string{`
CREATE TABLE IF NOT EXISTS execution_records (
	id TEXT PRIMARY KEY,
	proposal_id TEXT NOT NULL,
	realm_id TEXT NOT NULL,
	execution_type TEXT NOT NULL,
	signer_role TEXT NOT NULL,
	input_params TEXT,
	params_hash TEXT NOT NULL,
	batch_length INTEGER NOT NULL,
	overall_status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
)`,
	`CREATE INDEX IF NOT EXISTS idx_execution_records_proposal ON execution_records (proposal_id, created_at)`,
	`
CREATE TABLE IF NOT EXISTS transaction_outcomes (
	record_id TEXT NOT NULL REFERENCES execution_records (id),
	batch_index INTEGER NOT NULL,
	signature TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	critical INTEGER NOT NULL DEFAULT 0,
	submitted_at TIMESTAMP,
	confirmed_at TIMESTAMP,
	PRIMARY KEY (record_id, batch_index)
)`,
}

func (s *SQLLedger) Init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ledger schema: %w", err)
		}
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLLedger) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLLedger) newRecord(req RecordRequest) (*contracts.ExecutionRecord, error) {
	if req.ProposalID == "" {
		return nil, errors.New("ledger: proposal id required")
	}
	if req.ExecutionType == "" {
		return nil, errors.New("ledger: execution type required")
	}
	hash, err := canonicalize.CanonicalHash(req.InputParams)
	if err != nil {
		return nil, fmt.Errorf("ledger: hash input params: %w", err)
	}
	return &contracts.ExecutionRecord{
		ID:            s.newID(),
		ProposalID:    req.ProposalID,
		RealmID:       req.RealmID,
		ExecutionType: req.ExecutionType,
		SignerRole:    req.SignerRole,
		InputParams:   req.InputParams,
		ParamsHash:    hash,
		BatchLength:   req.BatchLength,
		OverallStatus: contracts.ExecutionInProgress,
		CreatedAt:     s.now().UTC(),
	}, nil
}

func insertRecord(ctx context.Context, q querier, rec *contracts.ExecutionRecord) error {
	var params any
	if len(rec.InputParams) > 0 {
		params = string(rec.InputParams)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO execution_records (id, proposal_id, realm_id, execution_type, signer_role, input_params, params_hash, batch_length, overall_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.ProposalID, rec.RealmID, string(rec.ExecutionType), rec.SignerRole.String(),
		params, rec.ParamsHash, rec.BatchLength, string(rec.OverallStatus), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution record: %w", err)
	}
	return nil
}

// Open implements Ledger.
func (s *SQLLedger) Open(ctx context.Context, req RecordRequest) (*contracts.ExecutionRecord, error) {
	rec, err := s.newRecord(req)
	if err != nil {
		return nil, err
	}
	if err := insertRecord(ctx, s.db, rec); err != nil {
		return nil, err
	}
	s.logger.Debug("ledger: record opened", "record_id", rec.ID, "proposal_id", rec.ProposalID)
	return rec, nil
}

func requireOpen(ctx context.Context, q querier, recordID string) error {
	var status string
	err := q.QueryRowContext(ctx, `SELECT overall_status FROM execution_records WHERE id = $1`, recordID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("record %s: %w", recordID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if contracts.ExecutionStatus(status).Terminal() {
		return fmt.Errorf("record %s is %s: %w", recordID, status, ErrRecordClosed)
	}
	return nil
}

func outcomeStatus(ctx context.Context, q querier, recordID string, index int) (contracts.OutcomeStatus, error) {
	var status string
	err := q.QueryRowContext(ctx,
		`SELECT status FROM transaction_outcomes WHERE record_id = $1 AND batch_index = $2`,
		recordID, index).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("outcome %s/%d: %w", recordID, index, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return contracts.ParseOutcomeStatus(status)
}

func insertOutcome(ctx context.Context, q querier, recordID string, o contracts.TransactionOutcome) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO transaction_outcomes (record_id, batch_index, signature, status, error, attempts, critical, submitted_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		recordID, o.BatchIndex, o.Signature, string(o.Status), o.Error, o.Attempts, boolInt(o.Critical),
		nullTime(o.SubmittedAt), nullTime(o.ConfirmedAt),
	)
	if err != nil {
		return fmt.Errorf("insert outcome %d: %w", o.BatchIndex, err)
	}
	return nil
}

func advanceOutcome(ctx context.Context, q querier, recordID string, from contracts.OutcomeStatus, o contracts.TransactionOutcome) error {
	if !from.CanTransition(o.Status) {
		return fmt.Errorf("outcome %d %s -> %s: %w", o.BatchIndex, from, o.Status, ErrIllegalTransition)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE transaction_outcomes
		SET signature = $1, status = $2, error = $3, attempts = $4, submitted_at = $5, confirmed_at = $6
		WHERE record_id = $7 AND batch_index = $8 AND status = $9`,
		o.Signature, string(o.Status), o.Error, o.Attempts, nullTime(o.SubmittedAt), nullTime(o.ConfirmedAt),
		recordID, o.BatchIndex, string(from),
	)
	if err != nil {
		return fmt.Errorf("update outcome %d: %w", o.BatchIndex, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("outcome %d changed concurrently: %w", o.BatchIndex, ErrIllegalTransition)
	}
	return nil
}

// AppendOutcome implements Ledger.
func (s *SQLLedger) AppendOutcome(ctx context.Context, recordID string, o contracts.TransactionOutcome) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireOpen(ctx, tx, recordID); err != nil {
			return err
		}
		_, err := outcomeStatus(ctx, tx, recordID, o.BatchIndex)
		switch {
		case err == nil:
			return fmt.Errorf("outcome %s/%d: %w", recordID, o.BatchIndex, ErrOutcomeExists)
		case !errors.Is(err, ErrNotFound):
			return err
		}
		return insertOutcome(ctx, tx, recordID, o)
	})
}

// AdvanceOutcome implements Ledger.
func (s *SQLLedger) AdvanceOutcome(ctx context.Context, recordID string, o contracts.TransactionOutcome) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireOpen(ctx, tx, recordID); err != nil {
			return err
		}
		from, err := outcomeStatus(ctx, tx, recordID, o.BatchIndex)
		if err != nil {
			return err
		}
		return advanceOutcome(ctx, tx, recordID, from, o)
	})
}

func reconcile(ctx context.Context, q querier, recordID string, outcomes []contracts.TransactionOutcome) error {
	for _, o := range outcomes {
		from, err := outcomeStatus(ctx, q, recordID, o.BatchIndex)
		switch {
		case errors.Is(err, ErrNotFound):
			if err := insertOutcome(ctx, q, recordID, o); err != nil {
				return err
			}
		case err != nil:
			return err
		case from == o.Status:
		default:
			if err := advanceOutcome(ctx, q, recordID, from, o); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SQLLedger) finish(ctx context.Context, q querier, recordID string, f Finish) error {
	if !f.Status.Terminal() {
		return fmt.Errorf("ledger: finish with non-terminal status %q", f.Status)
	}
	if err := reconcile(ctx, q, recordID, f.Outcomes); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE execution_records
		SET overall_status = $1, reason = $2, error = $3, completed_at = $4
		WHERE id = $5 AND overall_status = $6`,
		string(f.Status), string(f.Reason), f.Error, s.now().UTC(), recordID, string(contracts.ExecutionInProgress),
	)
	if err != nil {
		return fmt.Errorf("finish record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", recordID, ErrRecordClosed)
	}
	return nil
}

// Finish implements Ledger.
func (s *SQLLedger) Finish(ctx context.Context, recordID string, f Finish) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireOpen(ctx, tx, recordID); err != nil {
			return err
		}
		return s.finish(ctx, tx, recordID, f)
	})
}

// Record implements Ledger. The record is closed as done when every
// payload confirmed and as aborted with ExecutionFailed otherwise.
func (s *SQLLedger) Record(ctx context.Context, req RecordRequest, result *contracts.OrchestrationResult) (*contracts.ExecutionRecord, error) {
	if result == nil {
		return nil, errors.New("ledger: nil orchestration result")
	}
	rec, err := s.newRecord(req)
	if err != nil {
		return nil, err
	}
	f := Finish{Status: contracts.ExecutionDone, Outcomes: result.Outcomes}
	if !result.Success {
		f.Status = contracts.ExecutionAborted
		f.Reason = contracts.ReasonExecutionFailed
		f.Error = result.Error
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertRecord(ctx, tx, rec); err != nil {
			return err
		}
		return s.finish(ctx, tx, rec.ID, f)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, rec.ID)
}

const recordColumns = `id, proposal_id, realm_id, execution_type, signer_role, input_params, params_hash, batch_length, overall_status, reason, error, created_at, completed_at`

func scanRecord(row interface{ Scan(...any) error }) (*contracts.ExecutionRecord, error) {
	var (
		rec       contracts.ExecutionRecord
		execType  string
		role      string
		params    sql.NullString
		status    string
		reason    string
		completed sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.ProposalID, &rec.RealmID, &execType, &role, &params, &rec.ParamsHash,
		&rec.BatchLength, &status, &reason, &rec.Error, &rec.CreatedAt, &completed); err != nil {
		return nil, err
	}
	r, err := contracts.ParseRole(role)
	if err != nil {
		return nil, err
	}
	rec.SignerRole = r
	rec.ExecutionType = contracts.ExecutionType(execType)
	rec.OverallStatus = contracts.ExecutionStatus(status)
	rec.Reason = contracts.AbortReason(reason)
	if params.Valid {
		rec.InputParams = []byte(params.String)
	}
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}

func (s *SQLLedger) outcomes(ctx context.Context, recordID string) ([]contracts.TransactionOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_index, signature, status, error, attempts, critical, submitted_at, confirmed_at
		FROM transaction_outcomes WHERE record_id = $1 ORDER BY batch_index`, recordID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]contracts.TransactionOutcome, 0)
	for rows.Next() {
		var (
			o                    contracts.TransactionOutcome
			status               string
			critical             int64
			submitted, confirmed sql.NullTime
		)
		if err := rows.Scan(&o.BatchIndex, &o.Signature, &status, &o.Error, &o.Attempts, &critical, &submitted, &confirmed); err != nil {
			return nil, err
		}
		if o.Status, err = contracts.ParseOutcomeStatus(status); err != nil {
			return nil, err
		}
		o.Critical = critical != 0
		o.SubmittedAt = timePtr(submitted)
		o.ConfirmedAt = timePtr(confirmed)
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Get implements Ledger.
func (s *SQLLedger) Get(ctx context.Context, id string) (*contracts.ExecutionRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM execution_records WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.Outcomes, err = s.outcomes(ctx, id); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListByProposal implements Ledger.
func (s *SQLLedger) ListByProposal(ctx context.Context, proposalID string) ([]*contracts.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM execution_records WHERE proposal_id = $1 ORDER BY created_at, id`, proposalID)
	if err != nil {
		return nil, err
	}
	result := make([]*contracts.ExecutionRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	// release the connection before loading outcomes
	_ = rows.Close()

	for _, rec := range result {
		if rec.Outcomes, err = s.outcomes(ctx, rec.ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
