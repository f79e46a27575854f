package contracts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rosterleague/backend/internal/models"
)

// SQLiteRepository is the single-node Store. Timestamps are stored as unix nanoseconds and
// the same partial unique indexes as the PostgreSQL schema guard the invariants.
// The handle is expected to use a single connection (see database.OpenSQLite).
type SQLiteRepository struct {
	db *sql.DB
}

var _ Store = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a contracts repository over an open SQLite handle.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const (
	sqliteContractColumns = `id, participant_id, organization, duration_years, compensation, tier, clauses,
		status, source, offer_set_id, start_time, expiry_time, created_at`
	sqliteOfferSetColumns = `id, participant_id, offers, status, accepted_organization, early_renewal,
		created_at, deadline, resolved_at`
)

type sqlRow interface {
	Scan(dest ...any) error
}

// GetParticipant returns a participant by ID.
func (r *SQLiteRepository) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	const q = `SELECT id, organization, unaffiliated, current_contract_id, enrolled_at, updated_at
		FROM participants WHERE id = ?`
	var (
		p                 models.Participant
		pid               string
		current           sql.NullString
		enrolled, updated int64
	)
	err := r.db.QueryRowContext(ctx, q, id.String()).Scan(&pid, &p.Organization, &p.Unaffiliated, &current, &enrolled, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	if p.ID, err = uuid.Parse(pid); err != nil {
		return nil, fmt.Errorf("parse participant id: %w", err)
	}
	if p.CurrentContractID, err = parseNullUUID(current); err != nil {
		return nil, err
	}
	p.EnrolledAt, p.UpdatedAt = fromNanos(enrolled), fromNanos(updated)
	return &p, nil
}

// GetContract returns the participant's current contract.
func (r *SQLiteRepository) GetContract(ctx context.Context, participantID uuid.UUID) (*models.Contract, error) {
	q := `SELECT ` + sqliteContractColumns + ` FROM contracts
		WHERE id = (SELECT current_contract_id FROM participants WHERE id = ?)`
	c, err := sqliteScanContract(r.db.QueryRowContext(ctx, q, participantID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contract: %w", err)
	}
	return c, nil
}

// GetPendingOfferSet returns the participant's pending offer set.
func (r *SQLiteRepository) GetPendingOfferSet(ctx context.Context, participantID uuid.UUID) (*models.OfferSet, error) {
	q := `SELECT ` + sqliteOfferSetColumns + ` FROM offer_sets WHERE participant_id = ? AND status = 'pending'`
	s, err := sqliteScanOfferSet(r.db.QueryRowContext(ctx, q, participantID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending offer set: %w", err)
	}
	return s, nil
}

// GetOfferSet returns an offer set by ID.
func (r *SQLiteRepository) GetOfferSet(ctx context.Context, id uuid.UUID) (*models.OfferSet, error) {
	q := `SELECT ` + sqliteOfferSetColumns + ` FROM offer_sets WHERE id = ?`
	s, err := sqliteScanOfferSet(r.db.QueryRowContext(ctx, q, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get offer set: %w", err)
	}
	return s, nil
}

// ListContracts returns the participant's contract history, newest first.
func (r *SQLiteRepository) ListContracts(ctx context.Context, participantID uuid.UUID) ([]models.Contract, error) {
	q := `SELECT ` + sqliteContractColumns + ` FROM contracts WHERE participant_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, participantID.String())
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var list []models.Contract
	for rows.Next() {
		c, err := sqliteScanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// CreateEntryContract upserts the participant and makes c its current contract.
func (r *SQLiteRepository) CreateEntryContract(ctx context.Context, c *models.Contract) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := sqliteEnsureParticipant(ctx, tx, c.ParticipantID, c.CreatedAt, false); err != nil {
			return err
		}
		var active bool
		const existsQ = `SELECT EXISTS (SELECT 1 FROM contracts WHERE participant_id = ? AND status = 'active')`
		if err := tx.QueryRowContext(ctx, existsQ, c.ParticipantID.String()).Scan(&active); err != nil {
			return fmt.Errorf("check active contract: %w", err)
		}
		if active {
			return ErrActiveContractExists
		}
		if err := sqliteInsertContract(ctx, tx, c); err != nil {
			return err
		}
		return sqliteAffiliate(ctx, tx, c, c.CreatedAt)
	})
	if isSQLiteUnique(err) {
		return ErrActiveContractExists
	}
	return err
}

// CreateOfferSet inserts a pending offer set, optionally expiring the previous one.
func (r *SQLiteRepository) CreateOfferSet(ctx context.Context, set *models.OfferSet, replacePending bool) error {
	offers, err := json.Marshal(set.Offers)
	if err != nil {
		return fmt.Errorf("marshal offers: %w", err)
	}
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		if err := sqliteEnsureParticipant(ctx, tx, set.ParticipantID, set.CreatedAt, true); err != nil {
			return err
		}
		if replacePending {
			const expireQ = `UPDATE offer_sets SET status = 'expired', resolved_at = ?
				WHERE participant_id = ? AND status = 'pending'`
			if _, err := tx.ExecContext(ctx, expireQ, toNanos(set.CreatedAt), set.ParticipantID.String()); err != nil {
				return fmt.Errorf("expire pending offer set: %w", err)
			}
		}
		const insertQ = `INSERT INTO offer_sets (id, participant_id, offers, status, accepted_organization, early_renewal, created_at, deadline)
			VALUES (?, ?, ?, 'pending', '', ?, ?, ?)`
		_, err := tx.ExecContext(ctx, insertQ, set.ID.String(), set.ParticipantID.String(), string(offers), set.EarlyRenewal,
			toNanos(set.CreatedAt), toNanos(set.Deadline))
		if err != nil {
			return fmt.Errorf("insert offer set: %w", err)
		}
		return nil
	})
	if isSQLiteUnique(err) {
		return ErrPendingExists
	}
	return err
}

// ResolveOfferSet applies the resolution only if the set is still in the expected status.
func (r *SQLiteRepository) ResolveOfferSet(ctx context.Context, res Resolution) (bool, error) {
	won := false
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := sqliteEnsureParticipant(ctx, tx, res.ParticipantID, res.At, true); err != nil {
			return err
		}
		const casQ = `UPDATE offer_sets SET status = ?, accepted_organization = ?, resolved_at = ?
			WHERE id = ? AND status = ?`
		result, err := tx.ExecContext(ctx, casQ, string(res.Next), res.AcceptedOrganization, toNanos(res.At),
			res.OfferSetID.String(), string(res.Expected))
		if err != nil {
			return fmt.Errorf("update offer set status: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}
		won = true
		if res.Contract == nil && !res.Demote {
			return nil
		}
		const expireQ = `UPDATE contracts SET status = 'expired' WHERE participant_id = ? AND status = 'active'`
		if _, err := tx.ExecContext(ctx, expireQ, res.ParticipantID.String()); err != nil {
			return fmt.Errorf("expire active contract: %w", err)
		}
		if res.Contract != nil {
			if err := sqliteInsertContract(ctx, tx, res.Contract); err != nil {
				return err
			}
			return sqliteAffiliate(ctx, tx, res.Contract, res.At)
		}
		const demoteQ = `UPDATE participants SET organization = '', unaffiliated = 1, updated_at = ? WHERE id = ?`
		if _, err := tx.ExecContext(ctx, demoteQ, toNanos(res.At), res.ParticipantID.String()); err != nil {
			return fmt.Errorf("demote participant: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

// ScanExpiredContracts lists active contracts past expiry with no pending offer set.
func (r *SQLiteRepository) ScanExpiredContracts(ctx context.Context, now time.Time, limit int) ([]models.Contract, error) {
	q := `SELECT ` + sqliteContractColumns + ` FROM contracts c
		WHERE c.status = 'active' AND c.expiry_time <= ?
		AND NOT EXISTS (SELECT 1 FROM offer_sets o WHERE o.participant_id = c.participant_id AND o.status = 'pending')
		ORDER BY c.expiry_time ASC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, toNanos(now), scanLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("scan expired contracts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var list []models.Contract
	for rows.Next() {
		c, err := sqliteScanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// ScanExpiredOfferSets lists pending offer sets whose deadline has passed.
func (r *SQLiteRepository) ScanExpiredOfferSets(ctx context.Context, now time.Time, limit int) ([]models.OfferSet, error) {
	q := `SELECT ` + sqliteOfferSetColumns + ` FROM offer_sets
		WHERE status = 'pending' AND deadline <= ? ORDER BY deadline ASC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, toNanos(now), scanLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("scan expired offer sets: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var list []models.OfferSet
	for rows.Next() {
		s, err := sqliteScanOfferSet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer set: %w", err)
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (retErr error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func sqliteEnsureParticipant(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time, unaffiliated bool) error {
	const q = `INSERT INTO participants (id, organization, unaffiliated, enrolled_at, updated_at)
		VALUES (?, '', ?, ?, ?) ON CONFLICT (id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, q, id.String(), unaffiliated, toNanos(at), toNanos(at)); err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

func sqliteInsertContract(ctx context.Context, tx *sql.Tx, c *models.Contract) error {
	clauses, err := json.Marshal(nonNilClauses(c.Clauses))
	if err != nil {
		return fmt.Errorf("marshal clauses: %w", err)
	}
	var offerSetID sql.NullString
	if c.OfferSetID != nil {
		offerSetID = sql.NullString{String: c.OfferSetID.String(), Valid: true}
	}
	const q = `INSERT INTO contracts (id, participant_id, organization, duration_years, compensation, tier, clauses,
			status, source, offer_set_id, start_time, expiry_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q, c.ID.String(), c.ParticipantID.String(), c.Organization, c.DurationYears, c.Compensation,
		string(c.Tier), string(clauses), string(c.Status), string(c.Source), offerSetID,
		toNanos(c.StartTime), toNanos(c.ExpiryTime), toNanos(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert contract: %w", err)
	}
	return nil
}

func sqliteAffiliate(ctx context.Context, tx *sql.Tx, c *models.Contract, at time.Time) error {
	const q = `UPDATE participants SET organization = ?, unaffiliated = 0, current_contract_id = ?, updated_at = ?
		WHERE id = ?`
	if _, err := tx.ExecContext(ctx, q, c.Organization, c.ID.String(), toNanos(at), c.ParticipantID.String()); err != nil {
		return fmt.Errorf("affiliate participant: %w", err)
	}
	return nil
}

func sqliteScanContract(row sqlRow) (*models.Contract, error) {
	var (
		c                          models.Contract
		id, pid, tier, status, src string
		clauses                    string
		offerSetID                 sql.NullString
		start, expiry, created     int64
	)
	err := row.Scan(&id, &pid, &c.Organization, &c.DurationYears, &c.Compensation, &tier, &clauses,
		&status, &src, &offerSetID, &start, &expiry, &created)
	if err != nil {
		return nil, err
	}
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse contract id: %w", err)
	}
	if c.ParticipantID, err = uuid.Parse(pid); err != nil {
		return nil, fmt.Errorf("parse participant id: %w", err)
	}
	if c.OfferSetID, err = parseNullUUID(offerSetID); err != nil {
		return nil, err
	}
	if err := decodeClauses([]byte(clauses), &c.Clauses); err != nil {
		return nil, err
	}
	c.Tier = models.Tier(tier)
	c.Status = models.ContractStatus(status)
	c.Source = models.ContractSource(src)
	c.StartTime, c.ExpiryTime, c.CreatedAt = fromNanos(start), fromNanos(expiry), fromNanos(created)
	return &c, nil
}

func sqliteScanOfferSet(row sqlRow) (*models.OfferSet, error) {
	var (
		s                 models.OfferSet
		id, pid, status   string
		offers            string
		created, deadline int64
		resolved          sql.NullInt64
	)
	err := row.Scan(&id, &pid, &offers, &status, &s.AcceptedOrganization, &s.EarlyRenewal, &created, &deadline, &resolved)
	if err != nil {
		return nil, err
	}
	if s.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse offer set id: %w", err)
	}
	if s.ParticipantID, err = uuid.Parse(pid); err != nil {
		return nil, fmt.Errorf("parse participant id: %w", err)
	}
	if err := json.Unmarshal([]byte(offers), &s.Offers); err != nil {
		return nil, fmt.Errorf("decode offers: %w", err)
	}
	s.Status = models.OfferStatus(status)
	s.CreatedAt, s.Deadline = fromNanos(created), fromNanos(deadline)
	if resolved.Valid {
		t := fromNanos(resolved.Int64)
		s.ResolvedAt = &t
	}
	return &s, nil
}

func parseNullUUID(v sql.NullString) (*uuid.UUID, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v.String)
	if err != nil {
		return nil, fmt.Errorf("parse uuid: %w", err)
	}
	return &id, nil
}

func isSQLiteUnique(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	return sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || strings.Contains(sqlErr.Error(), "UNIQUE constraint failed")
}

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }
