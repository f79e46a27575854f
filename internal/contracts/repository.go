package contracts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rosterleague/backend/internal/models"
)

const (
	defaultScanLimit = 500
	uniqueViolation  = "23505"
)

// Repository is the PostgreSQL Store. Each transition runs in one transaction; partial unique
// indexes keep at most one pending offer set and one active contract per participant.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

// NewRepository creates a contracts repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const (
	contractColumns = `id, participant_id, organization, duration_years, compensation::float8, tier, clauses,
		status, source, offer_set_id, start_time, expiry_time, created_at`
	offerSetColumns = `id, participant_id, offers, status, accepted_organization, early_renewal,
		created_at, deadline, resolved_at`
)

// GetParticipant returns a participant by ID.
func (r *Repository) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	const q = `SELECT id, organization, unaffiliated, current_contract_id, enrolled_at, updated_at
		FROM participants WHERE id = $1`
	var p models.Participant
	err := r.pool.QueryRow(ctx, q, id).
		Scan(&p.ID, &p.Organization, &p.Unaffiliated, &p.CurrentContractID, &p.EnrolledAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return &p, nil
}

// GetContract returns the participant's current contract.
func (r *Repository) GetContract(ctx context.Context, participantID uuid.UUID) (*models.Contract, error) {
	q := `SELECT ` + contractColumns + ` FROM contracts
		WHERE id = (SELECT current_contract_id FROM participants WHERE id = $1)`
	c, err := scanContract(r.pool.QueryRow(ctx, q, participantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contract: %w", err)
	}
	return c, nil
}

// GetPendingOfferSet returns the participant's pending offer set.
func (r *Repository) GetPendingOfferSet(ctx context.Context, participantID uuid.UUID) (*models.OfferSet, error) {
	q := `SELECT ` + offerSetColumns + ` FROM offer_sets WHERE participant_id = $1 AND status = 'pending'`
	s, err := scanOfferSet(r.pool.QueryRow(ctx, q, participantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending offer set: %w", err)
	}
	return s, nil
}

// GetOfferSet returns an offer set by ID.
func (r *Repository) GetOfferSet(ctx context.Context, id uuid.UUID) (*models.OfferSet, error) {
	q := `SELECT ` + offerSetColumns + ` FROM offer_sets WHERE id = $1`
	s, err := scanOfferSet(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get offer set: %w", err)
	}
	return s, nil
}

// ListContracts returns the participant's contract history, newest first.
func (r *Repository) ListContracts(ctx context.Context, participantID uuid.UUID) ([]models.Contract, error) {
	q := `SELECT ` + contractColumns + ` FROM contracts WHERE participant_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, participantID)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	defer rows.Close()
	var list []models.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// CreateEntryContract upserts the participant and makes c its current contract.
func (r *Repository) CreateEntryContract(ctx context.Context, c *models.Contract) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockParticipant(ctx, tx, c.ParticipantID, c.CreatedAt, false); err != nil {
			return err
		}
		var active bool
		const existsQ = `SELECT EXISTS (SELECT 1 FROM contracts WHERE participant_id = $1 AND status = 'active')`
		if err := tx.QueryRow(ctx, existsQ, c.ParticipantID).Scan(&active); err != nil {
			return fmt.Errorf("check active contract: %w", err)
		}
		if active {
			return ErrActiveContractExists
		}
		if err := insertContract(ctx, tx, c); err != nil {
			return err
		}
		return affiliate(ctx, tx, c, c.CreatedAt)
	})
	if isUniqueViolation(err) {
		return ErrActiveContractExists
	}
	return err
}

// CreateOfferSet inserts a pending offer set, optionally expiring the previous one.
func (r *Repository) CreateOfferSet(ctx context.Context, set *models.OfferSet, replacePending bool) error {
	offers, err := json.Marshal(set.Offers)
	if err != nil {
		return fmt.Errorf("marshal offers: %w", err)
	}
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockParticipant(ctx, tx, set.ParticipantID, set.CreatedAt, true); err != nil {
			return err
		}
		if replacePending {
			const expireQ = `UPDATE offer_sets SET status = 'expired', resolved_at = $2
				WHERE participant_id = $1 AND status = 'pending'`
			if _, err := tx.Exec(ctx, expireQ, set.ParticipantID, set.CreatedAt); err != nil {
				return fmt.Errorf("expire pending offer set: %w", err)
			}
		}
		const insertQ = `INSERT INTO offer_sets (id, participant_id, offers, status, early_renewal, created_at, deadline)
			VALUES ($1, $2, $3, 'pending', $4, $5, $6)`
		if _, err := tx.Exec(ctx, insertQ, set.ID, set.ParticipantID, offers, set.EarlyRenewal, set.CreatedAt, set.Deadline); err != nil {
			return fmt.Errorf("insert offer set: %w", err)
		}
		return nil
	})
	if isUniqueViolation(err) {
		return ErrPendingExists
	}
	return err
}

// ResolveOfferSet applies the resolution only if the set is still in the expected status.
func (r *Repository) ResolveOfferSet(ctx context.Context, res Resolution) (bool, error) {
	won := false
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		// Participant before offer set: the same order CreateOfferSet takes.
		if err := lockParticipant(ctx, tx, res.ParticipantID, res.At, true); err != nil {
			return err
		}
		const casQ = `UPDATE offer_sets SET status = $3, accepted_organization = $4, resolved_at = $5
			WHERE id = $1 AND status = $2`
		tag, err := tx.Exec(ctx, casQ, res.OfferSetID, res.Expected, res.Next, res.AcceptedOrganization, res.At)
		if err != nil {
			return fmt.Errorf("update offer set status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		won = true
		if res.Contract == nil && !res.Demote {
			return nil
		}
		if err := expireActive(ctx, tx, res.ParticipantID); err != nil {
			return err
		}
		if res.Contract != nil {
			if err := insertContract(ctx, tx, res.Contract); err != nil {
				return err
			}
			return affiliate(ctx, tx, res.Contract, res.At)
		}
		const demoteQ = `UPDATE participants SET organization = '', unaffiliated = TRUE, updated_at = $2 WHERE id = $1`
		if _, err := tx.Exec(ctx, demoteQ, res.ParticipantID, res.At); err != nil {
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
func (r *Repository) ScanExpiredContracts(ctx context.Context, now time.Time, limit int) ([]models.Contract, error) {
	q := `SELECT ` + contractColumns + ` FROM contracts c
		WHERE c.status = 'active' AND c.expiry_time <= $1
		AND NOT EXISTS (SELECT 1 FROM offer_sets o WHERE o.participant_id = c.participant_id AND o.status = 'pending')
		ORDER BY c.expiry_time ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, now, scanLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("scan expired contracts: %w", err)
	}
	defer rows.Close()
	var list []models.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// ScanExpiredOfferSets lists pending offer sets whose deadline has passed.
func (r *Repository) ScanExpiredOfferSets(ctx context.Context, now time.Time, limit int) ([]models.OfferSet, error) {
	q := `SELECT ` + offerSetColumns + ` FROM offer_sets
		WHERE status = 'pending' AND deadline <= $1 ORDER BY deadline ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, now, scanLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("scan expired offer sets: %w", err)
	}
	defer rows.Close()
	var list []models.OfferSet
	for rows.Next() {
		s, err := scanOfferSet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer set: %w", err)
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// lockParticipant makes sure the participant row exists and holds its lock for the transaction.
func lockParticipant(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time, unaffiliated bool) error {
	const upsertQ = `INSERT INTO participants (id, unaffiliated, enrolled_at, updated_at)
		VALUES ($1, $2, $3, $3) ON CONFLICT (id) DO NOTHING`
	if _, err := tx.Exec(ctx, upsertQ, id, unaffiliated, at); err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT 1 FROM participants WHERE id = $1 FOR UPDATE`, id); err != nil {
		return fmt.Errorf("lock participant: %w", err)
	}
	return nil
}

func expireActive(ctx context.Context, tx pgx.Tx, participantID uuid.UUID) error {
	const q = `UPDATE contracts SET status = 'expired' WHERE participant_id = $1 AND status = 'active'`
	if _, err := tx.Exec(ctx, q, participantID); err != nil {
		return fmt.Errorf("expire active contract: %w", err)
	}
	return nil
}

func insertContract(ctx context.Context, tx pgx.Tx, c *models.Contract) error {
	clauses, err := json.Marshal(nonNilClauses(c.Clauses))
	if err != nil {
		return fmt.Errorf("marshal clauses: %w", err)
	}
	const q = `INSERT INTO contracts (id, participant_id, organization, duration_years, compensation, tier, clauses,
			status, source, offer_set_id, start_time, expiry_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = tx.Exec(ctx, q, c.ID, c.ParticipantID, c.Organization, c.DurationYears, c.Compensation, c.Tier, clauses,
		c.Status, c.Source, c.OfferSetID, c.StartTime, c.ExpiryTime, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert contract: %w", err)
	}
	return nil
}

func affiliate(ctx context.Context, tx pgx.Tx, c *models.Contract, at time.Time) error {
	const q = `UPDATE participants SET organization = $2, unaffiliated = FALSE, current_contract_id = $3, updated_at = $4
		WHERE id = $1`
	if _, err := tx.Exec(ctx, q, c.ParticipantID, c.Organization, c.ID, at); err != nil {
		return fmt.Errorf("affiliate participant: %w", err)
	}
	return nil
}

func scanContract(row pgx.Row) (*models.Contract, error) {
	var (
		c       models.Contract
		clauses []byte
	)
	err := row.Scan(&c.ID, &c.ParticipantID, &c.Organization, &c.DurationYears, &c.Compensation, &c.Tier, &clauses,
		&c.Status, &c.Source, &c.OfferSetID, &c.StartTime, &c.ExpiryTime, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeClauses(clauses, &c.Clauses); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanOfferSet(row pgx.Row) (*models.OfferSet, error) {
	var (
		s      models.OfferSet
		offers []byte
	)
	err := row.Scan(&s.ID, &s.ParticipantID, &offers, &s.Status, &s.AcceptedOrganization, &s.EarlyRenewal,
		&s.CreatedAt, &s.Deadline, &s.ResolvedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(offers, &s.Offers); err != nil {
		return nil, fmt.Errorf("decode offers: %w", err)
	}
	return &s, nil
}

func decodeClauses(raw []byte, out *[]models.Clause) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode clauses: %w", err)
	}
	if len(*out) == 0 {
		*out = nil
	}
	return nil
}

func nonNilClauses(cs []models.Clause) []models.Clause {
	if cs == nil {
		return []models.Clause{}
	}
	return cs
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func scanLimit(limit int) int {
	if limit <= 0 {
		return defaultScanLimit
	}
	return limit
}
