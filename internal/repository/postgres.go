package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/leadconf/registration-service/internal/models"
)

// PostgresStore persists registrations and payments in two related tables.
// Both rows belonging to one reference are always written inside a single
// transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS registrations (
			id VARCHAR(64) PRIMARY KEY,
			first_name VARCHAR(255) NOT NULL,
			last_name VARCHAR(255) NOT NULL,
			phone VARCHAR(32) NOT NULL,
			email VARCHAR(255) NOT NULL UNIQUE,
			is_member BOOLEAN NOT NULL DEFAULT FALSE,
			branch VARCHAR(255),
			physical_course VARCHAR(255),
			online_courses TEXT[] NOT NULL DEFAULT '{}',
			payment_status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
			payment_reference VARCHAR(64) NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id BIGSERIAL PRIMARY KEY,
			registration_id VARCHAR(64) NOT NULL REFERENCES registrations(id),
			reference VARCHAR(64) NOT NULL UNIQUE,
			amount BIGINT NOT NULL,
			currency VARCHAR(8) NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
			paid_at TIMESTAMPTZ,
			raw_response JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_registrations_payment_status ON registrations(payment_status)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

const registrationColumns = `id, first_name, last_name, phone, email, is_member,
	COALESCE(branch, ''), COALESCE(physical_course, ''), online_courses,
	payment_status, payment_reference, created_at, updated_at`

func scanRegistration(row interface{ Scan(...any) error }) (*models.Registration, error) {
	var reg models.Registration
	err := row.Scan(
		&reg.ID, &reg.FirstName, &reg.LastName, &reg.Phone, &reg.Email,
		&reg.IsMember, &reg.Branch, &reg.PhysicalCourse, pq.Array(&reg.OnlineCourses),
		&reg.PaymentStatus, &reg.PaymentReference, &reg.CreatedAt, &reg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.Registration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE email = $1`, email)
	return scanRegistration(row)
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*models.Registration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id)
	return scanRegistration(row)
}

func (s *PostgresStore) GetByReference(ctx context.Context, ref string) (*models.Registration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE payment_reference = $1`, ref)
	return scanRegistration(row)
}

func (s *PostgresStore) GetPayment(ctx context.Context, ref string) (*models.Payment, error) {
	var p models.Payment
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, registration_id, reference, amount, currency, status, paid_at, raw_response, created_at, updated_at
		FROM payments WHERE reference = $1
	`, ref).Scan(&p.ID, &p.RegistrationID, &p.Reference, &p.Amount, &p.Currency,
		&p.Status, &p.PaidAt, &raw, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.RawResponse = raw
	return &p, nil
}

func (s *PostgresStore) ListPaid(ctx context.Context) ([]models.Registration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations
		 WHERE payment_status = $1 ORDER BY created_at DESC`, models.StatusPaid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []models.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

// UpsertPending creates or resets the registration+payment pair in one
// transaction. The pair leaves this call PENDING under the fresh reference,
// unless the email's payment is already confirmed.
func (s *PostgresStore) UpsertPending(ctx context.Context, req *models.CreateRegistrationRequest, reference string, amount int64, currency string) (*models.Registration, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	email := req.NormalizedEmail()

	var id string
	var status models.PaymentStatus
	err = tx.QueryRowContext(ctx,
		`SELECT id, payment_status FROM registrations WHERE email = $1 FOR UPDATE`,
		email).Scan(&id, &status)

	isMember := req.IsMember != nil && *req.IsMember
	branch := sql.NullString{String: req.Branch, Valid: isMember && req.Branch != ""}
	physical := sql.NullString{String: req.PhysicalCourse, Valid: req.PhysicalCourse != ""}
	courses := req.OnlineCourses
	if courses == nil {
		courses = []string{}
	}

	switch {
	case err == nil:
		if status == models.StatusPaid {
			return nil, models.ErrAlreadyPaid
		}
		// Retire the previous reference: both rows adopt the fresh one and
		// drop back to PENDING.
		_, err = tx.ExecContext(ctx, `
			UPDATE registrations
			SET first_name = $1, last_name = $2, phone = $3, is_member = $4,
				branch = $5, physical_course = $6, online_courses = $7,
				payment_status = $8, payment_reference = $9, updated_at = NOW()
			WHERE id = $10
		`, req.FirstName, req.LastName, req.Phone, isMember, branch, physical,
			pq.Array(courses), models.StatusPending, reference, id)
		if err != nil {
			return nil, fmt.Errorf("update registration: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE payments
			SET reference = $1, amount = $2, currency = $3, status = $4,
				paid_at = NULL, raw_response = NULL, updated_at = NOW()
			WHERE registration_id = $5
		`, reference, amount, currency, models.StatusPending, id)
		if err != nil {
			return nil, fmt.Errorf("update payment: %w", err)
		}

	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO registrations
				(id, first_name, last_name, phone, email, is_member, branch,
				 physical_course, online_courses, payment_status, payment_reference)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, id, req.FirstName, req.LastName, req.Phone, email, isMember, branch,
			physical, pq.Array(courses), models.StatusPending, reference)
		if err != nil {
			// Concurrent submissions for the same new email race to this
			// insert; the unique constraint decides the winner.
			return nil, fmt.Errorf("insert registration: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO payments (registration_id, reference, amount, currency, status)
			VALUES ($1, $2, $3, $4, $5)
		`, id, reference, amount, currency, models.StatusPending)
		if err != nil {
			return nil, fmt.Errorf("insert payment: %w", err)
		}

	default:
		return nil, err
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id)
	reg, err := scanRegistration(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return reg, nil
}

// ApplyPaymentOutcome moves the pair matched by reference to outcome inside
// one transaction. PAID is absorbing: a pair that already reached it is left
// untouched and applied is false.
func (s *PostgresStore) ApplyPaymentOutcome(ctx context.Context, reference string, outcome models.PaymentStatus, paidAt *time.Time, raw json.RawMessage) (models.PaymentStatus, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback()

	var previous models.PaymentStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM payments WHERE reference = $1 FOR UPDATE`,
		reference).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, models.ErrNotFound
	}
	if err != nil {
		return "", false, err
	}

	if previous == models.StatusPaid {
		return previous, false, nil
	}

	var paidAtArg any
	if outcome == models.StatusPaid && paidAt != nil {
		paidAtArg = *paidAt
	}
	var rawArg any
	if len(raw) > 0 {
		rawArg = []byte(raw)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, paid_at = $2, raw_response = COALESCE($3, raw_response), updated_at = NOW()
		WHERE reference = $4
	`, outcome, paidAtArg, rawArg, reference); err != nil {
		return "", false, fmt.Errorf("update payment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE registrations SET payment_status = $1, updated_at = NOW()
		WHERE payment_reference = $2
	`, outcome, reference); err != nil {
		return "", false, fmt.Errorf("update registration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, err
	}
	return previous, true, nil
}
