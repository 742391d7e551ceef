package repository

import (
	"context"
	"errors"
	"time"

	"arenaoj/internal/common/db"
)

var (
	ErrAlreadyRegistered   = errors.New("already registered")
	ErrRegistrationMissing = errors.New("registration not found")
)

// Registration is one row of the contest registration ledger.
// ParticipatedAt is set the first time the user enters the live contest.
type Registration struct {
	ContestID      int64
	UserID         string
	RegisteredAt   time.Time
	ParticipatedAt *time.Time
}

type RegistrationRepository interface {
	Create(ctx context.Context, tx db.Transaction, reg *Registration) error
	Delete(ctx context.Context, tx db.Transaction, contestID int64, userID string) error
	Get(ctx context.Context, tx db.Transaction, contestID int64, userID string) (Registration, error)
	MarkParticipated(ctx context.Context, tx db.Transaction, contestID int64, userID string, at time.Time) error
	ListByContest(ctx context.Context, tx db.Transaction, contestID int64) ([]Registration, error)
}

type MySQLRegistrationRepository struct {
	db db.Database
}

func NewRegistrationRepository(database db.Database) RegistrationRepository {
	return &MySQLRegistrationRepository{db: database}
}

func (r *MySQLRegistrationRepository) Create(ctx context.Context, tx db.Transaction, reg *Registration) error {
	if reg == nil {
		return errors.New("registration is nil")
	}
	query := "INSERT INTO contest_registration (contest_id, user_id, registered_at) VALUES (?, ?, ?)"
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query, reg.ContestID, reg.UserID, reg.RegisteredAt)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return ErrAlreadyRegistered
		}
		return err
	}
	return nil
}

func (r *MySQLRegistrationRepository) Delete(ctx context.Context, tx db.Transaction, contestID int64, userID string) error {
	query := "DELETE FROM contest_registration WHERE contest_id = ? AND user_id = ?"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, contestID, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRegistrationMissing
	}
	return nil
}

func (r *MySQLRegistrationRepository) Get(ctx context.Context, tx db.Transaction, contestID int64, userID string) (Registration, error) {
	query := `
		SELECT contest_id, user_id, registered_at, participated_at
		FROM contest_registration
		WHERE contest_id = ? AND user_id = ?`

	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, contestID, userID)
	var reg Registration
	if err := row.Scan(&reg.ContestID, &reg.UserID, &reg.RegisteredAt, &reg.ParticipatedAt); err != nil {
		if db.IsNoRows(err) {
			return Registration{}, ErrRegistrationMissing
		}
		return Registration{}, err
	}
	return reg, nil
}

func (r *MySQLRegistrationRepository) MarkParticipated(ctx context.Context, tx db.Transaction, contestID int64, userID string, at time.Time) error {
	// Only the first join sets the timestamp.
	query := `
		UPDATE contest_registration
		SET participated_at = ?
		WHERE contest_id = ? AND user_id = ? AND participated_at IS NULL`
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query, at, contestID, userID)
	return err
}

func (r *MySQLRegistrationRepository) ListByContest(ctx context.Context, tx db.Transaction, contestID int64) ([]Registration, error) {
	query := `
		SELECT contest_id, user_id, registered_at, participated_at
		FROM contest_registration
		WHERE contest_id = ?
		ORDER BY registered_at ASC`

	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []Registration
	for rows.Next() {
		var reg Registration
		if err := rows.Scan(&reg.ContestID, &reg.UserID, &reg.RegisteredAt, &reg.ParticipatedAt); err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}
