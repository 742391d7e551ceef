package repository

import (
	"context"
	"errors"
	"time"

	"arenaoj/internal/common/db"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrSubmissionExists   = errors.New("submission already exists")
)

type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, submission *Submission) error
	// CreateWithSequence allocates the next per-contest intake number
	// and inserts the row in one transaction. A failed insert rolls the
	// allocation back, so the sequence never skips values.
	CreateWithSequence(ctx context.Context, submission *Submission) error
	GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, error)
	// ClaimRunning moves Pending to Running and reports whether this
	// caller won the claim.
	ClaimRunning(ctx context.Context, tx db.Transaction, submissionID string) (bool, error)
	// RevertPending returns a Running submission to the queue after a
	// worker failure.
	RevertPending(ctx context.Context, tx db.Transaction, submissionID string) (bool, error)
	// SaveVerdict finishes a Running submission. At most one writer
	// succeeds; later writers see false.
	SaveVerdict(ctx context.Context, tx db.Transaction, v *VerdictRecord) (bool, error)
	// ResetForRejudge clears the verdict of a Finished submission and
	// returns it to Pending.
	ResetForRejudge(ctx context.Context, tx db.Transaction, submissionID string) (bool, error)
	ListByContest(ctx context.Context, tx db.Transaction, contestID int64, limit int) ([]Submission, error)
	ListFinishedByContest(ctx context.Context, tx db.Transaction, contestID int64) ([]Submission, error)
	ListByContestUser(ctx context.Context, tx db.Transaction, contestID int64, userID string, limit int) ([]Submission, error)
}

// VerdictRecord carries the terminal outcome of a judge run.
type VerdictRecord struct {
	SubmissionID string
	Verdict      Verdict
	TimeMs       int32
	MemoryKB     int32
	FailedTestID int32
	JudgeReason  string
	JudgedAt     time.Time
}

type MySQLSubmissionRepository struct {
	db db.Database
}

func NewSubmissionRepository(database db.Database) SubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, submission *Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.Status == "" {
		submission.Status = StatusPending
	}
	query := `
		INSERT INTO submission
			(submission_id, contest_id, problem_id, user_id, language_id,
			 source_code, source_key, source_hash, sequence, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		submission.SubmissionID, submission.ContestID, submission.ProblemID,
		submission.UserID, submission.LanguageID, submission.SourceCode,
		submission.SourceKey, submission.SourceHash, submission.Sequence,
		string(submission.Status), submission.CreatedAt)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return ErrSubmissionExists
		}
		return err
	}
	return nil
}

func (r *MySQLSubmissionRepository) CreateWithSequence(ctx context.Context, submission *Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	return r.db.Transaction(ctx, func(tx db.Transaction) error {
		sequence, err := r.nextSequence(ctx, tx, submission.ContestID)
		if err != nil {
			return err
		}
		submission.Sequence = sequence
		return r.Create(ctx, tx, submission)
	})
}

func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, error) {
	query := selectSubmission + " WHERE submission_id = ?"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, submissionID)
	submission, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

// nextSequence bumps the per-contest counter row. The counter is gap
// free only while callers allocate and insert in the same transaction.
func (r *MySQLSubmissionRepository) nextSequence(ctx context.Context, tx db.Transaction, contestID int64) (int64, error) {
	query := `
		INSERT INTO contest_sequence (contest_id, seq)
		VALUES (?, 1)
		ON DUPLICATE KEY UPDATE seq = LAST_INSERT_ID(seq + 1)`
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, contestID)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	// A fresh counter row reports LastInsertId 0 on some drivers when the
	// insert path is taken; the first allocated value is always 1.
	if id == 0 {
		id = 1
	}
	return id, nil
}

func (r *MySQLSubmissionRepository) ClaimRunning(ctx context.Context, tx db.Transaction, submissionID string) (bool, error) {
	return r.moveStatus(ctx, tx, submissionID, StatusPending, StatusRunning)
}

func (r *MySQLSubmissionRepository) RevertPending(ctx context.Context, tx db.Transaction, submissionID string) (bool, error) {
	return r.moveStatus(ctx, tx, submissionID, StatusRunning, StatusPending)
}

func (r *MySQLSubmissionRepository) SaveVerdict(ctx context.Context, tx db.Transaction, v *VerdictRecord) (bool, error) {
	if v == nil {
		return false, errors.New("verdict record is nil")
	}
	query := `
		UPDATE submission
		SET status = ?, verdict = ?, time_ms = ?, memory_kb = ?,
			failed_test_id = ?, judge_reason = ?, judged_at = ?
		WHERE submission_id = ? AND status = ?`
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		string(StatusFinished), string(v.Verdict), v.TimeMs, v.MemoryKB,
		v.FailedTestID, v.JudgeReason, v.JudgedAt,
		v.SubmissionID, string(StatusRunning))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *MySQLSubmissionRepository) ResetForRejudge(ctx context.Context, tx db.Transaction, submissionID string) (bool, error) {
	query := `
		UPDATE submission
		SET status = ?, verdict = '', time_ms = 0, memory_kb = 0,
			failed_test_id = 0, judge_reason = '', judged_at = NULL
		WHERE submission_id = ? AND status = ?`
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		string(StatusPending), submissionID, string(StatusFinished))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *MySQLSubmissionRepository) ListByContest(ctx context.Context, tx db.Transaction, contestID int64, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 200
	}
	query := selectSubmission + " WHERE contest_id = ? ORDER BY sequence DESC LIMIT ?"
	return r.list(ctx, tx, query, contestID, limit)
}

func (r *MySQLSubmissionRepository) ListFinishedByContest(ctx context.Context, tx db.Transaction, contestID int64) ([]Submission, error) {
	query := selectSubmission + " WHERE contest_id = ? AND status = ? ORDER BY sequence ASC"
	return r.list(ctx, tx, query, contestID, string(StatusFinished))
}

func (r *MySQLSubmissionRepository) ListByContestUser(ctx context.Context, tx db.Transaction, contestID int64, userID string, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 200
	}
	query := selectSubmission + " WHERE contest_id = ? AND user_id = ? ORDER BY sequence DESC LIMIT ?"
	return r.list(ctx, tx, query, contestID, userID, limit)
}

func (r *MySQLSubmissionRepository) moveStatus(ctx context.Context, tx db.Transaction, submissionID string, from, to Status) (bool, error) {
	query := "UPDATE submission SET status = ? WHERE submission_id = ? AND status = ?"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, string(to), submissionID, string(from))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *MySQLSubmissionRepository) list(ctx context.Context, tx db.Transaction, query string, args ...interface{}) ([]Submission, error) {
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var submissions []Submission
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, *submission)
	}
	return submissions, rows.Err()
}

const selectSubmission = `
	SELECT submission_id, contest_id, problem_id, user_id, language_id,
		source_code, source_key, source_hash, sequence, status,
		verdict, time_ms, memory_kb, failed_test_id, judge_reason,
		created_at, judged_at
	FROM submission`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row scanner) (*Submission, error) {
	var (
		s       Submission
		status  string
		verdict string
	)
	if err := row.Scan(&s.SubmissionID, &s.ContestID, &s.ProblemID, &s.UserID, &s.LanguageID,
		&s.SourceCode, &s.SourceKey, &s.SourceHash, &s.Sequence, &status,
		&verdict, &s.TimeMs, &s.MemoryKB, &s.FailedTestID, &s.JudgeReason,
		&s.CreatedAt, &s.JudgedAt); err != nil {
		return nil, err
	}
	s.Status = Status(status)
	s.Verdict = Verdict(verdict)
	return &s, nil
}
