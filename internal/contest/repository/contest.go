package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/db"
)

const (
	defaultContestTTL      = 10 * time.Minute
	defaultContestEmptyTTL = 2 * time.Minute
	contestKeyPrefix       = "contest:meta:"
)

var (
	ErrContestNotFound = errors.New("contest not found")
	ErrProblemAttached = errors.New("problem already attached")
	ErrManagerExists   = errors.New("manager already exists")
)

type ContestRepository interface {
	Create(ctx context.Context, tx db.Transaction, contest *Contest) (int64, error)
	Get(ctx context.Context, tx db.Transaction, contestID int64) (Contest, error)
	// UpdateState moves a contest from one state to another. The update is
	// conditional on the current row state so concurrent movers cannot both
	// win; it reports whether this caller performed the transition.
	UpdateState(ctx context.Context, tx db.Transaction, contestID int64, from, to State) (bool, error)
	UpdateWindow(ctx context.Context, tx db.Transaction, contestID int64, start, end time.Time, freezeOffset time.Duration) error
	AttachProblem(ctx context.Context, tx db.Transaction, cp *ContestProblem) error
	ListProblems(ctx context.Context, tx db.Transaction, contestID int64) ([]ContestProblem, error)
	AddManager(ctx context.Context, tx db.Transaction, contestID int64, userID string) error
	IsManager(ctx context.Context, tx db.Transaction, contestID int64, userID string) (bool, error)
	ListByState(ctx context.Context, tx db.Transaction, state State, limit int) ([]Contest, error)
}

type MySQLContestRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewContestRepository(database db.Database, cacheClient cache.Cache) ContestRepository {
	return &MySQLContestRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      defaultContestTTL,
		emptyTTL: defaultContestEmptyTTL,
	}
}

func (r *MySQLContestRepository) Create(ctx context.Context, tx db.Transaction, contest *Contest) (int64, error) {
	if contest == nil {
		return 0, errors.New("contest is nil")
	}
	if contest.State == "" {
		contest.State = StateDraft
	}

	query := `
		INSERT INTO contest
			(title, description, state, start_time, end_time, freeze_offset_sec, problem_score, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		contest.Title, contest.Description, string(contest.State),
		contest.StartTime, contest.EndTime, int64(contest.FreezeOffset/time.Second),
		contest.ProblemScore, contest.CreatedBy)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	contest.ID = id
	return id, nil
}

func (r *MySQLContestRepository) Get(ctx context.Context, tx db.Transaction, contestID int64) (Contest, error) {
	if r.cache != nil && tx == nil {
		contest, err := cache.GetWithCached[Contest](
			ctx,
			r.cache,
			contestKey(contestID),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(c Contest) bool { return c.ID == 0 },
			marshalContest,
			unmarshalContest,
			func(ctx context.Context) (Contest, error) {
				c, err := r.getFromDB(ctx, nil, contestID)
				if err != nil {
					if errors.Is(err, ErrContestNotFound) {
						return Contest{}, nil
					}
					return Contest{}, err
				}
				return c, nil
			},
		)
		if err != nil {
			return Contest{}, err
		}
		if contest.ID == 0 {
			return Contest{}, ErrContestNotFound
		}
		return contest, nil
	}
	return r.getFromDB(ctx, tx, contestID)
}

func (r *MySQLContestRepository) UpdateState(ctx context.Context, tx db.Transaction, contestID int64, from, to State) (bool, error) {
	moved := false
	err := r.invalidating(ctx, contestID, func(ctx context.Context) error {
		query := "UPDATE contest SET state = ? WHERE id = ? AND state = ?"
		result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, string(to), contestID, string(from))
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		moved = affected > 0
		return nil
	})
	return moved, err
}

func (r *MySQLContestRepository) UpdateWindow(ctx context.Context, tx db.Transaction, contestID int64, start, end time.Time, freezeOffset time.Duration) error {
	return r.invalidating(ctx, contestID, func(ctx context.Context) error {
		query := "UPDATE contest SET start_time = ?, end_time = ?, freeze_offset_sec = ? WHERE id = ?"
		result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, start, end, int64(freezeOffset/time.Second), contestID)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrContestNotFound
		}
		return nil
	})
}

func (r *MySQLContestRepository) AttachProblem(ctx context.Context, tx db.Transaction, cp *ContestProblem) error {
	if cp == nil {
		return errors.New("contest problem is nil")
	}
	query := `
		INSERT INTO contest_problem (contest_id, problem_id, ordinal, label)
		VALUES (?, ?, ?, ?)`
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query, cp.ContestID, cp.ProblemID, cp.Ordinal, cp.Label)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return ErrProblemAttached
		}
		return err
	}
	return nil
}

func (r *MySQLContestRepository) ListProblems(ctx context.Context, tx db.Transaction, contestID int64) ([]ContestProblem, error) {
	query := `
		SELECT contest_id, problem_id, ordinal, label
		FROM contest_problem
		WHERE contest_id = ?
		ORDER BY ordinal ASC`

	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var problems []ContestProblem
	for rows.Next() {
		var cp ContestProblem
		if err := rows.Scan(&cp.ContestID, &cp.ProblemID, &cp.Ordinal, &cp.Label); err != nil {
			return nil, err
		}
		problems = append(problems, cp)
	}
	return problems, rows.Err()
}

func (r *MySQLContestRepository) AddManager(ctx context.Context, tx db.Transaction, contestID int64, userID string) error {
	query := "INSERT INTO contest_manager (contest_id, user_id) VALUES (?, ?)"
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query, contestID, userID)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return ErrManagerExists
		}
		return err
	}
	return nil
}

func (r *MySQLContestRepository) IsManager(ctx context.Context, tx db.Transaction, contestID int64, userID string) (bool, error) {
	query := "SELECT 1 FROM contest_manager WHERE contest_id = ? AND user_id = ? LIMIT 1"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, contestID, userID)
	var one int
	if err := row.Scan(&one); err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *MySQLContestRepository) ListByState(ctx context.Context, tx db.Transaction, state State, limit int) ([]Contest, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, title, description, state, start_time, end_time, freeze_offset_sec, problem_score, created_by, created_at, updated_at
		FROM contest
		WHERE state = ?
		ORDER BY start_time ASC
		LIMIT ?`

	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, string(state), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contests []Contest
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, err
		}
		contests = append(contests, c)
	}
	return contests, rows.Err()
}

func (r *MySQLContestRepository) getFromDB(ctx context.Context, tx db.Transaction, contestID int64) (Contest, error) {
	query := `
		SELECT id, title, description, state, start_time, end_time, freeze_offset_sec, problem_score, created_by, created_at, updated_at
		FROM contest
		WHERE id = ?`

	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, contestID)
	c, err := scanContest(row)
	if err != nil {
		if db.IsNoRows(err) {
			return Contest{}, ErrContestNotFound
		}
		return Contest{}, err
	}
	return c, nil
}

func (r *MySQLContestRepository) invalidating(ctx context.Context, contestID int64, fn func(context.Context) error) error {
	if r.cache == nil {
		return fn(ctx)
	}
	return cache.UpdateCached(ctx, r.cache, contestKey(contestID), fn)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanContest(row scanner) (Contest, error) {
	var (
		c         Contest
		state     string
		freezeSec int64
	)
	if err := row.Scan(&c.ID, &c.Title, &c.Description, &state, &c.StartTime, &c.EndTime,
		&freezeSec, &c.ProblemScore, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Contest{}, err
	}
	c.State = State(state)
	c.FreezeOffset = time.Duration(freezeSec) * time.Second
	return c, nil
}

func contestKey(contestID int64) string {
	return contestKeyPrefix + strconv.FormatInt(contestID, 10)
}

func marshalContest(c Contest) string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalContest(data string) (Contest, error) {
	var c Contest
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return Contest{}, err
	}
	return c, nil
}
