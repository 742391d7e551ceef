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
	defaultProblemTTL      = 30 * time.Minute
	defaultProblemEmptyTTL = 5 * time.Minute
	problemKeyPrefix       = "problem:meta:"
)

var (
	ErrProblemNotFound  = errors.New("problem not found")
	ErrTestCaseNotFound = errors.New("test case not found")
)

type ProblemRepository interface {
	Create(ctx context.Context, tx db.Transaction, problem *Problem) (int64, error)
	Get(ctx context.Context, tx db.Transaction, problemID int64) (Problem, error)
	Exists(ctx context.Context, tx db.Transaction, problemID int64) (bool, error)
	AddTestCase(ctx context.Context, tx db.Transaction, tc *TestCase) error
	ListTestCases(ctx context.Context, tx db.Transaction, problemID int64) ([]TestCase, error)
}

type MySQLProblemRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewProblemRepository(database db.Database, cacheClient cache.Cache) ProblemRepository {
	return &MySQLProblemRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      defaultProblemTTL,
		emptyTTL: defaultProblemEmptyTTL,
	}
}

func (r *MySQLProblemRepository) Create(ctx context.Context, tx db.Transaction, problem *Problem) (int64, error) {
	if problem == nil {
		return 0, errors.New("problem is nil")
	}
	if problem.Status == 0 {
		problem.Status = ProblemStatusDraft
	}

	query := "INSERT INTO problem (title, status, owner_id) VALUES (?, ?, ?)"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, problem.Title, problem.Status, problem.OwnerID)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	problem.ID = id
	return id, nil
}

func (r *MySQLProblemRepository) Get(ctx context.Context, tx db.Transaction, problemID int64) (Problem, error) {
	if r.cache != nil && tx == nil {
		problem, err := cache.GetWithCached[Problem](
			ctx,
			r.cache,
			problemKey(problemID),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(p Problem) bool { return p.ID == 0 },
			marshalProblem,
			unmarshalProblem,
			func(ctx context.Context) (Problem, error) {
				p, err := r.getFromDB(ctx, nil, problemID)
				if err != nil {
					if errors.Is(err, ErrProblemNotFound) {
						return Problem{}, nil
					}
					return Problem{}, err
				}
				return p, nil
			},
		)
		if err != nil {
			return Problem{}, err
		}
		if problem.ID == 0 {
			return Problem{}, ErrProblemNotFound
		}
		return problem, nil
	}
	return r.getFromDB(ctx, tx, problemID)
}

func (r *MySQLProblemRepository) Exists(ctx context.Context, tx db.Transaction, problemID int64) (bool, error) {
	_, err := r.Get(ctx, tx, problemID)
	if err != nil {
		if errors.Is(err, ErrProblemNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *MySQLProblemRepository) AddTestCase(ctx context.Context, tx db.Transaction, tc *TestCase) error {
	if tc == nil {
		return errors.New("test case is nil")
	}
	query := `
		INSERT INTO problem_test_case
			(problem_id, test_id, is_sample, input_key, answer_key, time_limit_ms, memory_limit_kb)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		tc.ProblemID, tc.TestID, tc.IsSample, tc.InputKey, tc.AnswerKey, tc.TimeLimitMs, tc.MemoryLimitKB)
	return err
}

func (r *MySQLProblemRepository) ListTestCases(ctx context.Context, tx db.Transaction, problemID int64) ([]TestCase, error) {
	query := `
		SELECT problem_id, test_id, is_sample, input_key, answer_key, time_limit_ms, memory_limit_kb
		FROM problem_test_case
		WHERE problem_id = ?
		ORDER BY test_id ASC`

	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, problemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []TestCase
	for rows.Next() {
		var tc TestCase
		if err := rows.Scan(&tc.ProblemID, &tc.TestID, &tc.IsSample, &tc.InputKey, &tc.AnswerKey,
			&tc.TimeLimitMs, &tc.MemoryLimitKB); err != nil {
			return nil, err
		}
		cases = append(cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, ErrTestCaseNotFound
	}
	return cases, nil
}

func (r *MySQLProblemRepository) getFromDB(ctx context.Context, tx db.Transaction, problemID int64) (Problem, error) {
	query := `
		SELECT id, title, status, owner_id, created_at, updated_at
		FROM problem
		WHERE id = ?`

	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, problemID)
	var p Problem
	if err := row.Scan(&p.ID, &p.Title, &p.Status, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if db.IsNoRows(err) {
			return Problem{}, ErrProblemNotFound
		}
		return Problem{}, err
	}
	return p, nil
}

func problemKey(problemID int64) string {
	return problemKeyPrefix + strconv.FormatInt(problemID, 10)
}

func marshalProblem(p Problem) string {
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalProblem(data string) (Problem, error) {
	var p Problem
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Problem{}, err
	}
	return p, nil
}
