package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// mysqlDuplicateEntry is the server error code for a unique key conflict.
const mysqlDuplicateEntry = 1062

// Querier is the read/write surface shared by Database and Transaction.
// Repository methods take an optional Transaction and pick the querier
// through GetQuerier, so the same statement runs in or out of a
// transaction unchanged.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// GetQuerier picks tx when one is in flight, the pooled database otherwise.
func GetQuerier(database Database, tx Transaction) Querier {
	if tx != nil {
		return tx
	}
	return database
}

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// UniqueViolation reports whether err is a MySQL duplicate entry error
// and, when it is, which unique key was violated. Repositories use the
// key name to turn the conflict into a domain error such as "already
// registered" instead of surfacing the driver message.
func UniqueViolation(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) || myErr.Number != mysqlDuplicateEntry {
		return "", false
	}
	return duplicateKeyName(myErr.Message), true
}

// duplicateKeyName pulls the key name out of a message shaped like
// "Duplicate entry 'x' for key 'uk_contest_user'".
func duplicateKeyName(message string) string {
	const marker = "for key "
	idx := strings.LastIndex(message, marker)
	if idx == -1 {
		return ""
	}
	key := strings.TrimSpace(message[idx+len(marker):])
	return strings.Trim(key, " `\"'")
}
