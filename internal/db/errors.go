package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE classes that describe a bad row rather than a broken connection.
const (
	sqlStateClassDataException      = "22"
	sqlStateClassIntegrityViolation = "23"
)

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsConstraintViolation reports whether err is an integrity constraint failure
// (unique, foreign key, check, not null).
func IsConstraintViolation(err error) bool {
	return strings.HasPrefix(sqlState(err), sqlStateClassIntegrityViolation)
}

// IsRowRejection reports whether err was caused by the data in a row, so the
// row can be dropped while the rest of the batch continues.
func IsRowRejection(err error) bool {
	code := sqlState(err)
	return strings.HasPrefix(code, sqlStateClassIntegrityViolation) ||
		strings.HasPrefix(code, sqlStateClassDataException)
}

// ConstraintName returns the violated constraint, if the server reported one.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// DescribeRejection renders a row rejection for operators, naming the violated
// constraint when there is one.
func DescribeRejection(err error) string {
	if err == nil {
		return ""
	}
	if name := ConstraintName(err); name != "" && IsConstraintViolation(err) {
		return fmt.Sprintf("violates %s: %v", name, err)
	}
	return err.Error()
}
