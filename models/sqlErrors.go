package models

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

const mysqlErrDuplicateEntry = 1062

// IsDuplicateKeyErr reports whether err is a MySQL duplicate-entry error.
// The open/active projection keys turn "at most one current row" races into
// exactly this error, which callers treat as a lost race, not a failure.
func IsDuplicateKeyErr(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry
}
