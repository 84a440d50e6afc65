package db

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

func mysqlErrorNumber(err error) (uint16, bool) {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number, true
	}
	return 0, false
}

func mysqlDuplicateKey(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry {
		return ExtractDuplicateKeyName(myErr.Message), true
	}
	return "", false
}

func mysqlRetryable(err error) bool {
	number, ok := mysqlErrorNumber(err)
	if !ok {
		return false
	}
	return number == mysqlErrDeadlock || number == mysqlErrLockWaitTimeout
}
