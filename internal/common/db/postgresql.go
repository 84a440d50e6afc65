package db

import (
	"errors"

	"github.com/lib/pq"
)

const (
	pgUniqueViolation      pq.ErrorCode = "23505"
	pgSerializationFailure pq.ErrorCode = "40001"
	pgDeadlockDetected     pq.ErrorCode = "40P01"
	pgLockNotAvailable     pq.ErrorCode = "55P03"
)

func pqErrorCode(err error) (pq.ErrorCode, *pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code, pqErr, true
	}
	return "", nil, false
}

func pqDuplicateKey(err error) (string, bool) {
	code, pqErr, ok := pqErrorCode(err)
	if !ok || code != pgUniqueViolation {
		return "", false
	}
	return pqErr.Constraint, true
}

func pqRetryable(err error) bool {
	code, _, ok := pqErrorCode(err)
	if !ok {
		return false
	}
	switch code {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return true
	default:
		return false
	}
}
