package repository

import (
	"strconv"

	"hackreg/internal/common/db"
)

const (
	themeTable            = "theme"
	problemStatementTable = "problem_statement"
	assignmentTable       = "team_assignment"
	settingTable          = "app_setting"

	settingSelectionLocked = "selection_locked"
)

// resolveQuerier returns the transaction when given, otherwise the current
// database, together with the dialect used to build statements.
func resolveQuerier(provider db.Provider, tx db.Transaction) (db.Querier, db.Dialect, error) {
	database, err := db.CurrentDatabase(provider)
	if err != nil {
		return nil, "", err
	}
	return db.GetQuerier(database, tx), database.Dialect(), nil
}

func fmtInt64(value int64) string {
	return strconv.FormatInt(value, 10)
}
