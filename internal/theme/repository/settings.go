package repository

import (
	"context"
	"fmt"
	"strconv"

	"hackreg/internal/common/db"

	sq "github.com/Masterminds/squirrel"
)

// SQLSettingsRepository keeps named flags in the app_setting table.
type SQLSettingsRepository struct {
	provider db.Provider
}

func NewSettingsRepository(provider db.Provider) *SQLSettingsRepository {
	return &SQLSettingsRepository{provider: provider}
}

// SelectionLocked reads the global selection lock. A missing row means unlocked.
func (r *SQLSettingsRepository) SelectionLocked(ctx context.Context, tx db.Transaction) (bool, error) {
	querier, dialect, err := resolveQuerier(r.provider, tx)
	if err != nil {
		return false, err
	}
	var value string
	err = db.QueryRowBuilder(ctx, querier, dialect.Builder().
		Select("value").
		From(settingTable).
		Where(sq.Eq{"name": settingSelectionLocked})).Scan(&value)
	if err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	locked, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parse %s setting %q: %w", settingSelectionLocked, value, err)
	}
	return locked, nil
}

func (r *SQLSettingsRepository) SetSelectionLocked(ctx context.Context, tx db.Transaction, locked bool) error {
	querier, dialect, err := resolveQuerier(r.provider, tx)
	if err != nil {
		return err
	}
	_, err = db.ExecBuilder(ctx, querier, upsertSetting(dialect, settingSelectionLocked, strconv.FormatBool(locked)))
	return err
}

func upsertSetting(dialect db.Dialect, name, value string) sq.InsertBuilder {
	insert := dialect.Builder().
		Insert(settingTable).
		Columns("name", "value").
		Values(name, value)
	if dialect == db.DialectPostgres {
		return insert.Suffix("ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = CURRENT_TIMESTAMP")
	}
	return insert.Suffix("ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = CURRENT_TIMESTAMP")
}
