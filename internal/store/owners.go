package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/pbaille/postkeep/internal/domain"
)

// MaxDailyLimit bounds the configurable daily enrichment limit.
const MaxDailyLimit = 100

func (s *Store) today() string {
	return s.now().UTC().Format("2006-01-02")
}

// CheckAndIncrementQuota consumes one enrichment unit in a single UPDATE so
// concurrent callers can never exceed the limit. The counter restarts when
// the UTC date changes.
func (o *Owner) CheckAndIncrementQuota(ctx context.Context) (domain.Quota, error) {
	if err := o.store.EnsureOwner(ctx, o.id, ""); err != nil {
		return domain.Quota{}, err
	}
	day := o.store.today()

	tx, err := o.store.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Quota{}, eris.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE owners SET
			daily_count = CASE WHEN quota_day = ? THEN daily_count + 1 ELSE 1 END,
			quota_day = ?
		WHERE id = ? AND daily_limit > 0 AND (quota_day != ? OR daily_count < daily_limit)`,
		day, day, o.id, day,
	)
	if err != nil {
		return domain.Quota{}, eris.Wrap(err, "consume quota")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Quota{}, eris.Wrap(err, "consume quota")
	}

	var limit, count int
	var quotaDay string
	err = tx.QueryRowContext(ctx,
		"SELECT daily_limit, daily_count, quota_day FROM owners WHERE id = ?", o.id,
	).Scan(&limit, &count, &quotaDay)
	if err != nil {
		return domain.Quota{}, eris.Wrap(err, "read quota")
	}
	if err := tx.Commit(); err != nil {
		return domain.Quota{}, eris.Wrap(err, "commit quota")
	}

	if quotaDay != day {
		count = 0
	}
	return domain.Quota{
		Allowed:   n == 1,
		Remaining: max(0, limit-count),
		Limit:     limit,
	}, nil
}

// Settings returns the owner's preferences and today's usage
func (o *Owner) Settings(ctx context.Context) (domain.Settings, error) {
	if err := o.store.EnsureOwner(ctx, o.id, ""); err != nil {
		return domain.Settings{}, err
	}

	var st domain.Settings
	var count int
	var quotaDay string
	err := o.store.db.QueryRowContext(ctx,
		"SELECT label, daily_limit, auto_analyze, daily_count, quota_day FROM owners WHERE id = ?", o.id,
	).Scan(&st.Label, &st.DailyLimit, &st.AutoAnalyze, &count, &quotaDay)
	if errors.Is(err, sql.ErrNoRows) {
		return st, domain.ErrNotFound
	}
	if err != nil {
		return st, eris.Wrap(err, "get settings")
	}

	if quotaDay == o.store.today() {
		st.Used = count
	}
	st.Remaining = max(0, st.DailyLimit-st.Used)
	return st, nil
}

// UpdateSettings applies the fields set in patch. The daily limit must lie
// within 0..MaxDailyLimit.
func (o *Owner) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	if patch.DailyLimit == nil && patch.AutoAnalyze == nil {
		return domain.Settings{}, domain.Invalid("no valid settings to update")
	}
	if patch.DailyLimit != nil && (*patch.DailyLimit < 0 || *patch.DailyLimit > MaxDailyLimit) {
		return domain.Settings{}, domain.Invalid("dailyLimit must be between 0 and %d", MaxDailyLimit)
	}
	if err := o.store.EnsureOwner(ctx, o.id, ""); err != nil {
		return domain.Settings{}, err
	}

	if patch.DailyLimit != nil {
		if _, err := o.store.db.ExecContext(ctx,
			"UPDATE owners SET daily_limit = ? WHERE id = ?", *patch.DailyLimit, o.id); err != nil {
			return domain.Settings{}, eris.Wrap(err, "update daily limit")
		}
	}
	if patch.AutoAnalyze != nil {
		if _, err := o.store.db.ExecContext(ctx,
			"UPDATE owners SET auto_analyze = ? WHERE id = ?", *patch.AutoAnalyze, o.id); err != nil {
			return domain.Settings{}, eris.Wrap(err, "update auto analyze")
		}
	}
	return o.Settings(ctx)
}
