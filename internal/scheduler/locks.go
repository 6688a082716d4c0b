package scheduler

import (
	"context"

	"gorm.io/gorm"
)

// periodCloseLockKey is the advisory lock namespace for the period close.
// One instance at a time runs the close; the rest skip the tick.
const periodCloseLockKey int64 = 0x5374726174757301

// withCloseLock holds a postgres session-level advisory lock for the
// duration of fn. On non-postgres databases (tests run on sqlite) there is
// a single instance, so fn runs unguarded.
func (s *Scheduler) withCloseLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.db.Dialector.Name() != "postgres" {
		return fn(ctx)
	}

	return s.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var acquired bool
		if err := conn.Raw(`SELECT pg_try_advisory_lock(?)`, periodCloseLockKey).Scan(&acquired).Error; err != nil {
			return err
		}
		if !acquired {
			s.log.Debug("period close already running elsewhere")
			return nil
		}
		defer conn.Exec(`SELECT pg_advisory_unlock(?)`, periodCloseLockKey)

		return fn(ctx)
	})
}
