package audit

import (
	"context"
	"fmt"
	"time"
)

// MinRetentionDays is the floor for audit retention. Purges that would
// remove anything younger are refused.
const MinRetentionDays = 90

// CheckRetention rejects retention windows below the floor.
func CheckRetention(days int) error {
	if days < MinRetentionDays {
		return fmt.Errorf("retention must be at least %d days (requested %d)", MinRetentionDays, days)
	}
	return nil
}

// Purge removes events older than the retention window. Returns the
// number of rows removed.
func (s *Service) Purge(ctx context.Context, retentionDays int) (int64, error) {
	if err := CheckRetention(retentionDays); err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := s.DB.ExecContext(ctx, `DELETE FROM audit_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
