package identity

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner удаляет просроченные записи и возвращает их количество,
// например storage.RefreshTokenStorage.DeleteExpiredTokens.
type Cleaner func(ctx context.Context, now time.Time) (int64, error)

// StartJanitor запускает фоновую очистку просроченных токенов с периодом period.
// Останавливается по отмене ctx. period <= 0 отключает очистку.
func StartJanitor(ctx context.Context, log *slog.Logger, period time.Duration, cleaners map[string]Cleaner) {
	if period <= 0 || len(cleaners) == 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				RunCleaners(ctx, log, time.Now().UTC(), cleaners)
			}
		}
	}()
}

// RunCleaners выполняет один проход очистки; ошибки только логируются.
func RunCleaners(ctx context.Context, log *slog.Logger, now time.Time, cleaners map[string]Cleaner) {
	for name, clean := range cleaners {
		n, err := clean(ctx, now)
		if err != nil {
			log.Error("janitor_failed", slog.String("target", name), slog.String("err", err.Error()))
			continue
		}

		if n > 0 {
			log.Info("janitor_deleted", slog.String("target", name), slog.Int64("count", n))
		}
	}
}
