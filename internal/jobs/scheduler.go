package jobs

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Sweeper は期限切れジョブの定期削除を行います。
type Sweeper struct {
	scheduler *gocron.Scheduler
}

// StartSweeper は intervalMinutes ごとに manager.Sweep(ttl) を実行するスケジューラを起動します。
// intervalMinutes が 0 以下なら何もしない Sweeper を返します。
func StartSweeper(manager *Manager, intervalMinutes int, ttl time.Duration, logger zerolog.Logger) (*Sweeper, error) {
	if intervalMinutes <= 0 || ttl <= 0 {
		logger.Info().Msg("job expiry sweep is disabled")
		return &Sweeper{}, nil
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	_, err := s.Every(intervalMinutes).Minutes().Do(func() {
		removed, err := manager.Sweep(context.Background(), ttl)
		if err != nil {
			logger.Warn().Err(err).Int("removed", removed).Msg("job expiry sweep finished with errors")
		}
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Int("interval_minutes", intervalMinutes).
		Dur("ttl", ttl).
		Msg("starting job expiry sweep")
	s.StartAsync()
	return &Sweeper{scheduler: s}, nil
}

// Stop はスケジューラを停止します。
func (s *Sweeper) Stop() {
	if s == nil || s.scheduler == nil {
		return
	}
	s.scheduler.Stop()
}
