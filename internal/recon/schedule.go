package recon

import (
	"context"

	"github.com/robfig/cron/v3"
)

// Schedule registers every sweep on its interval. Each job runs on its own
// cron goroutine, independent of the queue consumers.
func (s *Sweeper) Schedule(c *cron.Cron) error {
	jobs := []struct {
		spec string
		name string
		run  func(context.Context) error
	}{
		{"@every 1m", "retry_failed", s.RetryFailed},
		{"@every 1m", "fail_exhausted", s.FailExhausted},
		{"@every 10m", "auto_update_subscriptions", s.AutoUpdateSubscriptions},
		{"@every 30m", "repair_subscription_totals", s.RepairSubscriptionTotals},
		{"@every 60m", "repair_video_durations", s.RepairVideoDurations},
		{"@every 120m", "repair_task_info", s.RepairTaskInfo},
		{"@every 60m", "clean_unsubscribed", s.CleanUnsubscribed},
	}

	for _, j := range jobs {
		j := j
		_, err := c.AddFunc(j.spec, func() {
			if err := j.run(context.Background()); err != nil {
				s.log.Error().Err(err).Str("sweep", j.name).Msg("sweep failed")
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}
