package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/country-weather-tracker/internal/weather"
)

// Runner is the bulk-run trigger the scheduler drives.
type Runner interface {
	RunAll(ctx context.Context) (weather.RunLog, error)
}

// Scheduler periodically triggers the weather ETL run. The pipeline itself
// performs no scheduling; this is the external timer re-invoking it.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	interval  time.Duration
}

// New creates a Scheduler. An interval <= 0 disables scheduling.
func New(runner Runner, interval time.Duration) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		interval:  interval,
	}
}

// Start schedules the periodic ETL job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		log.Println("scheduler: ETL interval not configured; nothing to schedule")
		return nil
	}

	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 60
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(func() {
		log.Println("scheduler: starting weather ETL run")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		rl, err := s.runner.RunAll(ctx)
		if err != nil {
			if errors.Is(err, weather.ErrRunInProgress) {
				log.Println("scheduler: previous ETL run still in progress; skipping")
				return
			}
			log.Printf("scheduler: ETL run failed: %v", err)
			return
		}
		log.Printf("scheduler: ETL run %s finished: %d countries, %d failures",
			rl.RunID, len(rl.Statuses), rl.FailureCount())
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
