// Package watch re-crawls configured sites on a fixed interval. Each cycle
// runs the orchestrator in resume mode, so settled items are skipped and
// only new or previously failed listings cost requests.
package watch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"jewelry-scraper/pkg/config"
	"jewelry-scraper/pkg/metrics"
	"jewelry-scraper/pkg/orchestrate"
)

// Scheduler manages periodic crawling of sites.
type Scheduler struct {
	appCfg       *config.AppConfig
	siteKeys     []string
	interval     time.Duration
	resume       bool
	logger       *logrus.Logger
	log          *logrus.Entry
	metrics      *metrics.Metrics
	stateManager *StateManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a watch scheduler. metrics may be nil.
func NewScheduler(appCfg *config.AppConfig, siteKeys []string, interval time.Duration, resume bool, logger *logrus.Logger, m *metrics.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		appCfg:       appCfg,
		siteKeys:     siteKeys,
		interval:     interval,
		resume:       resume,
		logger:       logger,
		log:          logger.WithField("component", "watch"),
		metrics:      m,
		stateManager: NewStateManager(appCfg.StateDir),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Run starts the watch scheduler and blocks until Stop is called.
func (s *Scheduler) Run() error {
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	s.log.Infof("Starting watch mode for %d sites with interval %v", len(s.siteKeys), s.interval)
	s.logSchedule()

	s.runDueSites()

	ticker := time.NewTicker(s.calculateTickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.runDueSites()
		}
	}
}

// Stop cancels the scheduler and any crawl cycle in flight.
func (s *Scheduler) Stop() {
	s.log.Info("Stopping watch scheduler...")
	s.cancel()
}

// runDueSites crawls every site whose interval has elapsed.
func (s *Scheduler) runDueSites() {
	dueSites := s.getDueSites()
	if len(dueSites) == 0 {
		s.logNextRun()
		return
	}

	s.log.Infof("Running crawl for %d due sites: %v", len(dueSites), dueSites)

	orch := orchestrate.New(s.appCfg, dueSites, s.resume, s.logger, s.metrics)

	// Crawl in a goroutine so shutdown stays responsive; the cycle itself
	// honors s.ctx.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		summary := orch.Run(s.ctx)

		for _, result := range summary.Sites {
			s.stateManager.UpdateSiteState(summary.RunID, result)
		}
		if err := s.stateManager.Save(); err != nil {
			s.log.Errorf("Failed to save watch state: %v", err)
		}

		s.logNextRun()
	}()
}

// getDueSites returns the sites due for a crawl.
func (s *Scheduler) getDueSites() []string {
	var due []string
	for _, siteKey := range s.siteKeys {
		if s.stateManager.ShouldRun(siteKey, s.interval) {
			due = append(due, siteKey)
		}
	}
	return due
}

// calculateTickInterval returns how often to check for due sites: every
// 1/10th of the interval, clamped between one and ten minutes.
func (s *Scheduler) calculateTickInterval() time.Duration {
	checkInterval := s.interval / 10
	if checkInterval < time.Minute {
		checkInterval = time.Minute
	}
	if checkInterval > 10*time.Minute {
		checkInterval = 10 * time.Minute
	}
	return checkInterval
}

// logSchedule logs the current schedule.
func (s *Scheduler) logSchedule() {
	s.log.Info("Watch schedule:")
	for _, siteKey := range s.siteKeys {
		state, exists := s.stateManager.GetSiteState(siteKey)
		if exists {
			nextRun := s.stateManager.GetNextRunTime(siteKey, s.interval)
			status := "success"
			if !state.LastRunSuccess {
				status = "failed"
			}
			s.log.Infof("  %s: last run %v (%s, %d items), next run %v",
				siteKey,
				state.LastRunTime.Format(time.RFC3339),
				status,
				state.ItemsAccepted,
				nextRun.Format(time.RFC3339))
		} else {
			s.log.Infof("  %s: never run, will run immediately", siteKey)
		}
	}
}

// logNextRun logs when the next run will occur.
func (s *Scheduler) logNextRun() {
	var nextRuns []struct {
		site string
		time time.Time
	}

	for _, siteKey := range s.siteKeys {
		nextRun := s.stateManager.GetNextRunTime(siteKey, s.interval)
		nextRuns = append(nextRuns, struct {
			site string
			time time.Time
		}{siteKey, nextRun})
	}

	sort.Slice(nextRuns, func(i, j int) bool {
		return nextRuns[i].time.Before(nextRuns[j].time)
	})

	if len(nextRuns) > 0 {
		next := nextRuns[0]
		until := time.Until(next.time)
		if until < 0 {
			until = 0
		}
		s.log.Infof("Next crawl: %s in %v (at %s)", next.site, until.Round(time.Second), next.time.Format("15:04:05"))
	}
}

// GetStatus returns the current status of all watched sites.
func (s *Scheduler) GetStatus() map[string]SiteStatus {
	status := make(map[string]SiteStatus)

	for _, siteKey := range s.siteKeys {
		state, exists := s.stateManager.GetSiteState(siteKey)
		nextRun := s.stateManager.GetNextRunTime(siteKey, s.interval)

		status[siteKey] = SiteStatus{
			SiteKey:        siteKey,
			LastRunTime:    state.LastRunTime,
			LastRunSuccess: state.LastRunSuccess,
			ItemsAccepted:  state.ItemsAccepted,
			ItemsRejected:  state.ItemsRejected,
			PagesFetched:   state.PagesFetched,
			ErrorMessage:   state.ErrorMessage,
			NextRunTime:    nextRun,
			NeverRun:       !exists,
		}
	}

	return status
}

// SiteStatus contains the status of a watched site.
type SiteStatus struct {
	SiteKey        string
	LastRunTime    time.Time
	LastRunSuccess bool
	ItemsAccepted  int64
	ItemsRejected  int64
	PagesFetched   int64
	ErrorMessage   string
	NextRunTime    time.Time
	NeverRun       bool
}

// FormatInterval formats a duration for display.
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string with support for a day suffix.
func ParseInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 {
		d = time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
