// Package scheduler runs the periodic jobs: data refreshes during market
// hours, signal generation, the nightly learning run, and the morning digest.
// A single process hosts the tick loop plus a small worker pool; jobs are
// queued on their tick and executed with a per-job deadline.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	metricsOnce sync.Once
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		jobRuns = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_job_runs_total",
				Help: "Scheduled job executions by job name and outcome",
			},
			[]string{"job", "outcome"},
		)
		jobDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scheduler_job_duration_seconds",
				Help:    "Wall time per job execution",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		)
	})
}

// JobFunc is one job execution
type JobFunc func(ctx context.Context) error

// DayTime is a wall-clock firing time in the scheduler's time zone
type DayTime struct {
	Hour   int
	Minute int
}

// Job describes one schedulable unit. Every and At are mutually exclusive; a
// job with neither is on-demand only (run via Trigger).
type Job struct {
	Name            string
	Run             JobFunc
	Every           time.Duration
	At              []DayTime
	MarketHoursOnly bool
	WeekdaysOnly    bool
}

// Clock abstracts wall time so the tick logic is testable
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Scheduler owns the job table, the tick loop, and the worker pool
type Scheduler struct {
	loc      *time.Location
	clock    Clock
	tick     time.Duration
	deadline time.Duration
	workers  int
	logger   zerolog.Logger

	mu      sync.Mutex
	jobs    []*Job
	lastRun map[string]time.Time
	fired   map[string]struct{}

	queue  chan *Job
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Option adjusts scheduler construction
type Option func(*Scheduler)

// WithClock substitutes the wall clock, for tests
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithTick overrides the tick interval
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// New creates a scheduler. deadline bounds each job execution; zero means 20
// minutes. workers defaults to 4.
func New(loc *time.Location, workers int, deadline time.Duration, logger zerolog.Logger, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if workers <= 0 {
		workers = 4
	}
	if deadline <= 0 {
		deadline = 20 * time.Minute
	}
	initMetrics()

	s := &Scheduler{
		loc:      loc,
		clock:    systemClock{},
		tick:     20 * time.Second,
		deadline: deadline,
		workers:  workers,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		lastRun:  make(map[string]time.Time),
		fired:    make(map[string]struct{}),
		queue:    make(chan *Job, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job to the table
func (s *Scheduler) Register(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	s.logger.Info().
		Str("job", job.Name).
		Dur("every", job.Every).
		Int("wall_clock_slots", len(job.At)).
		Msg("Job registered")
}

// RegisterPipeline registers the standard job set over a Pipeline.
// marketDataEvery/sentimentEvery default to 5 and 30 minutes.
func (s *Scheduler) RegisterPipeline(p *Pipeline, marketDataEvery, sentimentEvery time.Duration) {
	if marketDataEvery <= 0 {
		marketDataEvery = 5 * time.Minute
	}
	if sentimentEvery <= 0 {
		sentimentEvery = 30 * time.Minute
	}

	s.Register(&Job{
		Name:            "fetch_market_data",
		Run:             p.FetchMarketData,
		Every:           marketDataEvery,
		MarketHoursOnly: true,
	})
	s.Register(&Job{
		Name:            "fetch_sentiment",
		Run:             p.FetchSentiment,
		Every:           sentimentEvery,
		MarketHoursOnly: true,
	})

	for _, at := range []DayTime{{Hour: 9}, {Hour: 12}} {
		at := at
		label := RunLabelFor(time.Date(2000, 1, 1, at.Hour, at.Minute, 0, 0, s.loc), s.loc)
		s.Register(&Job{
			Name: "generate_daily_signals_" + label,
			Run: func(ctx context.Context) error {
				return p.GenerateDailySignals(ctx, label)
			},
			At:           []DayTime{at},
			WeekdaysOnly: true,
		})
	}

	s.Register(&Job{
		Name: "analyze_signal_performance",
		Run: func(ctx context.Context) error {
			_, err := p.AnalyzeSignalPerformance(ctx)
			return err
		},
		At:           []DayTime{{Hour: 16, Minute: 30}},
		WeekdaysOnly: true,
	})
	s.Register(&Job{
		Name: "optimize_agent_weights",
		Run:  p.OptimizeAgentWeights,
		At:   []DayTime{{Hour: 0}},
	})
	s.Register(&Job{
		Name: "send_daily_summary",
		Run:  p.SendDailySummary,
		At:   []DayTime{{Hour: 8, Minute: 30}},
		WeekdaysOnly: true,
	})
	s.Register(&Job{
		Name: "check_critical_biases",
		Run: func(ctx context.Context) error {
			_, err := p.CheckCriticalBiases(ctx)
			return err
		},
	})
}

// Start launches the worker pool and the tick loop. It does not block.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(runCtx)
	}

	s.wg.Add(1)
	go s.loop(runCtx)

	s.logger.Info().
		Int("workers", s.workers).
		Str("timezone", s.loc.String()).
		Msg("Scheduler started")
}

// Stop cancels the loop and waits for in-flight jobs
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

// Trigger runs a registered job on demand, synchronously
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	var job *Job
	for _, j := range s.jobs {
		if j.Name == name {
			job = j
			break
		}
	}
	s.mu.Unlock()

	if job == nil {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.execute(ctx, job)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, job := range s.dueJobs(s.clock.Now()) {
				select {
				case s.queue <- job:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// dueJobs returns the jobs due at now and marks them as dispatched
func (s *Scheduler) dueJobs(now time.Time) []*Job {
	local := now.In(s.loc)
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Job
	for _, job := range s.jobs {
		if !s.gatesPass(job, local) {
			continue
		}

		if job.Every > 0 {
			if last, ok := s.lastRun[job.Name]; ok && now.Sub(last) < job.Every {
				continue
			}
			s.lastRun[job.Name] = now
			due = append(due, job)
			continue
		}

		for _, at := range job.At {
			if local.Hour() != at.Hour || local.Minute() != at.Minute {
				continue
			}
			key := fmt.Sprintf("%s|%s|%02d:%02d", job.Name, local.Format("2006-01-02"), at.Hour, at.Minute)
			if _, done := s.fired[key]; done {
				continue
			}
			s.fired[key] = struct{}{}
			due = append(due, job)
			break
		}
	}
	return due
}

func (s *Scheduler) gatesPass(job *Job, local time.Time) bool {
	if job.MarketHoursOnly && !MarketOpen(local, s.loc) {
		return false
	}
	if job.WeekdaysOnly {
		switch local.Weekday() {
		case time.Saturday, time.Sunday:
			return false
		}
	}
	return true
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			if err := s.execute(ctx, job); err != nil {
				s.logger.Error().Err(err).Str("job", job.Name).Msg("Job failed")
			}
		}
	}
}

// execute runs one job under the per-job deadline and records metrics
func (s *Scheduler) execute(ctx context.Context, job *Job) error {
	jobCtx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	start := time.Now()
	s.logger.Info().Str("job", job.Name).Msg("Job starting")
	err := job.Run(jobCtx)
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	jobRuns.WithLabelValues(job.Name, outcome).Inc()
	jobDuration.WithLabelValues(job.Name).Observe(elapsed.Seconds())

	s.logger.Info().
		Str("job", job.Name).
		Str("outcome", outcome).
		Dur("elapsed", elapsed).
		Msg("Job finished")
	return err
}
