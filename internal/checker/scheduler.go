package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"pulsewatch/internal/models"
	"pulsewatch/internal/queue"
	"pulsewatch/internal/storage"
)

// sweepSlack is reserved at the end of each interval so a slow sweep never
// overruns into the next scheduled tick.
const sweepSlack = 5 * time.Second

const defaultTimeout = 10 * time.Second

// Scheduler drives the sweep loop: every wall-clock multiple of the
// configured interval it loads the enabled configurations, runs all checks
// under a bounded-concurrency gate and posts the reports to the ingestion
// queue.
type Scheduler struct {
	configs  *storage.ConfigRepo
	ingest   *queue.Queue
	signals  []*queue.Signal
	interval time.Duration
	gate     *semaphore.Weighted
	client   *http.Client
	logger   zerolog.Logger

	// afterSweep runs once per completed sweep; the state store hangs its
	// archival pass here.
	afterSweep func(context.Context)
}

func NewScheduler(
	configs *storage.ConfigRepo,
	ingest *queue.Queue,
	interval time.Duration,
	simultaneousPulses int64,
	logger zerolog.Logger,
	signals ...*queue.Signal,
) *Scheduler {
	if simultaneousPulses < 1 {
		simultaneousPulses = 1
	}
	return &Scheduler{
		configs:  configs,
		ingest:   ingest,
		signals:  signals,
		interval: interval,
		gate:     semaphore.NewWeighted(simultaneousPulses),
		client:   &http.Client{},
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// SetAfterSweep registers a hook invoked after every sweep completes.
func (s *Scheduler) SetAfterSweep(fn func(context.Context)) {
	s.afterSweep = fn
}

// Run executes sweeps until the context is cancelled. Each iteration sleeps
// until the next wall-clock boundary that is a multiple of the interval, so
// checks fire on a predictable cadence regardless of process start time.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
	for {
		timer := time.NewTimer(time.Until(nextBoundary(time.Now(), s.interval)))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
		}

		s.Sweep(ctx)
		for _, sig := range s.signals {
			sig.Set()
		}
		if s.afterSweep != nil {
			s.afterSweep(ctx)
		}
	}
}

// nextBoundary returns the next instant that is a whole multiple of the
// interval, e.g. :00/:05/:10 for a five-minute interval.
func nextBoundary(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}

// Sweep checks every enabled configuration once. Agent configurations are
// grouped by type and location so one probe serves all of them.
func (s *Scheduler) Sweep(ctx context.Context) {
	deadline := s.interval - sweepSlack
	if deadline <= 0 {
		deadline = s.interval
	}
	sweepCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cfgs, err := s.configs.GetEnabled()
	if err != nil {
		s.logger.Error().Err(err).Msg("load configurations")
		return
	}

	var singles []models.Configuration
	groups := make(map[string][]models.Configuration)
	for _, cfg := range cfgs {
		if cfg.IsAgent() {
			key := cfg.Type + "\x00" + cfg.Location
			groups[key] = append(groups[key], cfg)
			continue
		}
		singles = append(singles, cfg)
	}

	var wg sync.WaitGroup
	for _, cfg := range singles {
		if err := s.gate.Acquire(sweepCtx, 1); err != nil {
			s.postSynthetic(cfg, err)
			continue
		}
		wg.Add(1)
		go func(cfg models.Configuration) {
			defer wg.Done()
			defer s.gate.Release(1)
			s.runOne(sweepCtx, cfg)
		}(cfg)
	}
	for _, batch := range groups {
		if err := s.gate.Acquire(sweepCtx, 1); err != nil {
			for _, cfg := range batch {
				s.postSynthetic(cfg, err)
			}
			continue
		}
		wg.Add(1)
		go func(batch []models.Configuration) {
			defer wg.Done()
			defer s.gate.Release(1)
			s.runBatch(sweepCtx, batch)
		}(batch)
	}
	wg.Wait()
}

func (s *Scheduler) runOne(sweepCtx context.Context, cfg models.Configuration) {
	chk, ok := ForType(cfg.Type, s.client)
	if !ok {
		s.logger.Error().Str("sqid", cfg.Sqid).Str("type", cfg.Type).Msg("unsupported check type")
		return
	}

	checkCtx, cancel := context.WithTimeout(sweepCtx, checkTimeout(cfg))
	defer cancel()

	start := time.Now()
	report := s.safeRun(checkCtx, chk, cfg)
	elapsed := time.Since(start).Milliseconds()

	report = applyDegradation(report, elapsed)
	s.post(report, elapsed)
}

func (s *Scheduler) runBatch(sweepCtx context.Context, batch []models.Configuration) {
	agent, ok := AgentForType(batch[0].Type, s.client)
	if !ok {
		s.logger.Error().Str("type", batch[0].Type).Msg("unsupported agent type")
		return
	}

	checkCtx, cancel := context.WithTimeout(sweepCtx, checkTimeout(batch[0]))
	defer cancel()

	start := time.Now()
	reports := s.safeRunBatch(checkCtx, agent, batch)
	elapsed := time.Since(start).Milliseconds()

	for _, report := range reports {
		s.post(report, elapsed)
	}
}

// safeRun converts a panicking check into a failure report so one check can
// never abort the sweep.
func (s *Scheduler) safeRun(ctx context.Context, chk Check, cfg models.Configuration) (report models.Report) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("sqid", cfg.Sqid).Str("name", cfg.Name).
				Interface("panic", r).Msg("check panicked")
			report = models.Report{
				Config:  cfg,
				State:   models.Unhealthy,
				Message: "check failed",
				Error:   fmt.Sprint(r),
			}
		}
	}()
	return chk.Run(ctx, cfg)
}

func (s *Scheduler) safeRunBatch(ctx context.Context, agent Agent, batch []models.Configuration) (reports []models.Report) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("type", batch[0].Type).Str("location", batch[0].Location).
				Interface("panic", r).Msg("agent panicked")
			reports = agentFailure(batch, fmt.Sprint(r))
		}
	}()
	return agent.Run(ctx, batch)
}

// postSynthetic records a check that never ran because the sweep deadline
// arrived first.
func (s *Scheduler) postSynthetic(cfg models.Configuration, cause error) {
	s.logger.Warn().Str("sqid", cfg.Sqid).Str("name", cfg.Name).Err(cause).
		Msg("sweep deadline reached before check started")
	s.post(models.Report{
		Config:  cfg,
		State:   models.TimedOut,
		Message: "sweep deadline reached before check started",
		Error:   cause.Error(),
	}, 0)
}

// applyDegradation rewrites a healthy report whose elapsed time exceeded the
// configured degradation timeout. This happens once, at the scheduler
// boundary, never inside checks.
func applyDegradation(report models.Report, elapsedMS int64) models.Report {
	limit := report.Config.DegradationTimeoutMS
	if report.State != models.Healthy || limit <= 0 || elapsedMS <= int64(limit) {
		return report
	}
	report.State = models.Degraded
	report.Message = fmt.Sprintf("expected completion within %dms, took %dms", limit, elapsedMS)
	return report
}

func (s *Scheduler) post(report models.Report, elapsedMS int64) {
	if report.State == models.Healthy {
		report.Body = ""
	}
	body, err := json.Marshal(models.Envelope{
		Report:    report,
		ElapsedMS: elapsedMS,
		QueuedAt:  time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("sqid", report.Config.Sqid).Msg("marshal envelope")
		return
	}
	if err := s.ingest.Post(body); err != nil {
		s.logger.Error().Err(err).Str("sqid", report.Config.Sqid).Msg("post report")
	}
}

func checkTimeout(cfg models.Configuration) time.Duration {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return timeout
}
