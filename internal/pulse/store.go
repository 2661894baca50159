// Package pulse owns every mutation of monitoring state: the span-collapsing
// current-state table, the append-only time-series containers, the
// consecutive-failure counters and the events fed to the bus and the webhook
// queue.
package pulse

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"pulsewatch/internal/bus"
	"pulsewatch/internal/models"
	"pulsewatch/internal/queue"
	"pulsewatch/internal/storage"
)

const dayFormat = "2006-01-02"

// receiveBatch is how many queue messages one drain round pulls.
const receiveBatch = 32

// staleFactor: a gap longer than this many intervals means the process was
// down, so the span is restarted rather than silently continued.
const staleFactor = 3

// Store applies the state-transition policy to every report received from
// the ingestion queue. It is the only writer of pulses, counters and
// time-series containers. A single Store drains the queue, which preserves
// per-sqid delivery order; running several would require sharding by sqid.
type Store struct {
	pulses   *storage.PulseRepo
	counters *storage.CounterRepo
	series   *storage.SeriesRepo
	ingest   *queue.Queue
	outbox   *queue.Queue
	bus      *bus.Bus
	logger   zerolog.Logger

	interval        time.Duration
	threshold       int
	recentRetention time.Duration

	// downstream is woken after a drain that may have queued webhook
	// events, so the delivery worker does not wait out a full interval.
	downstream *queue.Signal

	now func() time.Time
}

func NewStore(
	pulses *storage.PulseRepo,
	counters *storage.CounterRepo,
	series *storage.SeriesRepo,
	ingest *queue.Queue,
	outbox *queue.Queue,
	b *bus.Bus,
	interval time.Duration,
	threshold int,
	recentRetention time.Duration,
	logger zerolog.Logger,
) *Store {
	return &Store{
		pulses:          pulses,
		counters:        counters,
		series:          series,
		ingest:          ingest,
		outbox:          outbox,
		bus:             b,
		interval:        interval,
		threshold:       threshold,
		recentRetention: recentRetention,
		logger:          logger.With().Str("component", "store").Logger(),
		now:             time.Now,
	}
}

// SetDownstream registers the signal to release after each drain.
func (s *Store) SetDownstream(sig *queue.Signal) {
	s.downstream = sig
}

// Run drains the ingestion queue whenever the signal fires, until the
// context is cancelled. Unacknowledged messages survive shutdown; the queue
// is durable, the consumer is not.
func (s *Store) Run(ctx context.Context, sig *queue.Signal) {
	for {
		if err := sig.Wait(ctx); err != nil {
			s.logger.Info().Msg("store consumer stopped")
			return
		}
		s.Drain(ctx)
	}
}

// Drain processes queued reports until the queue is empty. Each message is
// acknowledged only after processing, so a crash replays it; processing is
// idempotent for the current-state row and may duplicate a detail row, an
// accepted consequence of at-least-once delivery.
func (s *Store) Drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := s.ingest.Receive(receiveBatch)
		if err != nil {
			s.logger.Error().Err(err).Msg("receive reports")
			return
		}
		if len(msgs) == 0 {
			break
		}

		for _, msg := range msgs {
			if ctx.Err() != nil {
				return
			}
			var env models.Envelope
			if err := json.Unmarshal(msg.Body, &env); err != nil {
				s.logger.Error().Err(err).Int64("message", msg.ID).Msg("bad envelope, dropping")
				if err := s.ingest.Delete(msg.ID, msg.Receipt); err != nil {
					s.logger.Error().Err(err).Int64("message", msg.ID).Msg("ack poison message")
				}
				continue
			}
			s.Process(env)
			if err := s.ingest.Delete(msg.ID, msg.Receipt); err != nil {
				s.logger.Error().Err(err).Int64("message", msg.ID).Msg("ack message")
			}
		}
	}

	if err := s.pulses.PruneRecent(s.recentRetention, s.now().UTC()); err != nil {
		s.logger.Error().Err(err).Msg("prune recent pulses")
	}
	if s.downstream != nil {
		s.downstream.Set()
	}
}

// Process applies one report. Table and blob writes are attempted
// independently; one failing never suppresses the other.
func (s *Store) Process(env models.Envelope) {
	report := env.Report
	cfg := report.Config
	now := s.now().UTC()

	// Every execution lands in the day container, regardless of span
	// collapsing.
	elapsed := env.ElapsedMS
	detail := models.Detail{State: report.State, Unix: now.Unix(), ElapsedMS: &elapsed}
	if err := s.series.AppendDetail(now.Format(dayFormat), cfg, detail); err != nil {
		s.logger.Error().Err(err).Str("sqid", cfg.Sqid).Msg("append detail")
	}
	if report.Metrics != nil {
		sample := models.AgentSample{Unix: now.Unix(), CPU: report.Metrics.CPU, Memory: report.Metrics.Memory}
		if err := s.series.AppendAgentSample(now.Format(dayFormat), cfg.Sqid, sample); err != nil {
			s.logger.Error().Err(err).Str("sqid", cfg.Sqid).Msg("append agent sample")
		}
	}

	if err := s.applySpan(report, now, env.ElapsedMS); err != nil {
		s.logger.Error().Err(err).Str("sqid", cfg.Sqid).Msg("update pulse")
	}

	if !cfg.IsAgent() {
		if err := s.applyCounter(report, now); err != nil {
			s.logger.Error().Err(err).Str("sqid", cfg.Sqid).Msg("update counter")
		}
	}

	// Real-time viewers want every sample, not only span boundaries.
	s.bus.Notify(models.PulseEvent{
		Sqid:      cfg.Sqid,
		Group:     cfg.Group,
		Name:      cfg.Name,
		State:     report.State,
		Timestamp: now,
		ElapsedMS: env.ElapsedMS,
	})
}

// applySpan runs the span state machine: extend when nothing changed, start
// a fresh span after a restart gap, close-and-reopen with a state-changed
// event otherwise.
func (s *Store) applySpan(report models.Report, now time.Time, elapsedMS int64) error {
	cfg := report.Config

	current, exists, err := s.pulses.Get(cfg.Sqid)
	if err != nil {
		return err
	}

	stale := exists && now.Sub(current.LastUpdated) > staleFactor*s.interval
	switch {
	case !exists || stale:
		return s.startSpan(report, now, elapsedMS)
	case sameSpan(current, report):
		return s.extendSpan(current, report, now, elapsedMS)
	default:
		s.emitChange(current, report, now)
		return s.startSpan(report, now, elapsedMS)
	}
}

// startSpan writes a fresh pulse row to the live table and its bounded
// recent duplicate. Both sinks are best-effort adjacent.
func (s *Store) startSpan(report models.Report, now time.Time, elapsedMS int64) error {
	p := models.Pulse{
		Sqid:          report.Config.Sqid,
		Group:         report.Config.Group,
		Name:          report.Config.Name,
		State:         report.State,
		Message:       report.Message,
		Error:         report.Error,
		Created:       now,
		LastUpdated:   now,
		LastElapsedMS: elapsedMS,
	}
	err := s.pulses.Put(p)
	if recentErr := s.pulses.InsertRecent(p); recentErr != nil {
		s.logger.Error().Err(recentErr).Str("sqid", p.Sqid).Msg("insert recent pulse")
	}
	return err
}

// extendSpan bumps only last_updated and last_elapsed_ms. A lost optimistic
// write is retried once against a fresh read, never silently dropped.
func (s *Store) extendSpan(current models.Pulse, report models.Report, now time.Time, elapsedMS int64) error {
	done, err := s.pulses.Extend(current.Sqid, current.LastUpdated, now, elapsedMS)
	if err != nil || done {
		return err
	}

	fresh, exists, err := s.pulses.Get(current.Sqid)
	if err != nil {
		return err
	}
	if !exists {
		return s.startSpan(report, now, elapsedMS)
	}
	if sameSpan(fresh, report) {
		_, err := s.pulses.Extend(fresh.Sqid, fresh.LastUpdated, now, elapsedMS)
		return err
	}
	s.emitChange(fresh, report, now)
	return s.startSpan(report, now, elapsedMS)
}

// applyCounter maintains the consecutive-failure count and fires the
// threshold event exactly once, on equality, as the count climbs through the
// configured threshold.
func (s *Store) applyCounter(report models.Report, now time.Time) error {
	if report.State == models.Healthy {
		return s.counters.Reset(report.Config.Sqid)
	}

	count, since, err := s.counters.Bump(report.Config.Sqid, now)
	if err != nil {
		return err
	}
	if s.threshold > 0 && count == s.threshold {
		s.emit(models.WebhookEnvelope{
			Kind: models.EventThreshold,
			Threshold: &models.ThresholdEvent{
				Sqid:           report.Config.Sqid,
				Group:          report.Config.Group,
				Name:           report.Config.Name,
				Since:          since,
				ThresholdCount: count,
			},
		})
	}
	return nil
}

func (s *Store) emitChange(current models.Pulse, report models.Report, now time.Time) {
	s.emit(models.WebhookEnvelope{
		Kind: models.EventStateChanged,
		Change: &models.ChangeEvent{
			Sqid:            report.Config.Sqid,
			Group:           report.Config.Group,
			Name:            report.Config.Name,
			OldState:        current.State,
			NewState:        report.State,
			Timestamp:       now,
			DurationMinutes: now.Sub(current.Created).Minutes(),
			Message:         report.Message,
		},
	})
}

func (s *Store) emit(env models.WebhookEnvelope) {
	body, err := json.Marshal(env)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", env.Kind).Msg("marshal webhook event")
		return
	}
	if err := s.outbox.Post(body); err != nil {
		s.logger.Error().Err(err).Str("kind", env.Kind).Msg("queue webhook event")
	}
}

// sameSpan reports whether the report continues the stored span.
func sameSpan(p models.Pulse, r models.Report) bool {
	return p.State == r.State && p.Message == r.Message && p.Error == r.Error
}
