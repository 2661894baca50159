// Package webhook drains the webhook queue and delivers signed payloads to
// every matching registration.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"pulsewatch/internal/models"
	"pulsewatch/internal/queue"
	"pulsewatch/internal/storage"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body computed
// with the registration's shared secret.
const SignatureHeader = "X-Pulsewatch-Signature"

const receiveBatch = 16

// Dispatcher is the long-lived delivery worker. Delivery is one attempt per
// dequeue; redelivery on crash comes from the queue, not from per-call
// retries, and one target's failure never affects the others.
type Dispatcher struct {
	outbox *queue.Queue
	hooks  *storage.WebhookRepo
	client *http.Client
	logger zerolog.Logger
}

func NewDispatcher(outbox *queue.Queue, hooks *storage.WebhookRepo, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		outbox: outbox,
		hooks:  hooks,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With().Str("component", "webhook").Logger(),
	}
}

// Run drains the webhook queue whenever the signal fires, until cancelled.
func (d *Dispatcher) Run(ctx context.Context, sig *queue.Signal) {
	for {
		if err := sig.Wait(ctx); err != nil {
			d.logger.Info().Msg("webhook worker stopped")
			return
		}
		d.Drain(ctx)
	}
}

// Drain delivers queued events until the queue is empty.
func (d *Dispatcher) Drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := d.outbox.Receive(receiveBatch)
		if err != nil {
			d.logger.Error().Err(err).Msg("receive webhook events")
			return
		}
		if len(msgs) == 0 {
			return
		}

		for _, msg := range msgs {
			if ctx.Err() != nil {
				return
			}
			var env models.WebhookEnvelope
			if err := json.Unmarshal(msg.Body, &env); err != nil {
				d.logger.Error().Err(err).Int64("message", msg.ID).Msg("bad webhook envelope, dropping")
			} else {
				d.Deliver(ctx, env)
			}
			if err := d.outbox.Delete(msg.ID, msg.Receipt); err != nil {
				d.logger.Error().Err(err).Int64("message", msg.ID).Msg("ack webhook event")
			}
		}
	}
}

// Deliver posts one event to every enabled registration whose filters match.
func (d *Dispatcher) Deliver(ctx context.Context, env models.WebhookEnvelope) {
	group, name, payload, err := flatten(env)
	if err != nil {
		d.logger.Error().Err(err).Str("kind", env.Kind).Msg("encode webhook payload")
		return
	}

	hooks, err := d.hooks.Enabled()
	if err != nil {
		d.logger.Error().Err(err).Msg("load webhook registrations")
		return
	}

	for _, hook := range hooks {
		if !hook.Matches(group, name) {
			continue
		}
		if err := d.post(ctx, hook, payload); err != nil {
			d.logger.Error().Err(err).Str("webhook", hook.ID).Str("url", hook.URL).Msg("webhook delivery failed")
		}
	}
}

func (d *Dispatcher) post(ctx context.Context, hook models.Webhook, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(hook.Secret, payload))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status code %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the signature header value for a payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// flatten extracts the event coordinates and serialises the bare event
// shape, not the queue envelope.
func flatten(env models.WebhookEnvelope) (group, name string, payload []byte, err error) {
	switch env.Kind {
	case models.EventStateChanged:
		if env.Change == nil {
			return "", "", nil, fmt.Errorf("state-changed envelope without change event")
		}
		payload, err = json.Marshal(env.Change)
		return env.Change.Group, env.Change.Name, payload, err
	case models.EventThreshold:
		if env.Threshold == nil {
			return "", "", nil, fmt.Errorf("threshold envelope without threshold event")
		}
		payload, err = json.Marshal(env.Threshold)
		return env.Threshold.Group, env.Threshold.Name, payload, err
	default:
		return "", "", nil, fmt.Errorf("unknown event kind %q", env.Kind)
	}
}
