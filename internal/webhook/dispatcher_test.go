package webhook

import (
	"context"
	"crypto/hmac"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pulsewatch/internal/models"
	"pulsewatch/internal/queue"
	"pulsewatch/internal/storage"
)

var webhookDBSeq int64

type fixture struct {
	db     *sql.DB
	outbox *queue.Queue
	hooks  *storage.WebhookRepo
	disp   *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:webhook_test_%d?mode=memory&cache=shared", atomic.AddInt64(&webhookDBSeq, 1))
	db, err := storage.InitDB(dsn)
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	outbox := queue.New(db, "webhooks")
	hooks := storage.NewWebhookRepo(db)
	return &fixture{
		db:     db,
		outbox: outbox,
		hooks:  hooks,
		disp:   NewDispatcher(outbox, hooks, zerolog.Nop()),
	}
}

func (f *fixture) addHook(t *testing.T, group, name, url, secret string) {
	t.Helper()
	if _, err := f.hooks.Add(models.Webhook{Group: group, Name: name, URL: url, Secret: secret, Enabled: true}); err != nil {
		t.Fatalf("add webhook: %v", err)
	}
}

func (f *fixture) enqueueChange(t *testing.T, group, name string) {
	t.Helper()
	body, err := json.Marshal(models.WebhookEnvelope{
		Kind: models.EventStateChanged,
		Change: &models.ChangeEvent{
			Sqid: "abc123", Group: group, Name: name,
			OldState: models.Healthy, NewState: models.Unhealthy,
			Timestamp: time.Now().UTC(), DurationMinutes: 5,
		},
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := f.outbox.Post(body); err != nil {
		t.Fatalf("post: %v", err)
	}
}

func TestDrainDeliversSignedPayload(t *testing.T) {
	var (
		gotBody []byte
		gotSig  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
	}))
	defer srv.Close()

	f := newFixture(t)
	f.addHook(t, "payments", "api", srv.URL, "s3cret")
	f.enqueueChange(t, "payments", "api")

	f.disp.Drain(context.Background())

	var ev models.ChangeEvent
	if err := json.Unmarshal(gotBody, &ev); err != nil {
		t.Fatalf("payload was not a bare change event: %v", err)
	}
	if ev.NewState != models.Unhealthy {
		t.Errorf("new state = %s", ev.NewState)
	}
	if !hmac.Equal([]byte(gotSig), []byte(Sign("s3cret", gotBody))) {
		t.Errorf("signature %q does not verify against the body", gotSig)
	}

	if n, _ := f.outbox.Len(); n != 0 {
		t.Errorf("%d messages left unacked", n)
	}
}

func TestDeliverMatchesWildcards(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	var misses int32
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&misses, 1)
	}))
	defer other.Close()

	f := newFixture(t)
	f.addHook(t, "*", "*", srv.URL, "")
	f.addHook(t, "payments", "*", srv.URL, "")
	f.addHook(t, "payments", "api", srv.URL, "")
	f.addHook(t, "billing", "*", other.URL, "")
	f.addHook(t, "payments", "worker", other.URL, "")

	f.enqueueChange(t, "payments", "api")
	f.disp.Drain(context.Background())

	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Errorf("matching hooks hit %d times, expected 3", got)
	}
	if got := atomic.LoadInt32(&misses); got != 0 {
		t.Errorf("non-matching hooks hit %d times", got)
	}
}

func TestDeliverContinuesPastFailingTarget(t *testing.T) {
	var delivered int32
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&delivered, 1)
	}))
	defer good.Close()

	f := newFixture(t)
	f.addHook(t, "*", "*", "http://127.0.0.1:1", "")
	f.addHook(t, "*", "*", good.URL, "")

	f.enqueueChange(t, "payments", "api")
	f.disp.Drain(context.Background())

	if got := atomic.LoadInt32(&delivered); got != 1 {
		t.Errorf("healthy target delivered %d times, expected 1", got)
	}
	if n, _ := f.outbox.Len(); n != 0 {
		t.Errorf("message not acked after partial failure, %d left", n)
	}
}

func TestDrainAcksBadEnvelopes(t *testing.T) {
	f := newFixture(t)
	if err := f.outbox.Post([]byte("not json")); err != nil {
		t.Fatalf("post: %v", err)
	}

	f.disp.Drain(context.Background())

	if n, _ := f.outbox.Len(); n != 0 {
		t.Errorf("poison message still queued, %d left", n)
	}
}

func TestThresholdEnvelopeDelivered(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	f := newFixture(t)
	f.addHook(t, "payments", "api", srv.URL, "")

	body, err := json.Marshal(models.WebhookEnvelope{
		Kind: models.EventThreshold,
		Threshold: &models.ThresholdEvent{
			Sqid: "abc123", Group: "payments", Name: "api",
			Since: time.Now().UTC(), ThresholdCount: 3,
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := f.outbox.Post(body); err != nil {
		t.Fatalf("post: %v", err)
	}

	f.disp.Drain(context.Background())

	var ev models.ThresholdEvent
	if err := json.Unmarshal(gotBody, &ev); err != nil {
		t.Fatalf("payload was not a bare threshold event: %v", err)
	}
	if ev.ThresholdCount != 3 {
		t.Errorf("threshold count = %d", ev.ThresholdCount)
	}
}

func TestDisabledHookSkipped(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	f := newFixture(t)
	hook, err := f.hooks.Add(models.Webhook{URL: srv.URL, Enabled: true})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := f.hooks.SetEnabled(hook.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}

	f.enqueueChange(t, "payments", "api")
	f.disp.Drain(context.Background())

	if got := atomic.LoadInt32(&hits); got != 0 {
		t.Errorf("disabled hook hit %d times", got)
	}
}
