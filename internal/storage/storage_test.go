package storage

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"pulsewatch/internal/models"
)

var testDBSeq atomic.Int64

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:storage_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := InitDB(dsn)
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConfigRepoAssignsUniqueSqids(t *testing.T) {
	repo := NewConfigRepo(setupTestDB(t))

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		cfg, err := repo.Add(models.Configuration{
			Name:     fmt.Sprintf("svc-%d", i),
			Type:     models.TypeStatus,
			Location: "https://example.com/health",
			Enabled:  true,
		})
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if cfg.Sqid == "" {
			t.Fatal("Add returned empty sqid")
		}
		if seen[cfg.Sqid] {
			t.Fatalf("sqid %s assigned twice", cfg.Sqid)
		}
		seen[cfg.Sqid] = true
	}
}

func TestConfigRepoGetEnabled(t *testing.T) {
	repo := NewConfigRepo(setupTestDB(t))

	on, err := repo.Add(models.Configuration{
		Group: "payments", Name: "api", Type: models.TypeStatus,
		Location: "https://example.com", TimeoutMS: 5000, Enabled: true,
		Headers: map[string]string{"Authorization": "Bearer x"},
	})
	if err != nil {
		t.Fatal(err)
	}
	off, err := repo.Add(models.Configuration{
		Group: "payments", Name: "worker", Type: models.TypeStatus,
		Location: "https://example.com", Enabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.SetEnabled(off.Sqid, false); err != nil {
		t.Fatal(err)
	}

	enabled, err := repo.GetEnabled()
	if err != nil {
		t.Fatal(err)
	}
	if len(enabled) != 1 || enabled[0].Sqid != on.Sqid {
		t.Fatalf("GetEnabled = %+v, expected only %s", enabled, on.Sqid)
	}
	if enabled[0].Headers["Authorization"] != "Bearer x" {
		t.Errorf("headers not round-tripped: %+v", enabled[0].Headers)
	}
}

func TestPulseRepoPutGetExtend(t *testing.T) {
	repo := NewPulseRepo(setupTestDB(t))

	t0 := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	p := models.Pulse{
		Sqid: "ab12cd", Group: "g", Name: "n",
		State: models.Healthy, Message: "status code 200",
		Created: t0, LastUpdated: t0, LastElapsedMS: 80,
	}
	if err := repo.Put(p); err != nil {
		t.Fatal(err)
	}

	got, exists, err := repo.Get("ab12cd")
	if err != nil || !exists {
		t.Fatalf("Get: exists=%v err=%v", exists, err)
	}
	if got.State != models.Healthy || !got.Created.Equal(t0) {
		t.Fatalf("Get = %+v", got)
	}

	t1 := t0.Add(5 * time.Minute)
	done, err := repo.Extend("ab12cd", t0, t1, 95)
	if err != nil || !done {
		t.Fatalf("Extend: done=%v err=%v", done, err)
	}

	got, _, err = repo.Get("ab12cd")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Created.Equal(t0) {
		t.Errorf("Extend moved creation to %v, expected %v", got.Created, t0)
	}
	if !got.LastUpdated.Equal(t1) || got.LastElapsedMS != 95 {
		t.Errorf("Extend did not bump lastUpdated/elapsed: %+v", got)
	}
}

func TestPulseRepoExtendConflict(t *testing.T) {
	repo := NewPulseRepo(setupTestDB(t))

	t0 := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	if err := repo.Put(models.Pulse{Sqid: "x", Name: "n", State: models.Healthy, Created: t0, LastUpdated: t0}); err != nil {
		t.Fatal(err)
	}

	stale := t0.Add(-time.Minute)
	done, err := repo.Extend("x", stale, t0.Add(time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Error("Extend with stale last_updated succeeded, expected conflict")
	}
}

func TestPulseRepoRecentWindowAndPrune(t *testing.T) {
	repo := NewPulseRepo(setupTestDB(t))

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	old := models.Pulse{Sqid: "old", Name: "o", State: models.Healthy, Created: now.Add(-3 * time.Hour), LastUpdated: now.Add(-3 * time.Hour)}
	fresh := models.Pulse{Sqid: "new", Name: "f", State: models.Unhealthy, Created: now.Add(-10 * time.Minute), LastUpdated: now}
	for _, p := range []models.Pulse{old, fresh} {
		if err := repo.InsertRecent(p); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := repo.Recent(time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].Sqid != "new" {
		t.Fatalf("Recent = %+v, expected only the fresh row", recent)
	}

	if err := repo.PruneRecent(time.Hour, now); err != nil {
		t.Fatal(err)
	}
	all, err := repo.Recent(24*time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("prune kept %d rows, expected 1", len(all))
	}
}

func TestCounterRepoBumpAndReset(t *testing.T) {
	repo := NewCounterRepo(setupTestDB(t))

	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	count, since, err := repo.Bump("s1", now)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 || !since.Equal(now) {
		t.Fatalf("first bump = %d since %v", count, since)
	}

	later := now.Add(5 * time.Minute)
	count, since, err = repo.Bump("s1", later)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("second bump = %d, expected 2", count)
	}
	if !since.Equal(now) {
		t.Errorf("since moved to %v, expected window start %v", since, now)
	}

	if err := repo.Reset("s1"); err != nil {
		t.Fatal(err)
	}
	got, err := repo.Get("s1")
	if err != nil || got != 0 {
		t.Fatalf("after reset Get = %d err=%v, expected 0", got, err)
	}

	count, since, err = repo.Bump("s1", later)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 || !since.Equal(later) {
		t.Fatalf("bump after reset = %d since %v, expected new window", count, since)
	}
}

func TestSeriesRepoAppendCreatesThenGrows(t *testing.T) {
	repo := NewSeriesRepo(setupTestDB(t))
	cfg := models.Configuration{Sqid: "s1", Group: "g", Name: "n"}

	elapsed := int64(120)
	first := models.Detail{State: models.Healthy, Unix: 100, ElapsedMS: &elapsed}
	if err := repo.AppendDetail("2026-08-31", cfg, first); err != nil {
		t.Fatal(err)
	}
	second := models.Detail{State: models.TimedOut, Unix: 400}
	if err := repo.AppendDetail("2026-08-31", cfg, second); err != nil {
		t.Fatal(err)
	}

	c, exists, err := repo.GetDay("2026-08-31", "s1")
	if err != nil || !exists {
		t.Fatalf("GetDay: exists=%v err=%v", exists, err)
	}
	if c.Group != "g" || c.Name != "n" {
		t.Errorf("header = %+v", c)
	}
	if len(c.Details) != 2 {
		t.Fatalf("got %d details, expected 2", len(c.Details))
	}
	if c.Details[1].State != models.TimedOut || c.Details[1].ElapsedMS != nil {
		t.Errorf("second detail = %+v", c.Details[1])
	}
}

func TestSeriesRepoAgentSamples(t *testing.T) {
	repo := NewSeriesRepo(setupTestDB(t))

	if err := repo.AppendAgentSample("2026-08-31", "vm1", models.AgentSample{Unix: 10, CPU: 50, Memory: 70}); err != nil {
		t.Fatal(err)
	}
	if err := repo.AppendAgentSample("2026-08-31", "vm1", models.AgentSample{Unix: 310, CPU: 55.5, Memory: 71}); err != nil {
		t.Fatal(err)
	}

	var body string
	db := repo.db
	if err := db.QueryRow("SELECT body FROM agent_containers WHERE day = ? AND sqid = ?", "2026-08-31", "vm1").Scan(&body); err != nil {
		t.Fatal(err)
	}
	want := "2026-08-31;vm1>10;50;70|310;55.5;71"
	if body != want {
		t.Errorf("agent container body = %q, expected %q", body, want)
	}
}

func TestSeriesRepoStaleDaysAndArchiveAppend(t *testing.T) {
	repo := NewSeriesRepo(setupTestDB(t))
	cfg := models.Configuration{Sqid: "s1", Name: "n"}

	if err := repo.AppendDetail("2026-08-30", cfg, models.Detail{State: models.Healthy, Unix: 1}); err != nil {
		t.Fatal(err)
	}
	if err := repo.AppendDetail("2026-08-31", cfg, models.Detail{State: models.Healthy, Unix: 2}); err != nil {
		t.Fatal(err)
	}

	stale, err := repo.StaleDays("2026-08-31")
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].Day != "2026-08-30" {
		t.Fatalf("StaleDays = %+v", stale)
	}

	if err := repo.AppendArchiveDetail("2026", "s1", "", "n", models.Detail{State: models.Healthy, Unix: 1}); err != nil {
		t.Fatal(err)
	}
	archive, exists, err := repo.GetArchive("2026", "s1")
	if err != nil || !exists {
		t.Fatalf("GetArchive: exists=%v err=%v", exists, err)
	}
	if archive.Day != "2026" || len(archive.Details) != 1 {
		t.Fatalf("archive = %+v", archive)
	}

	if err := repo.DeleteDay("2026-08-30", "s1"); err != nil {
		t.Fatal(err)
	}
	if _, exists, _ := repo.GetDay("2026-08-30", "s1"); exists {
		t.Error("day container still present after delete")
	}
}

func TestWebhookRepoEnabledAndDefaults(t *testing.T) {
	repo := NewWebhookRepo(setupTestDB(t))

	w, err := repo.Add(models.Webhook{URL: "https://hooks.example.com/a", Secret: "s3cret", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if w.ID == "" || w.Group != "*" || w.Name != "*" {
		t.Fatalf("Add defaults = %+v", w)
	}

	disabled, err := repo.Add(models.Webhook{URL: "https://hooks.example.com/b", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.SetEnabled(disabled.ID, false); err != nil {
		t.Fatal(err)
	}

	hooks, err := repo.Enabled()
	if err != nil {
		t.Fatal(err)
	}
	if len(hooks) != 1 || hooks[0].ID != w.ID || hooks[0].Secret != "s3cret" {
		t.Fatalf("Enabled = %+v", hooks)
	}
}
