package memoryservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/fenwick/mnemon/internal/apperr"
	"github.com/fenwick/mnemon/internal/canonlog"
	"github.com/fenwick/mnemon/internal/compiler"
	"github.com/fenwick/mnemon/internal/models"
	"github.com/fenwick/mnemon/internal/promotion"
	"github.com/fenwick/mnemon/internal/testutil"
)

func testService(t *testing.T) (*Service, string) {
	t.Helper()
	stateDir, source := testutil.TestStateDir(t)
	log := canonlog.New(source)
	store := testutil.TestStore(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(log, store,
		promotion.Config{MaxDepth: 3, Threshold: 0.3, DecayK: 2.0, Policy: promotion.PolicySigmoid},
		compiler.Config{TokenBudget: 2000, TopK: 20, StrictEntity: true, DecayK: 2.0, MaxDepth: 3, RecencyDays: 30, RecencyBoost: 1.2},
		logger)
	return svc, stateDir
}

func seedAuthor(t *testing.T, dir, author, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, author+".md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadIndexesEntries(t *testing.T) {
	svc, dir := testService(t)
	seedAuthor(t, dir, "alice", "## 2025-01-01: one\n\nfirst thought\n\n---\n\n## 2025-01-02: two\n\nsecond thought\n")

	result, err := svc.Load(context.Background(), false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if result.Entries != 2 || result.Indexed != 2 {
		t.Errorf("result = %+v", result)
	}

	// A second load finds nothing new.
	result, err = svc.Load(context.Background(), false)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if result.Indexed != 0 {
		t.Errorf("re-load indexed = %d, want 0", result.Indexed)
	}
}

func TestAppendAndRead(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	entry, err := svc.Append(ctx, "alice", "a note to remember", models.KindEvent, 0)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := svc.Read(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.ID != entry.ID || got.Author != "alice" {
		t.Errorf("read = %+v", got)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("stats total = %d, want appended entry indexed", stats.Total)
	}
}

func TestReadByPrefix(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	entry, err := svc.Append(ctx, "alice", "prefix lookup target", models.KindEvent, 0)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := svc.Read(ctx, entry.ID[:12])
	if err != nil {
		t.Fatalf("Read by prefix: %v", err)
	}
	if got.ID != entry.ID {
		t.Errorf("prefix resolved to %s", got.ID)
	}

	if _, err := svc.Read(ctx, "deadbeef"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown prefix err = %v", err)
	}
	if _, err := svc.Read(ctx, "short"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("sub-minimum prefix err = %v", err)
	}
}

func TestCompileIsolatesEntities(t *testing.T) {
	svc, dir := testService(t)
	seedAuthor(t, dir, "alice", "## 2025-01-01: a\n\nalice thinks about testing\n")
	seedAuthor(t, dir, "bob", "## 2025-01-01: b\n\nbob thinks about testing\n")

	envelope, err := svc.Compile(context.Background(), compiler.Request{
		Task:     "thoughts about testing",
		EntityID: "alice",
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(envelope.Entries) == 0 {
		t.Fatal("no entries compiled")
	}
	for _, e := range envelope.Entries {
		if e.Author != "alice" {
			t.Errorf("strict entity leaked author %s", e.Author)
		}
	}
}

func TestPromoteRoundTrip(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	source, err := svc.Append(ctx, "alice", "an insight that held up", models.KindEvent, 0)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	eval, err := svc.Evaluate(ctx, source.ID)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if eval.Decision != models.DecisionAllowed {
		t.Fatalf("eval = %+v", eval)
	}
	if eval.NewEntry != nil {
		t.Error("Evaluate must not append")
	}

	decision, err := svc.Promote(ctx, source.ID, "validated across sessions")
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if decision.NewEntry == nil || decision.NewEntry.PromotionDepth != 1 {
		t.Fatalf("decision = %+v", decision)
	}

	// The derived entry is readable and indexed immediately.
	if _, err := svc.Read(ctx, decision.NewEntry.ID); err != nil {
		t.Errorf("Read derived: %v", err)
	}
	stats, _ := svc.Stats(ctx)
	if stats.ByDepth[1] != 1 {
		t.Errorf("by depth = %v", stats.ByDepth)
	}
}

func TestFilter(t *testing.T) {
	svc, dir := testService(t)
	seedAuthor(t, dir, "alice", "## 2025-01-01: a\n\nplain event\n\n---\n\n## 2025-01-02: b\n\nReflection: what worked\n")
	seedAuthor(t, dir, "bob", "## 2025-01-03: c\n\nbob event\n")
	ctx := context.Background()

	all, err := svc.Filter(ctx, "", "", -1)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Error("not sorted by timestamp")
		}
	}

	alice, _ := svc.Filter(ctx, "alice", "", -1)
	if len(alice) != 2 {
		t.Errorf("alice = %d", len(alice))
	}

	reflections, _ := svc.Filter(ctx, "", models.KindReflection, -1)
	if len(reflections) != 1 {
		t.Errorf("reflections = %d", len(reflections))
	}

	if _, err := svc.Filter(ctx, "", models.Kind("nope"), -1); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Errorf("bad kind err = %v", err)
	}
}

func TestAppendIndexesParsedMetadata(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	// Content with its own heading and depth marker must be cached and
	// projected exactly as a reload would parse it.
	entry, err := svc.Append(ctx, "alice", "## 2024-01-01: backfilled\n\nold insight\n\nPromotion-Depth: 2", "", 0)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if entry.PromotionDepth != 2 || entry.Kind != models.KindPromotion {
		t.Fatalf("entry = %+v", entry)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ByDepth[2] != 1 {
		t.Errorf("by depth = %v, want the marker depth indexed", stats.ByDepth)
	}

	// A full reload changes nothing.
	if _, err := svc.Load(ctx, false); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := svc.Read(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.PromotionDepth != entry.PromotionDepth || got.Kind != entry.Kind || !got.Timestamp.Equal(entry.Timestamp) {
		t.Errorf("reload = %+v, append = %+v", got, entry)
	}
}

type countingSource struct {
	inner canonlog.Source
	lists int
}

func (c *countingSource) List() ([]canonlog.FileMeta, error) {
	c.lists++
	return c.inner.List()
}

func (c *countingSource) Read(author string) ([]byte, error) { return c.inner.Read(author) }

func (c *countingSource) Write(author string, content []byte) error {
	return c.inner.Write(author, content)
}

func TestEnsureLoadedRunsOnce(t *testing.T) {
	_, source := testutil.TestStateDir(t)
	counting := &countingSource{inner: source}
	log := canonlog.New(counting)
	store := testutil.TestStore(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(log, store,
		promotion.Config{MaxDepth: 3, Threshold: 0.3, DecayK: 2.0, Policy: promotion.PolicySigmoid},
		compiler.Config{TokenBudget: 2000, TopK: 20, StrictEntity: true, DecayK: 2.0, MaxDepth: 3, RecencyDays: 30, RecencyBoost: 1.2},
		logger)
	ctx := context.Background()

	// Two reads on an empty log must not trigger two full loads.
	if _, err := svc.List(ctx, ""); err != nil {
		t.Fatalf("first List: %v", err)
	}
	if _, err := svc.List(ctx, ""); err != nil {
		t.Fatalf("second List: %v", err)
	}
	if counting.lists != 1 {
		t.Errorf("source listed %d times, want 1", counting.lists)
	}
}

func TestExport(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	if _, err := svc.Append(ctx, "alice", "exported entry", models.KindEvent, 0); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err := svc.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d", len(records))
	}
	if len(records[0].Embedding) == 0 {
		t.Error("embedding missing from export")
	}
}
