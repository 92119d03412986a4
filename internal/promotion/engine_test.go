package promotion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/fenwick/mnemon/internal/apperr"
	"github.com/fenwick/mnemon/internal/canonlog"
	"github.com/fenwick/mnemon/internal/models"
)

type fakeProjector struct {
	upserted []models.Entry
}

func (f *fakeProjector) Upsert(_ context.Context, entries []models.Entry) (int, error) {
	f.upserted = append(f.upserted, entries...)
	return len(entries), nil
}

func testEngine(t *testing.T) (*Engine, *canonlog.Log, *fakeProjector) {
	t.Helper()
	source, err := canonlog.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	log := canonlog.New(source)
	proj := &fakeProjector{}
	engine := New(log, proj, Config{MaxDepth: 3, Threshold: 0.3, DecayK: 2.0, Policy: PolicySigmoid})
	engine.WithClock(func() time.Time { return time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC) })
	return engine, log, proj
}

func TestEvaluateDepthZeroAllowed(t *testing.T) {
	engine, _, _ := testEngine(t)
	decision, err := engine.Evaluate(models.Entry{ID: "x", PromotionDepth: 0})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Decision != models.DecisionAllowed {
		t.Errorf("decision = %s, want ALLOWED (0.5 > 0.3)", decision.Decision)
	}
	if decision.Probability != 0.5 {
		t.Errorf("probability = %f", decision.Probability)
	}
}

func TestEvaluateDepthOneBlockedByThreshold(t *testing.T) {
	engine, _, _ := testEngine(t)
	decision, err := engine.Evaluate(models.Entry{ID: "x", PromotionDepth: 1})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Decision != models.DecisionBlocked {
		t.Errorf("decision = %s, want BLOCKED (~0.119 <= 0.3)", decision.Decision)
	}
	if decision.BlockReason != models.ReasonBelowThreshold {
		t.Errorf("reason = %s", decision.BlockReason)
	}
}

func TestEvaluateHardStopAtMaxDepth(t *testing.T) {
	engine, _, _ := testEngine(t)
	for _, depth := range []int{3, 4, 10} {
		decision, err := engine.Evaluate(models.Entry{ID: "x", PromotionDepth: depth})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if decision.Decision != models.DecisionBlocked || decision.BlockReason != models.ReasonDepthExceeded {
			t.Errorf("depth %d: decision=%s reason=%s", depth, decision.Decision, decision.BlockReason)
		}
	}
}

func TestPromoteAppendsDerivedEntry(t *testing.T) {
	engine, log, proj := testEngine(t)
	source, err := log.Append("alice", "an insight worth keeping", models.KindEvent, 0)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	decision, err := engine.Promote(context.Background(), source.ID, "held up over three sprints")
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if decision.Decision != models.DecisionAllowed {
		t.Fatalf("decision = %s", decision.Decision)
	}
	if decision.NewEntry == nil {
		t.Fatal("NewEntry not set")
	}
	if decision.NewEntry.PromotionDepth != 1 {
		t.Errorf("new depth = %d, want 1", decision.NewEntry.PromotionDepth)
	}
	if decision.NewEntry.Kind != models.KindPromotion {
		t.Errorf("new kind = %q", decision.NewEntry.Kind)
	}
	if decision.NewEntry.ID == source.ID {
		t.Error("derived entry must have a new id")
	}
	if len(proj.upserted) != 1 {
		t.Errorf("upserted = %d entries, want 1", len(proj.upserted))
	}

	// The source must be untouched and the derived entry durable.
	entries, _, err := log.Load("alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 (source + derived)", len(entries))
	}
	var derived *models.Entry
	for i := range entries {
		if entries[i].ID == decision.NewEntry.ID {
			derived = &entries[i]
		}
	}
	if derived == nil {
		t.Fatal("derived entry not found on reload")
	}
	if derived.PromotionDepth != 1 {
		t.Errorf("reloaded depth = %d, want 1", derived.PromotionDepth)
	}
}

func TestPromoteSecondHopBlocked(t *testing.T) {
	engine, log, _ := testEngine(t)
	source, _ := log.Append("alice", "an insight worth keeping", models.KindEvent, 0)

	first, err := engine.Promote(context.Background(), source.ID, "initial promotion")
	if err != nil {
		t.Fatalf("first Promote: %v", err)
	}

	second, err := engine.Promote(context.Background(), first.NewEntry.ID, "promote the promotion")
	if err != nil {
		t.Fatalf("second Promote: %v", err)
	}
	if second.Decision != models.DecisionBlocked {
		t.Errorf("second promotion = %s, want BLOCKED at threshold 0.3", second.Decision)
	}
	if second.NewEntry != nil {
		t.Error("blocked promotion must not append")
	}
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	long := strings.Repeat("é", 100)
	got := truncate(long, 80)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate split a rune: %q", got)
	}
	if got != strings.Repeat("é", 80)+"..." {
		t.Errorf("truncate = %q", got)
	}
	if truncate("short", 80) != "short" {
		t.Error("short string must pass through unchanged")
	}
}

func TestPromoteValidation(t *testing.T) {
	engine, log, _ := testEngine(t)
	source, _ := log.Append("alice", "content", models.KindEvent, 0)

	if _, err := engine.Promote(context.Background(), source.ID, "  "); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Errorf("blank reason err = %v", err)
	}
	if _, err := engine.Promote(context.Background(), "no-such-id", "valid reason"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing entry err = %v", err)
	}
}
