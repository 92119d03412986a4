package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fenwick/mnemon/internal/canonlog"
	"github.com/fenwick/mnemon/internal/compiler"
	"github.com/fenwick/mnemon/internal/memoryservice"
	"github.com/fenwick/mnemon/internal/models"
	"github.com/fenwick/mnemon/internal/promotion"
	"github.com/fenwick/mnemon/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	_, source := testutil.TestStateDir(t)
	log := canonlog.New(source)
	store := testutil.TestStore(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := memoryservice.New(log, store,
		promotion.Config{MaxDepth: 3, Threshold: 0.3, DecayK: 2.0, Policy: promotion.PolicySigmoid},
		compiler.Config{TokenBudget: 2000, TopK: 20, StrictEntity: true, DecayK: 2.0, MaxDepth: 3, RecencyDays: 30, RecencyBoost: 1.2},
		logger)

	return New(svc)
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "compile_context":
		result, err = srv.compileContext(ctx, req)
	case "append_memory":
		result, err = srv.appendMemory(ctx, req)
	case "evaluate_promotion":
		result, err = srv.evaluatePromotion(ctx, req)
	case "list_memories":
		result, err = srv.listMemories(ctx, req)
	case "read_memory":
		result, err = srv.readMemory(ctx, req)
	case "filter_memories":
		result, err = srv.filterMemories(ctx, req)
	case "get_vector_stats":
		result, err = srv.getVectorStats(ctx, req)
	case "export_embeddings":
		result, err = srv.exportEmbeddings(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestAppendAndReadMemory(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "append_memory", map[string]interface{}{
		"entity_id": "alice",
		"content":   "decided to expose memories over mcp",
	})
	if r.IsError {
		t.Fatalf("append error: %s", resultText(r))
	}
	var entry models.Entry
	if err := json.Unmarshal([]byte(resultText(r)), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.ID == "" || entry.Author != "alice" {
		t.Errorf("entry = %+v", entry)
	}

	r = callTool(t, srv, "read_memory", map[string]interface{}{"entry_id": entry.ID})
	if r.IsError {
		t.Fatalf("read error: %s", resultText(r))
	}
	var got models.Entry
	_ = json.Unmarshal([]byte(resultText(r)), &got)
	if got.ID != entry.ID {
		t.Errorf("read id = %s", got.ID)
	}
}

func TestReadMemoryMissing(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "read_memory", map[string]interface{}{"entry_id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing memory")
	}
}

func TestAppendMemoryRequiresArgs(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "append_memory", map[string]interface{}{"entity_id": "alice"})
	if !r.IsError {
		t.Error("expected error without content")
	}
}

func TestCompileContextTool(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "append_memory", map[string]interface{}{
		"entity_id": "alice",
		"content":   "notes about vector retrieval quality",
	})

	r := callTool(t, srv, "compile_context", map[string]interface{}{
		"task":      "how is retrieval quality",
		"entity_id": "alice",
	})
	if r.IsError {
		t.Fatalf("compile error: %s", resultText(r))
	}
	var envelope models.ContextEnvelope
	if err := json.Unmarshal([]byte(resultText(r)), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.EntityID != "alice" {
		t.Errorf("entity = %s", envelope.EntityID)
	}
}

func TestEvaluatePromotionTool(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "append_memory", map[string]interface{}{
		"entity_id": "alice",
		"content":   "an insight worth promoting",
	})
	var entry models.Entry
	_ = json.Unmarshal([]byte(resultText(r)), &entry)

	// Evaluate only.
	r = callTool(t, srv, "evaluate_promotion", map[string]interface{}{"entry_id": entry.ID})
	if r.IsError {
		t.Fatalf("evaluate error: %s", resultText(r))
	}
	var decision models.PromotionDecision
	_ = json.Unmarshal([]byte(resultText(r)), &decision)
	if decision.Decision != models.DecisionAllowed || decision.NewEntry != nil {
		t.Errorf("decision = %+v", decision)
	}

	// Apply without a reason fails.
	r = callTool(t, srv, "evaluate_promotion", map[string]interface{}{
		"entry_id": entry.ID,
		"apply":    true,
	})
	if !r.IsError {
		t.Error("apply without reason should fail")
	}

	// Apply with a reason appends.
	r = callTool(t, srv, "evaluate_promotion", map[string]interface{}{
		"entry_id": entry.ID,
		"apply":    true,
		"reason":   "held up across sessions",
	})
	if r.IsError {
		t.Fatalf("apply error: %s", resultText(r))
	}
	_ = json.Unmarshal([]byte(resultText(r)), &decision)
	if decision.NewEntry == nil || decision.NewEntry.PromotionDepth != 1 {
		t.Errorf("applied decision = %+v", decision)
	}
}

func TestFilterMemoriesTool(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "append_memory", map[string]interface{}{
		"entity_id": "alice", "content": "plain event",
	})
	callTool(t, srv, "append_memory", map[string]interface{}{
		"entity_id": "alice", "content": "Reflection: what worked well", "kind": "reflection",
	})

	r := callTool(t, srv, "filter_memories", map[string]interface{}{
		"entity_id": "alice",
		"kind":      "reflection",
	})
	if r.IsError {
		t.Fatalf("filter error: %s", resultText(r))
	}
	var entries []models.Entry
	_ = json.Unmarshal([]byte(resultText(r)), &entries)
	if len(entries) != 1 || entries[0].Kind != models.KindReflection {
		t.Errorf("entries = %+v", entries)
	}
}

func TestStatsAndExportTools(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "append_memory", map[string]interface{}{
		"entity_id": "alice", "content": "counted entry",
	})

	r := callTool(t, srv, "get_vector_stats", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("stats error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), `"total": 1`) {
		t.Errorf("stats = %s", resultText(r))
	}

	r = callTool(t, srv, "export_embeddings", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("export error: %s", resultText(r))
	}
	var records []models.VectorRecord
	_ = json.Unmarshal([]byte(resultText(r)), &records)
	if len(records) != 1 {
		t.Errorf("records = %d", len(records))
	}
}

func TestEntryFormatContract(t *testing.T) {
	if !strings.Contains(EntryFormatContract, "## YYYY-MM-DD: title") {
		t.Error("contract missing heading format")
	}
	if !strings.Contains(EntryFormatContract, "append-only") {
		t.Error("contract missing immutability rule")
	}
}
