package canonlog

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fenwick/mnemon/internal/fingerprint"
	"github.com/fenwick/mnemon/internal/models"
)

// Timestamp fallback policies for entry blocks without a dated heading.
const (
	FallbackIngest = "ingest" // use load time
	FallbackReject = "reject" // skip block, report warning
)

var (
	headingRe = regexp.MustCompile(`(?m)^##\s+(\d{4}-\d{2}-\d{2})(?::\s*(.*))?\s*$`)
	depthRe   = regexp.MustCompile(`(?m)^Promotion-Depth:\s*(\d+)\s*$`)
	kindRe    = regexp.MustCompile(`(?m)^Kind:\s*(event|promotion|reflection)\s*$`)
)

// Warning records one entry block that could not be parsed. Parsing is
// never fatal to the whole load; bad blocks are skipped and reported.
type Warning struct {
	Author string `json:"author"`
	Block  int    `json:"block"`
	Reason string `json:"reason"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s block %d: %s", w.Author, w.Block, w.Reason)
}

// ClassifyKind infers an entry kind from lexical cues in its content.
// Best-effort: "promote"/"promotion" language wins over "reflection",
// and everything else is an event. Callers that know the kind should
// set it explicitly instead.
func ClassifyKind(content string) models.Kind {
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "promotion") || strings.Contains(lower, "promote"):
		return models.KindPromotion
	case strings.Contains(lower, "reflection"):
		return models.KindReflection
	default:
		return models.KindEvent
	}
}

// parseFile splits an author file into entries on the horizontal-rule
// delimiter. ingestTime is the fallback timestamp under FallbackIngest.
func parseFile(data []byte, author, fallback string, ingestTime time.Time) ([]models.Entry, []Warning) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	blocks := strings.Split(text, "\n---\n")

	var entries []models.Entry
	var warnings []Warning
	seen := make(map[string]struct{})

	for i, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		entry, warn := parseBlock(block, author, fallback, ingestTime)
		if warn != nil {
			warn.Block = i
			warnings = append(warnings, *warn)
			continue
		}

		// Normalization-equivalent duplicates collide to one id; keep
		// the first occurrence. This is required dedup, not an error.
		if _, dup := seen[entry.ID]; dup {
			continue
		}
		seen[entry.ID] = struct{}{}
		entries = append(entries, entry)
	}
	return entries, warnings
}

// parseBlock parses a single delimited block into an Entry.
func parseBlock(block, author, fallback string, ingestTime time.Time) (models.Entry, *Warning) {
	var ts time.Time
	var title string

	m := headingRe.FindStringSubmatch(block)
	switch {
	case m != nil:
		parsed, err := time.Parse("2006-01-02", m[1])
		if err != nil {
			return models.Entry{}, &Warning{Author: author, Reason: fmt.Sprintf("malformed heading date %q", m[1])}
		}
		ts = parsed
		title = strings.TrimSpace(m[2])
	case fallback == FallbackIngest:
		ts = ingestTime
	default:
		return models.Entry{}, &Warning{Author: author, Reason: "missing dated heading"}
	}

	depth := 0
	if dm := depthRe.FindStringSubmatch(block); dm != nil {
		fmt.Sscanf(dm[1], "%d", &depth)
	}

	kind := ClassifyKind(block)
	if km := kindRe.FindStringSubmatch(block); km != nil {
		kind = models.Kind(km[1])
	}
	if depth > 0 {
		kind = models.KindPromotion
	}

	return models.Entry{
		ID:             fingerprint.ID(block),
		Timestamp:      ts,
		Author:         author,
		Kind:           kind,
		Title:          title,
		Content:        block,
		PromotionDepth: depth,
		TrustWeight:    1.0,
	}, nil
}

// formatEntry renders an entry for appending to an author file. Content
// that already carries a dated heading is written as-is; otherwise a
// heading is generated from the timestamp and the first content line.
func formatEntry(e models.Entry) string {
	content := strings.TrimSpace(e.Content)
	if headingRe.MatchString(content) {
		return content
	}

	title := e.Title
	if title == "" {
		first := strings.SplitN(content, "\n", 2)[0]
		if r := []rune(first); len(r) > 80 {
			first = string(r[:80]) + "..."
		}
		title = first
	}
	return fmt.Sprintf("## %s: %s\n\n%s", e.Timestamp.Format("2006-01-02"), title, content)
}
