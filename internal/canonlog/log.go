package canonlog

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fenwick/mnemon/internal/apperr"
	"github.com/fenwick/mnemon/internal/fingerprint"
	"github.com/fenwick/mnemon/internal/models"
)

// Log reads and appends entries through an injected Source. The log is
// append-only: entries are never edited or reordered, and appends are
// guarded by an optimistic checksum captured at the last read.
type Log struct {
	source   Source
	fallback string
	now      func() time.Time

	mu       sync.Mutex
	lastRead map[string]string // author -> file checksum at last read
}

// Option configures a Log.
type Option func(*Log)

// WithTimestampFallback sets the policy for blocks without a dated
// heading: FallbackIngest (default) or FallbackReject.
func WithTimestampFallback(policy string) Option {
	return func(l *Log) { l.fallback = policy }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates a Log over the given source.
func New(source Source, opts ...Option) *Log {
	l := &Log{
		source:   source,
		fallback: FallbackIngest,
		now:      time.Now,
		lastRead: make(map[string]string),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load parses one author's file into entries sorted by timestamp. A
// missing file is not an error: a new author simply has no history yet.
func (l *Log) Load(author string) ([]models.Entry, []Warning, error) {
	data, err := l.source.Read(author)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.remember(author, "")
			return nil, nil, nil
		}
		return nil, nil, err
	}
	l.remember(author, fingerprint.Sum(data))

	entries, warnings := parseFile(data, author, l.fallback, l.now())
	sortEntries(entries)
	return entries, warnings, nil
}

// LoadAll parses every author file in the source, returning all entries
// sorted by timestamp plus the accumulated parse warnings.
func (l *Log) LoadAll() ([]models.Entry, []Warning, error) {
	metas, err := l.source.List()
	if err != nil {
		return nil, nil, err
	}

	var all []models.Entry
	var warnings []Warning
	for _, m := range metas {
		entries, warns, err := l.Load(m.Author)
		if err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", m.Author, err)
		}
		all = append(all, entries...)
		warnings = append(warnings, warns...)
	}
	sortEntries(all)
	return all, warnings, nil
}

// Append writes a new entry after the last existing entry in the
// author's file. It fails with apperr.ErrWriteConflict when the file
// changed since this Log last read it (accidental concurrent writers).
// Appending content whose normalized hash already exists is a no-op
// that returns the existing entry.
func (l *Log) Append(author, content string, kind models.Kind, depth int) (models.Entry, error) {
	if content == "" {
		return models.Entry{}, fmt.Errorf("%w: empty content", apperr.ErrInvalidRequest)
	}
	if depth < 0 {
		return models.Entry{}, fmt.Errorf("%w: negative promotion depth", apperr.ErrInvalidRequest)
	}
	if kind != "" && !kind.Valid() {
		return models.Entry{}, fmt.Errorf("%w: unknown kind %q", apperr.ErrInvalidRequest, kind)
	}

	// Depth must survive a reload, so entries above depth 0 carry an
	// explicit provenance marker in their content. A marker already
	// embedded in the content wins; it is what the next load will see.
	if dm := depthRe.FindStringSubmatch(content); dm != nil {
		marked, _ := strconv.Atoi(dm[1])
		if depth > 0 && marked != depth {
			return models.Entry{}, fmt.Errorf("%w: promotion depth %d conflicts with embedded marker %d", apperr.ErrInvalidRequest, depth, marked)
		}
		depth = marked
	} else if depth > 0 {
		content = fmt.Sprintf("%s\n\nPromotion-Depth: %d", content, depth)
	}
	if depth > 0 && kind != "" && kind != models.KindPromotion {
		return models.Entry{}, fmt.Errorf("%w: kind %q conflicts with promotion depth %d", apperr.ErrInvalidRequest, kind, depth)
	}

	now := l.now()
	block := formatEntry(models.Entry{Timestamp: now, Content: content})

	// The returned entry is derived from the written block, never from
	// the call parameters, so it matches what the next load parses.
	entry, warn := parseBlock(block, author, FallbackIngest, now)
	if warn != nil {
		return models.Entry{}, fmt.Errorf("%w: %s", apperr.ErrInvalidRequest, warn.Reason)
	}
	if kind != "" && entry.Kind != kind {
		if kindRe.MatchString(block) {
			return models.Entry{}, fmt.Errorf("%w: kind %q conflicts with embedded marker", apperr.ErrInvalidRequest, kind)
		}
		// An explicit kind that inference would not recover needs its
		// own marker to survive a reload.
		content = fmt.Sprintf("%s\n\nKind: %s", content, kind)
		block = formatEntry(models.Entry{Timestamp: now, Content: content})
		entry, warn = parseBlock(block, author, FallbackIngest, now)
		if warn != nil {
			return models.Entry{}, fmt.Errorf("%w: %s", apperr.ErrInvalidRequest, warn.Reason)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.source.Read(author)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		existing = nil
	case err != nil:
		return models.Entry{}, err
	}

	// Optimistic concurrency: the file must be unchanged since the
	// last read observed by this Log.
	if known, ok := l.lastRead[author]; ok {
		current := ""
		if existing != nil {
			current = fingerprint.Sum(existing)
		}
		if known != current {
			return models.Entry{}, fmt.Errorf("%w: %s changed since last read", apperr.ErrWriteConflict, author)
		}
	}

	// Dedup by content id: re-appending identical normalized content
	// must not grow the log.
	parsed, _ := parseFile(existing, author, FallbackIngest, now)
	for _, e := range parsed {
		if e.ID == entry.ID {
			return e, nil
		}
	}

	var buf []byte
	if len(existing) > 0 {
		buf = append(buf, existing...)
		if buf[len(buf)-1] != '\n' {
			buf = append(buf, '\n')
		}
		buf = append(buf, []byte("\n---\n\n")...)
	}
	buf = append(buf, []byte(block)...)
	buf = append(buf, '\n')

	if err := l.source.Write(author, buf); err != nil {
		return models.Entry{}, err
	}
	l.lastRead[author] = fingerprint.Sum(buf)
	return entry, nil
}

// Get returns a single entry by id, scanning all author files.
func (l *Log) Get(id string) (models.Entry, error) {
	entries, _, err := l.LoadAll()
	if err != nil {
		return models.Entry{}, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return models.Entry{}, fmt.Errorf("%w: entry %s", apperr.ErrNotFound, id)
}

func (l *Log) remember(author, checksum string) {
	l.mu.Lock()
	l.lastRead[author] = checksum
	l.mu.Unlock()
}

// sortEntries orders by timestamp, then id for a stable order.
func sortEntries(entries []models.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].ID < entries[j].ID
	})
}
