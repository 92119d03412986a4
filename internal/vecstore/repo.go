package vecstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/fenwick/mnemon/internal/apperr"
	"github.com/fenwick/mnemon/internal/embedding"
	"github.com/fenwick/mnemon/internal/fingerprint"
	"github.com/fenwick/mnemon/internal/models"
)

// Filters restricts a query to exact matches on entry metadata.
type Filters struct {
	Author string
	Kind   models.Kind
}

// Candidate is one similarity-ranked query hit.
type Candidate struct {
	EntryID        string      `json:"entry_id"`
	Author         string      `json:"author"`
	Kind           models.Kind `json:"kind"`
	PromotionDepth int         `json:"promotion_depth"`
	TrustWeight    float64     `json:"trust_weight"`
	Similarity     float64     `json:"similarity"`
}

// Stats aggregates vector counts by author, kind, and promotion depth.
type Stats struct {
	Total    int                 `json:"total"`
	Model    string              `json:"model"`
	Dims     int                 `json:"dims"`
	ByAuthor map[string]int      `json:"by_author"`
	ByKind   map[models.Kind]int `json:"by_kind"`
	ByDepth  map[int]int         `json:"by_depth"`
}

// Upsert embeds and stores entries whose ids are not yet present.
// Already-indexed ids are skipped, making incremental reindexing cost
// proportional to changed content. An entry whose content no longer
// hashes to its claimed id aborts with apperr.ErrIDCollision; nothing
// is written in that case.
func (s *Store) Upsert(ctx context.Context, entries []models.Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.allIDs()
	if err != nil {
		return 0, err
	}

	var missing []models.Entry
	for _, e := range entries {
		if fingerprint.ID(e.Content) != e.ID {
			return 0, fmt.Errorf("%w: entry %s", apperr.ErrIDCollision, e.ID)
		}
		if _, ok := existing[e.ID]; ok {
			continue
		}
		missing = append(missing, e)
	}
	if len(missing) == 0 {
		return 0, nil
	}

	vecs, err := s.embedAll(ctx, missing)
	if err != nil {
		return 0, err
	}
	if err := s.insert(missing, vecs, false); err != nil {
		return 0, err
	}
	return len(missing), nil
}

// Rebuild drops every vector and recomputes the projection from
// scratch. Use it after a provider switch or suspected corruption. The
// swap is transactional: concurrent readers observe the old view until
// commit.
func (s *Store) Rebuild(ctx context.Context, entries []models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if fingerprint.ID(e.Content) != e.ID {
			return fmt.Errorf("%w: entry %s", apperr.ErrIDCollision, e.ID)
		}
	}

	vecs, err := s.embedAll(ctx, entries)
	if err != nil {
		return err
	}
	return s.insert(entries, vecs, true)
}

// Query ranks stored vectors by cosine similarity to vec, best first.
// Ties break on entry id for a stable order.
func (s *Store) Query(vec []float32, topK int, f Filters) ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 {
		topK = 20
	}

	query := `SELECT entry_id, author, kind, promotion_depth, trust_weight, embedding FROM vectors`
	var args []any
	switch {
	case f.Author != "" && f.Kind != "":
		query += ` WHERE author = ? AND kind = ?`
		args = append(args, f.Author, string(f.Kind))
	case f.Author != "":
		query += ` WHERE author = ?`
		args = append(args, f.Author)
	case f.Kind != "":
		query += ` WHERE kind = ?`
		args = append(args, string(f.Kind))
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("vecstore: query: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var blob []byte
		if err := rows.Scan(&c.EntryID, &c.Author, &c.Kind, &c.PromotionDepth, &c.TrustWeight, &blob); err != nil {
			return nil, err
		}
		stored, err := decodeVector(blob)
		if err != nil {
			return nil, err
		}
		if len(stored) != len(vec) {
			return nil, fmt.Errorf("%w: stored vector for %s has %d dims, query has %d",
				apperr.ErrDimensionMismatch, c.EntryID, len(stored), len(vec))
		}
		c.Similarity = embedding.CosineSimilarity(vec, stored)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].EntryID < out[j].EntryID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Stats returns vector counts grouped by author, kind, and depth.
func (s *Store) Stats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Stats{
		Model:    s.provider.Model(),
		Dims:     s.provider.Dims(),
		ByAuthor: make(map[string]int),
		ByKind:   make(map[models.Kind]int),
		ByDepth:  make(map[int]int),
	}

	rows, err := s.conn.Query(`SELECT author, kind, promotion_depth FROM vectors`)
	if err != nil {
		return nil, fmt.Errorf("vecstore: stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var author, kind string
		var depth int
		if err := rows.Scan(&author, &kind, &depth); err != nil {
			return nil, err
		}
		st.Total++
		st.ByAuthor[author]++
		st.ByKind[models.Kind(kind)]++
		st.ByDepth[depth]++
	}
	return st, rows.Err()
}

// Export returns every vector record, for inspection and backup.
func (s *Store) Export() ([]models.VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`SELECT entry_id, author, kind, promotion_depth, trust_weight, embedding FROM vectors ORDER BY entry_id`)
	if err != nil {
		return nil, fmt.Errorf("vecstore: export: %w", err)
	}
	defer rows.Close()

	var out []models.VectorRecord
	for rows.Next() {
		var r models.VectorRecord
		var kind string
		var blob []byte
		if err := rows.Scan(&r.EntryID, &r.Author, &kind, &r.PromotionDepth, &r.TrustWeight, &blob); err != nil {
			return nil, err
		}
		r.Kind = models.Kind(kind)
		if r.Embedding, err = decodeVector(blob); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// embedAll embeds entry contents in one batch call.
func (s *Store) embedAll(ctx context.Context, entries []models.Entry) ([][]float32, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Content
	}
	vecs, err := s.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("vecstore: embed: %w", err)
	}
	return vecs, nil
}

// insert writes entry/vector pairs inside one transaction. When drop is
// set, all prior vectors are removed first (rebuild semantics).
func (s *Store) insert(entries []models.Entry, vecs [][]float32, drop bool) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("vecstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if drop {
		if _, err := tx.Exec(`DELETE FROM vectors`); err != nil {
			return fmt.Errorf("vecstore: drop vectors: %w", err)
		}
	}

	stmt, err := tx.Prepare(`
		INSERT INTO vectors (entry_id, author, kind, promotion_depth, trust_weight, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			author          = excluded.author,
			kind            = excluded.kind,
			promotion_depth = excluded.promotion_depth,
			trust_weight    = excluded.trust_weight,
			embedding       = excluded.embedding
	`)
	if err != nil {
		return fmt.Errorf("vecstore: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.Exec(e.ID, e.Author, string(e.Kind), e.PromotionDepth, e.TrustWeight,
			encodeVector(vecs[i]), e.Timestamp); err != nil {
			return fmt.Errorf("vecstore: insert %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) allIDs() (map[string]struct{}, error) {
	rows, err := s.conn.Query(`SELECT entry_id FROM vectors`)
	if err != nil {
		return nil, fmt.Errorf("vecstore: all ids: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}
