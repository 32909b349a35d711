package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// searchCandidates bounds the brute-force distance scan before filters
// and topK are applied.
const searchCandidates = 256

// SQLiteIndex is an embedded vector index on sqlite-vec. It serves
// local single-node deployments and tests; the contract is identical to
// the Qdrant adapter.
type SQLiteIndex struct {
	db        *sql.DB
	dimension int
}

// NewSQLiteIndex opens (or creates) the index database.
func NewSQLiteIndex(path string, dimension int) (*SQLiteIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dimension)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	// Single writer; avoid SQLITE_BUSY under concurrent upserts.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS points (
			chunk_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			priority INTEGER NOT NULL,
			tags TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_points_tenant ON points(tenant_id);

		CREATE VIRTUAL TABLE IF NOT EXISTS vectors USING vec0(
			chunk_id TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, dimension)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}

	return &SQLiteIndex{db: db, dimension: dimension}, nil
}

// Close closes the underlying database.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

func (s *SQLiteIndex) Upsert(ctx context.Context, tenantID string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	for _, p := range points {
		if len(p.Vector) != s.dimension {
			return fmt.Errorf("vector for chunk %s has dimension %d, want %d", p.ChunkID, len(p.Vector), s.dimension)
		}

		// A chunk id already owned by another tenant is never replaced.
		var owner string
		err := tx.QueryRowContext(ctx, "SELECT tenant_id FROM points WHERE chunk_id = ?", p.ChunkID).Scan(&owner)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if err == nil && owner != tenantID {
			return fmt.Errorf("chunk %s belongs to another tenant", p.ChunkID)
		}

		tags, err := json.Marshal(p.Meta.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO points (chunk_id, tenant_id, document_id, seq, priority, tags, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ChunkID, tenantID, p.Meta.DocumentID, p.Meta.Seq, p.Meta.Priority, string(tags), p.Meta.CreatedAt,
		); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		vec, err := json.Marshal(p.Vector)
		if err != nil {
			return fmt.Errorf("failed to marshal vector: %w", err)
		}
		// vec0 virtual tables reject INSERT OR REPLACE; replace by hand.
		if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE chunk_id = ?", p.ChunkID); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO vectors (chunk_id, embedding) VALUES (?, ?)",
			p.ChunkID, string(vec),
		); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteIndex) Delete(ctx context.Context, tenantID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	for _, id := range chunkIDs {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM points WHERE chunk_id = ? AND tenant_id = ?", id, tenantID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		// Only remove the vector when the tenant owned the point;
		// deleting a non-existent id stays a no-op.
		if n, _ := res.RowsAffected(); n > 0 {
			if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE chunk_id = ?", id); err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteIndex) Search(ctx context.Context, tenantID string, vector []float32, topK int, filters Filters) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, want %d", len(vector), s.dimension)
	}

	queryVec, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query vector: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.chunk_id,
		       vec_distance_cosine(v.embedding, ?) AS distance,
		       p.document_id, p.seq, p.priority, p.tags, p.created_at
		FROM vectors v
		JOIN points p ON p.chunk_id = v.chunk_id
		WHERE p.tenant_id = ?
		ORDER BY distance ASC
		LIMIT ?`,
		string(queryVec), tenantID, searchCandidates,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m        Match
			distance float64
			tags     string
		)
		if err := rows.Scan(&m.ChunkID, &distance, &m.Meta.DocumentID, &m.Meta.Seq, &m.Meta.Priority, &tags, &m.Meta.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		m.Meta.TenantID = tenantID
		m.Score = 1.0 - distance
		if tags != "" {
			if err := json.Unmarshal([]byte(tags), &m.Meta.Tags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tags for chunk %s: %w", m.ChunkID, err)
			}
		}
		if !matchesFilters(m.Meta, filters) {
			continue
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

var _ Index = (*SQLiteIndex)(nil)
