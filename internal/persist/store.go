package persist

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no generation has the requested id
var ErrNotFound = errors.New("generation not found")

// timeLayout is fixed width so created_at sorts as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store keeps the history of generated prompts in SQLite
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new SQLite-backed persistence store at the given path
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &Store{db: db}

	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS generations (
			id                TEXT PRIMARY KEY,
			idea              TEXT NOT NULL,
			raw_output        TEXT,
			final_prompt      TEXT NOT NULL,
			provider          TEXT,
			model             TEXT,
			preset            TEXT,
			max_tokens        INTEGER NOT NULL,
			token_cost        INTEGER NOT NULL,
			branch            TEXT NOT NULL,
			idea_truncated    INTEGER NOT NULL DEFAULT 0,
			negatives_dropped INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_generations_created ON generations(created_at);
	`)
	return err
}

// SaveGeneration inserts g, assigning an id and timestamp when unset
func (s *Store) SaveGeneration(g *Generation) error {
	if g == nil {
		return fmt.Errorf("nil generation")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO generations (id, idea, raw_output, final_prompt, provider, model, preset,
			max_tokens, token_cost, branch, idea_truncated, negatives_dropped, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.Idea, g.RawOutput, g.FinalPrompt, g.Provider, g.Model, g.Preset,
		g.MaxTokens, g.TokenCost, g.Branch, boolToInt(g.IdeaTruncated), boolToInt(g.NegativesDropped),
		g.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// GetGeneration loads one generation by id
func (s *Store) GetGeneration(id string) (*Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+generationColumns+` FROM generations WHERE id = ?`, strings.TrimSpace(id))
	g, err := scanGeneration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// RecentGenerations returns up to limit generations, newest first
func (s *Store) RecentGenerations(limit int) ([]*Generation, error) {
	return s.query(`SELECT `+generationColumns+` FROM generations
		ORDER BY created_at DESC LIMIT ?`, normalizeLimit(limit))
}

// SearchGenerations finds generations whose idea or prompt contains keyword
func (s *Store) SearchGenerations(keyword string, limit int) ([]*Generation, error) {
	pattern := "%" + strings.TrimSpace(keyword) + "%"
	return s.query(`SELECT `+generationColumns+` FROM generations
		WHERE idea LIKE ? OR final_prompt LIKE ?
		ORDER BY created_at DESC LIMIT ?`, pattern, pattern, normalizeLimit(limit))
}

func (s *Store) query(q string, args ...any) ([]*Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

const generationColumns = `id, idea, raw_output, final_prompt, provider, model, preset,
	max_tokens, token_cost, branch, idea_truncated, negatives_dropped, created_at`

func scanGeneration(row scanner) (*Generation, error) {
	var g Generation
	var raw, provider, model, preset sql.NullString
	var ideaTruncated, negativesDropped int
	var createdAt string

	err := row.Scan(&g.ID, &g.Idea, &raw, &g.FinalPrompt, &provider, &model, &preset,
		&g.MaxTokens, &g.TokenCost, &g.Branch, &ideaTruncated, &negativesDropped, &createdAt)
	if err != nil {
		return nil, err
	}
	g.RawOutput = raw.String
	g.Provider = provider.String
	g.Model = model.String
	g.Preset = preset.String
	g.IdeaTruncated = ideaTruncated != 0
	g.NegativesDropped = negativesDropped != 0
	if t, err := time.Parse(timeLayout, createdAt); err == nil {
		g.CreatedAt = t
	}
	return &g, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
