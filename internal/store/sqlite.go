package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go driver

	"github.com/ivlev/tacticboard/internal/board"
)

// SQLite persists boards and their pages in a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and runs
// migrations.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)",
		path, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_private INTEGER NOT NULL DEFAULT 0,
		tags TEXT NOT NULL DEFAULT '[]',
		created_by TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS pages (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		content TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pages_board_position ON pages(board_id, position);
	`

	_, err := s.db.Exec(schema)
	return err
}

// PutBoard imports b, replacing any board with the same id. Pages without
// an id get one.
func (s *SQLite) PutBoard(ctx context.Context, b *board.Board) error {
	tags, err := json.Marshal(b.Tags)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE board_id = ?`, b.ID); err != nil {
		return err
	}
	query := `
	INSERT INTO boards (id, name, is_private, tags, created_by)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		is_private = excluded.is_private,
		tags = excluded.tags,
		created_by = excluded.created_by
	`
	if _, err := tx.ExecContext(ctx, query, b.ID, b.Name, b.IsPrivate, string(tags), b.CreatedBy); err != nil {
		return err
	}

	for i := range b.Pages {
		id := b.Pages[i].ID
		if id == "" {
			id = uuid.NewString()
		}
		content, err := board.MarshalPage(b.Pages[i])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pages (id, board_id, position, content) VALUES (?, ?, ?, ?)`,
			id, b.ID, i, string(content)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) GetBoard(ctx context.Context, boardID string) (*board.Board, error) {
	var (
		b    board.Board
		tags string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, is_private, tags, created_by FROM boards WHERE id = ?`, boardID).
		Scan(&b.ID, &b.Name, &b.IsPrivate, &tags, &b.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBoardNotFound, boardID)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &b.Tags); err != nil {
		return nil, fmt.Errorf("board %s tags: %w", boardID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content FROM pages WHERE board_id = ? ORDER BY position`, boardID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, err
		}
		p, err := board.UnmarshalPage([]byte(content))
		if err != nil {
			return nil, fmt.Errorf("page %s: %w", id, err)
		}
		p.ID = id
		b.Pages = append(b.Pages, p)
	}
	return &b, rows.Err()
}

func (s *SQLite) CreatePage(ctx context.Context, boardID string, page board.Page) (string, error) {
	content, err := board.MarshalPage(page)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	query := `
	INSERT INTO pages (id, board_id, position, content)
	SELECT ?, id, (SELECT COALESCE(MAX(position), -1) + 1 FROM pages WHERE board_id = ?), ?
	FROM boards WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query, id, boardID, string(content), boardID)
	if err != nil {
		return "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("%w: %s", ErrBoardNotFound, boardID)
	}
	return id, nil
}

func (s *SQLite) UpdatePage(ctx context.Context, boardID, pageID string, page board.Page) error {
	content, err := board.MarshalPage(page)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pages SET content = ? WHERE id = ? AND board_id = ?`, string(content), pageID, boardID)
	if err != nil {
		return err
	}
	return expectRow(res, pageID)
}

func (s *SQLite) DeletePage(ctx context.Context, boardID, pageID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pages WHERE id = ? AND board_id = ?`, pageID, boardID)
	if err != nil {
		return err
	}
	return expectRow(res, pageID)
}

func expectRow(res sql.Result, pageID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrPageNotFound, pageID)
	}
	return nil
}
