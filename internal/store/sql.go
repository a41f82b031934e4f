package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
)

// Dialect distinguishes the SQL flavours the store speaks.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// Fixed-width UTC timestamps keep lexical and chronological order identical.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		messages TEXT NOT NULL,
		created_at TEXT NOT NULL,
		last_updated TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_sessions_last_updated ON chat_sessions (last_updated)`,
}

const (
	selectSessionSQL = `SELECT id, title, messages, created_at, last_updated FROM chat_sessions WHERE id = ?`
	listSessionsSQL  = `SELECT id, title, messages, created_at, last_updated FROM chat_sessions ORDER BY last_updated DESC`
	upsertSessionSQL = `INSERT INTO chat_sessions (id, title, messages, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title, messages = excluded.messages, last_updated = excluded.last_updated`
	deleteSessionSQL = `DELETE FROM chat_sessions WHERE id = ?`
)

// SQLStore keeps one row per session with the message list as JSON.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens (or creates) a SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return NewSQLStore(ctx, db, DialectSQLite)
}

// OpenPostgres connects to Postgres using a lib/pq DSN.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewSQLStore(ctx, db, DialectPostgres)
}

// NewSQLStore wraps db and creates the schema if needed.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize session schema: %w", err)
		}
	}
	return s, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (chat.Session, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectSessionSQL), id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return session, nil
}

func (s *SQLStore) Put(ctx context.Context, session chat.Session) error {
	if session.ID == "" {
		return ErrSessionIDEmpty
	}

	messages := session.Messages
	if messages == nil {
		messages = []chat.Message{}
	}
	encoded, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(upsertSessionSQL),
		session.ID,
		session.Title,
		string(encoded),
		session.CreatedAt.UTC().Format(timeLayout),
		session.LastUpdated.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("put session %s: %w", session.ID, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(deleteSessionSQL), id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]chat.Session, error) {
	rows, err := s.db.QueryContext(ctx, listSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []chat.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var builder strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			builder.WriteByte('$')
			builder.WriteString(strconv.Itoa(n))
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (chat.Session, error) {
	var (
		session              chat.Session
		messages             string
		createdAt, updatedAt string
	)
	if err := row.Scan(&session.ID, &session.Title, &messages, &createdAt, &updatedAt); err != nil {
		return chat.Session{}, err
	}

	if err := json.Unmarshal([]byte(messages), &session.Messages); err != nil {
		return chat.Session{}, fmt.Errorf("decode messages: %w", err)
	}

	var err error
	if session.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return chat.Session{}, fmt.Errorf("parse created_at: %w", err)
	}
	if session.LastUpdated, err = time.Parse(timeLayout, updatedAt); err != nil {
		return chat.Session{}, fmt.Errorf("parse last_updated: %w", err)
	}
	return session, nil
}
