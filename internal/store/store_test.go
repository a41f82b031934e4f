package store

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/onthisday/backend/internal/config"
	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
)

func sampleSession(t *testing.T, at time.Time) chat.Session {
	t.Helper()
	session := chat.NewSession(at)
	session.Append(chat.Message{ID: chat.NewMessageID(), Role: chat.RoleUser, Content: "What happened on June 1, 2024 in history?"}, at)
	session.Append(chat.Message{ID: chat.NewMessageID(), Role: chat.RoleAssistant, Content: "1794: The Glorious First of June."}, at.Add(time.Second))
	return session
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	fileStore, err := NewFileStore(filepath.Join(dir, "sessions.json"))
	require.NoError(t, err)

	sqliteStore, err := OpenSQLite(context.Background(), filepath.Join(dir, "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"sqlite": sqliteStore,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			session := sampleSession(t, time.Date(2026, 10, 18, 8, 0, 0, 123456789, time.UTC))

			require.NoError(t, s.Put(ctx, session))

			got, err := s.Get(ctx, session.ID)
			require.NoError(t, err)
			assert.Equal(t, session.ID, got.ID)
			assert.Equal(t, "June 1, 2024", got.Title)
			assert.Equal(t, session.Messages, got.Messages)
			assert.True(t, session.CreatedAt.Equal(got.CreatedAt))
			assert.True(t, session.LastUpdated.Equal(got.LastUpdated))
		})
	}
}

func TestStoreListOrderUpdateAndDelete(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
			older := sampleSession(t, base)
			newer := sampleSession(t, base.Add(time.Hour))

			require.NoError(t, s.Put(ctx, older))
			require.NoError(t, s.Put(ctx, newer))

			list, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, newer.ID, list[0].ID)

			older.Append(chat.Message{ID: chat.NewMessageID(), Role: chat.RoleUser, Content: "more"}, base.Add(2*time.Hour))
			require.NoError(t, s.Put(ctx, older))

			list, err = s.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, older.ID, list[0].ID)
			assert.Len(t, list[0].Messages, 3)

			require.NoError(t, s.Delete(ctx, newer.ID))
			require.NoError(t, s.Delete(ctx, "never-existed"))

			_, err = s.Get(ctx, newer.ID)
			assert.ErrorIs(t, err, ErrSessionNotFound)

			assert.ErrorIs(t, s.Put(ctx, chat.Session{}), ErrSessionIDEmpty)
		})
	}
}

func TestRestorePicksMostRecent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	older := sampleSession(t, base)
	newer := sampleSession(t, base.Add(time.Minute))
	require.NoError(t, s.Put(ctx, newer))
	require.NoError(t, s.Put(ctx, older))

	restored := Restore(ctx, s, zaptest.NewLogger(t))
	assert.Equal(t, newer.ID, restored.ID)
}

func TestRestoreEmptyStoreCreatesFreshSession(t *testing.T) {
	restored := Restore(context.Background(), NewMemoryStore(), nil)
	assert.NotEmpty(t, restored.ID)
	assert.Equal(t, chat.DefaultTitle, restored.Title)
	assert.Empty(t, restored.Messages)
}

func TestFileStoreCorruptDataDegradesGracefully(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = s.List(ctx)
	require.ErrorIs(t, err, ErrCorrupt)

	restored := Restore(ctx, s, zaptest.NewLogger(t))
	assert.NotEmpty(t, restored.ID)

	require.NoError(t, s.Put(ctx, restored))
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, restored.ID, list[0].ID)

	_, err = os.Stat(path + ".corrupt")
	assert.NoError(t, err, "corrupt file is kept aside")
}

func TestPostgresDialect(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS chat_sessions")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_chat_sessions_last_updated")).WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	s, err := NewSQLStore(ctx, db, DialectPostgres)
	require.NoError(t, err)

	session := sampleSession(t, time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC))

	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1, $2, $3, $4, $5)")).
		WithArgs(session.ID, session.Title, sqlmock.AnyArg(), "2026-10-18T08:00:00.000000000Z", "2026-10-18T08:00:01.000000000Z").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Put(ctx, session))

	rows := sqlmock.NewRows([]string{"id", "title", "messages", "created_at", "last_updated"}).
		AddRow(session.ID, session.Title, `[{"id":"m1","role":"user","content":"What happened on June 1, 2024 in history?"}]`,
			"2026-10-18T08:00:00.000000000Z", "2026-10-18T08:00:01.000000000Z")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).WithArgs(session.ID).WillReturnRows(rows)

	got, err := s.Get(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, chat.RoleUser, got.Messages[0].Role)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "messages", "created_at", "last_updated"}))
	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM chat_sessions WHERE id = $1")).WithArgs(session.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Delete(ctx, session.ID))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenMemoryAndFile(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, config.StoreConfig{Driver: "file", DSN: filepath.Join(t.TempDir(), "s.json")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = Open(ctx, config.StoreConfig{Driver: "etcd"})
	assert.Error(t, err)
}
