package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/puzzlegate/internal/forum"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"kv", "votes"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragma_JournalMode(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestKV_PutGetDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want absent", ok, err)
	}

	if err := s.Put(ctx, "k", "v1"); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := s.Put(ctx, "k", "v2"); err != nil {
		t.Fatalf("second Put() failed: %v", err)
	}

	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || got != "v2" {
		t.Fatalf("Get(k) = %q ok=%v err=%v, want v2", got, ok, err)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() of absent key failed: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("key still present after Delete()")
	}
}

func TestSession_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s1.SaveUser(ctx, forum.User{ID: 4, Username: "alice"}); err != nil {
		t.Fatalf("SaveUser() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	u, err := s2.LoadUser(ctx)
	if err != nil {
		t.Fatalf("LoadUser() failed: %v", err)
	}
	if u == nil || u.Username != "alice" || u.ID != 4 {
		t.Fatalf("LoadUser() = %+v, want alice/4", u)
	}

	if err := s2.ClearUser(ctx); err != nil {
		t.Fatalf("ClearUser() failed: %v", err)
	}
	u, err = s2.LoadUser(ctx)
	if err != nil || u != nil {
		t.Fatalf("LoadUser() after clear = %+v, %v; want nil, nil", u, err)
	}
}

func TestSession_CorruptRecord(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, SessionKey, "{not json"); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if _, err := s.LoadUser(ctx); err == nil {
		t.Error("expected error for corrupt session record")
	}
}

func TestVotes_PutGetClear(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	votes := s.Votes("alice")
	key := forum.ItemKey{Type: forum.ItemThreads, ID: 3}

	got, err := votes.Get(ctx, key)
	if err != nil || got != forum.VoteNone {
		t.Fatalf("Get() on empty = %v, %v; want none", got, err)
	}

	if err := votes.Put(ctx, key, forum.VoteUp); err != nil {
		t.Fatalf("Put(up) failed: %v", err)
	}
	if err := votes.Put(ctx, key, forum.VoteDown); err != nil {
		t.Fatalf("Put(down) failed: %v", err)
	}
	if got, _ := votes.Get(ctx, key); got != forum.VoteDown {
		t.Errorf("Get() = %v, want down", got)
	}

	if err := votes.Put(ctx, key, forum.VoteNone); err != nil {
		t.Fatalf("Put(none) failed: %v", err)
	}
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM votes").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("retracted vote left %d rows", count)
	}
}

func TestVotes_ScopedByActorAndType(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	alice, bob := s.Votes("alice"), s.Votes("bob")
	_ = alice.Put(ctx, forum.ItemKey{Type: forum.ItemThreads, ID: 1}, forum.VoteUp)
	_ = alice.Put(ctx, forum.ItemKey{Type: forum.ItemPosts, ID: 1}, forum.VoteDown)
	_ = bob.Put(ctx, forum.ItemKey{Type: forum.ItemThreads, ID: 1}, forum.VoteDown)

	threads, err := alice.All(ctx, forum.ItemThreads)
	if err != nil {
		t.Fatalf("All() failed: %v", err)
	}
	if len(threads) != 1 || threads[1] != forum.VoteUp {
		t.Errorf("alice thread votes = %v", threads)
	}

	posts, _ := alice.All(ctx, forum.ItemPosts)
	if len(posts) != 1 || posts[1] != forum.VoteDown {
		t.Errorf("alice post votes = %v", posts)
	}

	if err := alice.Clear(ctx); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if left, _ := alice.All(ctx, forum.ItemThreads); len(left) != 0 {
		t.Errorf("alice votes after Clear() = %v", left)
	}
	if got, _ := bob.Get(ctx, forum.ItemKey{Type: forum.ItemThreads, ID: 1}); got != forum.VoteDown {
		t.Errorf("bob's vote touched by alice's Clear(): %v", got)
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Create a pre-migration database: kv only, version 0.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec("INSERT INTO kv (key, value, updated_at) VALUES ('user', '{\"id\":1,\"username\":\"old\"}', 0)"); err != nil {
		t.Fatalf("failed to seed kv: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	indexes := getTableIndexes(t, s.db, "votes")
	if !contains(indexes, "idx_votes_actor") {
		t.Errorf("votes table missing idx_votes_actor after migration, indexes: %v", indexes)
	}

	u, err := s.LoadUser(context.Background())
	if err != nil || u == nil || u.Username != "old" {
		t.Errorf("session record lost in migration: %+v, %v", u, err)
	}
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
