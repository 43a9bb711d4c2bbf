package memory

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// testStore opens a store on a throwaway database using the pure-Go
// driver so tests don't need cgo.
func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewStoreWithDB(db)
	if err != nil {
		t.Fatalf("NewStoreWithDB failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndGetMessages(t *testing.T) {
	s := testStore(t)

	if err := s.AddMessage("t1", "user", "list files"); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if err := s.AddMessage("t1", "assistant", "here they are"); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	msgs, err := s.GetMessages("t1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}
}

func TestMessageOrderIsInsertionOrder(t *testing.T) {
	s := testStore(t)

	// Burst inserts can share a timestamp; seq must still preserve order.
	contents := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, c := range contents {
		if err := s.AddMessage("t1", "user", c); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.GetMessages("t1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != len(contents) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(contents))
	}
	for i, c := range contents {
		if msgs[i].Content != c {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Content, c)
		}
	}
}

func TestThreadsAreIsolated(t *testing.T) {
	s := testStore(t)

	s.AddMessage("t1", "user", "thread one")
	s.AddMessage("t2", "user", "thread two")

	if msgs, _ := s.GetMessages("t1"); len(msgs) != 1 || msgs[0].Content != "thread one" {
		t.Errorf("t1 messages = %+v", msgs)
	}
	if msgs, _ := s.GetMessages("t2"); len(msgs) != 1 || msgs[0].Content != "thread two" {
		t.Errorf("t2 messages = %+v", msgs)
	}
}

func TestClear(t *testing.T) {
	s := testStore(t)

	s.AddMessage("t1", "user", "hello")
	s.AddMessage("t2", "user", "other")

	if err := s.Clear("t1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if msgs, _ := s.GetMessages("t1"); len(msgs) != 0 {
		t.Errorf("t1 should be empty after Clear, got %d", len(msgs))
	}
	if s.GetConversation("t1") != nil {
		t.Error("t1 conversation should be gone")
	}
	if msgs, _ := s.GetMessages("t2"); len(msgs) != 1 {
		t.Errorf("t2 should be untouched, got %d messages", len(msgs))
	}
}

func TestGetConversationMissing(t *testing.T) {
	s := testStore(t)
	if conv := s.GetConversation("nope"); conv != nil {
		t.Errorf("expected nil for missing conversation, got %+v", conv)
	}
}

func TestGetMessagesReportsStorageFailure(t *testing.T) {
	s := testStore(t)
	s.AddMessage("t1", "user", "hello")

	// A broken store must be an error, not an empty conversation.
	s.Close()
	if _, err := s.GetMessages("t1"); err == nil {
		t.Fatal("GetMessages on a closed store should fail")
	}
}

func TestListConversations(t *testing.T) {
	s := testStore(t)

	s.AddMessage("t1", "user", "first")
	s.AddMessage("t2", "user", "second")

	convs := s.ListConversations()
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	seen := map[string]bool{}
	for _, c := range convs {
		seen[c.ID] = true
	}
	if !seen["t1"] || !seen["t2"] {
		t.Errorf("conversations = %+v", convs)
	}
}

func TestStats(t *testing.T) {
	s := testStore(t)
	s.AddMessage("t1", "user", "one")
	s.AddMessage("t1", "assistant", "two")

	stats := s.Stats()
	if stats["conversations"] != 1 {
		t.Errorf("conversations = %v, want 1", stats["conversations"])
	}
	if stats["messages"] != 2 {
		t.Errorf("messages = %v, want 2", stats["messages"])
	}
}
