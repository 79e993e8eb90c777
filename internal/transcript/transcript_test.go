package transcript

import (
	"testing"
	"time"

	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixed(t *Transcript, at time.Time) { t.now = func() time.Time { return at } }

func TestEchoReplacesPending(t *testing.T) {
	tr := New(0)
	fixed(tr, base)
	tr.AddPending("alice", "hi")

	tests := []struct {
		name    string
		msg     protocol.ChatMessage
		added   bool
		entries int
		pending bool
	}{
		{"echo within window", protocol.ChatMessage{ID: "m1", Nickname: "alice", Content: "hi", CreatedAt: base.Add(2 * time.Second)}, true, 1, false},
		{"same id again", protocol.ChatMessage{ID: "m1", Nickname: "alice", Content: "hi", CreatedAt: base.Add(2 * time.Second)}, false, 1, false},
		{"same text new id", protocol.ChatMessage{ID: "m2", Nickname: "alice", Content: "hi", CreatedAt: base.Add(3 * time.Second)}, true, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tr.Confirm(tt.msg); got != tt.added {
				t.Fatalf("Confirm = %v", got)
			}
			entries := tr.Entries()
			if len(entries) != tt.entries {
				t.Fatalf("%d entries", len(entries))
			}
			if entries[0].Pending != tt.pending || entries[0].Message.ID != "m1" {
				t.Fatalf("first entry = %+v", entries[0])
			}
		})
	}
}

func TestNoMatchOutsideWindow(t *testing.T) {
	tr := New(0)
	fixed(tr, base)
	tr.AddPending("alice", "hi")

	tr.Confirm(protocol.ChatMessage{ID: "late", Nickname: "alice", Content: "hi", CreatedAt: base.Add(6 * time.Second)})
	tr.Confirm(protocol.ChatMessage{ID: "other", Nickname: "bob", Content: "hi", CreatedAt: base})

	entries := tr.Entries()
	if len(entries) != 3 || !entries[0].Pending {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestLimit(t *testing.T) {
	tr := New(3)
	tr.Notice("alice joined")
	tr.LoadHistory([]protocol.ChatMessage{
		{ID: "1", Content: "a"}, {ID: "2", Content: "b"}, {ID: "3", Content: "c"},
	})
	if tr.Len() != 3 || tr.Entries()[0].Message.ID != "1" {
		t.Fatalf("entries = %+v", tr.Entries())
	}

	tr.Confirm(protocol.ChatMessage{ID: "4", Content: "d"})
	// "1" was trimmed, so its ID is forgotten.
	if !tr.Confirm(protocol.ChatMessage{ID: "1", Content: "a"}) {
		t.Fatal("trimmed ID still remembered")
	}
}
