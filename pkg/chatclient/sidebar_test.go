package chatclient

import (
	"strings"
	"testing"
	"time"
)

func testSummaries(base time.Time) []Preview {
	return []Preview{
		{ConversationID: 1, LastMessage: "older", LastMessageAt: base},
		{ConversationID: 2, LastMessage: "newer", LastMessageAt: base.Add(time.Hour), UnreadCount: 3},
	}
}

func TestApplySummariesSortsByRecency(t *testing.T) {
	sidebar := NewSidebar(self)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	sidebar.ApplySummaries(testSummaries(base))

	items := sidebar.Items()
	if len(items) != 2 || items[0].ConversationID != 2 || items[1].ConversationID != 1 {
		t.Fatalf("unexpected order: %+v", items)
	}
	if sidebar.TotalUnread() != 3 {
		t.Fatalf("TotalUnread = %d, want 3", sidebar.TotalUnread())
	}
}

func TestDirectMessageBumpsConversationAndBadge(t *testing.T) {
	sidebar := NewSidebar(self)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	sidebar.ApplySummaries(testSummaries(base))

	at := base.Add(2 * time.Hour)
	sidebar.Apply(Event{
		Event:          "receiveDirectMessage",
		ConversationID: 1,
		SenderID:       8,
		SenderModel:    "Expert",
		Content:        "ping",
		ContentType:    "text",
		SentAt:         &at,
	})

	items := sidebar.Items()
	if items[0].ConversationID != 1 {
		t.Fatalf("conversation 1 should have moved to the top: %+v", items)
	}
	if items[0].LastMessage != "ping" || items[0].UnreadCount != 1 {
		t.Fatalf("unexpected preview: %+v", items[0])
	}
}

func TestDirectMessageIntoOpenThreadDoesNotIncrementBadge(t *testing.T) {
	sidebar := NewSidebar(self)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	sidebar.ApplySummaries(testSummaries(base))
	sidebar.OpenThread(1)

	at := base.Add(2 * time.Hour)
	sidebar.Apply(Event{
		Event:          "receiveDirectMessage",
		ConversationID: 1,
		SenderID:       8,
		SenderModel:    "Expert",
		Content:        "read in place",
		SentAt:         &at,
	})

	for _, item := range sidebar.Items() {
		if item.ConversationID == 1 && item.UnreadCount != 0 {
			t.Fatalf("open thread badge incremented: %+v", item)
		}
	}
}

func TestOwnMessageDoesNotIncrementBadge(t *testing.T) {
	sidebar := NewSidebar(self)
	at := time.Now()

	sidebar.Apply(Event{
		Event:          "receiveDirectMessage",
		ConversationID: 5,
		SenderID:       self.ID,
		SenderModel:    self.Model,
		Content:        "from my other device",
		SentAt:         &at,
	})

	items := sidebar.Items()
	if len(items) != 1 || items[0].UnreadCount != 0 {
		t.Fatalf("own message must not raise the badge: %+v", items)
	}
}

func TestOpenThreadClearsBadgeAndPinsItAcrossStaleSummaries(t *testing.T) {
	sidebar := NewSidebar(self)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	sidebar.ApplySummaries(testSummaries(base))

	sidebar.OpenThread(2)
	if sidebar.TotalUnread() != 0 {
		t.Fatalf("TotalUnread after open = %d, want 0", sidebar.TotalUnread())
	}

	// A summary fetched before the server processed markAsRead still
	// reports the old counter; the open thread stays cleared.
	sidebar.ApplySummaries(testSummaries(base))
	if sidebar.TotalUnread() != 0 {
		t.Fatalf("stale summary resurrected the badge: %d", sidebar.TotalUnread())
	}

	sidebar.CloseThread()
	sidebar.ApplySummaries(testSummaries(base))
	if sidebar.TotalUnread() != 3 {
		t.Fatalf("server counter must win once the thread is closed: %d", sidebar.TotalUnread())
	}
}

func TestRoomEchoUpdatesPreviewWithoutBadge(t *testing.T) {
	sidebar := NewSidebar(self)
	message := Message{
		ID:             9,
		ConversationID: 3,
		SenderID:       8,
		SenderModel:    "Expert",
		Content:        "seen live",
		ContentType:    "text",
		CreatedAt:      time.Now(),
	}

	sidebar.Apply(Event{Event: "receive_message", ConversationID: 3, Message: &message})

	items := sidebar.Items()
	if len(items) != 1 || items[0].LastMessage != "seen live" {
		t.Fatalf("unexpected preview: %+v", items)
	}
	if items[0].UnreadCount != 0 {
		t.Fatal("room echo must not touch the badge")
	}
}

func TestRoomEchoSubstitutesContentTypeLabel(t *testing.T) {
	sidebar := NewSidebar(self)
	message := Message{
		ID:             9,
		ConversationID: 3,
		SenderID:       8,
		SenderModel:    "Expert",
		Content:        "https://cdn.example.com/attachments/3/scan.png",
		ContentType:    "image",
		CreatedAt:      time.Now(),
	}

	sidebar.Apply(Event{Event: "receive_message", ConversationID: 3, Message: &message})

	items := sidebar.Items()
	if len(items) != 1 || items[0].LastMessage != "\U0001F4F7 Image" {
		t.Fatalf("attachment URL leaked into the preview: %+v", items)
	}

	long := strings.Repeat("a", 81)
	message.ID = 10
	message.Content = long
	message.ContentType = "text"
	sidebar.Apply(Event{Event: "receive_message", ConversationID: 3, Message: &message})

	items = sidebar.Items()
	if got := items[0].LastMessage; got != strings.Repeat("a", 80)+"…" {
		t.Fatalf("long text not truncated: %q", got)
	}
}
