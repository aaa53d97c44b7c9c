package models

import (
	"strings"
	"testing"
)

func TestPreviewTextSubstitutesContentTypeLabels(t *testing.T) {
	cases := []struct {
		contentType ContentType
		content     string
		want        string
	}{
		{ContentTypeAudio, "https://cdn.example.com/a.ogg", "\U0001F3A4 Audio Message"},
		{ContentTypeImage, "https://cdn.example.com/a.png", "\U0001F4F7 Image"},
		{ContentTypePDF, "https://cdn.example.com/a.pdf", "\U0001F4C4 Document"},
		{ContentTypeText, "Hello", "Hello"},
	}

	for _, tc := range cases {
		if got := PreviewText(tc.contentType, tc.content); got != tc.want {
			t.Errorf("PreviewText(%s) = %q, want %q", tc.contentType, got, tc.want)
		}
	}
}

func TestPreviewTextTruncatesLongText(t *testing.T) {
	long := strings.Repeat("ab", 100)
	got := PreviewText(ContentTypeText, long)
	if len([]rune(got)) != 81 {
		t.Fatalf("expected 80 runes plus ellipsis, got %d runes", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
}

func TestParticipantTokenRoundTrip(t *testing.T) {
	original := Participant{Kind: KindExpert, ID: 42}
	parsed, err := ParseParticipantToken(original.Token())
	if err != nil {
		t.Fatalf("ParseParticipantToken: %v", err)
	}
	if !parsed.Equal(original) {
		t.Fatalf("round trip mismatch: %+v != %+v", parsed, original)
	}

	for _, malformed := range []string{"", "User", "User:", "User:x", "Ghost:3", "User:0"} {
		if _, err := ParseParticipantToken(malformed); err == nil {
			t.Errorf("expected error for %q", malformed)
		}
	}
}

func TestConversationCounterpart(t *testing.T) {
	conversation := Conversation{ID: 7, UserID: 42, ExpertID: 8}

	peer, ok := conversation.Counterpart(Participant{Kind: KindUser, ID: 42})
	if !ok || peer.Kind != KindExpert || peer.ID != 8 {
		t.Fatalf("unexpected counterpart: %+v %v", peer, ok)
	}

	peer, ok = conversation.Counterpart(Participant{Kind: KindExpert, ID: 8})
	if !ok || peer.Kind != KindUser || peer.ID != 42 {
		t.Fatalf("unexpected counterpart: %+v %v", peer, ok)
	}

	// Same id in the wrong identity space is not a participant.
	if _, ok := conversation.Counterpart(Participant{Kind: KindUser, ID: 8}); ok {
		t.Fatal("expected no counterpart for wrong identity space")
	}
}
