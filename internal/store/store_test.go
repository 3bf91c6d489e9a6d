package store

import (
	"errors"
	"testing"
	"time"

	"tldread/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestMessage(t *testing.T, s *Store, messageID string) core.TrackedMessage {
	t.Helper()
	nid, err := s.GetOrCreateNewsletter("author@substack.com", "The Author")
	if err != nil {
		t.Fatalf("failed to create newsletter: %v", err)
	}
	msg, created, err := s.InsertMessage(core.TrackedMessage{
		NewsletterID: nid,
		MessageID:    messageID,
		Subject:      "Issue #1",
		ReceivedAt:   time.Now(),
		PlainText:    "content",
		Status:       core.StatusPending,
	})
	if err != nil {
		t.Fatalf("failed to insert message: %v", err)
	}
	if !created {
		t.Fatalf("expected a fresh insert for %s", messageID)
	}
	return msg
}

func TestGetOrCreateNewsletterIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.GetOrCreateNewsletter("a@substack.com", "A")
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	id2, err := s.GetOrCreateNewsletter("a@substack.com", "A Again")
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same newsletter ID, got %d and %d", id1, id2)
	}
}

func TestInsertMessageDeduplicates(t *testing.T) {
	s := newTestStore(t)
	first := insertTestMessage(t, s, "msg-001")

	again, created, err := s.InsertMessage(core.TrackedMessage{
		NewsletterID: first.NewsletterID,
		MessageID:    "msg-001",
		Subject:      "Issue #1 (duplicate fetch)",
		ReceivedAt:   time.Now(),
		Status:       core.StatusPending,
	})
	if err != nil {
		t.Fatalf("duplicate insert errored: %v", err)
	}
	if created {
		t.Error("second insert must report created=false")
	}
	if again.ID != first.ID {
		t.Errorf("expected the existing row back, got ID %d want %d", again.ID, first.ID)
	}
	if again.Subject != "Issue #1" {
		t.Errorf("expected the original row's data, got subject %q", again.Subject)
	}
}

func TestUpdateMessageStatus(t *testing.T) {
	s := newTestStore(t)
	msg := insertTestMessage(t, s, "msg-001")

	if err := s.UpdateMessageStatus(msg.ID, core.StatusProcessed); err != nil {
		t.Fatalf("status update failed: %v", err)
	}

	got, err := s.GetMessage("msg-001")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got.Status != core.StatusProcessed {
		t.Errorf("expected processed, got %q", got.Status)
	}
}

func TestGetMessageNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetMessage("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveSummaryIsImmutable(t *testing.T) {
	s := newTestStore(t)
	msg := insertTestMessage(t, s, "msg-001")

	original := core.SummaryResult{
		MessageRowID:    msg.ID,
		Context:         "original context",
		KeyPoints:       []string{"point one", "point two"},
		TopicTags:       []string{"tech"},
		ImportanceScore: 7,
		OneLineSummary:  "the original summary",
	}
	if err := s.SaveSummary(original); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	replacement := original
	replacement.Context = "rewritten context"
	replacement.ImportanceScore = 2
	if err := s.SaveSummary(replacement); err != nil {
		t.Fatalf("second save must be a silent no-op, got: %v", err)
	}

	got, err := s.GetSummary(msg.ID)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got.Context != "original context" || got.ImportanceScore != 7 {
		t.Errorf("stored summary was overwritten: %+v", got)
	}
	if len(got.KeyPoints) != 2 || got.KeyPoints[0] != "point one" {
		t.Errorf("key points not round-tripped: %+v", got.KeyPoints)
	}
}

func TestGetDigestEntriesOrderedByImportance(t *testing.T) {
	s := newTestStore(t)
	low := insertTestMessage(t, s, "msg-low")
	high := insertTestMessage(t, s, "msg-high")

	if err := s.SaveSummary(core.SummaryResult{MessageRowID: low.ID, ImportanceScore: 3, OneLineSummary: "minor"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSummary(core.SummaryResult{MessageRowID: high.ID, ImportanceScore: 9, OneLineSummary: "major"}); err != nil {
		t.Fatal(err)
	}

	entries, err := s.GetDigestEntries([]int64{low.ID, high.ID})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Summary.ImportanceScore != 9 {
		t.Errorf("expected the most important summary first, got %d", entries[0].Summary.ImportanceScore)
	}
	if entries[0].SenderName != "The Author" {
		t.Errorf("expected sender attribution joined in, got %q", entries[0].SenderName)
	}
}

func TestGetDigestEntriesEmptyInput(t *testing.T) {
	s := newTestStore(t)
	entries, err := s.GetDigestEntries(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddSubscription("a@substack.com", "A", 1)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	senders, err := s.ActiveSenders(1)
	if err != nil {
		t.Fatalf("active senders failed: %v", err)
	}
	if !senders["a@substack.com"] {
		t.Error("expected sender active after add")
	}

	removed, err := s.DeactivateSubscription("a@substack.com", 1)
	if err != nil || !removed {
		t.Fatalf("deactivate failed: removed=%v err=%v", removed, err)
	}

	senders, _ = s.ActiveSenders(1)
	if senders["a@substack.com"] {
		t.Error("expected sender inactive after deactivate")
	}

	// Re-adding reactivates the same row.
	id2, err := s.AddSubscription("a@substack.com", "A Renamed", 1)
	if err != nil {
		t.Fatalf("re-add failed: %v", err)
	}
	if id2 != id {
		t.Errorf("expected the original subscription reactivated, got ID %d want %d", id2, id)
	}

	subs, err := s.ListSubscriptions(1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(subs) != 1 || !subs[0].IsActive || subs[0].SenderName != "A Renamed" {
		t.Errorf("unexpected subscriptions: %+v", subs)
	}
}

func TestSubscriptionsAreScopedPerUser(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.AddSubscription("a@substack.com", "A", 1); err != nil {
		t.Fatal(err)
	}

	senders, err := s.ActiveSenders(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(senders) != 0 {
		t.Errorf("user 2 should have no subscriptions, got %v", senders)
	}
}

func TestSaveAndListDigests(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SaveDigest(core.DigestRecord{
		UserEmail:        "me@example.com",
		DigestDate:       "2026-08-27",
		Subject:          "Your Newsletter Digest - Aug 27 (3 newsletters)",
		HTML:             "<html></html>",
		ThemesCount:      2,
		NewslettersCount: 3,
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	recs, err := s.GetDigestsForUser("me@example.com", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(recs) != 1 || recs[0].NewslettersCount != 3 || recs[0].ThemesCount != 2 {
		t.Errorf("unexpected digest records: %+v", recs)
	}
}

func TestSaveAndGetClusters(t *testing.T) {
	s := newTestStore(t)

	for _, c := range []core.StoredCluster{
		{DigestDate: "2026-08-27", Name: "Small theme", Synthesis: "one source", SourceCount: 1},
		{DigestDate: "2026-08-27", Name: "Big theme", Synthesis: "three sources", SourceCount: 3},
		{DigestDate: "2026-08-26", Name: "Old theme", SourceCount: 2},
	} {
		if err := s.SaveCluster(c); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	got, err := s.GetClustersForDate("2026-08-27")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 clusters for the date, got %d", len(got))
	}
	if got[0].Name != "Big theme" {
		t.Errorf("expected most-sourced cluster first, got %q", got[0].Name)
	}
}
