package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"tldread/internal/config"
	"tldread/internal/core"
	"tldread/internal/store"
	"tldread/internal/summarize"
)

type fakeFetcher struct {
	messages []core.RawMessage
	err      error
}

func (f *fakeFetcher) FetchSince(context.Context, int) ([]core.RawMessage, error) {
	return f.messages, f.err
}

type fakeSummarizer struct {
	summarizeCalls int
	clusterCalls   int
	summarizeErr   error
	clusterResult  core.ClusterResult
}

func (f *fakeSummarizer) Summarize(_ context.Context, content string, meta summarize.MessageMeta) (core.SummaryResult, error) {
	f.summarizeCalls++
	if f.summarizeErr != nil {
		return core.SummaryResult{}, f.summarizeErr
	}
	return core.SummaryResult{
		Context:         fmt.Sprintf("ctx %d for %s", f.summarizeCalls, meta.Subject),
		KeyPoints:       []string{"a key point"},
		ImportanceScore: 6,
		OneLineSummary:  "summary of " + meta.Subject,
	}, nil
}

func (f *fakeSummarizer) Cluster(_ context.Context, entries []core.DigestEntry) (core.ClusterResult, error) {
	f.clusterCalls++
	return f.clusterResult, nil
}

type fakeSender struct {
	sent []core.DigestPayload
	to   []string
	err  error
}

func (f *fakeSender) Send(_ context.Context, to string, payload core.DigestPayload) error {
	if f.err != nil {
		return f.err
	}
	f.to = append(f.to, to)
	f.sent = append(f.sent, payload)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		App:    config.App{DataDir: t.TempDir()},
		Digest: config.Digest{ToAddress: "me@example.com"},
	}
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func subscribe(t *testing.T, s *store.Store, email string) {
	t.Helper()
	if _, err := s.AddSubscription(email, email, 1); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
}

func rawMessage(id, sender, subject string) core.RawMessage {
	return core.RawMessage{
		MessageID:   id,
		SenderEmail: sender,
		SenderName:  sender,
		Subject:     subject,
		ReceivedAt:  time.Now(),
		PlainBody:   "Some meaningful newsletter content about the week.",
	}
}

func TestRunEndToEnd(t *testing.T) {
	st := testStore(t)
	subscribe(t, st, "author@substack.com")

	fetcher := &fakeFetcher{messages: []core.RawMessage{
		rawMessage("m1", "author@substack.com", "Issue #1"),
		rawMessage("m2", "author@substack.com", "Issue #2"),
		rawMessage("m3", "stranger@elsewhere.com", "Not subscribed"),
	}}
	summ := &fakeSummarizer{clusterResult: core.ClusterResult{
		DigestIntro: "intro",
		Clusters:    []core.Cluster{{Name: "A Theme", Sources: []string{"author@substack.com"}, Synthesis: "s"}},
	}}
	sender := &fakeSender{}

	p := New(st, fetcher, summ, sender, testConfig(t))
	report, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if report.Fetched != 3 || report.Matched != 2 || report.Summarized != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
	if summ.summarizeCalls != 2 {
		t.Errorf("expected 2 summarize calls, got %d", summ.summarizeCalls)
	}
	if summ.clusterCalls != 1 {
		t.Errorf("expected 1 cluster call, got %d", summ.clusterCalls)
	}
	if !report.DigestSent || len(sender.sent) != 1 {
		t.Fatalf("expected one delivered digest, got %+v", report)
	}
	if sender.to[0] != "me@example.com" {
		t.Errorf("digest sent to %q", sender.to[0])
	}

	msg, err := st.GetMessage("m1")
	if err != nil {
		t.Fatalf("message lookup failed: %v", err)
	}
	if msg.Status != core.StatusProcessed {
		t.Errorf("expected processed status, got %q", msg.Status)
	}

	clusters, err := st.GetClustersForDate(time.Now().Format("2006-01-02"))
	if err != nil || len(clusters) != 1 {
		t.Errorf("expected 1 saved cluster, got %d (err %v)", len(clusters), err)
	}

	recs, err := st.GetDigestsForUser("me@example.com", 5)
	if err != nil || len(recs) != 1 {
		t.Fatalf("expected 1 digest record, got %d (err %v)", len(recs), err)
	}
	if recs[0].NewslettersCount != 2 || recs[0].ThemesCount != 1 {
		t.Errorf("unexpected digest record: %+v", recs[0])
	}
}

func TestRunReusesProcessedMessages(t *testing.T) {
	st := testStore(t)
	subscribe(t, st, "author@substack.com")

	fetcher := &fakeFetcher{messages: []core.RawMessage{
		rawMessage("m1", "author@substack.com", "Issue #1"),
		rawMessage("m2", "author@substack.com", "Issue #2"),
	}}
	summ := &fakeSummarizer{}
	p := New(st, fetcher, summ, &fakeSender{}, testConfig(t))

	if _, err := p.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	report, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if report.Reused != 2 || report.Summarized != 0 {
		t.Errorf("expected full reuse on second run, got %+v", report)
	}
	if summ.summarizeCalls != 2 {
		t.Errorf("second run must not re-summarize, got %d calls", summ.summarizeCalls)
	}
}

func TestRunForceReprocessesButKeepsOriginalSummary(t *testing.T) {
	st := testStore(t)
	subscribe(t, st, "author@substack.com")

	fetcher := &fakeFetcher{messages: []core.RawMessage{
		rawMessage("m1", "author@substack.com", "Issue #1"),
		rawMessage("m2", "author@substack.com", "Issue #2"),
	}}
	summ := &fakeSummarizer{}
	p := New(st, fetcher, summ, &fakeSender{}, testConfig(t))

	if _, err := p.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	report, err := p.Run(context.Background(), Options{Force: true})
	if err != nil {
		t.Fatalf("forced run failed: %v", err)
	}

	if report.Summarized != 2 {
		t.Errorf("forced run should reprocess, got %+v", report)
	}
	if summ.summarizeCalls != 4 {
		t.Errorf("expected 4 total summarize calls, got %d", summ.summarizeCalls)
	}

	// The first summary stays authoritative; the forced duplicate is a no-op.
	msg, err := st.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	sum, err := st.GetSummary(msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Context != "ctx 1 for Issue #1" {
		t.Errorf("original summary was replaced: %+v", sum)
	}
}

func TestRunSkipsEmptyContentWithoutFailing(t *testing.T) {
	st := testStore(t)
	subscribe(t, st, "author@substack.com")

	empty := rawMessage("m1", "author@substack.com", "Issue #1")
	empty.PlainBody = "   \n\t  "
	empty.HTMLBody = ""

	fetcher := &fakeFetcher{messages: []core.RawMessage{empty}}
	summ := &fakeSummarizer{}
	sender := &fakeSender{}
	p := New(st, fetcher, summ, sender, testConfig(t))

	report, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("an empty body must not abort the run: %v", err)
	}

	if report.Skipped != 1 || report.Failed != 0 {
		t.Errorf("expected 1 skip and no failures, got %+v", report)
	}
	if summ.summarizeCalls != 0 {
		t.Errorf("nothing to summarize, got %d calls", summ.summarizeCalls)
	}
	if len(sender.sent) != 0 {
		t.Error("no digest should go out with zero summaries")
	}

	msg, err := st.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != core.StatusProcessed {
		t.Errorf("an empty message should not be marked failed, got %q", msg.Status)
	}
}

func TestRunSummarizeFailureMarksMessageFailed(t *testing.T) {
	st := testStore(t)
	subscribe(t, st, "author@substack.com")

	fetcher := &fakeFetcher{messages: []core.RawMessage{
		rawMessage("m1", "author@substack.com", "Issue #1"),
	}}
	summ := &fakeSummarizer{summarizeErr: errors.New("model exploded")}
	sender := &fakeSender{}
	p := New(st, fetcher, summ, sender, testConfig(t))

	report, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("a per-message failure must not abort the run: %v", err)
	}

	if report.Failed != 1 {
		t.Errorf("expected 1 failure, got %+v", report)
	}
	if len(sender.sent) != 0 {
		t.Error("no digest should go out with zero summaries")
	}

	msg, err := st.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != core.StatusFailed {
		t.Errorf("expected failed status, got %q", msg.Status)
	}
}

func TestRunRetriesFailedMessagesNextRun(t *testing.T) {
	st := testStore(t)
	subscribe(t, st, "author@substack.com")

	fetcher := &fakeFetcher{messages: []core.RawMessage{
		rawMessage("m1", "author@substack.com", "Issue #1"),
	}}
	summ := &fakeSummarizer{summarizeErr: errors.New("model exploded")}
	p := New(st, fetcher, summ, &fakeSender{}, testConfig(t))

	if _, err := p.Run(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}

	summ.summarizeErr = nil
	report, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Summarized != 1 {
		t.Errorf("failed message should be retried on the next run, got %+v", report)
	}

	msg, _ := st.GetMessage("m1")
	if msg.Status != core.StatusProcessed {
		t.Errorf("expected processed after recovery, got %q", msg.Status)
	}
}

func TestRunDryRunWritesLocally(t *testing.T) {
	st := testStore(t)
	subscribe(t, st, "author@substack.com")

	fetcher := &fakeFetcher{messages: []core.RawMessage{
		rawMessage("m1", "author@substack.com", "Issue #1"),
	}}
	sender := &fakeSender{}
	p := New(st, fetcher, &fakeSummarizer{}, sender, testConfig(t))

	report, err := p.Run(context.Background(), Options{DryRun: true})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}

	if len(sender.sent) != 0 {
		t.Error("dry run must not send")
	}
	if report.DigestPath == "" {
		t.Fatal("expected a local digest path")
	}
	if _, err := os.Stat(report.DigestPath); err != nil {
		t.Errorf("digest file not written: %v", err)
	}

	recs, _ := st.GetDigestsForUser("me@example.com", 5)
	if len(recs) != 0 {
		t.Error("dry run must not record a digest")
	}
}

func TestRunFallsBackToLocalFileOnDeliveryFailure(t *testing.T) {
	st := testStore(t)
	subscribe(t, st, "author@substack.com")

	fetcher := &fakeFetcher{messages: []core.RawMessage{
		rawMessage("m1", "author@substack.com", "Issue #1"),
	}}
	sender := &fakeSender{err: errors.New("smtp timeout")}
	p := New(st, fetcher, &fakeSummarizer{}, sender, testConfig(t))

	report, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("delivery failure must fall back, not abort: %v", err)
	}
	if report.DigestSent {
		t.Error("digest must not count as sent")
	}
	if report.DigestPath == "" {
		t.Error("expected a local fallback file")
	}
}

func TestRunForwardedMessageAttribution(t *testing.T) {
	st := testStore(t)
	subscribe(t, st, "jane@example.com")

	fwd := core.RawMessage{
		MessageID:   "m1",
		SenderEmail: "forwarder@gmail.com",
		SenderName:  "My Other Account",
		Subject:     "Fwd: The Weekly Letter",
		ReceivedAt:  time.Now(),
		PlainBody: "---------- Forwarded message ---------\n" +
			"From: **Jane Doe** <jane@example.com>\n" +
			"Subject: The Weekly Letter\n\n" +
			"This week in review, with plenty of substance.",
	}
	fetcher := &fakeFetcher{messages: []core.RawMessage{fwd}}
	p := New(st, fetcher, &fakeSummarizer{}, &fakeSender{}, testConfig(t))

	report, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.Matched != 1 || report.Summarized != 1 {
		t.Errorf("forwarded newsletter should match the original sender's subscription, got %+v", report)
	}
}

func TestRunAbortsWhenFetchFails(t *testing.T) {
	st := testStore(t)
	subscribe(t, st, "author@substack.com")

	fetcher := &fakeFetcher{err: errors.New("login refused")}
	p := New(st, fetcher, &fakeSummarizer{}, &fakeSender{}, testConfig(t))

	if _, err := p.Run(context.Background(), Options{}); err == nil {
		t.Fatal("expected the run to abort on fetch failure")
	}
}
