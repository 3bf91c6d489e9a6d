package digest

import (
	"strings"
	"testing"
	"time"

	"tldread/internal/core"
)

var testDate = time.Date(2026, 8, 27, 7, 0, 0, 0, time.UTC)

func sampleEntries() []core.DigestEntry {
	return []core.DigestEntry{
		{
			SenderName: "Stratechery",
			Subject:    "Aggregators all the way down",
			Summary: core.SummaryResult{
				Context:         "Platform economics context.",
				KeyPoints:       []string{"point one", "point two"},
				NotableLinks:    []core.NotableLink{{URL: "https://example.com/a", Description: "Full essay"}},
				ImportanceScore: 9,
				OneLineSummary:  "Aggregation still wins.",
			},
		},
		{
			SenderName: "Money Stuff",
			Subject:    "Everything is securities fraud",
			Summary: core.SummaryResult{
				KeyPoints:       []string{"a fraud point"},
				ImportanceScore: 7,
				OneLineSummary:  "It usually is.",
			},
		},
		{
			SenderName: "The Batch",
			Subject:    "Weekly AI news",
			Summary: core.SummaryResult{
				ImportanceScore: 5,
				OneLineSummary:  "AI moved fast again.",
			},
		},
	}
}

func sampleClusters() core.ClusterResult {
	return core.ClusterResult{
		DigestIntro: "Markets and models dominated the week.",
		Clusters: []core.Cluster{
			{Name: "Regulation Tightens", Sources: []string{"Money Stuff"}, Synthesis: "Regulators moved.", Importance: 8, ReadMoreURL: "https://example.com/reg"},
			{Name: "Model Releases", Sources: []string{"The Batch"}, Synthesis: "New models shipped.", Importance: 6, CrossThemeNote: "Connects to regulation."},
		},
		TopStory: core.TopStory{
			Name:    "The Platform Reckoning",
			Why:     "Years of aggregation pressure came to a head this week.",
			Sources: []string{"Stratechery", "Money Stuff"},
		},
		UniqueFinds:    []core.UniqueFind{{Source: "The Batch", Insight: "A small lab result", WhyNotable: "Nobody else covered it"}},
		Contradictions: []core.Contradiction{{Topic: "Rate cuts", Positions: []core.Position{{Source: "A", Position: "yes"}, {Source: "B", Position: "no"}}}},
	}
}

func TestAssembleFullDigest(t *testing.T) {
	payload, err := Assemble(sampleEntries(), sampleClusters(), testDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if want := "Your Newsletter Digest - Aug 27 (3 newsletters, 2 themes)"; payload.Subject != want {
		t.Errorf("subject = %q, want %q", payload.Subject, want)
	}

	for _, want := range []string{
		"The Platform Reckoning",
		"Regulation Tightens",
		"Stratechery",
		"Money Stuff",
		"Aggregation still wins.",
		"https://example.com/reg",
		"A small lab result",
	} {
		if !strings.Contains(payload.HTML, want) {
			t.Errorf("HTML missing %q", want)
		}
	}

	for _, want := range []string{
		"TOP STORY",
		"THEMES ACROSS YOUR NEWSLETTERS",
		"INDIVIDUAL NEWSLETTERS",
		"UNIQUE FINDS",
		"DIFFERENT TAKES",
		"August 27, 2026",
		"Aggregation still wins.",
		"It usually is.",
	} {
		if !strings.Contains(payload.Text, want) {
			t.Errorf("text missing %q", want)
		}
	}
}

func TestAssembleWithoutClusters(t *testing.T) {
	payload, err := Assemble(sampleEntries(), core.ClusterResult{}, testDate)
	if err != nil {
		t.Fatalf("a digest with no themes must still assemble: %v", err)
	}

	if want := "Your Newsletter Digest - Aug 27 (3 newsletters)"; payload.Subject != want {
		t.Errorf("subject = %q, want %q", payload.Subject, want)
	}
	if strings.Contains(payload.Text, "TOP STORY") {
		t.Error("empty top story should be omitted")
	}
	if strings.Contains(payload.Text, "THEMES ACROSS YOUR NEWSLETTERS") {
		t.Error("empty themes section should be omitted")
	}
	if !strings.Contains(payload.Text, "INDIVIDUAL NEWSLETTERS") {
		t.Error("individual summaries must always render")
	}
}

func TestAssembleSingularSubject(t *testing.T) {
	payload, err := Assemble(sampleEntries()[:1], core.ClusterResult{}, testDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(payload.Subject, "(1 newsletter)") {
		t.Errorf("expected singular count in subject, got %q", payload.Subject)
	}
}

func TestAssembleEmptyInput(t *testing.T) {
	payload, err := Assemble(nil, core.ClusterResult{}, testDate)
	if err != nil {
		t.Fatalf("an empty digest must not error: %v", err)
	}
	if !strings.Contains(payload.Text, "YOUR NEWSLETTER DIGEST") {
		t.Error("expected the header even with no content")
	}
	if !strings.Contains(payload.Subject, "(0 newsletters)") {
		t.Errorf("unexpected subject %q", payload.Subject)
	}
}

func TestAssemblePreservesEntryOrder(t *testing.T) {
	payload, err := Assemble(sampleEntries(), core.ClusterResult{}, testDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := strings.Index(payload.HTML, "Stratechery")
	second := strings.Index(payload.HTML, "Money Stuff")
	third := strings.Index(payload.HTML, "The Batch")
	if first == -1 || second == -1 || third == -1 || !(first < second && second < third) {
		t.Errorf("entries out of order: %d %d %d", first, second, third)
	}
}
