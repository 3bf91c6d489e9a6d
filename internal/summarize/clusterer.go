package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tldread/internal/core"
)

// ErrTooFewSummaries is returned when clustering is asked to run on fewer
// than two summaries. The precondition is checked before any service call.
var ErrTooFewSummaries = errors.New("clustering requires at least 2 summaries")

// clusterInput is the flattened per-newsletter view handed to the model.
type clusterInput struct {
	SenderName      string             `json:"sender_name"`
	Subject         string             `json:"subject"`
	KeyPoints       []string           `json:"key_points"`
	TopicTags       []string           `json:"topic_tags"`
	NotableLinks    []core.NotableLink `json:"notable_links"`
	ImportanceScore int                `json:"importance_score"`
	OneLineSummary  string             `json:"one_line_summary"`
}

// Cluster synthesizes a set of per-newsletter summaries into a cross-source
// digest narrative: themed clusters, a top story, unique finds, and
// contradictions. Clusters that repeat the top story are dropped.
func (s *Summarizer) Cluster(ctx context.Context, entries []core.DigestEntry) (core.ClusterResult, error) {
	if len(entries) < 2 {
		return core.ClusterResult{}, fmt.Errorf("%w: got %d", ErrTooFewSummaries, len(entries))
	}

	inputs := make([]clusterInput, 0, len(entries))
	for _, e := range entries {
		inputs = append(inputs, clusterInput{
			SenderName:      e.SenderName,
			Subject:         e.Subject,
			KeyPoints:       e.Summary.KeyPoints,
			TopicTags:       e.Summary.TopicTags,
			NotableLinks:    e.Summary.NotableLinks,
			ImportanceScore: e.Summary.ImportanceScore,
			OneLineSummary:  e.Summary.OneLineSummary,
		})
	}

	summariesJSON, err := json.MarshalIndent(inputs, "", "  ")
	if err != nil {
		return core.ClusterResult{}, fmt.Errorf("encode cluster input: %w", err)
	}

	prompt := fmt.Sprintf(clusterPromptTemplate, truncate(string(summariesJSON)))

	raw, err := s.generate(ctx, prompt)
	if err != nil {
		return core.ClusterResult{}, fmt.Errorf("cluster %d summaries: %w", len(entries), err)
	}

	result, err := parseClusterResult(raw)
	if err != nil {
		return core.ClusterResult{}, fmt.Errorf("cluster %d summaries: %w", len(entries), err)
	}
	return result, nil
}

func parseClusterResult(raw string) (core.ClusterResult, error) {
	fields, err := topLevelFields(raw)
	if err != nil {
		return core.ClusterResult{}, err
	}

	var result core.ClusterResult
	decodeField(fields, "digest_intro", &result.DigestIntro)
	decodeField(fields, "clusters", &result.Clusters)
	decodeField(fields, "top_story", &result.TopStory)
	decodeField(fields, "unique_finds", &result.UniqueFinds)
	decodeField(fields, "contradictions", &result.Contradictions)

	// The top story must not show up again as an ordinary cluster even when
	// the model ignores the instruction.
	if result.TopStory.Name != "" {
		kept := result.Clusters[:0]
		for _, c := range result.Clusters {
			if c.Name == result.TopStory.Name {
				continue
			}
			kept = append(kept, c)
		}
		result.Clusters = kept
	}
	return result, nil
}
