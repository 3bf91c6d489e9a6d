package core

import "time"

// MessageStatus is the processing state of a tracked message.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusProcessed MessageStatus = "processed"
	StatusFailed    MessageStatus = "failed"
)

// RawMessage represents one fetched mail item. It lives for a single run;
// only the fields the state machine stores survive past it.
type RawMessage struct {
	MessageID   string    `json:"message_id"`   // Globally unique per mailbox
	SenderEmail string    `json:"sender_email"` // Address portion of the From header
	SenderName  string    `json:"sender_name"`  // Display name, falls back to the address
	Subject     string    `json:"subject"`
	ReceivedAt  time.Time `json:"received_at"` // Always timezone-aware
	HTMLBody    string    `json:"html_body"`
	PlainBody   string    `json:"plain_body"`

	// HasListUnsubscribe records whether the List-Unsubscribe header was
	// present. Only the classifier reads it.
	HasListUnsubscribe bool `json:"has_list_unsubscribe"`
}

// Body returns the preferred body for content processing: HTML when present,
// otherwise plain text.
func (m RawMessage) Body() string {
	if m.HTMLBody != "" {
		return m.HTMLBody
	}
	return m.PlainBody
}

// Link is a URL extracted from a message body together with its visible text.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// NormalizedContent is the cleaned form of a message body.
type NormalizedContent struct {
	CleanText string `json:"clean_text"` // Readable text, no markup tags
	Links     []Link `json:"links"`      // Deduplicated by URL, order of first appearance
}

// ForwardedSender identifies the original author of a forwarded message.
type ForwardedSender struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Candidate is a sender/message pair the classifier surfaced as a likely
// newsletter. One candidate per distinct sender per scan.
type Candidate struct {
	MessageID   string `json:"message_id"` // Highest-scoring message for this sender
	SenderEmail string `json:"sender_email"`
	SenderName  string `json:"sender_name"`
	Subject     string `json:"subject"`
	Snippet     string `json:"snippet"`     // First ~100 chars of cleaned body
	Score       int    `json:"score"`       // Aggregate heuristic score, >= threshold
	EmailCount  int    `json:"email_count"` // Occurrences of this sender in the batch
}

// Newsletter is a known sender identity.
type Newsletter struct {
	ID          int64     `json:"id"`
	SenderEmail string    `json:"sender_email"`
	SenderName  string    `json:"sender_name"`
	Notes       string    `json:"notes"`
	CreatedAt   time.Time `json:"created_at"`
}

// TrackedMessage is the persistent record of one ingested message. Keyed by
// MessageID (unique); owned exclusively by the state machine.
type TrackedMessage struct {
	ID           int64         `json:"id"`
	NewsletterID int64         `json:"newsletter_id"`
	MessageID    string        `json:"message_id"`
	Subject      string        `json:"subject"`
	ReceivedAt   time.Time     `json:"received_at"`
	RawHTML      string        `json:"raw_html"`
	PlainText    string        `json:"plain_text"`
	Status       MessageStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Entity is a notable person, company, product or similar mentioned in a
// newsletter.
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"` // person, company, product, event, policy, other
}

// NotableLink is a "read more" link the summarizer judged worth keeping.
type NotableLink struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

// SummaryResult is the structured summary of a single tracked message.
// Immutable once saved; unique on the message it summarizes.
type SummaryResult struct {
	ID              int64         `json:"id"`
	MessageRowID    int64         `json:"message_row_id"` // TrackedMessage.ID
	Context         string        `json:"context"`
	KeyPoints       []string      `json:"key_points"`
	Entities        []Entity      `json:"entities"`
	TopicTags       []string      `json:"topic_tags"`
	NotableLinks    []NotableLink `json:"notable_links"`    // Max 3
	ImportanceScore int           `json:"importance_score"` // 1-10
	OneLineSummary  string        `json:"one_line_summary"`
}

// DigestEntry pairs a summary with the sender attribution the digest needs.
type DigestEntry struct {
	SenderName string        `json:"sender_name"`
	Subject    string        `json:"subject"`
	Summary    SummaryResult `json:"summary"`
}

// Cluster is one cross-newsletter theme synthesized by the clustering call.
type Cluster struct {
	Name           string   `json:"name"`
	Sources        []string `json:"sources"`
	Synthesis      string   `json:"synthesis"`
	Importance     int      `json:"importance"`
	ReadMoreURL    string   `json:"read_more_url"`
	CrossThemeNote string   `json:"cross_theme_note"`
}

// TopStory is the single most important story of the run. It never repeats
// as an ordinary cluster.
type TopStory struct {
	Name    string   `json:"name"`
	Why     string   `json:"why"`
	Sources []string `json:"sources"`
}

// UniqueFind is an insight only one source covered.
type UniqueFind struct {
	Source     string `json:"source"`
	Insight    string `json:"insight"`
	WhyNotable string `json:"why_notable"`
}

// Position is one source's stance inside a contradiction.
type Position struct {
	Source   string `json:"source"`
	Position string `json:"position"`
}

// Contradiction records genuinely different takes on the same topic.
type Contradiction struct {
	Topic     string     `json:"topic"`
	Positions []Position `json:"positions"`
}

// ClusterResult is the full clustering output for one run. Ephemeral except
// for the per-theme rows the store flattens out of Clusters.
type ClusterResult struct {
	DigestIntro    string          `json:"digest_intro"`
	Clusters       []Cluster       `json:"clusters"`
	TopStory       TopStory        `json:"top_story"`
	UniqueFinds    []UniqueFind    `json:"unique_finds"`
	Contradictions []Contradiction `json:"contradictions"`
}

// StoredCluster is the flattened persistent form of one theme.
type StoredCluster struct {
	ID          int64  `json:"id"`
	DigestDate  string `json:"digest_date"` // YYYY-MM-DD
	Name        string `json:"name"`
	Synthesis   string `json:"synthesis"`
	SourceCount int    `json:"source_count"`
}

// DigestPayload is the assembled digest for one run.
type DigestPayload struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Subscription marks a sender the pipeline should process for a user.
type Subscription struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	SenderEmail string    `json:"sender_email"`
	SenderName  string    `json:"sender_name"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// DigestRecord is a saved digest, kept so past runs can be reviewed.
type DigestRecord struct {
	ID               int64     `json:"id"`
	UserEmail        string    `json:"user_email"`
	DigestDate       string    `json:"digest_date"` // YYYY-MM-DD
	Subject          string    `json:"subject"`
	HTML             string    `json:"html"`
	ThemesCount      int       `json:"themes_count"`
	NewslettersCount int       `json:"newsletters_count"`
	CreatedAt        time.Time `json:"created_at"`
}
