package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"tldread/internal/core"

	"github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("store: not found")

// Store is the SQLite-backed persistence boundary. The message table's
// uniqueness constraint on message_id is the state machine's sole
// concurrency-safety mechanism.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database under dataDir and ensures the schema.
func New(dataDir string) (*Store, error) {
	return Open(filepath.Join(dataDir, "tldread.db"))
}

// Open opens a database at the given DSN. Tests use ":memory:".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS newsletters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_email TEXT UNIQUE NOT NULL,
			sender_name TEXT NOT NULL,
			notes TEXT DEFAULT '',
			created_at TEXT DEFAULT (datetime('now'))
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			newsletter_id INTEGER NOT NULL,
			message_id TEXT UNIQUE NOT NULL,
			subject TEXT NOT NULL,
			received_at TEXT NOT NULL,
			raw_html TEXT,
			plain_text TEXT,
			status TEXT DEFAULT 'pending',
			created_at TEXT DEFAULT (datetime('now')),
			FOREIGN KEY (newsletter_id) REFERENCES newsletters(id)
		);`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_row_id INTEGER UNIQUE NOT NULL,
			context TEXT DEFAULT '',
			key_points TEXT DEFAULT '[]',
			entities TEXT DEFAULT '[]',
			topic_tags TEXT DEFAULT '[]',
			notable_links TEXT DEFAULT '[]',
			importance_score INTEGER DEFAULT 5,
			one_line_summary TEXT DEFAULT '',
			FOREIGN KEY (message_row_id) REFERENCES messages(id)
		);`,
		`CREATE TABLE IF NOT EXISTS clusters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			digest_date TEXT NOT NULL,
			cluster_name TEXT NOT NULL,
			synthesis TEXT DEFAULT '',
			source_count INTEGER DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL DEFAULT 1,
			sender_email TEXT NOT NULL,
			sender_name TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT DEFAULT (datetime('now')),
			UNIQUE(user_id, sender_email)
		);`,
		`CREATE TABLE IF NOT EXISTS digests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_email TEXT NOT NULL,
			digest_date TEXT NOT NULL,
			subject TEXT NOT NULL,
			html_content TEXT NOT NULL,
			themes_count INTEGER DEFAULT 0,
			newsletters_count INTEGER DEFAULT 0,
			created_at TEXT DEFAULT (datetime('now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_received ON messages(received_at);`,
		`CREATE INDEX IF NOT EXISTS idx_clusters_date ON clusters(digest_date);`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id, is_active);`,
	}

	for _, stmt := range tables {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// GetOrCreateNewsletter returns the ID of the sender identity, creating it on
// first sight. A racing insert is resolved by re-reading.
func (s *Store) GetOrCreateNewsletter(senderEmail, senderName string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM newsletters WHERE sender_email = ?`, senderEmail).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up newsletter: %w", err)
	}

	res, err := s.db.Exec(`INSERT INTO newsletters (sender_email, sender_name) VALUES (?, ?)`,
		senderEmail, senderName)
	if err != nil {
		if isUniqueViolation(err) {
			err = s.db.QueryRow(`SELECT id FROM newsletters WHERE sender_email = ?`, senderEmail).Scan(&id)
			if err != nil {
				return 0, fmt.Errorf("failed to re-read newsletter after conflict: %w", err)
			}
			return id, nil
		}
		return 0, fmt.Errorf("failed to insert newsletter: %w", err)
	}
	return res.LastInsertId()
}

// InsertMessage inserts a tracked message, or fetches the existing row when
// another writer got there first. The returned bool reports whether this call
// created the row. At most one logical row per message identifier exists even
// under concurrent writers.
func (s *Store) InsertMessage(msg core.TrackedMessage) (core.TrackedMessage, bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO messages (newsletter_id, message_id, subject, received_at, raw_html, plain_text, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.NewsletterID, msg.MessageID, msg.Subject,
		msg.ReceivedAt.UTC().Format(time.RFC3339), msg.RawHTML, msg.PlainText, string(msg.Status),
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.GetMessage(msg.MessageID)
			if lookupErr != nil {
				return core.TrackedMessage{}, false, fmt.Errorf("unique conflict but message not readable: %w", lookupErr)
			}
			return *existing, false, nil
		}
		return core.TrackedMessage{}, false, fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.TrackedMessage{}, false, err
	}
	msg.ID = id
	return msg, true, nil
}

// GetMessage returns the tracked message with the given message identifier,
// or ErrNotFound.
func (s *Store) GetMessage(messageID string) (*core.TrackedMessage, error) {
	row := s.db.QueryRow(
		`SELECT id, newsletter_id, message_id, subject, received_at, raw_html, plain_text, status
		 FROM messages WHERE message_id = ?`, messageID)
	return scanMessage(row)
}

// GetMessageByRowID returns the tracked message with the given row ID.
func (s *Store) GetMessageByRowID(id int64) (*core.TrackedMessage, error) {
	row := s.db.QueryRow(
		`SELECT id, newsletter_id, message_id, subject, received_at, raw_html, plain_text, status
		 FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

func scanMessage(row *sql.Row) (*core.TrackedMessage, error) {
	var msg core.TrackedMessage
	var receivedAt, status string
	err := row.Scan(&msg.ID, &msg.NewsletterID, &msg.MessageID, &msg.Subject,
		&receivedAt, &msg.RawHTML, &msg.PlainText, &status)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.Status = core.MessageStatus(status)
	if t, err := time.Parse(time.RFC3339, receivedAt); err == nil {
		msg.ReceivedAt = t
	}
	return &msg, nil
}

// UpdateMessageStatus transitions a tracked message to the given status.
func (s *Store) UpdateMessageStatus(id int64, status core.MessageStatus) error {
	_, err := s.db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	return nil
}

// SaveSummary persists a summary. Summaries are unique per message row and
// immutable: saving a second summary for the same message is a no-op and the
// stored one stays authoritative.
func (s *Store) SaveSummary(sum core.SummaryResult) error {
	keyPoints, _ := json.Marshal(sum.KeyPoints)
	entities, _ := json.Marshal(sum.Entities)
	topicTags, _ := json.Marshal(sum.TopicTags)
	notableLinks, _ := json.Marshal(sum.NotableLinks)

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO summaries
		 (message_row_id, context, key_points, entities, topic_tags, notable_links, importance_score, one_line_summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.MessageRowID, sum.Context, string(keyPoints), string(entities),
		string(topicTags), string(notableLinks), sum.ImportanceScore, sum.OneLineSummary,
	)
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

// GetSummary returns the summary for a message row, or ErrNotFound.
func (s *Store) GetSummary(messageRowID int64) (*core.SummaryResult, error) {
	row := s.db.QueryRow(
		`SELECT id, message_row_id, context, key_points, entities, topic_tags, notable_links, importance_score, one_line_summary
		 FROM summaries WHERE message_row_id = ?`, messageRowID)

	sum, err := scanSummary(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan summary: %w", err)
	}
	return sum, nil
}

type scanFunc func(dest ...any) error

func scanSummary(scan scanFunc) (*core.SummaryResult, error) {
	var sum core.SummaryResult
	var keyPoints, entities, topicTags, notableLinks string
	err := scan(&sum.ID, &sum.MessageRowID, &sum.Context, &keyPoints, &entities,
		&topicTags, &notableLinks, &sum.ImportanceScore, &sum.OneLineSummary)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(keyPoints), &sum.KeyPoints)
	json.Unmarshal([]byte(entities), &sum.Entities)
	json.Unmarshal([]byte(topicTags), &sum.TopicTags)
	json.Unmarshal([]byte(notableLinks), &sum.NotableLinks)
	return &sum, nil
}

// GetDigestEntries returns the summaries for the given message rows joined
// with sender attribution, ordered by importance descending.
func (s *Store) GetDigestEntries(messageRowIDs []int64) ([]core.DigestEntry, error) {
	if len(messageRowIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(messageRowIDs)), ",")
	args := make([]any, len(messageRowIDs))
	for i, id := range messageRowIDs {
		args[i] = id
	}

	rows, err := s.db.Query(
		`SELECT n.sender_name, m.subject,
		        su.id, su.message_row_id, su.context, su.key_points, su.entities,
		        su.topic_tags, su.notable_links, su.importance_score, su.one_line_summary
		 FROM summaries su
		 JOIN messages m ON su.message_row_id = m.id
		 JOIN newsletters n ON m.newsletter_id = n.id
		 WHERE su.message_row_id IN (`+placeholders+`)
		 ORDER BY su.importance_score DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query digest entries: %w", err)
	}
	defer rows.Close()

	var entries []core.DigestEntry
	for rows.Next() {
		var entry core.DigestEntry
		var sum core.SummaryResult
		var keyPoints, entities, topicTags, notableLinks string
		err := rows.Scan(&entry.SenderName, &entry.Subject,
			&sum.ID, &sum.MessageRowID, &sum.Context, &keyPoints, &entities,
			&topicTags, &notableLinks, &sum.ImportanceScore, &sum.OneLineSummary)
		if err != nil {
			return nil, fmt.Errorf("failed to scan digest entry: %w", err)
		}
		json.Unmarshal([]byte(keyPoints), &sum.KeyPoints)
		json.Unmarshal([]byte(entities), &sum.Entities)
		json.Unmarshal([]byte(topicTags), &sum.TopicTags)
		json.Unmarshal([]byte(notableLinks), &sum.NotableLinks)
		entry.Summary = sum
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SaveCluster persists one flattened theme row.
func (s *Store) SaveCluster(c core.StoredCluster) error {
	_, err := s.db.Exec(
		`INSERT INTO clusters (digest_date, cluster_name, synthesis, source_count) VALUES (?, ?, ?, ?)`,
		c.DigestDate, c.Name, c.Synthesis, c.SourceCount)
	if err != nil {
		return fmt.Errorf("failed to save cluster: %w", err)
	}
	return nil
}

// GetClustersForDate returns the themes saved for a digest date, most-sourced
// first.
func (s *Store) GetClustersForDate(date string) ([]core.StoredCluster, error) {
	rows, err := s.db.Query(
		`SELECT id, digest_date, cluster_name, synthesis, source_count
		 FROM clusters WHERE digest_date = ? ORDER BY source_count DESC`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []core.StoredCluster
	for rows.Next() {
		var c core.StoredCluster
		if err := rows.Scan(&c.ID, &c.DigestDate, &c.Name, &c.Synthesis, &c.SourceCount); err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

// AddSubscription inserts a new subscription or reactivates an existing one,
// updating the display name either way. Returns the subscription ID.
func (s *Store) AddSubscription(senderEmail, senderName string, userID int64) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM subscriptions WHERE user_id = ? AND sender_email = ?`,
		userID, senderEmail).Scan(&id)
	if err == nil {
		_, err = s.db.Exec(`UPDATE subscriptions SET is_active = 1, sender_name = ? WHERE id = ?`,
			senderName, id)
		if err != nil {
			return 0, fmt.Errorf("failed to reactivate subscription: %w", err)
		}
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up subscription: %w", err)
	}

	res, err := s.db.Exec(
		`INSERT INTO subscriptions (user_id, sender_email, sender_name) VALUES (?, ?, ?)`,
		userID, senderEmail, senderName)
	if err != nil {
		return 0, fmt.Errorf("failed to insert subscription: %w", err)
	}
	return res.LastInsertId()
}

// DeactivateSubscription marks a subscription inactive. Returns true if a
// row was updated.
func (s *Store) DeactivateSubscription(senderEmail string, userID int64) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE subscriptions SET is_active = 0 WHERE user_id = ? AND sender_email = ? AND is_active = 1`,
		userID, senderEmail)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate subscription: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListSubscriptions returns all subscriptions for a user, active first.
func (s *Store) ListSubscriptions(userID int64) ([]core.Subscription, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, sender_email, sender_name, is_active
		 FROM subscriptions WHERE user_id = ? ORDER BY is_active DESC, sender_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []core.Subscription
	for rows.Next() {
		var sub core.Subscription
		var active int
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.SenderEmail, &sub.SenderName, &active); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		sub.IsActive = active != 0
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ActiveSenders returns the set of actively subscribed sender addresses for
// fast lookups during processing. Addresses are lowercased.
func (s *Store) ActiveSenders(userID int64) (map[string]bool, error) {
	rows, err := s.db.Query(
		`SELECT sender_email FROM subscriptions WHERE user_id = ? AND is_active = 1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active senders: %w", err)
	}
	defer rows.Close()

	senders := make(map[string]bool)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan sender: %w", err)
		}
		senders[strings.ToLower(email)] = true
	}
	return senders, rows.Err()
}

// SaveDigest persists a generated digest and returns its ID.
func (s *Store) SaveDigest(rec core.DigestRecord) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO digests (user_email, digest_date, subject, html_content, themes_count, newsletters_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.UserEmail, rec.DigestDate, rec.Subject, rec.HTML, rec.ThemesCount, rec.NewslettersCount)
	if err != nil {
		return 0, fmt.Errorf("failed to save digest: %w", err)
	}
	return res.LastInsertId()
}

// GetDigestsForUser returns recent digests for a user, newest first. The
// HTML body is omitted from listings.
func (s *Store) GetDigestsForUser(userEmail string, limit int) ([]core.DigestRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, user_email, digest_date, subject, themes_count, newsletters_count
		 FROM digests WHERE user_email = ? ORDER BY digest_date DESC LIMIT ?`,
		userEmail, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query digests: %w", err)
	}
	defer rows.Close()

	var recs []core.DigestRecord
	for rows.Next() {
		var rec core.DigestRecord
		if err := rows.Scan(&rec.ID, &rec.UserEmail, &rec.DigestDate, &rec.Subject,
			&rec.ThemesCount, &rec.NewslettersCount); err != nil {
			return nil, fmt.Errorf("failed to scan digest: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
