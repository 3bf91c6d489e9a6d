package classify

import (
	"regexp"
	"strings"

	"tldread/internal/core"
	"tldread/internal/parser"
)

// AcceptThreshold is the minimum combined score for a message to qualify as
// a newsletter candidate.
const AcceptThreshold = 2

// NewsletterDomains are known newsletter platforms. Mail from these domains
// is always treated as a potential newsletter and never excluded by the
// transactional filter.
var NewsletterDomains = map[string]bool{
	"news.bloomberg.com": true,
	"substack.com":       true,
	"beehiiv.com":        true,
	"mailchimp.com":      true,
	"convertkit.com":     true,
	"buttondown.email":   true,
	"revue.email":        true,
	"ghost.io":           true,
}

var (
	transactionalSubjectRe = regexp.MustCompile(`(?i)(welcome\s+to|verify\s+your|confirm\s+your|reset\s+your\s+password` +
		`|order\s+(confirm|receip|ship)|payment\s+(confirm|receip)` +
		`|your\s+receipt|invoice\s+#|sign[\s-]?in\s+(attempt|alert)` +
		`|account\s+(created|activated|security)|login\s+(alert|notification)` +
		`|two[\s-]?factor|one[\s-]?time\s+(code|password)|verification\s+code)`)

	transactionalSenderRe = regexp.MustCompile(`(?i)(support@|billing@|receipts?@|orders?@` +
		`|notifications?@|security@|verify@|mailer-daemon)`)

	subjectKeywordRe = regexp.MustCompile(`(?i)(newsletter|digest|weekly|daily|monthly|issue\s*#?\d|briefing|roundup|recap)`)
	unsubscribeRe    = regexp.MustCompile(`(?i)unsubscribe`)
	browserViewRe    = regexp.MustCompile(`(?i)(view\s+(in|this\s+email)\s+(browser|online)|email\s+preferences|manage\s+subscriptions)`)

	// The system's own digest subject, so a scan never re-detects its output.
	ownDigestRe = regexp.MustCompile(`(?i)newsletter\s+digest`)
)

// Message is the classifier's view of an inbox message. HasListUnsubscribe
// reflects the List-Unsubscribe header, which is set by mailing-list software
// and is the strongest single signal after the platform domain.
type Message struct {
	ID                 string
	SenderEmail        string
	SenderName         string
	Subject            string
	Body               string
	HasListUnsubscribe bool
}

// Detect scores a batch of inbox messages and returns the likely newsletters,
// deduplicated by sender. ownerAddress, when non-empty, excludes the owner's
// own mail from consideration.
//
// Phase 1 scores each message independently; phase 2 adds a +1 volume boost
// for senders seen more than once, drops everything under the threshold, and
// keeps only the highest-scoring message per sender.
func Detect(messages []Message, ownerAddress string) []core.Candidate {
	owner := strings.ToLower(ownerAddress)

	type scored struct {
		msg   Message
		score int
	}

	senderFreq := make(map[string]int)
	var scoredMsgs []scored

	for _, msg := range messages {
		sender := strings.ToLower(msg.SenderEmail)
		if sender == "" {
			continue
		}
		if owner != "" && sender == owner {
			continue
		}
		if ownDigestRe.MatchString(msg.Subject) {
			continue
		}
		if isTransactional(msg) {
			continue
		}

		senderFreq[sender]++
		scoredMsgs = append(scoredMsgs, scored{msg: msg, score: score(msg)})
	}

	best := make(map[string]core.Candidate)
	var order []string

	for _, sm := range scoredMsgs {
		sender := strings.ToLower(sm.msg.SenderEmail)
		total := sm.score
		if senderFreq[sender] > 1 {
			total++
		}
		if total < AcceptThreshold {
			continue
		}

		if existing, ok := best[sender]; !ok || total > existing.Score {
			if !ok {
				order = append(order, sender)
			}
			best[sender] = core.Candidate{
				MessageID:   sm.msg.ID,
				SenderEmail: sender,
				SenderName:  sm.msg.SenderName,
				Subject:     sm.msg.Subject,
				Snippet:     snippet(sm.msg.Body),
				Score:       total,
				EmailCount:  senderFreq[sender],
			}
		}
	}

	candidates := make([]core.Candidate, 0, len(best))
	for _, sender := range order {
		candidates = append(candidates, best[sender])
	}
	return candidates
}

// isTransactional reports whether a message looks like a one-off
// transactional mail rather than a recurring newsletter. Known newsletter
// platforms are never classified as transactional.
func isTransactional(msg Message) bool {
	if NewsletterDomains[senderDomain(msg.SenderEmail)] {
		return false
	}
	if transactionalSubjectRe.MatchString(msg.Subject) {
		return true
	}
	return transactionalSenderRe.MatchString(msg.SenderEmail)
}

// score sums the independent newsletter signals for one message.
func score(msg Message) int {
	s := 0
	if NewsletterDomains[senderDomain(msg.SenderEmail)] {
		s += 3
	}
	if msg.HasListUnsubscribe {
		s += 2
	}
	if unsubscribeRe.MatchString(msg.Body) {
		s++
	}
	if subjectKeywordRe.MatchString(msg.Subject) {
		s += 2
	}
	if browserViewRe.MatchString(msg.Body) {
		s++
	}
	return s
}

func senderDomain(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return strings.ToLower(email[i+1:])
	}
	return ""
}

func snippet(body string) string {
	clean := parser.Normalize(body).CleanText
	clean = strings.Join(strings.Fields(clean), " ")
	if len(clean) > 100 {
		clean = clean[:100]
	}
	return clean
}
