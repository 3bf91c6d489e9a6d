package parser

import (
	"regexp"
	"strings"

	"tldread/internal/core"
	"tldread/internal/logger"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Footer patterns to strip (case-insensitive). Block elements whose visible
// text matches one of these are removed before text extraction.
var footerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)unsubscribe`),
	regexp.MustCompile(`(?i)view\s+(this\s+)?(email\s+)?in\s+(your\s+)?browser`),
	regexp.MustCompile(`(?i)manage\s+(your\s+)?(email\s+)?preferences`),
	regexp.MustCompile(`(?i)opt[\s-]?out`),
	regexp.MustCompile(`(?i)email\s+preferences`),
	regexp.MustCompile(`(?i)update\s+(your\s+)?subscription`),
	regexp.MustCompile(`(?i)you('re|\s+are)\s+receiving\s+this`),
	regexp.MustCompile(`(?i)sent\s+to\s+\S+@\S+`),
	regexp.MustCompile(`(?i)no\s+longer\s+wish\s+to\s+receive`),
	regexp.MustCompile(`(?i)click\s+here\s+to\s+unsubscribe`),
	regexp.MustCompile(`(?i)powered\s+by\s+(mailchimp|substack|convertkit|beehiiv|buttondown)`),
}

// Text blocks longer than this are never treated as footer, so a long
// paragraph that happens to mention "unsubscribe" survives.
const footerMaxLen = 500

var (
	htmlDetectRegex  = regexp.MustCompile(`(?i)<\s*(html|body|div|p|table|a|span|br)\b`)
	tagStripRegex    = regexp.MustCompile(`<[^>]+>`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)
	plainURLRegex    = regexp.MustCompile(`https?://[^\s<>"']+`)
	blankLinesRegex  = regexp.MustCompile(`\n{3,}`)
	lineEdgeRegex    = regexp.MustCompile(`[ \t]*\n[ \t]*`)
	horizSpaceRegex  = regexp.MustCompile(`[ \t]+`)
	nonDigitRegex    = regexp.MustCompile(`[^\d]`)
	forwardedFromRe  = regexp.MustCompile(`From:\s*\*{0,2}\s*(.+?)\s*\*{0,2}\s*<([^>]+@[^>]+)>`)
	trackingKeywords = []string{"unsubscribe", "manage-preferences", "tracking", "list-manage"}
)

// ForwardedMarker is the phrase that identifies a forwarded message body.
const ForwardedMarker = "Forwarded message"

// Normalize converts a raw message body (HTML or plain text) into clean
// readable text plus an extracted, deduplicated link list. It never fails:
// on parse errors it falls back to blunt tag stripping with an empty link
// list.
func Normalize(rawBody string) core.NormalizedContent {
	if strings.TrimSpace(rawBody) == "" {
		return core.NormalizedContent{}
	}

	if !looksLikeHTML(rawBody) {
		return core.NormalizedContent{
			CleanText: strings.TrimSpace(rawBody),
			Links:     extractPlainTextLinks(rawBody),
		}
	}

	content, err := parseHTML(rawBody)
	if err != nil {
		logger.Warnf("HTML parsing failed, falling back to tag stripping: %v", err)
		text := tagStripRegex.ReplaceAllString(rawBody, " ")
		text = strings.TrimSpace(whitespaceRegex.ReplaceAllString(text, " "))
		return core.NormalizedContent{CleanText: text}
	}
	return content
}

// ExtractForwardedSender resolves the original author of a forwarded message.
// It returns nil when the text carries no forwarded-message marker or no
// "From: Name <email>" line is found. Bold markers around the name (from
// markdown-rendered forwards) are tolerated.
func ExtractForwardedSender(text string) *core.ForwardedSender {
	if text == "" || !strings.Contains(text, ForwardedMarker) {
		return nil
	}

	match := forwardedFromRe.FindStringSubmatch(text)
	if match == nil {
		return nil
	}

	name := strings.TrimSpace(match[1])
	email := strings.TrimSpace(match[2])
	if name == "" || email == "" {
		return nil
	}
	return &core.ForwardedSender{Name: name, Email: email}
}

func looksLikeHTML(text string) bool {
	return htmlDetectRegex.MatchString(text)
}

func parseHTML(rawHTML string) (core.NormalizedContent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return core.NormalizedContent{}, err
	}

	doc.Find("script, style, head, meta, link, noscript").Remove()

	// Tracking pixels: images with declared dimensions of 1x1 or smaller.
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		if isTrackingPixel(img.AttrOr("width", ""), img.AttrOr("height", "")) {
			img.Remove()
		}
	})

	// Links come out before footer removal so a legitimate "read more" link
	// sitting near the footer is not lost.
	links := extractLinks(doc)

	removeFooterContent(doc)

	text := renderText(doc.Selection)
	return core.NormalizedContent{CleanText: text, Links: links}, nil
}

func isTrackingPixel(width, height string) bool {
	w, okW := parseDimension(width)
	h, okH := parseDimension(height)
	return okW && okH && w <= 1 && h <= 1
}

func parseDimension(s string) (int, bool) {
	digits := nonDigitRegex.ReplaceAllString(s, "")
	if digits == "" {
		return 0, false
	}
	n := 0
	for _, r := range digits {
		n = n*10 + int(r-'0')
		if n > 1<<20 {
			break
		}
	}
	return n, true
}

func extractLinks(doc *goquery.Document) []core.Link {
	var links []core.Link
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		url := strings.TrimSpace(a.AttrOr("href", ""))
		if url == "" ||
			strings.HasPrefix(url, "#") ||
			strings.HasPrefix(url, "mailto:") ||
			strings.HasPrefix(url, "tel:") {
			return
		}

		if isTrackingURL(url) {
			return
		}

		if seen[url] {
			return
		}
		seen[url] = true

		links = append(links, core.Link{URL: url, Text: strings.TrimSpace(a.Text())})
	})

	return links
}

// isTrackingURL reports whether a URL carries an unsubscribe or tracking
// marker. Such links are excluded from extraction regardless of body format.
func isTrackingURL(url string) bool {
	lower := strings.ToLower(url)
	for _, kw := range trackingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func extractPlainTextLinks(text string) []core.Link {
	var links []core.Link
	seen := make(map[string]bool)
	for _, url := range plainURLRegex.FindAllString(text, -1) {
		url = strings.TrimRight(url, ".,;:!?)")
		if url == "" || seen[url] || isTrackingURL(url) {
			continue
		}
		seen[url] = true
		links = append(links, core.Link{URL: url})
	}
	return links
}

func removeFooterContent(doc *goquery.Document) {
	doc.Find("div, td, tr, table, p, span").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" || len(text) > footerMaxLen {
			return
		}
		for _, pat := range footerPatterns {
			if pat.MatchString(text) {
				sel.Remove()
				return
			}
		}
	})
}

// Block-level elements that force a paragraph break after their content.
var blockTags = map[string]bool{
	"p": true, "div": true, "table": true, "tr": true, "li": true,
	"ul": true, "ol": true, "blockquote": true, "pre": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// renderText flattens the remaining tree into readable text, preserving
// paragraph breaks at block boundaries and collapsing 3+ blank lines to 2.
func renderText(sel *goquery.Selection) string {
	var sb strings.Builder
	for _, node := range sel.Nodes {
		walkText(node, &sb)
	}

	text := horizSpaceRegex.ReplaceAllString(sb.String(), " ")
	text = lineEdgeRegex.ReplaceAllString(text, "\n")
	text = blankLinesRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func walkText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		// Source-formatting whitespace inside text nodes is noise; only the
		// breaks inserted at block boundaries should survive.
		sb.WriteString(whitespaceRegex.ReplaceAllString(n.Data, " "))
	case html.ElementNode:
		if n.Data == "br" {
			sb.WriteString("\n")
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkText(c, sb)
		}
		if blockTags[n.Data] {
			sb.WriteString("\n\n")
		} else if n.Data == "td" || n.Data == "th" {
			sb.WriteString(" ")
		}
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkText(c, sb)
		}
	}
}
