package digest

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"tldread/internal/core"
)

// Assemble renders the digest for one run as a subject line plus HTML and
// plain-text bodies. Empty sections are omitted rather than rendered blank;
// a run with no clusters still produces a valid digest from the individual
// summaries alone.
func Assemble(entries []core.DigestEntry, clusters core.ClusterResult, date time.Time) (core.DigestPayload, error) {
	data := viewData{
		Date:           date.Format("Monday, January 2, 2006"),
		Intro:          clusters.DigestIntro,
		TopStory:       clusters.TopStory,
		HasTopStory:    clusters.TopStory.Name != "",
		Clusters:       clusters.Clusters,
		Entries:        entries,
		UniqueFinds:    clusters.UniqueFinds,
		Contradictions: clusters.Contradictions,
	}

	var htmlBuf strings.Builder
	if err := digestTmpl.Execute(&htmlBuf, data); err != nil {
		return core.DigestPayload{}, fmt.Errorf("render digest HTML: %w", err)
	}

	return core.DigestPayload{
		Subject: subject(date, len(entries), len(clusters.Clusters)),
		HTML:    htmlBuf.String(),
		Text:    renderText(data),
	}, nil
}

func subject(date time.Time, newsletters, themes int) string {
	s := fmt.Sprintf("Your Newsletter Digest - %s (%s", date.Format("Jan 2"), count(newsletters, "newsletter"))
	if themes > 0 {
		s += ", " + count(themes, "theme")
	}
	return s + ")"
}

func count(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

type viewData struct {
	Date           string
	Intro          string
	TopStory       core.TopStory
	HasTopStory    bool
	Clusters       []core.Cluster
	Entries        []core.DigestEntry
	UniqueFinds    []core.UniqueFind
	Contradictions []core.Contradiction
}

var digestTmpl = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="margin:0;padding:0;background-color:#f4f4f5;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Helvetica,Arial,sans-serif;">
<div style="max-width:640px;margin:0 auto;padding:24px 16px;">

<div style="background-color:#18181b;color:#ffffff;padding:24px;border-radius:8px 8px 0 0;">
<h1 style="margin:0;font-size:22px;">Your Newsletter Digest</h1>
<p style="margin:8px 0 0;color:#a1a1aa;font-size:14px;">{{.Date}}</p>
</div>

<div style="background-color:#ffffff;padding:24px;border-radius:0 0 8px 8px;">

{{if .Intro}}<p style="font-size:15px;line-height:1.6;color:#3f3f46;">{{.Intro}}</p>{{end}}

{{if .HasTopStory}}
<div style="border-left:4px solid #dc2626;background-color:#fef2f2;padding:16px;margin:20px 0;border-radius:0 6px 6px 0;">
<p style="margin:0;font-size:12px;font-weight:700;letter-spacing:1px;color:#dc2626;">TOP STORY</p>
<h2 style="margin:8px 0;font-size:18px;color:#18181b;">{{.TopStory.Name}}</h2>
<p style="margin:0;font-size:14px;line-height:1.6;color:#3f3f46;">{{.TopStory.Why}}</p>
{{if .TopStory.Sources}}<p style="margin:10px 0 0;font-size:12px;color:#71717a;">Sources: {{range $i, $s := .TopStory.Sources}}{{if $i}}, {{end}}{{$s}}{{end}}</p>{{end}}
</div>
{{end}}

{{if .Clusters}}
<h2 style="font-size:16px;color:#18181b;border-bottom:2px solid #e4e4e7;padding-bottom:8px;margin-top:28px;">Themes Across Your Newsletters</h2>
{{range .Clusters}}
<div style="margin:16px 0;padding:14px;background-color:#fafafa;border-radius:6px;">
<h3 style="margin:0 0 6px;font-size:15px;color:#18181b;">{{.Name}}</h3>
<p style="margin:0;font-size:14px;line-height:1.6;color:#3f3f46;">{{.Synthesis}}</p>
{{if .ReadMoreURL}}<p style="margin:8px 0 0;font-size:13px;"><a href="{{.ReadMoreURL}}" style="color:#2563eb;">Read more</a></p>{{end}}
{{if .CrossThemeNote}}<p style="margin:8px 0 0;font-size:13px;font-style:italic;color:#71717a;">{{.CrossThemeNote}}</p>{{end}}
{{if .Sources}}<p style="margin:8px 0 0;font-size:12px;color:#a1a1aa;">{{range $i, $s := .Sources}}{{if $i}}, {{end}}{{$s}}{{end}}</p>{{end}}
</div>
{{end}}
{{end}}

{{if .Entries}}
<h2 style="font-size:16px;color:#18181b;border-bottom:2px solid #e4e4e7;padding-bottom:8px;margin-top:28px;">Individual Newsletters</h2>
{{range .Entries}}
<div style="margin:16px 0;">
<h3 style="margin:0;font-size:15px;color:#18181b;">{{.SenderName}}</h3>
<p style="margin:2px 0 8px;font-size:13px;color:#71717a;">{{.Subject}}</p>
{{if .Summary.OneLineSummary}}<p style="margin:0 0 8px;font-size:14px;font-style:italic;color:#52525b;">{{.Summary.OneLineSummary}}</p>{{end}}
{{if .Summary.Context}}<p style="margin:0 0 8px;font-size:14px;line-height:1.6;color:#3f3f46;">{{.Summary.Context}}</p>{{end}}
{{if .Summary.KeyPoints}}
<ul style="margin:0;padding-left:20px;">
{{range .Summary.KeyPoints}}<li style="font-size:14px;line-height:1.6;color:#3f3f46;margin-bottom:4px;">{{.}}</li>{{end}}
</ul>
{{end}}
{{if .Summary.NotableLinks}}
<p style="margin:8px 0 0;font-size:13px;">
{{range $i, $l := .Summary.NotableLinks}}{{if $i}} &middot; {{end}}<a href="{{$l.URL}}" style="color:#2563eb;">{{if $l.Description}}{{$l.Description}}{{else}}{{$l.URL}}{{end}}</a>{{end}}
</p>
{{end}}
</div>
{{end}}
{{end}}

{{if .UniqueFinds}}
<h2 style="font-size:16px;color:#18181b;border-bottom:2px solid #e4e4e7;padding-bottom:8px;margin-top:28px;">Unique Finds</h2>
{{range .UniqueFinds}}
<div style="margin:12px 0;">
<p style="margin:0;font-size:14px;line-height:1.6;color:#3f3f46;"><strong>{{.Source}}:</strong> {{.Insight}}</p>
{{if .WhyNotable}}<p style="margin:4px 0 0;font-size:13px;color:#71717a;">{{.WhyNotable}}</p>{{end}}
</div>
{{end}}
{{end}}

{{if .Contradictions}}
<h2 style="font-size:16px;color:#18181b;border-bottom:2px solid #e4e4e7;padding-bottom:8px;margin-top:28px;">Different Takes</h2>
{{range .Contradictions}}
<div style="margin:12px 0;">
<p style="margin:0 0 6px;font-size:14px;font-weight:600;color:#18181b;">{{.Topic}}</p>
{{range .Positions}}<p style="margin:0 0 4px;font-size:13px;line-height:1.5;color:#3f3f46;"><strong>{{.Source}}:</strong> {{.Position}}</p>{{end}}
</div>
{{end}}
{{end}}

<p style="margin-top:32px;font-size:12px;color:#a1a1aa;text-align:center;">Generated by tldread</p>
</div>
</div>
</body>
</html>`))

// renderText builds the plain-text mirror of the HTML digest.
func renderText(data viewData) string {
	var b strings.Builder

	b.WriteString("YOUR NEWSLETTER DIGEST\n")
	b.WriteString(data.Date + "\n")
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	if data.Intro != "" {
		b.WriteString(data.Intro + "\n\n")
	}

	if data.HasTopStory {
		b.WriteString("TOP STORY\n")
		b.WriteString(strings.Repeat("-", 60) + "\n")
		b.WriteString(data.TopStory.Name + "\n\n")
		b.WriteString(data.TopStory.Why + "\n")
		if len(data.TopStory.Sources) > 0 {
			b.WriteString("Sources: " + strings.Join(data.TopStory.Sources, ", ") + "\n")
		}
		b.WriteString("\n")
	}

	if len(data.Clusters) > 0 {
		b.WriteString("THEMES ACROSS YOUR NEWSLETTERS\n")
		b.WriteString(strings.Repeat("-", 60) + "\n")
		for _, c := range data.Clusters {
			b.WriteString("* " + c.Name + "\n")
			b.WriteString("  " + c.Synthesis + "\n")
			if c.ReadMoreURL != "" {
				b.WriteString("  Read more: " + c.ReadMoreURL + "\n")
			}
			if c.CrossThemeNote != "" {
				b.WriteString("  " + c.CrossThemeNote + "\n")
			}
			b.WriteString("\n")
		}
	}

	if len(data.Entries) > 0 {
		b.WriteString("INDIVIDUAL NEWSLETTERS\n")
		b.WriteString(strings.Repeat("-", 60) + "\n")
		for _, e := range data.Entries {
			b.WriteString(e.SenderName + " / " + e.Subject + "\n")
			if e.Summary.OneLineSummary != "" {
				b.WriteString(e.Summary.OneLineSummary + "\n")
			}
			if e.Summary.Context != "" {
				b.WriteString(e.Summary.Context + "\n")
			}
			for _, p := range e.Summary.KeyPoints {
				b.WriteString("  - " + p + "\n")
			}
			for _, l := range e.Summary.NotableLinks {
				if l.Description != "" {
					b.WriteString("  " + l.Description + ": " + l.URL + "\n")
				} else {
					b.WriteString("  " + l.URL + "\n")
				}
			}
			b.WriteString("\n")
		}
	}

	if len(data.UniqueFinds) > 0 {
		b.WriteString("UNIQUE FINDS\n")
		b.WriteString(strings.Repeat("-", 60) + "\n")
		for _, u := range data.UniqueFinds {
			b.WriteString("* " + u.Source + ": " + u.Insight + "\n")
			if u.WhyNotable != "" {
				b.WriteString("  " + u.WhyNotable + "\n")
			}
		}
		b.WriteString("\n")
	}

	if len(data.Contradictions) > 0 {
		b.WriteString("DIFFERENT TAKES\n")
		b.WriteString(strings.Repeat("-", 60) + "\n")
		for _, c := range data.Contradictions {
			b.WriteString("* " + c.Topic + "\n")
			for _, p := range c.Positions {
				b.WriteString("  " + p.Source + ": " + p.Position + "\n")
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}
