package report

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/ibeckermayer/modwatch/internal/stats"
	"github.com/ibeckermayer/modwatch/internal/types"
)

// ErrEmpty is returned when there is nothing to report on
var ErrEmpty = errors.New("no scraped items to report")

// Builder creates moderation reports from a results snapshot
type Builder struct {
	maxFlagged int
	aggregator *stats.Aggregator
	template   *template.Template
}

// New creates a new report builder. maxFlagged caps the flagged comment list.
func New(aggregator *stats.Aggregator, maxFlagged int) (*Builder, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"pct": percent,
	}).Parse(defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	if aggregator == nil {
		aggregator = stats.NewAggregator(nil, nil, nil)
	}

	return &Builder{
		maxFlagged: maxFlagged,
		aggregator: aggregator,
		template:   tmpl,
	}, nil
}

// Report represents a compiled report ready for saving or sending
type Report struct {
	Subject   string
	HTMLBody  string
	PlainBody string
	TaskID    string
	Summary   stats.Summary
	Breakdown stats.Breakdown
	CreatedAt time.Time
}

// ReportData is the template data structure
type ReportData struct {
	Title     string
	Date      string
	TaskID    string
	Summary   stats.Summary
	Safe      int
	Platforms []stats.PlatformStat
	Active    int
	Flagged   []FlaggedData
	Truncated bool
}

// FlaggedData represents a flagged comment in the report template
type FlaggedData struct {
	Platform string
	Author   string
	Profile  string
	Text     string
	Label    string
	URL      string
}

// Build creates a report for task from its items
func (b *Builder) Build(task types.TaskState, items []types.ContentItem) (*Report, error) {
	if len(items) == 0 {
		return nil, ErrEmpty
	}

	summary := b.aggregator.Aggregate(items)
	breakdown := b.aggregator.AggregateByPlatform(items)
	catalog := b.aggregator.Catalog()

	flagged := b.aggregator.Flagged(items, 0)
	truncated := false
	if b.maxFlagged > 0 && len(flagged) > b.maxFlagged {
		flagged = flagged[:b.maxFlagged]
		truncated = true
	}

	now := time.Now()
	data := ReportData{
		Title:     "Comment Moderation Report",
		Date:      now.Format("Monday, January 2"),
		TaskID:    task.TaskID,
		Summary:   summary,
		Safe:      summary.SafeCount(),
		Platforms: breakdown.Platforms,
		Active:    breakdown.ActivePlatformCount,
		Flagged:   make([]FlaggedData, len(flagged)),
		Truncated: truncated,
	}
	for i, f := range flagged {
		data.Flagged[i] = FlaggedData{
			Platform: catalog.DisplayName(f.Platform),
			Author:   f.Comment.AuthorName,
			Profile:  f.Comment.AuthorProfileURL,
			Text:     truncate(f.Comment.Text, 280),
			Label:    f.Comment.Label,
			URL:      f.URL,
		}
	}

	var htmlBuf bytes.Buffer
	if err := b.template.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	return &Report{
		Subject:   fmt.Sprintf("Moderation report - %d flagged of %d comments, %s", summary.HateCount, summary.TotalComments, now.Format("Jan 2")),
		HTMLBody:  htmlBuf.String(),
		PlainBody: buildPlainText(data),
		TaskID:    task.TaskID,
		Summary:   summary,
		Breakdown: breakdown,
		CreatedAt: now,
	}, nil
}

func percent(part, total int) string {
	if total == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.0f%%", float64(part)*100/float64(total))
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func buildPlainText(data ReportData) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n%s\n\n", data.Title, data.Date)
	fmt.Fprintf(&buf, "Items scraped:      %d\n", data.Summary.TotalItems)
	fmt.Fprintf(&buf, "Comments analyzed:  %d\n", data.Summary.TotalComments)
	fmt.Fprintf(&buf, "Hate comments:      %d (%s)\n", data.Summary.HateCount, percent(data.Summary.HateCount, data.Summary.TotalComments))
	fmt.Fprintf(&buf, "Safe comments:      %d\n", data.Safe)
	fmt.Fprintf(&buf, "Active platforms:   %d\n\n", data.Active)

	for _, p := range data.Platforms {
		fmt.Fprintf(&buf, "- %s: %d items, %d comments, %d hate\n", p.Name, p.ItemsScraped, p.CommentsAnalyzed, p.HateCount)
	}

	if len(data.Flagged) > 0 {
		buf.WriteString("\nFlagged comments\n")
		for i, f := range data.Flagged {
			fmt.Fprintf(&buf, "%d. [%s] %s (%s): %s\n", i+1, f.Platform, f.Author, f.Label, f.Text)
			fmt.Fprintf(&buf, "   %s\n", f.URL)
		}
		if data.Truncated {
			buf.WriteString("   ...more flagged comments omitted\n")
		}
	}

	return buf.String()
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 720px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { color: #b42318; margin-bottom: 5px; }
        .date { color: #666; margin-bottom: 20px; }
        .cards { display: flex; gap: 10px; flex-wrap: wrap; margin-bottom: 20px; }
        .card { flex: 1; min-width: 120px; border: 1px solid #eee; border-radius: 6px; padding: 10px; }
        .card .value { font-size: 22px; font-weight: bold; }
        .card .label { color: #666; font-size: 12px; }
        table { width: 100%; border-collapse: collapse; margin-bottom: 20px; }
        th, td { text-align: left; padding: 6px; border-bottom: 1px solid #eee; font-size: 14px; }
        .inactive { color: #aaa; }
        .flag { border-bottom: 1px solid #eee; padding: 10px 0; }
        .flag:last-child { border-bottom: none; }
        .author { font-weight: bold; color: #333; }
        .tag { background: #fde8e8; color: #b42318; padding: 2px 8px; border-radius: 12px; font-size: 12px; margin-left: 5px; }
        .text { margin: 6px 0; line-height: 1.4; }
        .link { color: #1d4ed8; text-decoration: none; font-size: 13px; }
        .footer { margin-top: 20px; padding-top: 15px; border-top: 1px solid #eee; color: #999; font-size: 12px; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div class="date">{{.Date}}{{if .TaskID}} · task {{.TaskID}}{{end}}</div>

        <div class="cards">
            <div class="card"><div class="value">{{.Summary.TotalItems}}</div><div class="label">Items scraped</div></div>
            <div class="card"><div class="value">{{.Summary.TotalComments}}</div><div class="label">Comments analyzed</div></div>
            <div class="card"><div class="value">{{.Summary.HateCount}}</div><div class="label">Hate ({{pct .Summary.HateCount .Summary.TotalComments}})</div></div>
            <div class="card"><div class="value">{{.Safe}}</div><div class="label">Safe</div></div>
        </div>

        <table>
            <tr><th>Platform</th><th>Items</th><th>Comments</th><th>Hate</th></tr>
            {{range .Platforms}}
            <tr{{if not .IsActive}} class="inactive"{{end}}><td>{{.Name}}</td><td>{{.ItemsScraped}}</td><td>{{.CommentsAnalyzed}}</td><td>{{.HateCount}}</td></tr>
            {{end}}
        </table>

        {{range .Flagged}}
        <div class="flag">
            <div class="author">{{if .Profile}}<a href="{{.Profile}}" class="link">{{.Author}}</a>{{else}}{{.Author}}{{end}} <span class="tag">{{.Label}}</span> <span class="tag">{{.Platform}}</span></div>
            <div class="text">{{.Text}}</div>
            <a href="{{.URL}}" class="link">View post →</a>
        </div>
        {{end}}
        {{if .Truncated}}<div class="date">More flagged comments omitted.</div>{{end}}

        <div class="footer">
            {{.Active}} active platforms · Generated by modwatch
        </div>
    </div>
</body>
</html>`
