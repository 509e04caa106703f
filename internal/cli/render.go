package cli

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ibeckermayer/modwatch/internal/app"
	"github.com/ibeckermayer/modwatch/internal/stats"
	"github.com/ibeckermayer/modwatch/internal/store"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderDashboard(w io.Writer, d app.Dashboard) {
	if d.Task.TaskID != "" {
		fmt.Fprintf(w, "Task %s (%s)\n", d.Task.TaskID, d.State)
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Items", "Comments", "Hate", "Safe", "Active Platforms"})
	t.AppendRow(table.Row{d.Summary.TotalItems, d.Summary.TotalComments, d.Summary.HateCount, d.SafeCount, d.Breakdown.ActivePlatformCount})
	t.Render()

	renderBreakdown(w, d.Breakdown)
}

func renderBreakdown(w io.Writer, b stats.Breakdown) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Platform", "Items", "Comments", "Hate", "Status"})
	for _, p := range b.Platforms {
		status := "coming soon"
		if p.IsActive {
			status = "active"
		}
		t.AppendRow(table.Row{p.Name, p.ItemsScraped, p.CommentsAnalyzed, p.HateCount, status})
	}
	t.Render()
}

func renderItems(w io.Writer, items []stats.ItemStat) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Platform", "URL", "Comments", "Hate", "Safe"})
	for _, it := range items {
		t.AppendRow(table.Row{it.Platform, it.URL, it.CommentCount, it.HateCount, it.SafeCount})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d items", len(items))})
	t.Render()
}

func renderFlagged(w io.Writer, flagged []stats.FlaggedComment) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Platform", "Author", "Label", "Comment", "URL"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})
	for _, f := range flagged {
		t.AppendRow(table.Row{f.Platform, f.Comment.AuthorName, f.Comment.Label, f.Comment.Text, f.URL})
	}
	t.Render()
}

func renderTasks(w io.Writer, records []store.TaskRecord) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Task", "Status", "Items", "Comments", "Archived", "Error"})
	for _, r := range records {
		t.AppendRow(table.Row{r.TaskID, r.Phase, r.Items, r.Comments, r.ArchivedAt.Local().Format("2006-01-02 15:04"), r.Error})
	}
	t.Render()
}
