// Package render formats audit outcomes and stored runs for the terminal.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/EstifanosTeklay/automaton-auditor/internal/audit"
	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
	"github.com/EstifanosTeklay/automaton-auditor/internal/store"
)

// Mode selects the table flavour.
type Mode int

const (
	ASCII    Mode = iota // Box-drawn terminal tables
	Markdown             // GitHub-flavoured Markdown tables
)

// ParseMode maps "table" or "markdown" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "table", "ascii":
		return ASCII, nil
	case "markdown", "md":
		return Markdown, nil
	default:
		return ASCII, fmt.Errorf("unknown output format %q", s)
	}
}

const rationaleWidth = 60

func newWriter(m Mode) table.Writer {
	w := table.NewWriter()
	if m == ASCII {
		w.SetStyle(table.StyleLight)
	}
	return w
}

func renderWith(w table.Writer, m Mode) string {
	if m == Markdown {
		return w.RenderMarkdown()
	}
	return w.Render()
}

// Outcome renders one row per rubric dimension with its rollup, the best
// evidence item and the nodes blocking it, followed by node errors.
func Outcome(out *audit.Outcome, m Mode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run:    %s\n", out.RunID)
	fmt.Fprintf(&b, "Repo:   %s\n", out.Inputs.RepoLocator)
	fmt.Fprintf(&b, "Doc:    %s\n", out.Inputs.DocLocator)
	fmt.Fprintf(&b, "Status: %s\n\n", out.Status)

	w := newWriter(m)
	w.AppendHeader(table.Row{"Dimension", "Rollup", "Items", "Top confidence", "Top finding", "Blocked by"})
	sum := out.Summary()
	if out.Report != nil {
		for _, d := range out.Report.Dimensions {
			top, conf := "", ""
			if len(d.Items) > 0 {
				top = d.Items[0].Location + ": " + d.Items[0].Rationale
				conf = fmt.Sprintf("%.2f", d.Items[0].Confidence)
			}
			w.AppendRow(table.Row{d.Dimension.ID, d.Rollup, len(d.Items), conf, top, strings.Join(d.BlockedBy, ", ")})
		}
	}
	w.AppendFooter(table.Row{"", fmt.Sprintf("%d pass / %d fail / %d unassessed",
		len(sum.Passed), len(sum.Failed), len(sum.Unassessed)), sum.Items, "", "", ""})
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, WidthMax: rationaleWidth},
	})
	b.WriteString(renderWith(w, m))
	b.WriteString("\n")

	if out.Report == nil && len(out.Evidence) > 0 {
		b.WriteString("\nEvidence merged before the run stopped:\n")
		b.WriteString(renderWith(evidenceTable(out.Evidence, m), m))
		b.WriteString("\n")
	}

	if len(out.Errors) > 0 {
		ew := newWriter(m)
		ew.AppendHeader(table.Row{"Node", "Error"})
		for _, node := range slices.Sorted(maps.Keys(out.Errors)) {
			ew.AppendRow(table.Row{node, out.Errors[node]})
		}
		ew.SetColumnConfigs([]table.ColumnConfig{{Number: 2, WidthMax: rationaleWidth}})
		b.WriteString("\n")
		b.WriteString(renderWith(ew, m))
		b.WriteString("\n")
	}
	return b.String()
}

func evidenceTable(items []domain.EvidenceItem, m Mode) table.Writer {
	w := newWriter(m)
	w.AppendHeader(table.Row{"Dimension", "Source", "Verdict", "Confidence", "Finding"})
	for _, it := range items {
		w.AppendRow(table.Row{it.DimensionID, it.SourceNode, it.Verdict,
			fmt.Sprintf("%.2f", it.Confidence), it.Location + ": " + it.Rationale})
	}
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, WidthMax: rationaleWidth},
	})
	return w
}

// Runs renders a page of stored runs.
func Runs(runs []store.RunSummary, total int, m Mode) string {
	w := newWriter(m)
	w.AppendHeader(table.Row{"Run", "Started", "Status", "Exit", "Pass", "Fail", "Unassessed", "Repo"})
	for _, r := range runs {
		w.AppendRow(table.Row{
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Status, r.ExitCode,
			r.Passed, r.Failed, r.Unassessed, r.RepoLocator,
		})
	}
	w.AppendFooter(table.Row{fmt.Sprintf("%d of %d", len(runs), total), "", "", "", "", "", "", ""})
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	return renderWith(w, m) + "\n"
}

// JSON writes v indented.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// StatusLine is the one-line result printed after a run.
func StatusLine(out *audit.Outcome) string {
	code := audit.ExitCode(out, nil)
	switch out.Status {
	case domain.RunComplete:
		return fmt.Sprintf("audit %s complete (exit %d)", out.RunID, code)
	case domain.RunPartial:
		return fmt.Sprintf("audit %s partial: %d node(s) failed (exit %d)", out.RunID, len(out.Errors), code)
	default:
		return fmt.Sprintf("audit %s failed (exit %d)", out.RunID, code)
	}
}
