// Package report renders a session's event log and deduction ledger as
// CSV and HTML. Renderers are pure functions of the session; they use
// the cached integrity score when present and compute it otherwise.
package report

import (
	"encoding/csv"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/your-org/proctor/internal/scoring"
	"github.com/your-org/proctor/internal/session"
)

// Score label thresholds for the HTML banner.
const (
	goodThreshold    = 80
	warningThreshold = 60
)

// Label maps a score to its qualitative tier.
func Label(score int) string {
	switch {
	case score > goodThreshold:
		return "good"
	case score > warningThreshold:
		return "warning"
	default:
		return "poor"
	}
}

func sessionScore(s *session.Session) int {
	if s.IntegrityScore != nil {
		return *s.IntegrityScore
	}
	return scoring.Score(s.Events)
}

// CSV renders the event log followed by a per-type deduction summary
// and the final score line.
func CSV(s *session.Session) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)

	records := [][]string{{"Timestamp", "Event Type", "Duration (s)", "Details"}}
	for _, ev := range s.Events {
		records = append(records, []string{
			ev.Timestamp.UTC().Format(time.RFC3339),
			string(ev.Type),
			formatDuration(ev.DurationMs),
			flattenMeta(ev.Meta, "="),
		})
	}
	if err := w.WriteAll(records); err != nil {
		return "", fmt.Errorf("write event rows: %w", err)
	}

	b.WriteString("\nSUMMARY\n")

	type bucket struct {
		count  int
		points int
	}
	totals := map[session.EventType]*bucket{}
	var order []session.EventType
	for _, d := range scoring.Deductions(s.Events) {
		bk, ok := totals[d.Type]
		if !ok {
			bk = &bucket{}
			totals[d.Type] = bk
			order = append(order, d.Type)
		}
		bk.count++
		bk.points += d.Points
	}

	sw := csv.NewWriter(&b)
	summary := [][]string{{"Event Type", "Count", "Points Deducted"}}
	for _, t := range order {
		bk := totals[t]
		summary = append(summary, []string{string(t), fmt.Sprint(bk.count), fmt.Sprint(bk.points)})
	}
	if err := sw.WriteAll(summary); err != nil {
		return "", fmt.Errorf("write summary rows: %w", err)
	}

	fmt.Fprintf(&b, "\nFinal Integrity Score,%d\n", sessionScore(s))
	return b.String(), nil
}

// WriteCSV persists rendered CSV content under dir and returns the file
// path. The directory is created if missing.
func WriteCSV(dir, sessionID, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("report-%s.csv", sessionID))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write report file: %w", err)
	}
	return path, nil
}

func formatDuration(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return fmt.Sprintf("%.1f", float64(ms)/1000)
}

// flattenMeta joins the bag as key<sep>value pairs, keys sorted for
// stable output.
func flattenMeta(m session.Meta, sep string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s%s%v", k, sep, m[k]))
	}
	return strings.Join(parts, "; ")
}

var htmlTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
  <title>Proctoring Report - {{.CandidateName}}</title>
  <style>
    body { font-family: Arial, sans-serif; margin: 20px; }
    h1, h2 { color: #333; }
    table { border-collapse: collapse; width: 100%; margin-bottom: 20px; }
    th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
    th { background-color: #f2f2f2; }
    tr:nth-child(even) { background-color: #f9f9f9; }
    .summary { margin-top: 30px; }
    .score { font-size: 24px; font-weight: bold; }
    .good { color: green; }
    .warning { color: orange; }
    .poor { color: red; }
  </style>
</head>
<body>
  <h1>Interview Proctoring Report</h1>
  <p><strong>Candidate:</strong> {{.CandidateName}}</p>
  <p><strong>Session Date:</strong> {{.StartTime}}</p>
  <p><strong>Duration:</strong> {{.Duration}}</p>

  <h2>Event Log</h2>
  <table>
    <thead>
      <tr><th>Timestamp</th><th>Event Type</th><th>Duration</th><th>Details</th></tr>
    </thead>
    <tbody>
{{- range .Events}}
      <tr><td>{{.Timestamp}}</td><td>{{.Type}}</td><td>{{.Duration}}</td><td>{{.Details}}</td></tr>
{{- end}}
    </tbody>
  </table>

  <div class="summary">
    <h2>Summary</h2>
    <p>Total Events: {{.TotalEvents}}</p>
    <ul>
{{- range .Counts}}
      <li>{{.Type}}: {{.Count}}</li>
{{- end}}
    </ul>

    <h2>Integrity Score</h2>
    <p class="score {{.Label}}">{{.Score}}/100</p>
  </div>
</body>
</html>
`))

type htmlEvent struct {
	Timestamp string
	Type      string
	Duration  string
	Details   string
}

type typeCount struct {
	Type  string
	Count int
}

type htmlData struct {
	CandidateName string
	StartTime     string
	Duration      string
	Events        []htmlEvent
	TotalEvents   int
	Counts        []typeCount
	Score         int
	Label         string
}

// HTML renders a self-contained report document with the event table
// and score banner.
func HTML(s *session.Session) (string, error) {
	data := htmlData{
		CandidateName: s.CandidateName,
		StartTime:     s.StartTime.UTC().Format("2006-01-02 15:04:05 MST"),
		Duration:      "?",
		TotalEvents:   len(s.Events),
		Score:         sessionScore(s),
	}
	data.Label = Label(data.Score)
	if s.EndTime != nil {
		data.Duration = fmt.Sprintf("%d minutes", int(s.Duration().Round(time.Minute).Minutes()))
	}

	counts := map[session.EventType]int{}
	var order []session.EventType
	for _, ev := range s.Events {
		if counts[ev.Type] == 0 {
			order = append(order, ev.Type)
		}
		counts[ev.Type]++

		dur := ""
		if ev.DurationMs > 0 {
			dur = fmt.Sprintf("(%ss)", formatDuration(ev.DurationMs))
		}
		data.Events = append(data.Events, htmlEvent{
			Timestamp: ev.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			Type:      string(ev.Type),
			Duration:  dur,
			Details:   flattenMeta(ev.Meta, ": "),
		})
	}
	for _, t := range order {
		data.Counts = append(data.Counts, typeCount{Type: string(t), Count: counts[t]})
	}

	var b strings.Builder
	if err := htmlTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render html report: %w", err)
	}
	return b.String(), nil
}
