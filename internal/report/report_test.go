package report_test

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/proctor/internal/report"
	"github.com/your-org/proctor/internal/scoring"
	"github.com/your-org/proctor/internal/session"
)

func testSession() *session.Session {
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(42 * time.Minute)
	return &session.Session{
		ID:             "sess-1",
		CandidateName:  "Ada Lovelace",
		CandidateEmail: "ada@example.com",
		InterviewerID:  "ivr-1",
		CandidateID:    "cand-1",
		StartTime:      start,
		EndTime:        &end,
		Events: []session.Event{
			{Type: session.EventLookingAway, Timestamp: start.Add(time.Minute), DurationMs: 1500},
			{Type: session.EventLookingAway, Timestamp: start.Add(2 * time.Minute)},
			{Type: session.EventUserAbsent, Timestamp: start.Add(5 * time.Minute), DurationMs: 8000},
			{Type: session.EventSuspiciousObject, Timestamp: start.Add(9 * time.Minute), Meta: session.Meta{"class": "cell phone", "confidence": 0.92}},
		},
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "good", report.Label(100))
	assert.Equal(t, "good", report.Label(81))
	assert.Equal(t, "warning", report.Label(80))
	assert.Equal(t, "warning", report.Label(61))
	assert.Equal(t, "poor", report.Label(60))
	assert.Equal(t, "poor", report.Label(0))
}

func TestCSV_Structure(t *testing.T) {
	content, err := report.CSV(testSession())
	require.NoError(t, err)

	lines := strings.Split(content, "\n")
	assert.Equal(t, "Timestamp,Event Type,Duration (s),Details", lines[0])
	assert.Contains(t, content, "looking_away,1.5,")
	assert.Contains(t, content, "user_absent,8.0,")
	assert.Contains(t, content, "class=cell phone; confidence=0.92")
	assert.Contains(t, content, "\nSUMMARY\n")
	assert.Contains(t, content, "Event Type,Count,Points Deducted")
	// 100 - (2+2+5+15) = 76
	assert.Contains(t, content, "Final Integrity Score,76")
}

// Parsing the summary section back must reproduce the ledger totals.
func TestCSV_SummaryRoundTrip(t *testing.T) {
	sess := testSession()
	content, err := report.CSV(sess)
	require.NoError(t, err)

	sections := strings.Split(content, "\nSUMMARY\n")
	require.Len(t, sections, 2)
	summaryPart := strings.Split(sections[1], "\n\n")[0]

	records, err := csv.NewReader(strings.NewReader(summaryPart)).ReadAll()
	require.NoError(t, err)
	require.Equal(t, []string{"Event Type", "Count", "Points Deducted"}, records[0])

	parsed := map[string]int{}
	for _, rec := range records[1:] {
		points, err := strconv.Atoi(rec[2])
		require.NoError(t, err)
		parsed[rec[0]] = points
	}

	want := map[string]int{}
	for _, d := range scoring.Deductions(sess.Events) {
		want[string(d.Type)] += d.Points
	}
	assert.Equal(t, want, parsed)
}

func TestCSV_UsesCachedScore(t *testing.T) {
	sess := testSession()
	cached := 12
	sess.IntegrityScore = &cached

	content, err := report.CSV(sess)
	require.NoError(t, err)
	assert.Contains(t, content, "Final Integrity Score,12")
}

func TestWriteCSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	path, err := report.WriteCSV(dir, "sess-1", "hello\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report-sess-1.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestHTML(t *testing.T) {
	sess := testSession()
	content, err := report.HTML(sess)
	require.NoError(t, err)

	assert.Contains(t, content, "<!DOCTYPE html>")
	assert.Contains(t, content, "Ada Lovelace")
	assert.Contains(t, content, "42 minutes")
	assert.Contains(t, content, "Total Events: 4")
	assert.Contains(t, content, "looking_away: 2")
	// Score 76 lands in the warning tier.
	assert.Contains(t, content, `class="score warning"`)
	assert.Contains(t, content, "76/100")
}

func TestHTML_PoorTier(t *testing.T) {
	sess := testSession()
	var events []session.Event
	for range 5 {
		events = append(events, session.Event{Type: session.EventMultipleFaces, Timestamp: sess.StartTime})
	}
	sess.Events = events

	content, err := report.HTML(sess)
	require.NoError(t, err)
	assert.Contains(t, content, `class="score poor"`)
	assert.Contains(t, content, "50/100")
}

func TestHTML_EscapesCandidateName(t *testing.T) {
	sess := testSession()
	sess.CandidateName = `<script>alert("x")</script>`

	content, err := report.HTML(sess)
	require.NoError(t, err)
	assert.NotContains(t, content, "<script>alert")
}
