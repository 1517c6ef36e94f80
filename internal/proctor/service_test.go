package proctor_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/proctor/internal/auth"
	"github.com/your-org/proctor/internal/proctor"
	"github.com/your-org/proctor/internal/session"
	"github.com/your-org/proctor/internal/store"
)

var (
	interviewer = auth.Identity{UID: "ivr-1", Email: "ivr@example.com", Role: auth.RoleInterviewer}
	candidate   = auth.Identity{UID: "cand-1", Email: "ada@example.com", Role: auth.RoleCandidate}
	intruder    = auth.Identity{UID: "cand-2", Email: "eve@example.com", Role: auth.RoleCandidate}
)

// fakeUploader implements objectstore.Client.
type fakeUploader struct {
	fail bool
	keys []string
}

func (f *fakeUploader) Put(_ context.Context, key string, _ io.Reader, _ int64, _ string, _ map[string]string) (string, error) {
	if f.fail {
		return "", errors.New("bucket unavailable")
	}
	f.keys = append(f.keys, key)
	return "https://cdn.example.com/" + key, nil
}

func (f *fakeUploader) Close() error { return nil }

// recordingBroadcaster implements relay.Broadcaster.
type recordingBroadcaster struct {
	batches [][]session.Event
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, _ string, events []session.Event) {
	r.batches = append(r.batches, events)
}

type fixture struct {
	svc         *proctor.Service
	store       *store.Memory
	uploader    *fakeUploader
	broadcaster *recordingBroadcaster
	uploadDir   string
	reportDir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:       store.NewMemory(),
		uploader:    &fakeUploader{},
		broadcaster: &recordingBroadcaster{},
		uploadDir:   filepath.Join(t.TempDir(), "uploads"),
		reportDir:   filepath.Join(t.TempDir(), "reports"),
	}
	f.svc = proctor.NewService(proctor.Params{
		Store:       f.store,
		Verifier:    auth.NewStatic(),
		Uploader:    f.uploader,
		Broadcaster: f.broadcaster,
		Logger:      zap.NewNop(),
		UploadDir:   f.uploadDir,
		ReportDir:   f.reportDir,
	})
	return f
}

func (f *fixture) createClaimed(t *testing.T) *session.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, interviewer, candidate.Email, "Ada")
	require.NoError(t, err)
	sess, err = f.svc.Claim(ctx, candidate, sess.ID)
	require.NoError(t, err)
	return sess
}

func events(types ...session.EventType) []session.Event {
	out := make([]session.Event, 0, len(types))
	for _, tp := range types {
		out = append(out, session.Event{Type: tp, Timestamp: time.Now().UTC()})
	}
	return out
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("defaults name to email local part", func(t *testing.T) {
		sess, err := f.svc.Create(ctx, interviewer, "ada@example.com", "")
		require.NoError(t, err)
		assert.Equal(t, "ada", sess.CandidateName)
		assert.Equal(t, interviewer.UID, sess.InterviewerID)
		assert.NotEmpty(t, sess.ID)
		assert.False(t, sess.Claimed())
		assert.Nil(t, sess.IntegrityScore)
	})

	t.Run("missing email is a validation error", func(t *testing.T) {
		_, err := f.svc.Create(ctx, interviewer, "", "Ada")
		assert.Equal(t, proctor.KindValidation, proctor.KindOf(err))
	})

	t.Run("candidates cannot create sessions", func(t *testing.T) {
		_, err := f.svc.Create(ctx, candidate, "ada@example.com", "")
		assert.Equal(t, proctor.KindAuthorization, proctor.KindOf(err))
	})
}

func TestClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("binds candidate and is idempotent", func(t *testing.T) {
		f := newFixture(t)
		sess, err := f.svc.Create(ctx, interviewer, candidate.Email, "Ada")
		require.NoError(t, err)

		claimed, err := f.svc.Claim(ctx, candidate, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, candidate.UID, claimed.CandidateID)

		again, err := f.svc.Claim(ctx, candidate, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, candidate.UID, again.CandidateID)
	})

	t.Run("second claim by a different candidate conflicts", func(t *testing.T) {
		f := newFixture(t)
		sess := f.createClaimed(t)

		_, err := f.svc.Claim(ctx, intruder, sess.ID)
		assert.Equal(t, proctor.KindConflict, proctor.KindOf(err))
	})

	t.Run("email mismatch is rejected", func(t *testing.T) {
		f := newFixture(t)
		sess, err := f.svc.Create(ctx, interviewer, "someone.else@example.com", "")
		require.NoError(t, err)

		_, err = f.svc.Claim(ctx, candidate, sess.ID)
		assert.Equal(t, proctor.KindAuthorization, proctor.KindOf(err))
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Claim(ctx, candidate, "missing")
		assert.Equal(t, proctor.KindNotFound, proctor.KindOf(err))
	})
}

func TestAppendEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("appends in arrival order and broadcasts", func(t *testing.T) {
		f := newFixture(t)
		sess := f.createClaimed(t)

		_, err := f.svc.AppendEvents(ctx, candidate, sess.ID, events(session.EventLookingAway, session.EventUserAbsent))
		require.NoError(t, err)
		updated, err := f.svc.AppendEvents(ctx, candidate, sess.ID, events(session.EventMultipleFaces))
		require.NoError(t, err)

		require.Len(t, updated.Events, 3)
		assert.Equal(t, session.EventLookingAway, updated.Events[0].Type)
		assert.Equal(t, session.EventUserAbsent, updated.Events[1].Type)
		assert.Equal(t, session.EventMultipleFaces, updated.Events[2].Type)
		assert.Nil(t, updated.IntegrityScore, "appending must not trigger scoring")
		assert.Len(t, f.broadcaster.batches, 2)
	})

	t.Run("non-claimant leaves the log unchanged", func(t *testing.T) {
		f := newFixture(t)
		sess := f.createClaimed(t)

		_, err := f.svc.AppendEvents(ctx, intruder, sess.ID, events(session.EventLookingAway))
		assert.Equal(t, proctor.KindAuthorization, proctor.KindOf(err))

		current, err := f.store.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Empty(t, current.Events)
		assert.Empty(t, f.broadcaster.batches)
	})

	t.Run("nil events array is a validation error", func(t *testing.T) {
		f := newFixture(t)
		sess := f.createClaimed(t)

		_, err := f.svc.AppendEvents(ctx, candidate, sess.ID, nil)
		assert.Equal(t, proctor.KindValidation, proctor.KindOf(err))
	})

	t.Run("malformed event is a validation error", func(t *testing.T) {
		f := newFixture(t)
		sess := f.createClaimed(t)

		_, err := f.svc.AppendEvents(ctx, candidate, sess.ID, []session.Event{{Type: session.EventLookingAway, DurationMs: -5}})
		assert.Equal(t, proctor.KindValidation, proctor.KindOf(err))
	})
}

func TestEnd(t *testing.T) {
	ctx := context.Background()

	t.Run("sets end time and computes the score", func(t *testing.T) {
		f := newFixture(t)
		sess := f.createClaimed(t)
		_, err := f.svc.AppendEvents(ctx, candidate, sess.ID, []session.Event{
			{Type: session.EventLookingAway},
			{Type: session.EventUserAbsent},
			{Type: session.EventSuspiciousObject, Meta: session.Meta{"class": "cell phone"}},
		})
		require.NoError(t, err)

		ended, err := f.svc.End(ctx, interviewer, sess.ID)
		require.NoError(t, err)
		require.NotNil(t, ended.EndTime)
		require.NotNil(t, ended.IntegrityScore)
		assert.Equal(t, 78, *ended.IntegrityScore)
	})

	t.Run("only the owning interviewer may end", func(t *testing.T) {
		f := newFixture(t)
		sess := f.createClaimed(t)

		other := auth.Identity{UID: "ivr-2", Role: auth.RoleInterviewer}
		_, err := f.svc.End(ctx, other, sess.ID)
		assert.Equal(t, proctor.KindAuthorization, proctor.KindOf(err))

		_, err = f.svc.End(ctx, candidate, sess.ID)
		assert.Equal(t, proctor.KindAuthorization, proctor.KindOf(err))
	})

	t.Run("ending twice recomputes and overwrites", func(t *testing.T) {
		f := newFixture(t)
		sess := f.createClaimed(t)

		first, err := f.svc.End(ctx, interviewer, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, 100, *first.IntegrityScore)

		_, err = f.svc.AppendEvents(ctx, candidate, sess.ID, events(session.EventMultipleFaces))
		require.NoError(t, err)

		second, err := f.svc.End(ctx, interviewer, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, 90, *second.IntegrityScore)
	})
}

// The cached score freezes at End while the event log keeps growing;
// reports show the full log against the frozen score.
func TestScoreStalenessAfterEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.createClaimed(t)

	_, err := f.svc.AppendEvents(ctx, candidate, sess.ID, events(session.EventLookingAway))
	require.NoError(t, err)

	ended, err := f.svc.End(ctx, interviewer, sess.ID)
	require.NoError(t, err)
	require.Equal(t, 98, *ended.IntegrityScore)

	_, err = f.svc.AppendEvents(ctx, candidate, sess.ID, events(session.EventMultipleFaces, session.EventMultipleFaces))
	require.NoError(t, err)

	csv, err := f.svc.ReportCSV(ctx, interviewer, sess.ID)
	require.NoError(t, err)

	assert.Contains(t, csv, "multiple_faces", "report includes late events")
	assert.Contains(t, csv, "Final Integrity Score,98", "score stays frozen at end time")
}

func TestRecordVideo(t *testing.T) {
	ctx := context.Background()

	t.Run("uploads to the object store and closes the session", func(t *testing.T) {
		f := newFixture(t)
		sess := f.createClaimed(t)

		updated, err := f.svc.RecordVideo(ctx, candidate, sess.ID, "interview.webm", strings.NewReader("fake video bytes"))
		require.NoError(t, err)

		assert.Equal(t, "https://cdn.example.com/proctor-videos/session-"+sess.ID+".webm", updated.VideoURL)
		require.NotNil(t, updated.EndTime)
		require.NotNil(t, updated.IntegrityScore)
		assert.Equal(t, 100, *updated.IntegrityScore)

		// The spooled copy is removed once the object store has it.
		_, statErr := os.Stat(filepath.Join(f.uploadDir, "session-"+sess.ID+".webm"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("falls back to the local copy when upload fails", func(t *testing.T) {
		f := newFixture(t)
		f.uploader.fail = true
		sess := f.createClaimed(t)

		updated, err := f.svc.RecordVideo(ctx, candidate, sess.ID, "interview.webm", strings.NewReader("fake video bytes"))
		require.NoError(t, err)

		assert.Equal(t, "/uploads/session-"+sess.ID+".webm", updated.VideoURL)
		data, err := os.ReadFile(filepath.Join(f.uploadDir, "session-"+sess.ID+".webm"))
		require.NoError(t, err)
		assert.Equal(t, "fake video bytes", string(data))
	})

	t.Run("keeps an existing end time and score", func(t *testing.T) {
		f := newFixture(t)
		sess := f.createClaimed(t)
		_, err := f.svc.AppendEvents(ctx, candidate, sess.ID, events(session.EventBackgroundVoice))
		require.NoError(t, err)
		ended, err := f.svc.End(ctx, interviewer, sess.ID)
		require.NoError(t, err)

		updated, err := f.svc.RecordVideo(ctx, candidate, sess.ID, "interview.webm", strings.NewReader("x"))
		require.NoError(t, err)
		assert.Equal(t, ended.EndTime.Unix(), updated.EndTime.Unix())
		assert.Equal(t, *ended.IntegrityScore, *updated.IntegrityScore)
	})

	t.Run("non-claimant is rejected", func(t *testing.T) {
		f := newFixture(t)
		sess := f.createClaimed(t)

		_, err := f.svc.RecordVideo(ctx, intruder, sess.ID, "interview.webm", strings.NewReader("x"))
		assert.Equal(t, proctor.KindAuthorization, proctor.KindOf(err))
	})
}

func TestGetAndStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.createClaimed(t)

	_, err := f.svc.Get(ctx, interviewer, sess.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, candidate, sess.ID)
	assert.NoError(t, err)

	other := auth.Identity{UID: "ivr-2", Role: auth.RoleInterviewer}
	_, err = f.svc.Get(ctx, other, sess.ID)
	assert.Equal(t, proctor.KindAuthorization, proctor.KindOf(err))

	_, err = f.svc.Status(ctx, intruder, sess.ID)
	assert.Equal(t, proctor.KindAuthorization, proctor.KindOf(err))
	_, err = f.svc.Status(ctx, candidate, sess.ID)
	assert.NoError(t, err)
}

func TestReports(t *testing.T) {
	ctx := context.Background()

	t.Run("csv freezes the score and records the report url", func(t *testing.T) {
		f := newFixture(t)
		sess := f.createClaimed(t)
		_, err := f.svc.AppendEvents(ctx, candidate, sess.ID, events(session.EventLookingAway))
		require.NoError(t, err)

		content, err := f.svc.ReportCSV(ctx, interviewer, sess.ID)
		require.NoError(t, err)
		assert.Contains(t, content, "Final Integrity Score,98")

		stored, err := f.store.Get(ctx, sess.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.IntegrityScore)
		assert.Equal(t, 98, *stored.IntegrityScore)
		assert.Equal(t, "/reports/report-"+sess.ID+".csv", stored.ReportURL)
		assert.FileExists(t, filepath.Join(f.reportDir, "report-"+sess.ID+".csv"))

		// Events arriving after the freeze no longer move the score.
		_, err = f.svc.AppendEvents(ctx, candidate, sess.ID, events(session.EventMultipleFaces))
		require.NoError(t, err)
		content, err = f.svc.ReportCSV(ctx, candidate, sess.ID)
		require.NoError(t, err)
		assert.Contains(t, content, "Final Integrity Score,98")
	})

	t.Run("html renders the banner", func(t *testing.T) {
		f := newFixture(t)
		sess := f.createClaimed(t)

		content, err := f.svc.ReportHTML(ctx, candidate, sess.ID)
		require.NoError(t, err)
		assert.Contains(t, content, "100/100")
		assert.Contains(t, content, `class="score good"`)
	})

	t.Run("strangers get no report", func(t *testing.T) {
		f := newFixture(t)
		sess := f.createClaimed(t)

		_, err := f.svc.ReportHTML(ctx, intruder, sess.ID)
		assert.Equal(t, proctor.KindAuthorization, proctor.KindOf(err))
	})
}

func TestSetRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	assert.NoError(t, f.svc.SetRole(ctx, candidate, auth.RoleCandidate))

	err := f.svc.SetRole(ctx, candidate, "admin")
	assert.Equal(t, proctor.KindValidation, proctor.KindOf(err))
}
