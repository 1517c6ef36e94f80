// Package proctor implements the session lifecycle: interviewers create
// sessions, candidates claim them and stream behavioral events, and the
// service scores the session and produces reports.
package proctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/proctor/internal/auth"
	"github.com/your-org/proctor/internal/metrics"
	"github.com/your-org/proctor/internal/relay"
	"github.com/your-org/proctor/internal/report"
	"github.com/your-org/proctor/internal/scoring"
	"github.com/your-org/proctor/internal/session"
	"github.com/your-org/proctor/internal/store"
	"github.com/your-org/proctor/pkg/storage/objectstore"
)

// updateAttempts bounds the optimistic-concurrency retry loop on
// per-session read-modify-write cycles.
const updateAttempts = 3

// Service wires together the store, verifier, uploader, and broadcaster
// behind the lifecycle operations.
type Service struct {
	store       store.Store
	verifier    auth.Verifier
	uploader    objectstore.Client
	broadcaster relay.Broadcaster
	logger      *zap.Logger
	uploadDir   string
	reportDir   string
	now         func() time.Time
}

type Params struct {
	Store       store.Store
	Verifier    auth.Verifier
	Uploader    objectstore.Client
	Broadcaster relay.Broadcaster
	Logger      *zap.Logger
	UploadDir   string
	ReportDir   string

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// NewService constructs a proctoring Service.
func NewService(p Params) *Service {
	s := &Service{
		store:       p.Store,
		verifier:    p.Verifier,
		uploader:    p.Uploader,
		broadcaster: p.Broadcaster,
		logger:      p.Logger,
		uploadDir:   p.UploadDir,
		reportDir:   p.ReportDir,
		now:         p.Now,
	}
	if s.broadcaster == nil {
		s.broadcaster = relay.Noop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Create allocates a new session owned by the calling interviewer. The
// candidate name defaults to the local part of the email.
func (s *Service) Create(ctx context.Context, id auth.Identity, candidateEmail, candidateName string) (*session.Session, error) {
	if id.Role != auth.RoleInterviewer {
		return nil, authorizationErr("only interviewers can create sessions")
	}
	if candidateEmail == "" {
		return nil, validationErr("candidate email is required")
	}
	if candidateName == "" {
		candidateName, _, _ = strings.Cut(candidateEmail, "@")
	}

	sess := &session.Session{
		ID:             uuid.NewString(),
		CandidateName:  candidateName,
		CandidateEmail: candidateEmail,
		InterviewerID:  id.UID,
		StartTime:      s.now().UTC(),
		Events:         []session.Event{},
	}
	if err := s.store.Insert(ctx, sess); err != nil {
		return nil, upstreamErr(err, "failed to create session")
	}

	metrics.SessionsCreated.Inc()
	s.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("interviewer_id", id.UID),
	)
	return sess, nil
}

// Claim binds the calling candidate to the session. Re-claiming by the
// same candidate is idempotent; a different candidate gets a conflict.
func (s *Service) Claim(ctx context.Context, id auth.Identity, sessionID string) (*session.Session, error) {
	if id.Email == "" {
		return nil, validationErr("candidate email is required")
	}

	var firstClaim bool
	sess, err := s.update(ctx, sessionID, func(sess *session.Session) error {
		if sess.Claimed() && sess.CandidateID != id.UID {
			return conflictErr("session already claimed by another candidate")
		}
		if sess.CandidateEmail != id.Email {
			return authorizationErr("this session is not assigned to your email")
		}
		firstClaim = !sess.Claimed()
		sess.CandidateID = id.UID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if firstClaim {
		metrics.SessionsClaimed.Inc()
		s.logger.Info("session claimed",
			zap.String("session_id", sessionID),
			zap.String("candidate_id", id.UID),
		)
	}
	return sess, nil
}

// AppendEvents appends a batch of behavioral events in arrival order.
// The cached integrity score is never touched here; scoring is lazy.
func (s *Service) AppendEvents(ctx context.Context, id auth.Identity, sessionID string, events []session.Event) (*session.Session, error) {
	if events == nil {
		return nil, validationErr("events array is required")
	}
	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			return nil, validationErr("event %d: %v", i, err)
		}
		if ev.Timestamp.IsZero() {
			events[i].Timestamp = s.now().UTC()
		}
	}

	sess, err := s.update(ctx, sessionID, func(sess *session.Session) error {
		if !sess.Claimed() || sess.CandidateID != id.UID {
			return authorizationErr("only the claiming candidate can record events")
		}
		// Late batches may still land after End; they extend the event
		// log but never reopen the already-frozen score.
		sess.Events = append(sess.Events, events...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, ev := range events {
		metrics.EventsRecorded.WithLabelValues(string(ev.Type)).Inc()
	}
	s.broadcaster.Broadcast(ctx, sessionID, events)
	return sess, nil
}

// End closes the session: sets the end time and computes the integrity
// score over every event recorded so far. Calling End again recomputes
// and overwrites both.
func (s *Service) End(ctx context.Context, id auth.Identity, sessionID string) (*session.Session, error) {
	sess, err := s.update(ctx, sessionID, func(sess *session.Session) error {
		if sess.InterviewerID != id.UID {
			return authorizationErr("you do not own this session")
		}
		endTime := s.now().UTC()
		sess.EndTime = &endTime
		score := scoring.Score(sess.Events)
		sess.IntegrityScore = &score
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.SessionsEnded.Inc()
	metrics.IntegrityScores.Observe(float64(*sess.IntegrityScore))
	s.logger.Info("session ended",
		zap.String("session_id", sessionID),
		zap.Int("integrity_score", *sess.IntegrityScore),
	)
	return sess, nil
}

// RecordVideo stores the uploaded session recording. The file is
// spooled to the local uploads directory first; if the object store
// rejects it the local copy stays and its URL is recorded instead.
// Recording a video also closes the session if the interviewer never
// did, freezing the score.
func (s *Service) RecordVideo(ctx context.Context, id auth.Identity, sessionID, filename string, file io.Reader) (*session.Session, error) {
	// Reject unknown sessions and non-claimants before touching disk.
	current, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !current.Claimed() || current.CandidateID != id.UID {
		return nil, authorizationErr("only the claiming candidate can upload the recording")
	}

	localName := fmt.Sprintf("session-%s%s", sessionID, filepath.Ext(filename))
	localPath := filepath.Join(s.uploadDir, localName)
	size, err := spool(localPath, file)
	if err != nil {
		return nil, upstreamErr(err, "failed to store uploaded video")
	}

	videoURL, uploaded := s.pushToObjectStore(ctx, sessionID, localPath, localName, size)
	if uploaded {
		if err := os.Remove(localPath); err != nil {
			s.logger.Warn("remove spooled video", zap.Error(err), zap.String("path", localPath))
		}
		metrics.VideoUploads.WithLabelValues("cloud").Inc()
	} else {
		videoURL = "/uploads/" + localName
		metrics.VideoUploads.WithLabelValues("local").Inc()
	}

	sess, err := s.update(ctx, sessionID, func(sess *session.Session) error {
		if !sess.Claimed() || sess.CandidateID != id.UID {
			return authorizationErr("only the claiming candidate can upload the recording")
		}
		sess.VideoURL = videoURL
		if sess.EndTime == nil {
			endTime := s.now().UTC()
			sess.EndTime = &endTime
		}
		if sess.IntegrityScore == nil {
			score := scoring.Score(sess.Events)
			sess.IntegrityScore = &score
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("session video recorded",
		zap.String("session_id", sessionID),
		zap.String("video_url", videoURL),
		zap.Bool("cloud", uploaded),
	)
	return sess, nil
}

func (s *Service) pushToObjectStore(ctx context.Context, sessionID, localPath, localName string, size int64) (string, bool) {
	if s.uploader == nil {
		return "", false
	}
	f, err := os.Open(localPath)
	if err != nil {
		s.logger.Warn("open spooled video", zap.Error(err), zap.String("path", localPath))
		return "", false
	}
	defer f.Close()

	key := "proctor-videos/" + localName
	url, err := s.uploader.Put(ctx, key, f, size, "video/webm", map[string]string{
		"session_id": sessionID,
	})
	if err != nil {
		s.logger.Warn("object store upload failed, keeping local copy",
			zap.Error(err),
			zap.String("session_id", sessionID),
		)
		return "", false
	}
	return url, true
}

// Get returns the session, visible only to its owning interviewer or
// claiming candidate.
func (s *Service) Get(ctx context.Context, id auth.Identity, sessionID string) (*session.Session, error) {
	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch id.Role {
	case auth.RoleInterviewer:
		if sess.InterviewerID != id.UID {
			return nil, authorizationErr("you do not have access to this session")
		}
	case auth.RoleCandidate:
		if sess.CandidateID != id.UID {
			return nil, authorizationErr("you do not have access to this session")
		}
	default:
		return nil, authorizationErr("you do not have access to this session")
	}
	return sess, nil
}

// Status is the candidate-facing read used while polling for claim and
// end transitions. Interviewers may read any session status.
func (s *Service) Status(ctx context.Context, id auth.Identity, sessionID string) (*session.Session, error) {
	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if id.Role == auth.RoleCandidate && sess.CandidateID != id.UID {
		return nil, authorizationErr("you do not have access to this session")
	}
	return sess, nil
}

// ReportCSV renders the CSV report, persists it to the reports
// directory, and records the report URL on the session. The integrity
// score is computed and frozen here if no one computed it earlier.
func (s *Service) ReportCSV(ctx context.Context, id auth.Identity, sessionID string) (string, error) {
	sess, err := s.sessionForReport(ctx, id, sessionID)
	if err != nil {
		return "", err
	}

	content, err := report.CSV(sess)
	if err != nil {
		return "", upstreamErr(err, "failed to render report")
	}
	if _, err := report.WriteCSV(s.reportDir, sessionID, content); err != nil {
		return "", upstreamErr(err, "failed to persist report")
	}

	reportURL := fmt.Sprintf("/reports/report-%s.csv", sessionID)
	if sess.ReportURL != reportURL {
		if _, err := s.update(ctx, sessionID, func(sess *session.Session) error {
			sess.ReportURL = reportURL
			return nil
		}); err != nil {
			return "", err
		}
	}

	metrics.ReportsRendered.WithLabelValues("csv").Inc()
	return content, nil
}

// ReportHTML renders the HTML report. Like the CSV path it freezes the
// score on first computation, but produces no report file.
func (s *Service) ReportHTML(ctx context.Context, id auth.Identity, sessionID string) (string, error) {
	sess, err := s.sessionForReport(ctx, id, sessionID)
	if err != nil {
		return "", err
	}

	content, err := report.HTML(sess)
	if err != nil {
		return "", upstreamErr(err, "failed to render report")
	}

	metrics.ReportsRendered.WithLabelValues("html").Inc()
	return content, nil
}

// SetRole attaches a role claim to the calling user via the identity
// provider.
func (s *Service) SetRole(ctx context.Context, id auth.Identity, role string) error {
	if !auth.ValidRole(role) {
		return validationErr("invalid role %q: must be %q or %q", role, auth.RoleCandidate, auth.RoleInterviewer)
	}
	if err := s.verifier.SetRole(ctx, id.UID, role); err != nil {
		return upstreamErr(err, "failed to set role")
	}
	s.logger.Info("role assigned", zap.String("uid", id.UID), zap.String("role", role))
	return nil
}

// sessionForReport loads the session for either party and freezes the
// integrity score if it has never been computed.
func (s *Service) sessionForReport(ctx context.Context, id auth.Identity, sessionID string) (*session.Session, error) {
	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.InterviewerID != id.UID && sess.CandidateID != id.UID {
		return nil, authorizationErr("you do not have access to this session")
	}
	if sess.IntegrityScore == nil {
		sess, err = s.update(ctx, sessionID, func(sess *session.Session) error {
			if sess.IntegrityScore == nil {
				score := scoring.Score(sess.Events)
				sess.IntegrityScore = &score
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func (s *Service) get(ctx context.Context, sessionID string) (*session.Session, error) {
	if sessionID == "" {
		return nil, validationErr("session id is required")
	}
	sess, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundErr("session %s not found", sessionID)
	}
	if err != nil {
		return nil, upstreamErr(err, "failed to load session")
	}
	return sess, nil
}

// update runs one read-modify-write cycle against the session, retrying
// on version conflicts so concurrent writers serialize rather than
// losing updates.
func (s *Service) update(ctx context.Context, sessionID string, mutate func(*session.Session) error) (*session.Session, error) {
	var lastErr error
	for attempt := 0; attempt < updateAttempts; attempt++ {
		sess, err := s.get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if err := mutate(sess); err != nil {
			return nil, err
		}

		err = s.store.Update(ctx, sess)
		if errors.Is(err, store.ErrVersionConflict) {
			lastErr = err
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundErr("session %s not found", sessionID)
		}
		if err != nil {
			return nil, upstreamErr(err, "failed to save session")
		}
		return sess, nil
	}
	return nil, upstreamErr(lastErr, "failed to save session after retries")
}

func spool(path string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create uploads dir: %w", err)
	}
	dst, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create spool file: %w", err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("write spool file: %w", err)
	}
	return n, nil
}

// Close releases underlying resources.
func (s *Service) Close(ctx context.Context) error {
	return s.store.Close(ctx)
}
