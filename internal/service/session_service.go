package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/interview"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// SessionService is the proctored session state machine. Every status change
// is a compare-and-set in the store; completion additionally runs under a
// per-session lock so grading happens once.
type SessionService struct {
	store  Store
	locker Locker
	events Events
	engine *interview.Engine
	judge  AnswerJudge
	log    zerolog.Logger
	now    func() time.Time
}

// NewSessionService creates a new SessionService. events may be nil.
func NewSessionService(store Store, locker Locker, events Events, engine *interview.Engine, log zerolog.Logger) *SessionService {
	if events == nil {
		events = nopEvents{}
	}
	return &SessionService{
		store:  store,
		locker: locker,
		events: events,
		engine: engine,
		judge:  NewKeywordJudge(engine),
		log:    log.With().Str("component", "session_service").Logger(),
		now:    time.Now,
	}
}

// SessionState is what a candidate sees when (re)opening a session.
type SessionState struct {
	Session    *model.Session               `json:"session"`
	Questions  []model.QuestionForCandidate `json:"questions,omitempty"`
	AnsweredID []uuid.UUID                  `json:"answered_question_ids"`
	Result     *model.Result                `json:"result,omitempty"`
}

// SubmitOutcome is the result of an explicit submission.
type SubmitOutcome struct {
	Result   *model.Result `json:"result"`
	Rejected []AnswerError `json:"rejected_answers,omitempty"`
}

func (s *SessionService) getSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// owned loads a session and checks it belongs to subjectID.
func (s *SessionService) owned(ctx context.Context, id uuid.UUID, subjectID string) (*model.Session, error) {
	sess, err := s.getSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.SubjectID != subjectID {
		return nil, ErrNotSessionOwner
	}
	return sess, nil
}

func (s *SessionService) getAssignment(ctx context.Context, id uuid.UUID) (*model.Assignment, error) {
	a, err := s.store.GetAssignment(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return a, nil
}

// completedError builds the rejection for a completed session.
func (s *SessionService) completedError(ctx context.Context, sess *model.Session) error {
	res, err := s.store.GetResultBySession(ctx, sess.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("get result: %w", err)
	}
	if res == nil {
		// Completed but not yet graded: finish the job.
		if res, err = s.Finalize(ctx, sess.ID, model.SubmitReasonTimeout); err != nil {
			return err
		}
	}
	return &CompletedError{Result: res}
}

// expireIfDue force-submits an active session whose deadline has passed.
// The returned error is a *CompletedError when it did.
func (s *SessionService) expireIfDue(ctx context.Context, sess *model.Session) error {
	if sess.Status != model.SessionStatusActive || sess.RemainingAt(s.now()) > 0 {
		return nil
	}
	res, err := s.Finalize(ctx, sess.ID, model.SubmitReasonTimeout)
	if err != nil {
		return err
	}
	return &CompletedError{Result: res}
}

func (s *SessionService) publish(ctx context.Context, typ model.SessionEventType, sess *model.Session, fill func(*model.SessionEvent)) {
	ev := model.SessionEvent{
		Type:           typ,
		SessionID:      sess.ID,
		AssignmentID:   sess.AssignmentID,
		SubjectID:      sess.SubjectID,
		Status:         sess.Status,
		ViolationCount: sess.ViolationCount,
		Timestamp:      s.now().Unix(),
	}
	if fill != nil {
		fill(&ev)
	}
	s.events.Publish(ctx, ev)
}

// CreateAttempt returns the subject's current attempt at an assignment,
// creating the first one if none exists.
func (s *SessionService) CreateAttempt(ctx context.Context, assignmentID uuid.UUID, subjectID string) (*model.Session, error) {
	a, err := s.getAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	attempts, err := s.store.ListAttempts(ctx, assignmentID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	if len(attempts) > 0 {
		latest := attempts[len(attempts)-1]
		latest.Refresh(s.now())
		return &latest, nil
	}

	sess := newAttempt(a, subjectID, 1)
	if err := s.store.CreateSession(ctx, sess); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Concurrent create: return the winner.
			return s.latestAttempt(ctx, assignmentID, subjectID)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	sess.Refresh(s.now())
	return sess, nil
}

func newAttempt(a *model.Assignment, subjectID string, attempt int) *model.Session {
	return &model.Session{
		ID:              uuid.New(),
		AssignmentID:    a.ID,
		SubjectID:       subjectID,
		Kind:            a.Kind,
		Status:          model.SessionStatusNotStarted,
		Attempt:         attempt,
		DurationSeconds: a.DurationSeconds,
		MaxViolations:   a.MaxViolations,
		RetakeCount:     attempt - 1,
		MaxRetakes:      a.MaxRetakes,
	}
}

func (s *SessionService) latestAttempt(ctx context.Context, assignmentID uuid.UUID, subjectID string) (*model.Session, error) {
	attempts, err := s.store.ListAttempts(ctx, assignmentID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	if len(attempts) == 0 {
		return nil, ErrSessionNotFound
	}
	latest := attempts[len(attempts)-1]
	latest.Refresh(s.now())
	return &latest, nil
}

// Start moves a session from not_started to active. Starting an active
// session again is a no-op; a completed one is rejected with its result.
func (s *SessionService) Start(ctx context.Context, id uuid.UUID, subjectID string, cameraGranted bool) (*model.Session, error) {
	sess, err := s.owned(ctx, id, subjectID)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case model.SessionStatusActive:
		if err := s.expireIfDue(ctx, sess); err != nil {
			return nil, err
		}
		sess.Refresh(s.now())
		return sess, nil
	case model.SessionStatusCompleted:
		return nil, s.completedError(ctx, sess)
	case model.SessionStatusExpired:
		return nil, ErrSessionExpired
	case model.SessionStatusCancelled:
		return nil, ErrInvalidTransition
	}

	a, err := s.getAssignment(ctx, sess.AssignmentID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if a.DueAt != nil && now.After(*a.DueAt) {
		if ok, err := s.store.TransitionStatus(ctx, id, model.SessionStatusNotStarted, model.SessionStatusExpired, now); err != nil {
			return nil, fmt.Errorf("expire session: %w", err)
		} else if ok {
			sess.Status = model.SessionStatusExpired
			s.publish(ctx, model.SessionEventExpired, sess, nil)
		}
		return nil, ErrSessionExpired
	}

	degraded := false
	if !cameraGranted {
		if a.CameraPolicy != model.CameraPolicyOptional {
			return nil, ErrCameraRequired
		}
		degraded = true
	}

	ok, err := s.store.MarkStarted(ctx, id, now, degraded)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if sess, err = s.getSession(ctx, id); err != nil {
		return nil, err
	}
	if !ok && sess.Status != model.SessionStatusActive {
		// Lost a race against cancel or expiry.
		return nil, ErrInvalidTransition
	}
	if ok {
		s.log.Info().Str("session_id", id.String()).Str("subject_id", subjectID).Bool("degraded", degraded).Msg("Session started")
		s.publish(ctx, model.SessionEventStarted, sess, nil)
	}
	sess.Refresh(s.now())
	return sess, nil
}

// State returns the session as of now. Reading an active session past its
// deadline completes it.
func (s *SessionService) State(ctx context.Context, id uuid.UUID, subjectID string) (*SessionState, error) {
	sess, err := s.owned(ctx, id, subjectID)
	if err != nil {
		return nil, err
	}

	var res *model.Result
	if err := s.expireIfDue(ctx, sess); err != nil {
		ce, ok := AsCompleted(err)
		if !ok {
			return nil, err
		}
		res = ce.Result
		if sess, err = s.getSession(ctx, id); err != nil {
			return nil, err
		}
	}
	sess.Refresh(s.now())

	state := &SessionState{Session: sess, AnsweredID: []uuid.UUID{}, Result: res}
	if sess.Status == model.SessionStatusCompleted && res == nil {
		if r, err := s.store.GetResultBySession(ctx, id); err == nil {
			state.Result = r
		}
	}

	if sess.Kind == model.SessionKindTest && sess.Status != model.SessionStatusNotStarted {
		questions, err := s.store.ListQuestions(ctx, sess.AssignmentID)
		if err != nil {
			return nil, fmt.Errorf("list questions: %w", err)
		}
		for _, q := range questions {
			state.Questions = append(state.Questions, q.ForCandidate())
		}
		answers, err := s.store.ListAnswers(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list answers: %w", err)
		}
		for _, a := range answers {
			state.AnsweredID = append(state.AnsweredID, a.QuestionID)
		}
	}
	return state, nil
}

// RecordViolation counts one violation against an active session. Events on
// a session that is not active are ignored. Reaching the ceiling completes
// the session with reason violations.
func (s *SessionService) RecordViolation(ctx context.Context, id uuid.UUID, subjectID string, ev model.ViolationEvent) (*model.ViolationOutcome, error) {
	if !ev.Kind.Valid() {
		return nil, fmt.Errorf("unknown violation kind %q", ev.Kind)
	}
	sess, err := s.owned(ctx, id, subjectID)
	if err != nil {
		return nil, err
	}
	if err := s.expireIfDue(ctx, sess); err != nil {
		return nil, err
	}

	updated, counted, err := s.store.IncrementViolation(ctx, id, ev.Kind)
	if err != nil {
		return nil, fmt.Errorf("increment violation: %w", err)
	}
	out := &model.ViolationOutcome{
		Counted: counted,
		Count:   updated.ViolationCount,
		Ceiling: updated.MaxViolations,
	}
	if !counted {
		return out, nil
	}

	metrics.Violation(string(ev.Kind))
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	s.events.LogViolation(ctx, model.ViolationRecord{
		SessionID:    id,
		AssignmentID: updated.AssignmentID,
		SubjectID:    updated.SubjectID,
		Kind:         ev.Kind,
		Detail:       ev.Detail,
		Sequence:     updated.ViolationCount,
		OccurredAt:   occurred.Unix(),
	})
	s.publish(ctx, model.SessionEventViolation, updated, func(e *model.SessionEvent) {
		e.ViolationKind = ev.Kind
	})

	out.Message = proctor.WarningMessage(ev.Kind, out.Count, out.Ceiling)
	if out.Count < out.Ceiling {
		return out, nil
	}

	out.AutoSubmitting = true
	s.log.Warn().Str("session_id", id.String()).Int("count", out.Count).Msg("Violation ceiling reached")
	res, err := s.Finalize(ctx, id, model.SubmitReasonViolations)
	if err != nil {
		return nil, err
	}
	out.Result = res
	return out, nil
}

// SubmitAnswer records one test answer. Answers are immutable.
func (s *SessionService) SubmitAnswer(ctx context.Context, id uuid.UUID, subjectID string, req model.SubmitAnswerRequest) (*model.Answer, error) {
	sess, err := s.owned(ctx, id, subjectID)
	if err != nil {
		return nil, err
	}
	if err := s.requireActive(ctx, sess); err != nil {
		return nil, err
	}
	if sess.Kind != model.SessionKindTest {
		return nil, ErrNotTest
	}

	questions, err := s.store.ListQuestions(ctx, sess.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return s.recordAnswer(ctx, sess, indexQuestions(questions), req)
}

// whileActive runs fn under the session lock, and only if the session is
// still active and inside its deadline once the lock is held. Otherwise it
// returns what requireActive would, after releasing the lock.
func (s *SessionService) whileActive(ctx context.Context, id uuid.UUID, fn func(*model.Session) error) error {
	unlock, err := s.locker.Lock(ctx, config.CacheKey.SessionLockKey(id.String()))
	if err != nil {
		return fmt.Errorf("lock session: %w", err)
	}
	sess, err := s.getSession(ctx, id)
	if err == nil && sess.Status == model.SessionStatusActive && sess.RemainingAt(s.now()) > 0 {
		err = fn(sess)
		unlock()
		return err
	}
	unlock()
	if err != nil {
		return err
	}
	return s.requireActive(ctx, sess)
}

// requireActive rejects anything but a live session.
func (s *SessionService) requireActive(ctx context.Context, sess *model.Session) error {
	switch sess.Status {
	case model.SessionStatusActive:
		return s.expireIfDue(ctx, sess)
	case model.SessionStatusCompleted:
		return s.completedError(ctx, sess)
	}
	return ErrSessionNotActive
}

func indexQuestions(questions []model.Question) map[uuid.UUID]model.Question {
	out := make(map[uuid.UUID]model.Question, len(questions))
	for _, q := range questions {
		out[q.ID] = q
	}
	return out
}

func (s *SessionService) recordAnswer(ctx context.Context, sess *model.Session, questions map[uuid.UUID]model.Question, req model.SubmitAnswerRequest) (*model.Answer, error) {
	q, ok := questions[req.QuestionID]
	if !ok {
		return nil, ErrUnknownQuestion
	}
	value, err := req.Answer.Decode()
	if err != nil {
		return nil, err
	}
	if err := model.ValidateAnswer(q, value); err != nil {
		return nil, err
	}

	answer := &model.Answer{
		SessionID:           sess.ID,
		QuestionID:          q.ID,
		Value:               value,
		SubmittedAt:         s.now(),
		ResponseTimeSeconds: req.ResponseTimeSeconds,
	}
	if err := s.store.InsertAnswer(ctx, answer); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAnswerExists
		}
		return nil, fmt.Errorf("insert answer: %w", err)
	}
	return answer, nil
}

// Submit completes a session on the candidate's request. Answers carried in
// the request are recorded first; invalid ones are reported individually and
// do not block the submission. Submitting a completed session returns its
// existing result.
func (s *SessionService) Submit(ctx context.Context, id uuid.UUID, subjectID string, req model.SubmitSessionRequest) (*SubmitOutcome, error) {
	sess, err := s.owned(ctx, id, subjectID)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case model.SessionStatusCompleted:
		if err := s.completedError(ctx, sess); err != nil {
			if ce, ok := AsCompleted(err); ok {
				return &SubmitOutcome{Result: ce.Result}, nil
			}
			return nil, err
		}
	case model.SessionStatusActive:
	default:
		return nil, ErrInvalidTransition
	}

	if err := s.expireIfDue(ctx, sess); err != nil {
		if ce, ok := AsCompleted(err); ok {
			return &SubmitOutcome{Result: ce.Result}, nil
		}
		return nil, err
	}

	out := &SubmitOutcome{}
	if len(req.Answers) > 0 && sess.Kind == model.SessionKindTest {
		questions, err := s.store.ListQuestions(ctx, sess.AssignmentID)
		if err != nil {
			return nil, fmt.Errorf("list questions: %w", err)
		}
		byID := indexQuestions(questions)
		for _, a := range req.Answers {
			_, err := s.recordAnswer(ctx, sess, byID, a)
			if err == nil || errors.Is(err, ErrAnswerExists) {
				continue
			}
			if !errors.Is(err, model.ErrInvalidAnswer) && !errors.Is(err, ErrUnknownQuestion) {
				return nil, err
			}
			out.Rejected = append(out.Rejected, AnswerError{QuestionID: a.QuestionID.String(), Error: err.Error()})
		}
	}

	res, err := s.Finalize(ctx, id, model.SubmitReasonExplicit)
	if err != nil {
		return nil, err
	}
	out.Result = res
	return out, nil
}

// Result returns the result of a completed session.
func (s *SessionService) Result(ctx context.Context, id uuid.UUID, subjectID string) (*model.Result, error) {
	if _, err := s.owned(ctx, id, subjectID); err != nil {
		return nil, err
	}
	res, err := s.store.GetResultBySession(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return res, nil
}

// Retake opens the next attempt after a finished one. Only the latest
// attempt can be retaken and prior results are left untouched.
func (s *SessionService) Retake(ctx context.Context, id uuid.UUID, subjectID string) (*model.Session, error) {
	sess, err := s.owned(ctx, id, subjectID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.store.ListAttempts(ctx, sess.AssignmentID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	latest := attempts[len(attempts)-1]
	if latest.ID != sess.ID || !latest.Status.IsTerminal() {
		return nil, ErrRetakeNotAllowed
	}
	if latest.RetakeCount >= latest.MaxRetakes {
		return nil, ErrRetakeLimit
	}

	a, err := s.getAssignment(ctx, sess.AssignmentID)
	if err != nil {
		return nil, err
	}
	next := newAttempt(a, subjectID, latest.Attempt+1)
	next.MaxRetakes = latest.MaxRetakes
	next.BestAttemptID = latest.BestAttemptID
	if err := s.store.CreateSession(ctx, next); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return s.latestAttempt(ctx, sess.AssignmentID, subjectID)
		}
		return nil, fmt.Errorf("create retake: %w", err)
	}
	s.log.Info().Str("session_id", next.ID.String()).Int("attempt", next.Attempt).Msg("Retake created")
	next.Refresh(s.now())
	return next, nil
}

// BestAttempt returns the subject's highest-scoring result for an assignment.
func (s *SessionService) BestAttempt(ctx context.Context, assignmentID uuid.UUID, subjectID string) (*model.Result, error) {
	results, err := s.store.ListResults(ctx, assignmentID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	best := model.BestOf(results)
	if best == nil {
		return nil, ErrNoResult
	}
	return best, nil
}

// Cancel ends a session administratively without grading it.
func (s *SessionService) Cancel(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	unlock, err := s.locker.Lock(ctx, config.CacheKey.SessionLockKey(id.String()))
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	defer unlock()

	sess, err := s.getSession(ctx, id)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case model.SessionStatusCompleted:
		// Holding the session lock, so no Finalize here.
		res, err := s.store.GetResultBySession(ctx, id)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("get result: %w", err)
		}
		return nil, &CompletedError{Result: res}
	case model.SessionStatusNotStarted, model.SessionStatusActive:
	default:
		return nil, ErrInvalidTransition
	}

	ok, err := s.store.TransitionStatus(ctx, id, sess.Status, model.SessionStatusCancelled, s.now())
	if err != nil {
		return nil, fmt.Errorf("cancel session: %w", err)
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	if sess, err = s.getSession(ctx, id); err != nil {
		return nil, err
	}
	s.publish(ctx, model.SessionEventCancelled, sess, nil)
	sess.Refresh(s.now())
	return sess, nil
}

// ListByAssignment returns every session of an assignment, refreshed.
func (s *SessionService) ListByAssignment(ctx context.Context, assignmentID uuid.UUID) ([]model.Session, error) {
	sessions, err := s.store.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	now := s.now()
	for i := range sessions {
		sessions[i].Refresh(now)
	}
	return sessions, nil
}

// SweepStats summarises one expiry sweep.
type SweepStats struct {
	Finalized int
	Expired   int
	Failed    int
}

// SweepExpired force-submits active sessions past their deadline and
// expires never-started sessions past their due date.
func (s *SessionService) SweepExpired(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := s.now()

	due, err := s.store.ListExpired(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("list expired sessions: %w", err)
	}
	for _, sess := range due {
		if _, err := s.Finalize(ctx, sess.ID, model.SubmitReasonTimeout); err != nil {
			stats.Failed++
			s.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to finalize expired session")
			continue
		}
		stats.Finalized++
	}

	overdue, err := s.store.ListOverdue(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("list overdue sessions: %w", err)
	}
	for i := range overdue {
		sess := &overdue[i]
		ok, err := s.store.TransitionStatus(ctx, sess.ID, model.SessionStatusNotStarted, model.SessionStatusExpired, now)
		if err != nil {
			stats.Failed++
			s.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to expire session")
			continue
		}
		if ok {
			stats.Expired++
			sess.Status = model.SessionStatusExpired
			s.publish(ctx, model.SessionEventExpired, sess, nil)
		}
	}
	return stats, nil
}
