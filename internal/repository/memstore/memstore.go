// Package memstore is an in-memory session store for tests and single-node
// development runs. It honours the same compare-and-set and uniqueness
// rules as the PostgreSQL repositories.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

type answerKey struct {
	session  uuid.UUID
	question uuid.UUID
}

type turnKey struct {
	session uuid.UUID
	index   int
}

// Store holds everything behind one mutex.
type Store struct {
	mu          sync.Mutex
	assignments map[uuid.UUID]model.Assignment
	questions   map[uuid.UUID][]model.Question
	sessions    map[uuid.UUID]model.Session
	answers     map[answerKey]model.Answer
	turns       map[turnKey]model.ConversationTurn
	results     map[uuid.UUID]model.Result
	resultSeq   map[uuid.UUID]int
	violations  []model.ViolationRecord
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		assignments: make(map[uuid.UUID]model.Assignment),
		questions:   make(map[uuid.UUID][]model.Question),
		sessions:    make(map[uuid.UUID]model.Session),
		answers:     make(map[answerKey]model.Answer),
		turns:       make(map[turnKey]model.ConversationTurn),
		results:     make(map[uuid.UUID]model.Result),
		resultSeq:   make(map[uuid.UUID]int),
	}
}

// ─── Assignments ──────────────────────────────────────────────────────

func (s *Store) CreateAssignment(_ context.Context, a *model.Assignment, questions []model.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[a.ID]; ok {
		return repository.ErrConflict
	}
	s.assignments[a.ID] = *a
	s.questions[a.ID] = slices.Clone(questions)
	return nil
}

func (s *Store) GetAssignment(_ context.Context, id uuid.UUID) (*model.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (s *Store) ListQuestions(_ context.Context, assignmentID uuid.UUID) ([]model.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.questions[assignmentID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderNum < out[j].OrderNum })
	return out, nil
}

// ─── Sessions ─────────────────────────────────────────────────────────

func (s *Store) CreateSession(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return repository.ErrConflict
	}
	for _, other := range s.sessions {
		if other.AssignmentID == sess.AssignmentID && other.SubjectID == sess.SubjectID && other.Attempt == sess.Attempt {
			return repository.ErrConflict
		}
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *Store) GetSession(_ context.Context, id uuid.UUID) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &sess, nil
}

func (s *Store) filterSessions(keep func(model.Session) bool) []model.Session {
	var out []model.Session
	for _, sess := range s.sessions {
		if keep(sess) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Attempt != out[j].Attempt {
			return out[i].Attempt < out[j].Attempt
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) ListAttempts(_ context.Context, assignmentID uuid.UUID, subjectID string) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterSessions(func(sess model.Session) bool {
		return sess.AssignmentID == assignmentID && sess.SubjectID == subjectID
	}), nil
}

func (s *Store) ListByAssignment(_ context.Context, assignmentID uuid.UUID) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterSessions(func(sess model.Session) bool {
		return sess.AssignmentID == assignmentID
	}), nil
}

func (s *Store) MarkStarted(_ context.Context, id uuid.UUID, at time.Time, degraded bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if sess.Status != model.SessionStatusNotStarted {
		return false, nil
	}
	sess.Status = model.SessionStatusActive
	sess.StartedAt = &at
	sess.Degraded = degraded
	s.sessions[id] = sess
	return true, nil
}

func (s *Store) TransitionStatus(_ context.Context, id uuid.UUID, from, to model.SessionStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if sess.Status != from || !model.CanTransition(from, to) {
		return false, nil
	}
	sess.Status = to
	sess.FinishedAt = &at
	s.sessions[id] = sess
	return true, nil
}

func (s *Store) IncrementViolation(_ context.Context, id uuid.UUID, kind model.ViolationKind) (*model.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if sess.Status != model.SessionStatusActive {
		return &sess, false, nil
	}
	sess.ViolationCount++
	switch kind {
	case model.ViolationTabSwitch:
		sess.TabSwitchCount++
	case model.ViolationCopyAttempt, model.ViolationPasteBlocked:
		sess.CopyAttemptCount++
	}
	s.sessions[id] = sess
	return &sess, true, nil
}

func (s *Store) SetBestAttempt(_ context.Context, assignmentID uuid.UUID, subjectID string, best uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.AssignmentID == assignmentID && sess.SubjectID == subjectID {
			b := best
			sess.BestAttemptID = &b
			s.sessions[id] = sess
		}
	}
	return nil
}

func (s *Store) ListExpired(_ context.Context, now time.Time) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterSessions(func(sess model.Session) bool {
		return sess.Status == model.SessionStatusActive && !sess.Deadline().After(now)
	}), nil
}

func (s *Store) ListOverdue(_ context.Context, now time.Time) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterSessions(func(sess model.Session) bool {
		if sess.Status != model.SessionStatusNotStarted {
			return false
		}
		a, ok := s.assignments[sess.AssignmentID]
		return ok && a.DueAt != nil && a.DueAt.Before(now)
	}), nil
}

// ─── Answers ──────────────────────────────────────────────────────────

func (s *Store) InsertAnswer(_ context.Context, a *model.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answerKey{a.SessionID, a.QuestionID}
	if _, ok := s.answers[key]; ok {
		return repository.ErrConflict
	}
	s.answers[key] = *a
	return nil
}

func (s *Store) ListAnswers(_ context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Answer
	for k, a := range s.answers {
		if k.session == sessionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// ─── Turns ────────────────────────────────────────────────────────────

func (s *Store) AppendTurn(_ context.Context, t *model.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := turnKey{t.SessionID, t.Index}
	if _, ok := s.turns[key]; ok {
		return repository.ErrConflict
	}
	s.turns[key] = *t
	return nil
}

func (s *Store) ListTurns(_ context.Context, sessionID uuid.UUID) ([]model.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ConversationTurn
	for k, t := range s.turns {
		if k.session == sessionID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *Store) UpdateTurnScores(_ context.Context, sessionID uuid.UUID, index int, scores model.TurnScores) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := turnKey{sessionID, index}
	t, ok := s.turns[key]
	if !ok {
		return repository.ErrNotFound
	}
	sc := scores
	t.Scores = &sc
	s.turns[key] = t
	return nil
}

// ─── Results ──────────────────────────────────────────────────────────

func (s *Store) InsertResultIfAbsent(_ context.Context, r *model.Result) (*model.Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.results[r.SessionID]; ok {
		return &existing, false, nil
	}
	s.results[r.SessionID] = *r
	s.resultSeq[r.SessionID] = len(s.resultSeq)
	stored := *r
	return &stored, true, nil
}

func (s *Store) GetResultBySession(_ context.Context, sessionID uuid.UUID) (*model.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ListResults(_ context.Context, assignmentID uuid.UUID, subjectID string) ([]model.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Result
	for _, r := range s.results {
		if r.AssignmentID == assignmentID && r.SubjectID == subjectID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.resultSeq[out[i].SessionID] < s.resultSeq[out[j].SessionID] })
	return out, nil
}

// ─── Violation log ────────────────────────────────────────────────────

// CopyViolations appends audit rows. Like the COPY path it rejects the
// whole batch if any (session, sequence) pair is already present.
func (s *Store) CopyViolations(_ context.Context, recs []model.ViolationRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		if s.hasViolation(r) {
			return 0, repository.ErrConflict
		}
	}
	s.violations = append(s.violations, recs...)
	return int64(len(recs)), nil
}

// InsertViolation appends one audit row, ignoring duplicates.
func (s *Store) InsertViolation(_ context.Context, rec model.ViolationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasViolation(rec) {
		s.violations = append(s.violations, rec)
	}
	return nil
}

func (s *Store) hasViolation(rec model.ViolationRecord) bool {
	for _, v := range s.violations {
		if v.SessionID == rec.SessionID && v.Sequence == rec.Sequence {
			return true
		}
	}
	return false
}

// Violations returns a copy of the audit log.
func (s *Store) Violations() []model.ViolationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.violations)
}
