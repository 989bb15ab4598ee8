package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/interview"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

const (
	// priorAnswerWindow is how many recent answers are fed back to the model.
	priorAnswerWindow = 3
	// replyBudget bounds the model calls of one request, below the lock TTL.
	replyBudget = 40 * time.Second
)

// InterviewService drives the conversation of an active interview session.
// Transcript writes are serialised per session.
type InterviewService struct {
	sessions *SessionService
	store    Store
	locker   Locker
	engine   *interview.Engine
	log      zerolog.Logger

	// budget bounds all model calls of one Begin or Reply.
	budget time.Duration
}

// NewInterviewService creates a new InterviewService.
func NewInterviewService(sessions *SessionService, store Store, locker Locker, engine *interview.Engine, log zerolog.Logger) *InterviewService {
	return &InterviewService{
		sessions: sessions,
		store:    store,
		locker:   locker,
		engine:   engine,
		log:      log.With().Str("component", "interview_service").Logger(),
		budget:   replyBudget,
	}
}

// ReplyOutcome is what the candidate receives after answering.
type ReplyOutcome struct {
	Turns     []model.ConversationTurn `json:"turns"`
	Completed bool                     `json:"completed"`
	Result    *model.Result            `json:"result,omitempty"`
}

func (s *InterviewService) activeInterview(ctx context.Context, id uuid.UUID, subjectID string) (*model.Session, error) {
	sess, err := s.sessions.owned(ctx, id, subjectID)
	if err != nil {
		return nil, err
	}
	if sess.Kind != model.SessionKindInterview {
		return nil, ErrNotInterview
	}
	if err := s.sessions.requireActive(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *InterviewService) lock(ctx context.Context, id uuid.UUID) (func(), error) {
	unlock, err := s.locker.Lock(ctx, config.CacheKey.InterviewLockKey(id.String()))
	if err != nil {
		return nil, fmt.Errorf("lock transcript: %w", err)
	}
	return unlock, nil
}

// appendTurn writes t while the session is still active.
func (s *InterviewService) appendTurn(ctx context.Context, t *model.ConversationTurn) error {
	return s.sessions.whileActive(ctx, t.SessionID, func(*model.Session) error {
		if err := s.store.AppendTurn(ctx, t); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrInvalidTransition
			}
			return fmt.Errorf("append turn: %w", err)
		}
		return nil
	})
}

// Begin opens the interview with a greeting and the first question. Calling
// it again returns the existing transcript.
func (s *InterviewService) Begin(ctx context.Context, id uuid.UUID, subjectID string) ([]model.ConversationTurn, error) {
	sess, err := s.activeInterview(ctx, id, subjectID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	turns, err := s.store.ListTurns(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	if len(turns) > 0 {
		return turns, nil
	}

	a, err := s.sessions.getAssignment(ctx, sess.AssignmentID)
	if err != nil {
		return nil, err
	}
	genCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	opening := s.engine.GenerateOpening(genCtx, a.Personality, a.Role, a.Company)
	q := s.engine.GenerateNextQuestion(genCtx, interview.QuestionRequest{
		Style:       a.InterviewType,
		Difficulty:  a.Difficulty,
		Personality: a.Personality,
		Role:        a.Role,
		TurnNumber:  1,
	})

	turn := model.ConversationTurn{
		SessionID: id,
		Index:     1,
		Sender:    model.SenderInterviewer,
		Content:   opening + "\n\n" + q.Text,
		Question:  &q,
		CreatedAt: s.sessions.now(),
	}
	if err := s.appendTurn(ctx, &turn); err != nil {
		return nil, err
	}
	s.log.Info().Str("session_id", id.String()).Bool("canned", q.Canned).Msg("Interview opened")
	return []model.ConversationTurn{turn}, nil
}

// Reply records a candidate answer, scores it, and either asks the next
// question or, after the last one, closes the interview and grades it.
//
// Every write re-checks the session under its lock, so a session completed
// by the timer or the ceiling mid-reply gets no further turns; the caller
// receives the CompletedError instead. If an earlier reply stopped after
// recording the answer, the pending exchange is finished and content is
// not recorded again.
func (s *InterviewService) Reply(ctx context.Context, id uuid.UUID, subjectID, content string) (*ReplyOutcome, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty reply", model.ErrInvalidAnswer)
	}
	sess, err := s.activeInterview(ctx, id, subjectID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	turns, err := s.store.ListTurns(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	if len(turns) == 0 {
		return nil, ErrInvalidTransition
	}
	a, err := s.sessions.getAssignment(ctx, sess.AssignmentID)
	if err != nil {
		return nil, err
	}

	last := turns[len(turns)-1]
	if last.Closing {
		// Closed but not graded.
		return s.close(ctx, id, &ReplyOutcome{})
	}

	genCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	var answer model.ConversationTurn
	if last.Sender == model.SenderCandidate {
		answer = last
		turns = turns[:len(turns)-1]
		s.log.Warn().Str("session_id", id.String()).Int("index", answer.Index).Msg("Resuming unfinished reply")
	} else {
		answer = model.ConversationTurn{
			SessionID: id,
			Index:     last.Index + 1,
			Sender:    model.SenderCandidate,
			Content:   content,
			CreatedAt: s.sessions.now(),
		}
		if err := s.appendTurn(ctx, &answer); err != nil {
			return nil, err
		}
	}

	q := questionOf(lastInterviewerTurn(turns))
	if answer.Scores == nil {
		scores := s.engine.AnalyzeAnswer(genCtx, q.Text, answer.Content, q.ExpectedKeywords, q.Category)
		err := s.sessions.whileActive(ctx, id, func(*model.Session) error {
			if err := s.store.UpdateTurnScores(ctx, id, answer.Index, scores); err != nil {
				return fmt.Errorf("update turn scores: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		answer.Scores = &scores
	}

	turns = append(turns, answer)
	candidate := model.CandidateTurns(turns)
	out := &ReplyOutcome{Turns: []model.ConversationTurn{answer}}

	if len(candidate) >= a.TotalQuestions {
		closing := model.ConversationTurn{
			SessionID: id,
			Index:     answer.Index + 1,
			Sender:    model.SenderInterviewer,
			Content:   s.engine.Closing(a.Personality),
			Closing:   true,
			CreatedAt: s.sessions.now(),
		}
		if err := s.appendTurn(ctx, &closing); err != nil {
			return nil, err
		}
		out.Turns = append(out.Turns, closing)
		return s.close(ctx, id, out)
	}

	followUp := s.engine.GenerateFollowUp(genCtx, q.Text, answer.Content, *answer.Scores, a.Personality)
	next := s.engine.GenerateNextQuestion(genCtx, interview.QuestionRequest{
		Style:          a.InterviewType,
		Difficulty:     a.Difficulty,
		Personality:    a.Personality,
		Role:           a.Role,
		TurnNumber:     len(candidate) + 1,
		PriorQuestions: askedQuestions(turns),
		PriorAnswers:   recentAnswers(candidate, priorAnswerWindow),
	})
	nextTurn := model.ConversationTurn{
		SessionID: id,
		Index:     answer.Index + 1,
		Sender:    model.SenderInterviewer,
		Content:   followUp + "\n\n" + next.Text,
		Question:  &next,
		CreatedAt: s.sessions.now(),
	}
	if err := s.appendTurn(ctx, &nextTurn); err != nil {
		return nil, err
	}
	out.Turns = append(out.Turns, nextTurn)
	return out, nil
}

// close grades the interview once its closing turn is written.
func (s *InterviewService) close(ctx context.Context, id uuid.UUID, out *ReplyOutcome) (*ReplyOutcome, error) {
	res, err := s.sessions.Finalize(ctx, id, model.SubmitReasonInterview)
	if err != nil {
		return nil, err
	}
	out.Completed = true
	out.Result = res
	return out, nil
}

// Turns returns the transcript of an interview the subject owns.
func (s *InterviewService) Turns(ctx context.Context, id uuid.UUID, subjectID string) ([]model.ConversationTurn, error) {
	sess, err := s.sessions.owned(ctx, id, subjectID)
	if err != nil {
		return nil, err
	}
	if sess.Kind != model.SessionKindInterview {
		return nil, ErrNotInterview
	}
	turns, err := s.store.ListTurns(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return turns, nil
}

func lastInterviewerTurn(turns []model.ConversationTurn) model.ConversationTurn {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Sender == model.SenderInterviewer {
			return turns[i]
		}
	}
	return model.ConversationTurn{}
}

func questionOf(t model.ConversationTurn) model.InterviewQuestion {
	if t.Question != nil {
		return *t.Question
	}
	return model.InterviewQuestion{Text: t.Content, Category: "general"}
}

func askedQuestions(turns []model.ConversationTurn) []string {
	var out []string
	for _, t := range turns {
		if t.Question != nil {
			out = append(out, t.Question.Text)
		}
	}
	return out
}

func recentAnswers(candidate []model.ConversationTurn, n int) []string {
	if len(candidate) > n {
		candidate = candidate[len(candidate)-n:]
	}
	out := make([]string, 0, len(candidate))
	for _, t := range candidate {
		out = append(out, t.Content)
	}
	return out
}
