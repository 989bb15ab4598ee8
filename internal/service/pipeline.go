package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/interview"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// Finalize is the single completion path shared by explicit submission, the
// timer and the violation ceiling. The first caller to move the session from
// active to completed grades it; every other caller gets the same result.
// A session left completed without a result (a failed earlier attempt) is
// graded by the next call instead of being reopened.
func (s *SessionService) Finalize(ctx context.Context, id uuid.UUID, reason model.SubmitReason) (*model.Result, error) {
	unlock, err := s.locker.Lock(ctx, config.CacheKey.SessionLockKey(id.String()))
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	defer unlock()

	existing, err := s.store.GetResultBySession(ctx, id)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("get result: %w", err)
	}

	sess, err := s.getSession(ctx, id)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case model.SessionStatusActive:
		now := s.now()
		ok, err := s.store.TransitionStatus(ctx, id, model.SessionStatusActive, model.SessionStatusCompleted, now)
		if err != nil {
			return nil, fmt.Errorf("complete session: %w", err)
		}
		if sess, err = s.getSession(ctx, id); err != nil {
			return nil, err
		}
		if !ok && sess.Status != model.SessionStatusCompleted {
			return nil, ErrInvalidTransition
		}
	case model.SessionStatusCompleted:
	default:
		return nil, ErrInvalidTransition
	}

	res, err := s.grade(ctx, sess, reason)
	if err != nil {
		return nil, err
	}

	stored, created, err := s.store.InsertResultIfAbsent(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("insert result: %w", err)
	}
	if !created {
		return stored, nil
	}

	metrics.ResultCreated(string(stored.Kind), stored.Passed)
	if reason != model.SubmitReasonExplicit {
		metrics.ForcedSubmission(string(reason))
	}
	s.log.Info().
		Str("session_id", id.String()).
		Str("reason", string(reason)).
		Int("score", stored.OverallScore).
		Int("violations", stored.ViolationsAtSubmission).
		Msg("Session graded")

	if err := s.refreshBestAttempt(ctx, sess); err != nil {
		s.log.Warn().Err(err).Str("session_id", id.String()).Msg("Failed to update best attempt")
	}
	score := stored.OverallScore
	s.publish(ctx, model.SessionEventSubmitted, sess, func(e *model.SessionEvent) {
		e.Score = &score
		e.Reason = reason
	})
	return stored, nil
}

func (s *SessionService) grade(ctx context.Context, sess *model.Session, reason model.SubmitReason) (*model.Result, error) {
	a, err := s.getAssignment(ctx, sess.AssignmentID)
	if err != nil {
		return nil, err
	}

	finished := s.now()
	if sess.FinishedAt != nil {
		finished = *sess.FinishedAt
	}
	res := &model.Result{
		ID:                     uuid.New(),
		SessionID:              sess.ID,
		AssignmentID:           sess.AssignmentID,
		SubjectID:              sess.SubjectID,
		Kind:                   sess.Kind,
		PassingScore:           a.PassingScore,
		ViolationsAtSubmission: sess.ViolationCount,
		TimeSpentSeconds:       int(sess.Elapsed(finished) / time.Second),
		Reason:                 reason,
		CreatedAt:              s.now(),
	}

	switch sess.Kind {
	case model.SessionKindInterview:
		turns, err := s.store.ListTurns(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("list turns: %w", err)
		}
		avg := interview.ComputeAverages(turns)
		var fb model.Feedback
		if s.engine != nil {
			fb = s.engine.GenerateFinalFeedback(ctx, interview.FeedbackInput{
				Role:        a.Role,
				Company:     a.Company,
				Personality: a.Personality,
				Turns:       turns,
			})
		} else {
			fb = model.Feedback{OverallScore: avg.Overall(), Fallback: true}
		}
		res.OverallScore = fb.OverallScore
		res.SubScores = avg.SubScores()
		res.Feedback = &fb
	default:
		questions, err := s.store.ListQuestions(ctx, sess.AssignmentID)
		if err != nil {
			return nil, fmt.Errorf("list questions: %w", err)
		}
		answers, err := s.store.ListAnswers(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("list answers: %w", err)
		}
		ts := scoreTest(ctx, s.judge, questions, answers)
		res.OverallScore = ts.Score
		res.EarnedPoints = ts.Earned
		res.TotalPoints = ts.Total
	}
	res.Passed = res.OverallScore >= res.PassingScore
	return res, nil
}

func (s *SessionService) refreshBestAttempt(ctx context.Context, sess *model.Session) error {
	results, err := s.store.ListResults(ctx, sess.AssignmentID, sess.SubjectID)
	if err != nil {
		return err
	}
	best := model.BestOf(results)
	if best == nil {
		return nil
	}
	return s.store.SetBestAttempt(ctx, sess.AssignmentID, sess.SubjectID, best.SessionID)
}
