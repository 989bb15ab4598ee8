package service

import (
	"context"
	"math"
	"slices"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/interview"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AnswerJudge decides whether a free-text or coding answer earns its points.
type AnswerJudge interface {
	Passes(ctx context.Context, q model.Question, v model.AnswerValue) bool
}

// KeywordJudge passes an answer that mentions at least MinRatio of the
// expected keywords, or that the interview engine rates at MinQuality or
// above. The engine's neutral fallback never passes on its own.
type KeywordJudge struct {
	Engine     *interview.Engine
	MinRatio   float64
	MinQuality int
}

func NewKeywordJudge(engine *interview.Engine) *KeywordJudge {
	return &KeywordJudge{Engine: engine, MinRatio: 0.5, MinQuality: 6}
}

func (j *KeywordJudge) Passes(ctx context.Context, q model.Question, v model.AnswerValue) bool {
	var text string
	switch a := v.(type) {
	case model.Text:
		text = a.Value
	case model.Code:
		text = a.Source
	default:
		return false
	}
	if strings.TrimSpace(text) == "" {
		return false
	}

	if n := len(q.ExpectedKeywords); n > 0 {
		lower := strings.ToLower(text)
		hits := 0
		for _, kw := range q.ExpectedKeywords {
			if k := strings.ToLower(strings.TrimSpace(kw)); k != "" && strings.Contains(lower, k) {
				hits++
			}
		}
		if float64(hits)/float64(n) >= j.MinRatio {
			return true
		}
	}

	if j.Engine == nil {
		return false
	}
	scores := j.Engine.AnalyzeAnswer(ctx, q.Prompt, text, q.ExpectedKeywords, string(q.Type))
	return scores.Quality >= j.MinQuality
}

// matchesKey compares a choice-based or boolean answer with the key.
func matchesKey(correct, given model.AnswerValue) bool {
	switch c := correct.(type) {
	case model.Choice:
		g, ok := given.(model.Choice)
		return ok && g.Index == c.Index
	case model.MultiChoice:
		g, ok := given.(model.MultiChoice)
		if !ok || len(g.Indexes) != len(c.Indexes) {
			return false
		}
		want := slices.Clone(c.Indexes)
		got := slices.Clone(g.Indexes)
		slices.Sort(want)
		slices.Sort(got)
		return slices.Equal(want, got)
	case model.Bool:
		g, ok := given.(model.Bool)
		return ok && g.Value == c.Value
	}
	return false
}

// TestScore is the outcome of grading a test.
type TestScore struct {
	Earned int
	Total  int
	Score  int
}

// scoreTest grades answers against questions. Unanswered questions earn
// nothing; the score is earned/total*100 rounded to the nearest integer.
func scoreTest(ctx context.Context, judge AnswerJudge, questions []model.Question, answers []model.Answer) TestScore {
	byQuestion := make(map[string]model.AnswerValue, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID.String()] = a.Value
	}

	var ts TestScore
	for _, q := range questions {
		ts.Total += q.Points
		given, ok := byQuestion[q.ID.String()]
		if !ok || given == nil {
			continue
		}
		var correct bool
		if q.Type.AIGraded() {
			correct = judge != nil && judge.Passes(ctx, q, given)
		} else {
			correct = q.Correct != nil && matchesKey(q.Correct, given)
		}
		if correct {
			ts.Earned += q.Points
		}
	}
	if ts.Total > 0 {
		ts.Score = int(math.Round(float64(ts.Earned) / float64(ts.Total) * 100))
	}
	return ts
}
