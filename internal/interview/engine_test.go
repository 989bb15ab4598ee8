package interview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

type fakeProvider struct {
	mu      sync.Mutex
	text    string
	err     error
	prompts []string
}

func (f *fakeProvider) GenerateText(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.text, f.err
}

func (f *fakeProvider) Name() string { return "fake" }

// stuckProvider ignores its context until released.
type stuckProvider struct{ release chan struct{} }

func (s *stuckProvider) GenerateText(context.Context, string) (string, error) {
	<-s.release
	return "", nil
}

func (s *stuckProvider) Name() string { return "stuck" }

func newEngine(t *testing.T, p *fakeProvider, fallbacks *[]string) *Engine {
	t.Helper()
	cfg := Config{Timeout: time.Second}
	if fallbacks != nil {
		cfg.OnFallback = func(op string) { *fallbacks = append(*fallbacks, op) }
	}
	var e *Engine
	var err error
	if p == nil {
		e, err = NewEngine(nil, cfg, zerolog.Nop())
	} else {
		e, err = NewEngine(p, cfg, zerolog.Nop())
	}
	require.NoError(t, err)
	return e
}

func TestAnalyzeAnswerClampsModelScores(t *testing.T) {
	p := &fakeProvider{text: "```json\n" + `{
		"quality": 14,
		"technical_accuracy": 150,
		"clarity_score": "85",
		"depth_score": -3,
		"matched_keywords": ["mutex", "kubernetes"],
		"sentiment": "Positive",
		"confidence": -10
	}` + "\n```"}
	e := newEngine(t, p, nil)

	got := e.AnalyzeAnswer(context.Background(), "How do goroutines share state?",
		"I would pass values over a channel.", []string{"mutex", "channel"}, "concurrency")

	assert.Equal(t, 10, got.Quality)
	assert.Equal(t, 100, got.TechnicalAccuracy)
	assert.Equal(t, 85, got.ClarityScore)
	assert.Equal(t, 0, got.DepthScore)
	assert.Equal(t, 1, got.Confidence)
	assert.Equal(t, model.SentimentPositive, got.Sentiment)
	assert.Equal(t, []string{"mutex", "channel"}, got.MatchedKeywords)
	require.Len(t, p.prompts, 1)
	assert.Contains(t, p.prompts[0], "mutex, channel")
}

func TestAnalyzeAnswerNeutralOnFailure(t *testing.T) {
	var ops []string
	e := newEngine(t, &fakeProvider{err: errors.New("boom")}, &ops)

	got := e.AnalyzeAnswer(context.Background(), "q", "we added an index", []string{"Index", "cache"}, "databases")

	want := NeutralScores()
	want.MatchedKeywords = []string{"Index"}
	assert.Equal(t, want, got)
	assert.Equal(t, []string{OpAnalyzeAnswer}, ops)
}

func TestAnalyzeAnswerUnknownSentimentIsNeutral(t *testing.T) {
	e := newEngine(t, &fakeProvider{text: `{"quality": null, "sentiment": "ecstatic"}`}, nil)

	got := e.AnalyzeAnswer(context.Background(), "q", "a", nil, "")

	assert.Equal(t, model.SentimentNeutral, got.Sentiment)
	assert.Equal(t, 5, got.Quality)
	assert.Equal(t, 50, got.Confidence)
	assert.Empty(t, got.MatchedKeywords)
}

func TestGenerateNextQuestionParsesModelOutput(t *testing.T) {
	p := &fakeProvider{text: `Sure! Here it is: {"question": "How does a B-tree index work?", "type": "technical",
		"category": "databases", "difficulty": "medium", "expected_keywords": ["balanced", "", 7, "pages"]}`}
	e := newEngine(t, p, nil)

	q := e.GenerateNextQuestion(context.Background(), QuestionRequest{
		Style:      model.QuestionStyleTechnical,
		Difficulty: model.DifficultyMedium,
		Role:       "Backend Engineer",
		TurnNumber: 2,
	})

	assert.False(t, q.Canned)
	assert.Equal(t, "How does a B-tree index work?", q.Text)
	assert.Equal(t, "databases", q.Category)
	assert.Equal(t, []string{"balanced", "pages"}, q.ExpectedKeywords)
	assert.Contains(t, p.prompts[0], "question 2")
}

func TestGenerateNextQuestionFallsBackToCanned(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
	}{
		{"provider error", &fakeProvider{err: errors.New("connection refused")}},
		{"not json", &fakeProvider{text: "I cannot help with that."}},
		{"missing question", &fakeProvider{text: `{"category": "x"}`}},
		{"empty output", &fakeProvider{text: "   "}},
		{"no provider", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ops []string
			e := newEngine(t, tt.provider, &ops)

			q := e.GenerateNextQuestion(context.Background(), QuestionRequest{
				Style:      model.QuestionStyleBehavioral,
				Difficulty: model.DifficultyHard,
				TurnNumber: 1,
			})

			assert.True(t, q.Canned)
			assert.NotEmpty(t, q.Text)
			assert.Equal(t, model.QuestionStyleBehavioral, q.Style)
			assert.Equal(t, model.DifficultyHard, q.Difficulty)
			assert.Equal(t, []string{OpNextQuestion}, ops)
		})
	}
}

func TestGenerateNextQuestionRejectsRepeats(t *testing.T) {
	e := newEngine(t, &fakeProvider{text: `{"question": "Why Go?"}`}, nil)

	q := e.GenerateNextQuestion(context.Background(), QuestionRequest{
		Style:          model.QuestionStyleTechnical,
		Difficulty:     model.DifficultyEasy,
		TurnNumber:     3,
		PriorQuestions: []string{"why go?"},
	})

	assert.True(t, q.Canned)
	assert.NotEqual(t, "Why Go?", q.Text)
}

func TestGenerateNextQuestionTimesOut(t *testing.T) {
	stuck := &stuckProvider{release: make(chan struct{})}
	t.Cleanup(func() { close(stuck.release) })

	e, err := NewEngine(stuck, Config{Timeout: 20 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)

	start := time.Now()
	q := e.GenerateNextQuestion(context.Background(), QuestionRequest{TurnNumber: 1})

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, q.Canned)
	assert.Equal(t, model.QuestionStyleTechnical, q.Style)
	assert.Equal(t, model.DifficultyMedium, q.Difficulty)
}

func TestCannedQuestionSkipsAskedQuestions(t *testing.T) {
	e := newEngine(t, nil, nil)
	table := DefaultFallbackQuestions()[FallbackKey{model.QuestionStyleTechnical, model.DifficultyMedium}]

	first := e.CannedQuestion(model.QuestionStyleTechnical, model.DifficultyMedium, 1, nil)
	assert.Equal(t, table[0].Text, first.Text)

	second := e.CannedQuestion(model.QuestionStyleTechnical, model.DifficultyMedium, 1, []string{table[0].Text})
	assert.Equal(t, table[1].Text, second.Text)

	var all []string
	for _, q := range table {
		all = append(all, q.Text)
	}
	exhausted := e.CannedQuestion(model.QuestionStyleTechnical, model.DifficultyMedium, 4, all)
	assert.Equal(t, lastResort.Text, exhausted.Text)
	assert.True(t, exhausted.Canned)
}

func TestCannedQuestionReturnsCopies(t *testing.T) {
	e := newEngine(t, nil, nil)

	q := e.CannedQuestion(model.QuestionStyleSituational, model.DifficultyEasy, 1, nil)
	require.NotEmpty(t, q.ExpectedKeywords)
	q.ExpectedKeywords[0] = "mutated"

	again := e.CannedQuestion(model.QuestionStyleSituational, model.DifficultyEasy, 1, nil)
	assert.NotEqual(t, "mutated", again.ExpectedKeywords[0])
}

func TestGenerateOpening(t *testing.T) {
	t.Run("model line appended to greeting", func(t *testing.T) {
		e := newEngine(t, &fakeProvider{text: "  \"We'll cover system design\n and teamwork.\" "}, nil)

		got := e.GenerateOpening(context.Background(), model.PersonalityFriendly, "SRE", "Acme")

		assert.Equal(t, "Hi, I'm Sam! Thanks for joining me today for the SRE interview at Acme. Take your time with each answer. We'll cover system design and teamwork.", got)
	})

	t.Run("greeting alone on failure", func(t *testing.T) {
		var ops []string
		e := newEngine(t, &fakeProvider{err: errors.New("down")}, &ops)

		got := e.GenerateOpening(context.Background(), model.PersonalityProfessional, "Analyst", "")

		assert.Equal(t, "Good day, I'm Jordan. This interview covers the Analyst position at our team. Let's begin.", got)
		assert.Equal(t, []string{OpOpening}, ops)
	})
}

func TestGenerateFollowUpFallback(t *testing.T) {
	e := newEngine(t, &fakeProvider{err: errors.New("down")}, nil)
	prof := DefaultPersonalities()[model.PersonalityChallenging]

	tests := []struct {
		quality int
		want    string
	}{
		{9, prof.Transitions[0]},
		{7, prof.Transitions[0]},
		{5, prof.Transitions[1]},
		{2, prof.Transitions[2]},
	}
	for _, tt := range tests {
		got := e.GenerateFollowUp(context.Background(), "q", "a", model.TurnScores{Quality: tt.quality}, model.PersonalityChallenging)
		assert.Equal(t, tt.want, got, "quality %d", tt.quality)
	}
}

func TestUnknownPersonalityUsesProfessional(t *testing.T) {
	e := newEngine(t, nil, nil)
	assert.Equal(t, DefaultPersonalities()[model.PersonalityProfessional].Closing, e.Closing("pirate"))
}

func scoredTurns(scores ...model.TurnScores) []model.ConversationTurn {
	var turns []model.ConversationTurn
	for i := range scores {
		turns = append(turns,
			model.ConversationTurn{Index: len(turns) + 1, Sender: model.SenderInterviewer, Content: "question"},
			model.ConversationTurn{Index: len(turns) + 2, Sender: model.SenderCandidate, Content: "answer", Scores: &scores[i]},
		)
	}
	return turns
}

func TestGenerateFinalFeedback(t *testing.T) {
	turns := scoredTurns(
		model.TurnScores{TechnicalAccuracy: 80, ClarityScore: 60, DepthScore: 70, Confidence: 90},
		model.TurnScores{TechnicalAccuracy: 60, ClarityScore: 80, DepthScore: 50, Confidence: 70},
	)

	t.Run("model feedback clamped", func(t *testing.T) {
		e := newEngine(t, &fakeProvider{text: `{"summary": " Solid run. ", "strengths": "clear structure",
			"overall_score": 140, "technical_score": "72", "communication_score": -5,
			"recommended_resources": ["Designing Data-Intensive Applications"]}`}, nil)

		fb := e.GenerateFinalFeedback(context.Background(), FeedbackInput{Role: "SRE", Turns: turns})

		assert.False(t, fb.Fallback)
		assert.Equal(t, "Solid run.", fb.Summary)
		assert.Equal(t, []string{"clear structure"}, fb.Strengths)
		assert.Equal(t, []string{}, fb.Improvements)
		assert.Equal(t, 100, fb.OverallScore)
		assert.Equal(t, 72, fb.TechnicalScore)
		assert.Equal(t, 0, fb.CommunicationScore)
		assert.Equal(t, 80, fb.ConfidenceScore)
	})

	t.Run("fallback uses averages", func(t *testing.T) {
		var ops []string
		e := newEngine(t, &fakeProvider{text: `{"overall_score": 90}`}, &ops)

		fb := e.GenerateFinalFeedback(context.Background(), FeedbackInput{Turns: turns})

		assert.True(t, fb.Fallback)
		assert.Equal(t, 70, fb.TechnicalScore)
		assert.Equal(t, 70, fb.CommunicationScore)
		assert.Equal(t, 80, fb.ConfidenceScore)
		assert.Equal(t, 66, fb.OverallScore)
		assert.NotEmpty(t, fb.Summary)
		assert.Equal(t, []string{OpFinalFeedback}, ops)
	})

	t.Run("no answers skips the model", func(t *testing.T) {
		p := &fakeProvider{text: `{"summary": "x"}`}
		e := newEngine(t, p, nil)

		fb := e.GenerateFinalFeedback(context.Background(), FeedbackInput{})

		assert.True(t, fb.Fallback)
		assert.Zero(t, fb.OverallScore)
		assert.Empty(t, fb.Strengths)
		assert.Empty(t, p.prompts)
	})
}

func TestComputeAverages(t *testing.T) {
	assert.Equal(t, Averages{}, ComputeAverages(nil))

	turns := scoredTurns(
		model.TurnScores{TechnicalAccuracy: 100, ClarityScore: 50, DepthScore: 0, Confidence: 1},
		model.TurnScores{TechnicalAccuracy: 51, ClarityScore: 50, DepthScore: 100, Confidence: 100},
	)
	turns = append(turns, model.ConversationTurn{Index: 5, Sender: model.SenderInterviewer, Closing: true})

	avg := ComputeAverages(turns)
	assert.Equal(t, Averages{Technical: 75, Clarity: 50, Depth: 50, Confidence: 50, Count: 2}, avg)
	assert.Equal(t, 58, avg.Overall())
	assert.Equal(t, 75, avg.SubScores()[model.SubScoreTechnical])
}

func TestNewEngineCopiesTables(t *testing.T) {
	personas := DefaultPersonalities()
	e, err := NewEngine(nil, Config{Personalities: personas}, zerolog.Nop())
	require.NoError(t, err)

	delete(personas, model.PersonalityFriendly)
	assert.Equal(t, "Sam", e.Profile(model.PersonalityFriendly).Name)

	_, err = NewEngine(nil, Config{Personalities: map[model.Personality]Profile{}}, zerolog.Nop())
	assert.Error(t, err)
}

func TestLoadPromptsRendersEveryTemplate(t *testing.T) {
	set, err := LoadPrompts()
	require.NoError(t, err)

	for _, name := range requiredPrompts {
		out, err := set.Render(name, map[string]any{"Role": "Engineer"})
		require.NoError(t, err, name)
		assert.NotEmpty(t, out, name)
	}

	_, err = set.Render("missing", nil)
	assert.Error(t, err)
}
