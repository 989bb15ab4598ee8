package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/llm"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	DefaultTimeout = 20 * time.Second

	maxQuestionRunes = 1000
	maxReplyRunes    = 400
	maxKeywords      = 10
)

// Operation names reported to Config.OnFallback.
const (
	OpOpening       = "opening"
	OpNextQuestion  = "next_question"
	OpAnalyzeAnswer = "analyze_answer"
	OpFollowUp      = "follow_up"
	OpFinalFeedback = "final_feedback"
)

var errEmptyOutput = errors.New("empty model output")

// Config is injected into the engine at construction. Zero values fall back
// to the built-in tables.
type Config struct {
	Personalities     map[model.Personality]Profile
	FallbackQuestions map[FallbackKey][]model.InterviewQuestion
	Timeout           time.Duration
	// OnFallback is called every time an operation degrades to canned content.
	OnFallback func(operation string)
}

// Engine drives LLM-backed interviews. Every call has a bounded timeout and
// a canned fallback, so no method returns an error.
type Engine struct {
	provider      llm.Provider
	prompts       *PromptSet
	personalities map[model.Personality]Profile
	fallbacks     map[FallbackKey][]model.InterviewQuestion
	timeout       time.Duration
	onFallback    func(string)
	log           zerolog.Logger
}

// NewEngine builds an engine around provider. A nil provider is allowed and
// means every operation uses its fallback.
func NewEngine(provider llm.Provider, cfg Config, log zerolog.Logger) (*Engine, error) {
	prompts, err := LoadPrompts()
	if err != nil {
		return nil, err
	}

	personalities := cfg.Personalities
	if personalities == nil {
		personalities = DefaultPersonalities()
	}
	fallbacks := cfg.FallbackQuestions
	if fallbacks == nil {
		fallbacks = DefaultFallbackQuestions()
	}
	if _, ok := personalities[model.PersonalityProfessional]; !ok {
		return nil, fmt.Errorf("personality table must define %q", model.PersonalityProfessional)
	}

	e := &Engine{
		provider:      provider,
		prompts:       prompts,
		personalities: make(map[model.Personality]Profile, len(personalities)),
		fallbacks:     make(map[FallbackKey][]model.InterviewQuestion, len(fallbacks)),
		timeout:       cfg.Timeout,
		onFallback:    cfg.OnFallback,
		log:           log.With().Str("component", "interview_engine").Logger(),
	}
	for k, v := range personalities {
		e.personalities[k] = v
	}
	for k, v := range fallbacks {
		e.fallbacks[k] = append([]model.InterviewQuestion(nil), v...)
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	return e, nil
}

// Profile returns the persona for p, defaulting to professional.
func (e *Engine) Profile(p model.Personality) Profile {
	if prof, ok := e.personalities[p]; ok {
		return prof
	}
	return e.personalities[model.PersonalityProfessional]
}

// generate calls the provider with a deadline. The call runs in its own
// goroutine so a provider that ignores ctx cannot hold the caller.
func (e *Engine) generate(ctx context.Context, prompt string) (string, error) {
	if e.provider == nil {
		return "", &llm.ProviderError{Provider: "none", Code: llm.ErrCodeServiceDown, Message: "no provider configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		text, err := e.provider.GenerateText(ctx, prompt)
		ch <- reply{text, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		if strings.TrimSpace(r.text) == "" {
			return "", errEmptyOutput
		}
		return r.text, nil
	case <-ctx.Done():
		return "", &llm.ProviderError{Provider: e.provider.Name(), Code: llm.ErrCodeTimeout, Message: "generation timed out", Err: ctx.Err()}
	}
}

func (e *Engine) fallback(op string, err error) {
	e.log.Warn().Err(err).Str("operation", op).Msg("LLM call failed, using fallback")
	if e.onFallback != nil {
		e.onFallback(op)
	}
}

// GenerateOpening greets the candidate. The persona's greeting is always
// present; the model only adds one line after it.
func (e *Engine) GenerateOpening(ctx context.Context, personality model.Personality, role, company string) string {
	prof := e.Profile(personality)
	greeting := prof.greet(role, company)

	prompt, err := e.prompts.Render(promptOpening, map[string]any{
		"Name":    prof.Name,
		"Tone":    prof.Tone,
		"Role":    role,
		"Company": company,
	})
	if err != nil {
		e.fallback(OpOpening, err)
		return greeting
	}

	text, err := e.generate(ctx, prompt)
	if err != nil {
		e.fallback(OpOpening, err)
		return greeting
	}
	line := cleanReply(text)
	if line == "" {
		e.fallback(OpOpening, errEmptyOutput)
		return greeting
	}
	return greeting + " " + line
}

// QuestionRequest describes the next question to generate.
type QuestionRequest struct {
	Style            model.QuestionStyle
	Difficulty       model.Difficulty
	Personality      model.Personality
	Role             string
	TurnNumber       int
	PriorQuestions   []string
	PriorAnswers     []string
	CandidateContext string
}

type questionPayload struct {
	Question         string      `json:"question"`
	Category         string      `json:"category"`
	ExpectedKeywords llm.Strings `json:"expected_keywords"`
}

// GenerateNextQuestion asks the model for one structured question. Any
// malformed, empty, oversized or repeated question is replaced by a canned one.
func (e *Engine) GenerateNextQuestion(ctx context.Context, req QuestionRequest) model.InterviewQuestion {
	style, diff := normalizeKey(req.Style, req.Difficulty)
	prof := e.Profile(req.Personality)

	prompt, err := e.prompts.Render(promptNextQuestion, map[string]any{
		"Tone":             prof.Tone,
		"Role":             req.Role,
		"TurnNumber":       req.TurnNumber,
		"Style":            style,
		"Difficulty":       diff,
		"CandidateContext": req.CandidateContext,
		"PriorQuestions":   req.PriorQuestions,
		"PriorAnswers":     req.PriorAnswers,
	})
	if err == nil {
		var text string
		if text, err = e.generate(ctx, prompt); err == nil {
			var q model.InterviewQuestion
			if q, err = parseQuestion(text, style, diff, req.PriorQuestions); err == nil {
				return q
			}
		}
	}

	e.fallback(OpNextQuestion, err)
	return e.CannedQuestion(style, diff, req.TurnNumber, req.PriorQuestions)
}

func parseQuestion(text string, style model.QuestionStyle, diff model.Difficulty, prior []string) (model.InterviewQuestion, error) {
	var p questionPayload
	if err := llm.DecodeJSON(text, &p); err != nil {
		return model.InterviewQuestion{}, err
	}

	q := strings.TrimSpace(p.Question)
	switch {
	case q == "":
		return model.InterviewQuestion{}, errors.New("question field missing")
	case utf8.RuneCountInString(q) > maxQuestionRunes:
		return model.InterviewQuestion{}, errors.New("question too long")
	case asked(q, prior):
		return model.InterviewQuestion{}, errors.New("question repeats an earlier one")
	}

	category := strings.TrimSpace(p.Category)
	if category == "" {
		category = "general"
	}
	keywords := []string(p.ExpectedKeywords)
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return model.InterviewQuestion{
		Text:             q,
		Style:            style,
		Category:         category,
		Difficulty:       diff,
		ExpectedKeywords: keywords,
	}, nil
}

// CannedQuestion picks a question from the fallback table. It rotates by
// turn number and skips questions already asked; it never returns an empty
// question.
func (e *Engine) CannedQuestion(style model.QuestionStyle, diff model.Difficulty, turn int, prior []string) model.InterviewQuestion {
	style, diff = normalizeKey(style, diff)

	list := e.fallbacks[FallbackKey{style, diff}]
	if len(list) == 0 {
		list = e.fallbacks[FallbackKey{style, model.DifficultyMedium}]
	}
	if len(list) == 0 {
		return cloneQuestion(lastResort)
	}

	start := 0
	if turn > 0 {
		start = (turn - 1) % len(list)
	}
	for i := 0; i < len(list); i++ {
		q := list[(start+i)%len(list)]
		if !asked(q.Text, prior) {
			return cloneQuestion(q)
		}
	}
	if !asked(lastResort.Text, prior) {
		return cloneQuestion(lastResort)
	}
	return cloneQuestion(list[start])
}

func cloneQuestion(q model.InterviewQuestion) model.InterviewQuestion {
	q.ExpectedKeywords = append([]string(nil), q.ExpectedKeywords...)
	q.Canned = true
	return q
}

func normalizeKey(style model.QuestionStyle, diff model.Difficulty) (model.QuestionStyle, model.Difficulty) {
	if !style.Valid() {
		style = model.QuestionStyleTechnical
	}
	if !diff.Valid() {
		diff = model.DifficultyMedium
	}
	return style, diff
}

func asked(q string, prior []string) bool {
	for _, p := range prior {
		if strings.EqualFold(strings.TrimSpace(p), strings.TrimSpace(q)) {
			return true
		}
	}
	return false
}

type analysisPayload struct {
	Quality           llm.Number  `json:"quality"`
	TechnicalAccuracy llm.Number  `json:"technical_accuracy"`
	ClarityScore      llm.Number  `json:"clarity_score"`
	DepthScore        llm.Number  `json:"depth_score"`
	MatchedKeywords   llm.Strings `json:"matched_keywords"`
	Sentiment         string      `json:"sentiment"`
	Confidence        llm.Number  `json:"confidence"`
}

// NeutralScores is the analysis used when the model cannot grade an answer.
func NeutralScores() model.TurnScores {
	return model.TurnScores{
		Quality:           5,
		TechnicalAccuracy: 50,
		ClarityScore:      50,
		DepthScore:        50,
		MatchedKeywords:   []string{},
		Sentiment:         model.SentimentNeutral,
		Confidence:        50,
	}
}

// AnalyzeAnswer scores one candidate answer. Model output is clamped:
// quality to 1-10, accuracy, clarity and depth to 0-100, confidence to 1-100.
// Matched keywords are always a subset of the expected ones.
func (e *Engine) AnalyzeAnswer(ctx context.Context, question, answer string, expectedKeywords []string, category string) model.TurnScores {
	local := matchKeywords(answer, expectedKeywords)

	prompt, err := e.prompts.Render(promptAnalyzeAnswer, map[string]any{
		"Category":         category,
		"Question":         question,
		"ExpectedKeywords": expectedKeywords,
		"Answer":           answer,
	})
	var p analysisPayload
	if err == nil {
		var text string
		if text, err = e.generate(ctx, prompt); err == nil {
			err = llm.DecodeJSON(text, &p)
		}
	}
	if err != nil {
		e.fallback(OpAnalyzeAnswer, err)
		scores := NeutralScores()
		scores.MatchedKeywords = local
		return scores
	}

	return model.TurnScores{
		Quality:           p.Quality.IntOr(5, 1, 10),
		TechnicalAccuracy: p.TechnicalAccuracy.IntOr(50, 0, 100),
		ClarityScore:      p.ClarityScore.IntOr(50, 0, 100),
		DepthScore:        p.DepthScore.IntOr(50, 0, 100),
		MatchedKeywords:   mergeKeywords(expectedKeywords, p.MatchedKeywords, local),
		Sentiment:         parseSentiment(p.Sentiment),
		Confidence:        p.Confidence.IntOr(50, 1, 100),
	}
}

func parseSentiment(s string) model.Sentiment {
	switch model.Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case model.SentimentPositive:
		return model.SentimentPositive
	case model.SentimentNegative:
		return model.SentimentNegative
	}
	return model.SentimentNeutral
}

// matchKeywords returns the expected keywords that appear in text.
func matchKeywords(text string, expected []string) []string {
	lower := strings.ToLower(text)
	out := []string{}
	for _, kw := range expected {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k != "" && strings.Contains(lower, k) {
			out = append(out, kw)
		}
	}
	return out
}

// mergeKeywords keeps the expected keywords that either the model or the
// local matcher found, in expected order.
func mergeKeywords(expected []string, fromModel, local []string) []string {
	found := make(map[string]bool, len(fromModel)+len(local))
	for _, k := range fromModel {
		found[strings.ToLower(strings.TrimSpace(k))] = true
	}
	for _, k := range local {
		found[strings.ToLower(strings.TrimSpace(k))] = true
	}
	out := []string{}
	for _, kw := range expected {
		if found[strings.ToLower(strings.TrimSpace(kw))] {
			out = append(out, kw)
		}
	}
	return out
}

// GenerateFollowUp writes a short persona-flavoured reaction to an answer.
func (e *Engine) GenerateFollowUp(ctx context.Context, question, answer string, analysis model.TurnScores, personality model.Personality) string {
	prof := e.Profile(personality)
	canned := prof.transition(analysis.Quality)

	prompt, err := e.prompts.Render(promptFollowUp, map[string]any{
		"Name":              prof.Name,
		"Tone":              prof.Tone,
		"Question":          question,
		"Answer":            answer,
		"Quality":           analysis.Quality,
		"TechnicalAccuracy": analysis.TechnicalAccuracy,
	})
	if err == nil {
		var text string
		if text, err = e.generate(ctx, prompt); err == nil {
			if line := cleanReply(text); line != "" {
				return line
			}
			err = errEmptyOutput
		}
	}
	e.fallback(OpFollowUp, err)
	return canned
}

// Closing returns the persona's sign-off line.
func (e *Engine) Closing(personality model.Personality) string {
	return e.Profile(personality).Closing
}

// FeedbackInput is the transcript to grade.
type FeedbackInput struct {
	Role        string
	Company     string
	Personality model.Personality
	Turns       []model.ConversationTurn
}

type feedbackPayload struct {
	Summary              string      `json:"summary"`
	Strengths            llm.Strings `json:"strengths"`
	Improvements         llm.Strings `json:"improvements"`
	OverallScore         llm.Number  `json:"overall_score"`
	TechnicalScore       llm.Number  `json:"technical_score"`
	CommunicationScore   llm.Number  `json:"communication_score"`
	ConfidenceScore      llm.Number  `json:"confidence_score"`
	RecommendedResources llm.Strings `json:"recommended_resources"`
	NextSteps            llm.Strings `json:"next_steps"`
}

// GenerateFinalFeedback grades the whole transcript. Scores the model omits
// default to the per-turn averages; a transcript without candidate answers
// or a failed call yields the fixed fallback feedback.
func (e *Engine) GenerateFinalFeedback(ctx context.Context, in FeedbackInput) model.Feedback {
	avg := ComputeAverages(in.Turns)
	if avg.Count == 0 {
		return fallbackFeedback(avg)
	}

	prompt, err := e.prompts.Render(promptFinalFeedback, map[string]any{
		"Role":    in.Role,
		"Company": in.Company,
		"Turns":   in.Turns,
	})
	var p feedbackPayload
	if err == nil {
		var text string
		if text, err = e.generate(ctx, prompt); err == nil {
			if err = llm.DecodeJSON(text, &p); err == nil && strings.TrimSpace(p.Summary) == "" {
				err = errors.New("feedback summary missing")
			}
		}
	}
	if err != nil {
		e.fallback(OpFinalFeedback, err)
		return fallbackFeedback(avg)
	}

	return model.Feedback{
		Summary:              strings.TrimSpace(p.Summary),
		Strengths:            nonNil(p.Strengths),
		Improvements:         nonNil(p.Improvements),
		OverallScore:         p.OverallScore.IntOr(avg.Overall(), 0, 100),
		TechnicalScore:       p.TechnicalScore.IntOr(avg.Technical, 0, 100),
		CommunicationScore:   p.CommunicationScore.IntOr(avg.Clarity, 0, 100),
		ConfidenceScore:      p.ConfidenceScore.IntOr(avg.Confidence, 0, 100),
		RecommendedResources: nonNil(p.RecommendedResources),
		NextSteps:            nonNil(p.NextSteps),
	}
}

func nonNil(s llm.Strings) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// cleanReply flattens free-text model output to a single bounded line.
func cleanReply(text string) string {
	s := strings.Join(strings.Fields(text), " ")
	s = strings.Trim(s, `"'`)
	if utf8.RuneCountInString(s) > maxReplyRunes {
		r := []rune(s)
		s = strings.TrimSpace(string(r[:maxReplyRunes]))
	}
	return s
}

// Averages are the mean per-turn scores over scored candidate turns.
type Averages struct {
	Technical  int
	Clarity    int
	Depth      int
	Confidence int
	Count      int
}

// Overall is the mean of the technical, clarity and depth averages.
func (a Averages) Overall() int {
	return (a.Technical + a.Clarity + a.Depth) / 3
}

// SubScores maps the averages onto result sub-score keys.
func (a Averages) SubScores() map[string]int {
	return map[string]int{
		model.SubScoreTechnical:     a.Technical,
		model.SubScoreCommunication: a.Clarity,
		model.SubScoreDepth:         a.Depth,
		model.SubScoreConfidence:    a.Confidence,
	}
}

// ComputeAverages sums the scores of candidate turns and divides by
// max(count, 1), clamping each average to 0-100.
func ComputeAverages(turns []model.ConversationTurn) Averages {
	var tech, clarity, depth, conf, n int
	for _, t := range turns {
		if t.Sender != model.SenderCandidate || t.Scores == nil {
			continue
		}
		tech += t.Scores.TechnicalAccuracy
		clarity += t.Scores.ClarityScore
		depth += t.Scores.DepthScore
		conf += t.Scores.Confidence
		n++
	}
	div := max(n, 1)
	return Averages{
		Technical:  llm.Clamp(tech/div, 0, 100),
		Clarity:    llm.Clamp(clarity/div, 0, 100),
		Depth:      llm.Clamp(depth/div, 0, 100),
		Confidence: llm.Clamp(conf/div, 0, 100),
		Count:      n,
	}
}
