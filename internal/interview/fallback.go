package interview

import (
	"github.com/stemsi/exstem-proctor/internal/model"
)

// FallbackKey indexes the canned question table.
type FallbackKey struct {
	Style      model.QuestionStyle
	Difficulty model.Difficulty
}

func canned(style model.QuestionStyle, diff model.Difficulty, category, text string, keywords ...string) model.InterviewQuestion {
	return model.InterviewQuestion{
		Text:             text,
		Style:            style,
		Category:         category,
		Difficulty:       diff,
		ExpectedKeywords: keywords,
		Canned:           true,
	}
}

// DefaultFallbackQuestions returns the canned questions used whenever the
// model cannot produce a valid one. Each call returns a fresh map.
func DefaultFallbackQuestions() map[FallbackKey][]model.InterviewQuestion {
	const (
		tech = model.QuestionStyleTechnical
		beh  = model.QuestionStyleBehavioral
		sit  = model.QuestionStyleSituational
		easy = model.DifficultyEasy
		med  = model.DifficultyMedium
		hard = model.DifficultyHard
	)
	return map[FallbackKey][]model.InterviewQuestion{
		{tech, easy}: {
			canned(tech, easy, "fundamentals", "Can you explain the difference between a process and a thread?", "memory", "scheduling", "shared", "isolation"),
			canned(tech, easy, "data structures", "When would you choose a hash map over a list?", "lookup", "constant time", "key", "order"),
			canned(tech, easy, "version control", "How do you use version control in your day-to-day work?", "branch", "commit", "merge", "review"),
		},
		{tech, med}: {
			canned(tech, med, "system design", "How would you design a rate limiter for a public API?", "token bucket", "window", "distributed", "redis"),
			canned(tech, med, "databases", "How do database indexes speed up queries, and what do they cost?", "b-tree", "lookup", "write", "storage"),
			canned(tech, med, "testing", "How do you decide what to cover with unit tests versus integration tests?", "isolation", "mock", "boundary", "coverage"),
		},
		{tech, hard}: {
			canned(tech, hard, "distributed systems", "How would you guarantee exactly-once processing in a message pipeline?", "idempotent", "deduplication", "transaction", "offset"),
			canned(tech, hard, "concurrency", "Describe how you would find and fix a race condition in production.", "reproduce", "lock", "atomic", "logging"),
			canned(tech, hard, "scalability", "How would you scale a write-heavy service to ten times its current load?", "sharding", "partition", "cache", "queue"),
		},
		{beh, easy}: {
			canned(beh, easy, "motivation", "What drew you to apply for this role?", "interest", "growth", "team", "impact"),
			canned(beh, easy, "teamwork", "Tell me about a project you enjoyed working on with a team.", "collaboration", "role", "outcome", "communication"),
		},
		{beh, med}: {
			canned(beh, med, "conflict", "Tell me about a time you disagreed with a teammate and how you resolved it.", "listen", "compromise", "outcome", "respect"),
			canned(beh, med, "ownership", "Describe a mistake you made at work and what you learned from it.", "accountability", "fix", "learned", "process"),
		},
		{beh, hard}: {
			canned(beh, hard, "leadership", "Describe a time you had to lead a team through a failing project.", "priorities", "stakeholders", "morale", "decision"),
			canned(beh, hard, "influence", "Tell me about a time you changed a decision made by someone more senior.", "data", "persuade", "tradeoff", "relationship"),
		},
		{sit, easy}: {
			canned(sit, easy, "prioritisation", "You have two urgent tasks due at the same time. What do you do?", "prioritize", "communicate", "deadline", "impact"),
			canned(sit, easy, "learning", "You are asked to use a tool you have never seen before. How do you get up to speed?", "documentation", "practice", "ask", "example"),
		},
		{sit, med}: {
			canned(sit, med, "incident", "A release you shipped breaks a key feature for customers. Walk me through your response.", "rollback", "communicate", "root cause", "postmortem"),
			canned(sit, med, "requirements", "A stakeholder keeps changing requirements mid-sprint. How do you handle it?", "scope", "communicate", "tradeoff", "agree"),
		},
		{sit, hard}: {
			canned(sit, hard, "crisis", "Your team's main service is down and the on-call engineer is unreachable. What do you do?", "escalate", "mitigate", "communicate", "runbook"),
			canned(sit, hard, "ethics", "You discover a colleague has been falsifying test results. How do you respond?", "report", "evidence", "integrity", "manager"),
		},
	}
}

// lastResort is used when the table has nothing for the requested key.
var lastResort = model.InterviewQuestion{
	Text:             "Tell me about a challenging problem you solved recently and how you approached it.",
	Style:            model.QuestionStyleBehavioral,
	Category:         "problem solving",
	Difficulty:       model.DifficultyMedium,
	ExpectedKeywords: []string{"problem", "approach", "result", "learned"},
	Canned:           true,
}

// fallbackFeedback is returned when the model cannot grade the transcript.
// The scores are the per-turn averages, the text is fixed.
func fallbackFeedback(avg Averages) model.Feedback {
	strengths := []string{}
	if avg.Count > 0 {
		strengths = append(strengths, "Answered the interview questions through to the end")
	}
	return model.Feedback{
		Summary:            "Your interview has been recorded. Detailed AI feedback is unavailable right now, so this summary is based on the scores collected during the conversation.",
		Strengths:          strengths,
		Improvements:       []string{"Give concrete examples with measurable outcomes", "Structure answers as situation, action and result"},
		OverallScore:       avg.Overall(),
		TechnicalScore:     avg.Technical,
		CommunicationScore: avg.Clarity,
		ConfidenceScore:    avg.Confidence,
		RecommendedResources: []string{
			"Practice common interview questions out loud and time your answers",
			"Review the core concepts listed in the job description",
		},
		NextSteps: []string{"Retake the interview to track your progress"},
		Fallback:  true,
	}
}
