package model

import (
	"time"

	"github.com/google/uuid"
)

// Sub-score keys used in Result.SubScores.
const (
	SubScoreTechnical     = "technical"
	SubScoreCommunication = "communication"
	SubScoreDepth         = "depth"
	SubScoreConfidence    = "confidence"
)

// Feedback is the closing assessment of an interview.
type Feedback struct {
	Summary              string   `json:"summary"`
	Strengths            []string `json:"strengths"`
	Improvements         []string `json:"improvements"`
	OverallScore         int      `json:"overall_score"`
	TechnicalScore       int      `json:"technical_score"`
	CommunicationScore   int      `json:"communication_score"`
	ConfidenceScore      int      `json:"confidence_score"`
	RecommendedResources []string `json:"recommended_resources"`
	NextSteps            []string `json:"next_steps"`
	Fallback             bool     `json:"fallback,omitempty"`
}

// Result is the immutable scored outcome of exactly one session.
type Result struct {
	ID                     uuid.UUID      `json:"id"`
	SessionID              uuid.UUID      `json:"session_id"`
	AssignmentID           uuid.UUID      `json:"assignment_id"`
	SubjectID              string         `json:"subject_id"`
	Kind                   SessionKind    `json:"kind"`
	OverallScore           int            `json:"overall_score"`
	SubScores              map[string]int `json:"sub_scores,omitempty"`
	PassingScore           int            `json:"passing_score"`
	Passed                 bool           `json:"passed"`
	EarnedPoints           int            `json:"earned_points"`
	TotalPoints            int            `json:"total_points"`
	ViolationsAtSubmission int            `json:"violations_at_submission"`
	TimeSpentSeconds       int            `json:"time_spent_seconds"`
	Reason                 SubmitReason   `json:"reason"`
	Feedback               *Feedback      `json:"feedback,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
}

// BestOf returns the result with the highest overall score; earlier
// results win ties. It returns nil for an empty slice.
func BestOf(results []Result) *Result {
	var best *Result
	for i := range results {
		if best == nil || results[i].OverallScore > best.OverallScore {
			best = &results[i]
		}
	}
	return best
}
