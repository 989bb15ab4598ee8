package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sender identifies who produced a conversation turn.
type Sender string

const (
	SenderInterviewer Sender = "interviewer"
	SenderCandidate   Sender = "candidate"
)

// Sentiment is the engine's read of a candidate answer's tone.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// TurnScores are attached to a candidate turn after it has been recorded.
type TurnScores struct {
	Quality           int       `json:"quality"`
	TechnicalAccuracy int       `json:"technical_accuracy"`
	ClarityScore      int       `json:"clarity_score"`
	DepthScore        int       `json:"depth_score"`
	MatchedKeywords   []string  `json:"matched_keywords"`
	Sentiment         Sentiment `json:"sentiment"`
	Confidence        int       `json:"confidence"`
}

// ConversationTurn is one message in an interview transcript.
type ConversationTurn struct {
	SessionID uuid.UUID          `json:"session_id"`
	Index     int                `json:"index"`
	Sender    Sender             `json:"sender"`
	Content   string             `json:"content"`
	Question  *InterviewQuestion `json:"question,omitempty"`
	Closing   bool               `json:"closing,omitempty"`
	Scores    *TurnScores        `json:"scores,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// ValidateTranscript checks the ordering invariants: indexes run 1..N with
// no gaps, the interviewer speaks first, and senders alternate. A trailing
// interviewer turn without a candidate reply is allowed.
func ValidateTranscript(turns []ConversationTurn) error {
	for i, t := range turns {
		if t.Index != i+1 {
			return fmt.Errorf("turn %d has index %d", i+1, t.Index)
		}
		want := SenderInterviewer
		if i%2 == 1 {
			want = SenderCandidate
		}
		if t.Sender != want {
			return fmt.Errorf("turn %d sent by %s, expected %s", t.Index, t.Sender, want)
		}
	}
	return nil
}

// CandidateTurns returns the candidate replies in order.
func CandidateTurns(turns []ConversationTurn) []ConversationTurn {
	out := make([]ConversationTurn, 0, len(turns)/2)
	for _, t := range turns {
		if t.Sender == SenderCandidate {
			out = append(out, t)
		}
	}
	return out
}

// ReplyRequest carries one candidate answer in an interview.
type ReplyRequest struct {
	Content string `json:"content" binding:"required,min=1,max=10000"`
}
