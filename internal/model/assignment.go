package model

import (
	"time"

	"github.com/google/uuid"
)

// CameraPolicy decides what happens when camera access is denied at start.
type CameraPolicy string

const (
	// CameraPolicyRequired blocks the session from starting without a camera.
	CameraPolicyRequired CameraPolicy = "required"
	// CameraPolicyOptional starts the session in degraded mode.
	CameraPolicyOptional CameraPolicy = "optional"
)

// Personality is the interviewer persona used by the conversation engine.
type Personality string

const (
	PersonalityFriendly     Personality = "friendly"
	PersonalityProfessional Personality = "professional"
	PersonalityChallenging  Personality = "challenging"
)

// Valid reports whether p is one of the known personas.
func (p Personality) Valid() bool {
	switch p {
	case PersonalityFriendly, PersonalityProfessional, PersonalityChallenging:
		return true
	}
	return false
}

// Difficulty grades interview questions.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is a known difficulty.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Assignment is the template every Session is an attempt at.
type Assignment struct {
	ID              uuid.UUID     `json:"id"`
	Kind            SessionKind   `json:"kind"`
	Title           string        `json:"title"`
	DurationSeconds int           `json:"duration_seconds"`
	PassingScore    int           `json:"passing_score"`
	MaxRetakes      int           `json:"max_retakes"`
	MaxViolations   int           `json:"max_violations"`
	CameraPolicy    CameraPolicy  `json:"camera_policy"`
	TotalQuestions  int           `json:"total_questions"`
	Personality     Personality   `json:"personality,omitempty"`
	InterviewType   QuestionStyle `json:"interview_type,omitempty"`
	Role            string        `json:"role,omitempty"`
	Company         string        `json:"company,omitempty"`
	Difficulty      Difficulty    `json:"difficulty,omitempty"`
	DueAt           *time.Time    `json:"due_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// CreateAssignmentRequest is the admin payload for a new assignment.
type CreateAssignmentRequest struct {
	Kind            string                  `json:"kind" binding:"required,oneof=test interview"`
	Title           string                  `json:"title" binding:"required,min=3,max=255"`
	DurationMinutes int                     `json:"duration_minutes" binding:"required,min=1,max=480"`
	PassingScore    int                     `json:"passing_score" binding:"min=0,max=100"`
	MaxRetakes      int                     `json:"max_retakes" binding:"min=0,max=20"`
	MaxViolations   int                     `json:"max_violations" binding:"omitempty,min=1,max=100"`
	CameraPolicy    string                  `json:"camera_policy" binding:"omitempty,oneof=required optional"`
	TotalQuestions  int                     `json:"total_questions" binding:"omitempty,min=1,max=50"`
	Personality     string                  `json:"personality" binding:"omitempty,oneof=friendly professional challenging"`
	InterviewType   string                  `json:"interview_type" binding:"omitempty,oneof=technical behavioral situational"`
	Role            string                  `json:"role" binding:"omitempty,max=255"`
	Company         string                  `json:"company" binding:"omitempty,max=255"`
	Difficulty      string                  `json:"difficulty" binding:"omitempty,oneof=easy medium hard"`
	DueAt           *time.Time              `json:"due_at"`
	Questions       []CreateQuestionRequest `json:"questions" binding:"omitempty,dive"`
}
