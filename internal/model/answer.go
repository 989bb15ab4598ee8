package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnswerKind tags the variant carried by an AnswerValue.
type AnswerKind string

const (
	AnswerKindChoice      AnswerKind = "choice"
	AnswerKindMultiChoice AnswerKind = "multi_choice"
	AnswerKindBool        AnswerKind = "bool"
	AnswerKindText        AnswerKind = "text"
	AnswerKindCode        AnswerKind = "code"
)

// AnswerValue is a closed sum type; only the variants below implement it.
type AnswerValue interface {
	Kind() AnswerKind
	answerValue()
}

// Choice selects one option by index.
type Choice struct {
	Index int `json:"index"`
}

// MultiChoice selects a set of options.
type MultiChoice struct {
	Indexes []int `json:"indexes"`
}

// Bool answers a true/false question.
type Bool struct {
	Value bool `json:"value"`
}

// Text is a free-text answer.
type Text struct {
	Value string `json:"value"`
}

// Code is a source-code answer.
type Code struct {
	Source   string `json:"source"`
	Language string `json:"language,omitempty"`
}

func (Choice) Kind() AnswerKind      { return AnswerKindChoice }
func (MultiChoice) Kind() AnswerKind { return AnswerKindMultiChoice }
func (Bool) Kind() AnswerKind        { return AnswerKindBool }
func (Text) Kind() AnswerKind        { return AnswerKindText }
func (Code) Kind() AnswerKind        { return AnswerKindCode }

func (Choice) answerValue()      {}
func (MultiChoice) answerValue() {}
func (Bool) answerValue()        {}
func (Text) answerValue()        {}
func (Code) answerValue()        {}

// ErrInvalidAnswer is returned when an answer does not fit its question.
var ErrInvalidAnswer = errors.New("invalid answer")

// AnswerPayload is the wire form of an AnswerValue: {"kind": ..., "value": ...}.
type AnswerPayload struct {
	Kind  AnswerKind      `json:"kind" binding:"required,oneof=choice multi_choice bool text code"`
	Value json.RawMessage `json:"value" binding:"required"`
}

// Decode turns the payload into its typed variant.
func (p AnswerPayload) Decode() (AnswerValue, error) {
	switch p.Kind {
	case AnswerKindChoice:
		var idx int
		if err := json.Unmarshal(p.Value, &idx); err != nil {
			return nil, fmt.Errorf("%w: choice expects an integer index", ErrInvalidAnswer)
		}
		return Choice{Index: idx}, nil
	case AnswerKindMultiChoice:
		var idx []int
		if err := json.Unmarshal(p.Value, &idx); err != nil {
			return nil, fmt.Errorf("%w: multi_choice expects an index array", ErrInvalidAnswer)
		}
		return MultiChoice{Indexes: idx}, nil
	case AnswerKindBool:
		var b bool
		if err := json.Unmarshal(p.Value, &b); err != nil {
			return nil, fmt.Errorf("%w: bool expects true or false", ErrInvalidAnswer)
		}
		return Bool{Value: b}, nil
	case AnswerKindText:
		var s string
		if err := json.Unmarshal(p.Value, &s); err != nil {
			return nil, fmt.Errorf("%w: text expects a string", ErrInvalidAnswer)
		}
		return Text{Value: s}, nil
	case AnswerKindCode:
		var c Code
		if err := json.Unmarshal(p.Value, &c); err != nil || c.Source == "" {
			var s string
			if json.Unmarshal(p.Value, &s) != nil {
				return nil, fmt.Errorf("%w: code expects a string or {source, language}", ErrInvalidAnswer)
			}
			c = Code{Source: s}
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidAnswer, p.Kind)
}

// EncodeAnswer converts a typed answer to its wire form.
func EncodeAnswer(v AnswerValue) (AnswerPayload, error) {
	var raw any
	switch a := v.(type) {
	case Choice:
		raw = a.Index
	case MultiChoice:
		raw = a.Indexes
	case Bool:
		raw = a.Value
	case Text:
		raw = a.Value
	case Code:
		raw = a
	default:
		return AnswerPayload{}, fmt.Errorf("%w: unsupported value %T", ErrInvalidAnswer, v)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return AnswerPayload{}, err
	}
	return AnswerPayload{Kind: v.Kind(), Value: b}, nil
}

// ValidateAnswer checks that v is the right variant and in range for q.
func ValidateAnswer(q Question, v AnswerValue) error {
	if v == nil {
		return fmt.Errorf("%w: missing value", ErrInvalidAnswer)
	}
	switch a := v.(type) {
	case Choice:
		if q.Type != QuestionTypeMultipleChoice {
			break
		}
		if a.Index < 0 || a.Index >= len(q.Options) {
			return fmt.Errorf("%w: option %d out of range", ErrInvalidAnswer, a.Index)
		}
		return nil
	case MultiChoice:
		if q.Type != QuestionTypeMultipleSelect {
			break
		}
		if len(a.Indexes) == 0 {
			return fmt.Errorf("%w: select at least one option", ErrInvalidAnswer)
		}
		seen := make(map[int]struct{}, len(a.Indexes))
		for _, i := range a.Indexes {
			if i < 0 || i >= len(q.Options) {
				return fmt.Errorf("%w: option %d out of range", ErrInvalidAnswer, i)
			}
			if _, dup := seen[i]; dup {
				return fmt.Errorf("%w: option %d selected twice", ErrInvalidAnswer, i)
			}
			seen[i] = struct{}{}
		}
		return nil
	case Bool:
		if q.Type == QuestionTypeTrueFalse {
			return nil
		}
	case Text:
		if q.Type != QuestionTypeFreeText {
			break
		}
		if strings.TrimSpace(a.Value) == "" {
			return fmt.Errorf("%w: empty text", ErrInvalidAnswer)
		}
		return nil
	case Code:
		if q.Type != QuestionTypeCoding {
			break
		}
		if strings.TrimSpace(a.Source) == "" {
			return fmt.Errorf("%w: empty source", ErrInvalidAnswer)
		}
		return nil
	}
	return fmt.Errorf("%w: %s answer for %s question", ErrInvalidAnswer, v.Kind(), q.Type)
}

// Answer is written once per (session, question) and never edited.
type Answer struct {
	SessionID           uuid.UUID   `json:"session_id"`
	QuestionID          uuid.UUID   `json:"question_id"`
	Value               AnswerValue `json:"-"`
	SubmittedAt         time.Time   `json:"submitted_at"`
	ResponseTimeSeconds int         `json:"response_time_seconds"`
}

// MarshalJSON renders Value in its tagged wire form.
func (a Answer) MarshalJSON() ([]byte, error) {
	type alias Answer
	out := struct {
		alias
		Value *AnswerPayload `json:"value,omitempty"`
	}{alias: alias(a)}
	if a.Value != nil {
		p, err := EncodeAnswer(a.Value)
		if err != nil {
			return nil, err
		}
		out.Value = &p
	}
	return json.Marshal(out)
}

// SubmitAnswerRequest is the candidate payload for one answer.
type SubmitAnswerRequest struct {
	QuestionID          uuid.UUID     `json:"question_id" binding:"required"`
	Answer              AnswerPayload `json:"answer" binding:"required"`
	ResponseTimeSeconds int           `json:"response_time_seconds" binding:"min=0"`
}

// SubmitSessionRequest finishes a test, optionally carrying answers the
// client kept locally while the store was unreachable.
type SubmitSessionRequest struct {
	Answers []SubmitAnswerRequest `json:"answers" binding:"omitempty,dive"`
}
