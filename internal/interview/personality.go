package interview

import (
	"strings"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Profile is an interviewer persona.
type Profile struct {
	Name string
	Tone string
	// Greeting may reference {role} and {company}.
	Greeting string
	// Transitions are the canned follow-ups for strong, middling and weak
	// answers, in that order.
	Transitions [3]string
	Closing     string
}

// greet fills the greeting template.
func (p Profile) greet(role, company string) string {
	if company == "" {
		company = "our team"
	}
	if role == "" {
		role = "this position"
	}
	return strings.NewReplacer("{role}", role, "{company}", company).Replace(p.Greeting)
}

// transition picks the canned reaction for an answer of the given quality.
func (p Profile) transition(quality int) string {
	switch {
	case quality >= 7:
		return p.Transitions[0]
	case quality >= 4:
		return p.Transitions[1]
	default:
		return p.Transitions[2]
	}
}

// DefaultPersonalities returns the built-in personas. Each call returns a
// fresh map.
func DefaultPersonalities() map[model.Personality]Profile {
	return map[model.Personality]Profile{
		model.PersonalityFriendly: {
			Name:     "Sam",
			Tone:     "warm and encouraging",
			Greeting: "Hi, I'm Sam! Thanks for joining me today for the {role} interview at {company}. Take your time with each answer.",
			Transitions: [3]string{
				"That's a great answer, thank you!",
				"Thanks, that gives me a good picture.",
				"No worries, let's keep going.",
			},
			Closing: "That's all my questions. Thanks so much for your time, your feedback is ready below.",
		},
		model.PersonalityProfessional: {
			Name:     "Jordan",
			Tone:     "concise and professional",
			Greeting: "Good day, I'm Jordan. This interview covers the {role} position at {company}. Let's begin.",
			Transitions: [3]string{
				"Thank you, that was thorough.",
				"Understood, thank you.",
				"Noted. Let's move to the next topic.",
			},
			Closing: "This concludes the interview. Thank you; your evaluation follows.",
		},
		model.PersonalityChallenging: {
			Name:     "Morgan",
			Tone:     "demanding and probing",
			Greeting: "I'm Morgan. I'll be pushing you on the details for the {role} role at {company}, so be precise.",
			Transitions: [3]string{
				"Solid. Let's see if that holds up.",
				"Acceptable, but I expected more depth.",
				"That answer was thin. Next.",
			},
			Closing: "We're done. Here is my assessment.",
		},
	}
}
