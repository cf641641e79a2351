package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Player is a quiz participant. Equality is by ID.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewPlayer mints a player with a fresh identifier.
func NewPlayer(name string) (Player, error) {
	if name == "" {
		return Player{}, validationErrorf("the player name should not be empty")
	}
	return Player{ID: uuid.NewString(), Name: name}, nil
}

// PublicQuestion is a question stripped of its solution, safe to send to players.
type PublicQuestion struct {
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices"`
}

// Question is a sealed set of question variants. Every variant can check a
// submitted choice index, expose its solution text, and project a public view.
type Question interface {
	CheckAnswer(answer int) bool
	Solution() string
	Public() PublicQuestion

	isQuestion()
}

// MultipleChoiceQuestion is the only implemented question variant: a prompt
// with at least two choices and a single correct index.
type MultipleChoiceQuestion struct {
	Prompt        string
	Choices       []string
	SolutionIndex int
}

// NewMultipleChoiceQuestion validates choices and the solution index eagerly.
func NewMultipleChoiceQuestion(prompt string, choices []string, solutionIndex int) (MultipleChoiceQuestion, error) {
	if len(choices) < 2 {
		return MultipleChoiceQuestion{}, validationErrorf("choices must contain at least 2 elements")
	}
	for _, c := range choices {
		if c == "" {
			return MultipleChoiceQuestion{}, validationErrorf("choices must contain non-empty strings")
		}
	}
	if solutionIndex < 0 || solutionIndex >= len(choices) {
		return MultipleChoiceQuestion{}, validationErrorf("solution index %d out of range for %d choices", solutionIndex, len(choices))
	}
	return MultipleChoiceQuestion{Prompt: prompt, Choices: choices, SolutionIndex: solutionIndex}, nil
}

// CheckAnswer compares the submitted choice index to the solution index.
func (q MultipleChoiceQuestion) CheckAnswer(answer int) bool { return answer == q.SolutionIndex }

// Solution returns the text of the correct choice.
func (q MultipleChoiceQuestion) Solution() string { return q.Choices[q.SolutionIndex] }

// Public strips the solution from the question.
func (q MultipleChoiceQuestion) Public() PublicQuestion {
	choices := make([]string, len(q.Choices))
	copy(choices, q.Choices)
	return PublicQuestion{Prompt: q.Prompt, Choices: choices}
}

func (MultipleChoiceQuestion) isQuestion() {}

// Quiz is a named, non-empty ordered sequence of questions. The ID is empty
// until the quiz is persisted.
type Quiz struct {
	ID        string
	Name      string
	Questions []Question
}

// NewQuiz validates the quiz invariants eagerly.
func NewQuiz(name string, questions []Question) (Quiz, error) {
	if name == "" {
		return Quiz{}, validationErrorf("the quiz name should not be empty")
	}
	if len(questions) == 0 {
		return Quiz{}, validationErrorf("a quiz needs at least one question")
	}
	for _, q := range questions {
		if q == nil {
			return Quiz{}, validationErrorf("a quiz question is nil")
		}
	}
	return Quiz{Name: name, Questions: questions}, nil
}

// quizDoc is the persisted shape of a quiz, shared by the Postgres JSONB
// column and the Redis cache.
type quizDoc struct {
	Name      string        `json:"name"`
	Questions []questionDoc `json:"questions"`
}

type questionDoc struct {
	Type          string   `json:"type"`
	Prompt        string   `json:"prompt"`
	Choices       []string `json:"choices"`
	SolutionIndex int      `json:"solutionIndex"`
}

const questionTypeMultipleChoice = "multipleChoice"

// MarshalJSON encodes the quiz in its document shape, tagging each question
// with its variant.
func (q Quiz) MarshalJSON() ([]byte, error) {
	doc := quizDoc{Name: q.Name, Questions: make([]questionDoc, 0, len(q.Questions))}
	for _, question := range q.Questions {
		switch v := question.(type) {
		case MultipleChoiceQuestion:
			doc.Questions = append(doc.Questions, questionDoc{
				Type:          questionTypeMultipleChoice,
				Prompt:        v.Prompt,
				Choices:       v.Choices,
				SolutionIndex: v.SolutionIndex,
			})
		default:
			return nil, validationErrorf("no document encoding for question variant %T", question)
		}
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a quiz document, rebuilding each question variant
// through its validating constructor. The ID is not part of the document and
// must be set by the caller.
func (q *Quiz) UnmarshalJSON(data []byte) error {
	var doc quizDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	questions := make([]Question, 0, len(doc.Questions))
	for _, qd := range doc.Questions {
		switch qd.Type {
		// Untagged documents predate the type field and are all multiple choice.
		case questionTypeMultipleChoice, "":
			mcq, err := NewMultipleChoiceQuestion(qd.Prompt, qd.Choices, qd.SolutionIndex)
			if err != nil {
				return err
			}
			questions = append(questions, mcq)
		default:
			return validationErrorf("unknown question variant %q in document", qd.Type)
		}
	}
	quiz, err := NewQuiz(doc.Name, questions)
	if err != nil {
		return err
	}
	quiz.ID = q.ID
	*q = quiz
	return nil
}
