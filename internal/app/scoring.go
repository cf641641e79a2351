package app

import "quiz-lobby-service/internal/domain"

// AnswerFailure pairs a wrong (or missing) submission with the expected
// solution. UserAnswer is nil when the player submitted fewer answers than
// the quiz has questions.
type AnswerFailure struct {
	UserAnswer *int   `json:"userAnswer"`
	Solution   string `json:"solution"`
}

// Result is the outcome of scoring one player's answers against a quiz.
type Result struct {
	Score    int             `json:"score"`
	MaxScore int             `json:"maxScore"`
	Fails    []AnswerFailure `json:"fails"`
}

// CheckResults scores submitted answers question by question. Extra trailing
// answers beyond the quiz length are ignored.
func CheckResults(quiz domain.Quiz, answers []int) Result {
	result := Result{
		MaxScore: len(quiz.Questions),
		Fails:    []AnswerFailure{},
	}
	for i, question := range quiz.Questions {
		if i < len(answers) && question.CheckAnswer(answers[i]) {
			result.Score++
			continue
		}
		var userAnswer *int
		if i < len(answers) {
			answer := answers[i]
			userAnswer = &answer
		}
		result.Fails = append(result.Fails, AnswerFailure{
			UserAnswer: userAnswer,
			Solution:   question.Solution(),
		})
	}
	return result
}
