package app

import (
	"fmt"

	"studydeck/pkg/ai"
	"studydeck/pkg/domain"
)

// generationProfile describes one model call: prompt, output schema and budget.
type generationProfile struct {
	kind      domain.ContentKind
	maxTokens int
	schema    *ai.Schema
	prompt    func(text string) string
}

var summaryProfile = generationProfile{
	kind:      domain.KindSummary,
	maxTokens: 4096,
	schema: ai.ObjectSchema(map[string]*ai.Schema{
		"title":     ai.StringSchema(),
		"overview":  ai.StringSchema(),
		"keyPoints": ai.ArraySchema(ai.StringSchema()),
	}, "title", "overview", "keyPoints"),
	prompt: func(text string) string {
		return `Please create a clear and structured summary of the following text.

Instructions:
- Use simple language that is easy for students to understand
- Break the information into short sections or bullet points
- Highlight the most important concepts, definitions, and examples

Text: ` + text
	},
}

var flashcardsProfile = generationProfile{
	kind:      domain.KindFlashcards,
	maxTokens: 2048,
	schema: ai.ObjectSchema(map[string]*ai.Schema{
		"flashcards": ai.ArraySchema(ai.ObjectSchema(map[string]*ai.Schema{
			"id":       ai.NumberSchema(),
			"question": ai.StringSchema(),
			"answer":   ai.StringSchema(),
			"hint":     ai.StringSchema(),
		}, "id", "question", "answer", "hint")).WithLength(domain.FlashcardBatchSize, domain.FlashcardBatchSize),
	}, "flashcards"),
	prompt: func(text string) string {
		return fmt.Sprintf(`Analyze the following text and identify the %d most important concepts, terms, or key ideas.
For each, create a flashcard with a concise question, a clear answer, and a helpful hint.
The language used must be simple and easy for a student to understand.

Text: %s`, domain.FlashcardBatchSize, text)
	},
}

var quizProfile = generationProfile{
	kind:      domain.KindQuiz,
	maxTokens: 4096,
	schema: ai.ObjectSchema(map[string]*ai.Schema{
		"questions": ai.ArraySchema(ai.ObjectSchema(map[string]*ai.Schema{
			"id":       ai.NumberSchema(),
			"question": ai.StringSchema(),
			"answerOptions": ai.ArraySchema(ai.ObjectSchema(map[string]*ai.Schema{
				"id":          ai.NumberSchema(),
				"option":      ai.StringSchema(),
				"explanation": ai.StringSchema(),
			}, "id", "option", "explanation")).WithLength(domain.QuizOptionsPerQuestion, domain.QuizOptionsPerQuestion),
			"answerId": ai.NumberSchema(),
		}, "id", "question", "answerOptions", "answerId")).WithLength(domain.QuizBatchSize, domain.QuizBatchSize),
	}, "questions"),
	prompt: func(text string) string {
		return fmt.Sprintf(`Given the following text, generate %d multiple choice questions and answers based on the main concepts, terms and ideas.
For each question, create %d answer choices with explanations as to why each option is the incorrect/correct choice.
The language should be at the same level as the given text.
Text: %s`, domain.QuizBatchSize, domain.QuizOptionsPerQuestion, text)
	},
}
