package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

const answerTemplate = `You are answering a question from an academic textbook.

Instructions:
- Give a detailed and well-structured answer.
- Explain the concept clearly and in depth.
- Use proper scientific terminology.
- Write in paragraph form.
- The answer should be suitable for exams and notes.
- Do NOT repeat the question.
- Do NOT add meta phrases like "Here is the answer".

Content:
{{.content}}

Question:
{{.question}}
`

// PromptBuilder fills the fixed answer template. Values are inserted verbatim.
type PromptBuilder struct {
	tmpl prompt.ChatTemplate
}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{
		tmpl: prompt.FromMessages(schema.GoTemplate, schema.UserMessage(answerTemplate)),
	}
}

// Build returns the prompt text for one question.
func (b *PromptBuilder) Build(ctx context.Context, content, question string) (string, error) {
	msgs, err := b.tmpl.Format(ctx, map[string]any{
		"content":  content,
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("format prompt: %w", err)
	}
	if len(msgs) == 0 {
		return "", errors.New("format prompt: empty result")
	}
	return msgs[0].Content, nil
}
