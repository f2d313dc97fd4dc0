package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/malakmagdy1/RealStateFlutter/internal/models"
)

// Payload is a fully assembled provider request body: a system prompt and the
// ordered turns ending with the current user turn.
type Payload struct {
	System string
	Turns  []models.Turn
}

// Builder assembles prompts from the template table. It holds no mutable state
// and is safe for concurrent use.
type Builder struct {
	tpl          *Templates
	historyTurns int
}

// NewBuilder returns a builder keeping at most historyTurns prior turns.
func NewBuilder(tpl *Templates, historyTurns int) *Builder {
	if historyTurns <= 0 {
		historyTurns = 10
	}
	return &Builder{tpl: tpl, historyTurns: historyTurns}
}

// Templates exposes the underlying table.
func (b *Builder) Templates() *Templates {
	return b.tpl
}

// HistoryTurns is the number of prior turns BuildTurn keeps.
func (b *Builder) HistoryTurns() int {
	return b.historyTurns
}

// SystemPrompt returns the persona text for lang.
func (b *Builder) SystemPrompt(lang string, persona Persona) string {
	return b.tpl.Persona(lang, persona)
}

// BuildTurn assembles the system prompt, the most recent prior turns in their
// original order, and one final user turn carrying the rendered domain context
// ahead of the user's input.
func (b *Builder) BuildTurn(lang string, persona Persona, history []models.Turn, records []Record, input string) Payload {
	if len(history) > b.historyTurns {
		history = history[len(history)-b.historyTurns:]
	}
	turns := make([]models.Turn, 0, len(history)+1)
	for _, t := range history {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		turns = append(turns, t)
	}

	final := input
	if len(records) > 0 {
		final = b.tpl.Render(lang, records) + "\n\n" + input
	}
	turns = append(turns, models.Turn{Role: models.RoleUser, Content: final})

	return Payload{
		System: b.SystemPrompt(lang, persona),
		Turns:  turns,
	}
}

// Task renders a single-shot task template with vars.
func (b *Builder) Task(ctx context.Context, lang string, task Task, vars map[string]any) (string, error) {
	text, ok := b.tpl.Tasks[NormalizeLanguage(lang)][task]
	if !ok {
		return "", fmt.Errorf("unknown task template %q", task)
	}
	msgs, err := prompt.FromMessages(schema.FString, schema.UserMessage(text)).Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", task, err)
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("render %s template: empty output", task)
	}
	return msgs[0].Content, nil
}

// TaskPayload is BuildTurn for stateless operations: no history, the rendered
// task as the only user turn.
func (b *Builder) TaskPayload(ctx context.Context, lang string, persona Persona, task Task, vars map[string]any) (Payload, error) {
	text, err := b.Task(ctx, lang, task, vars)
	if err != nil {
		return Payload{}, err
	}
	return b.BuildTurn(lang, persona, nil, nil, text), nil
}
