package recall

import (
	"context"
	"log/slog"
	"strings"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/reason"
	"github.com/Aman-CERP/amanrecall/internal/search"
)

const answerInstructions = `You are a personal assistant with access to the user's history.
When a "Memory" section is provided, use it to answer and prefer it over guesses.
If the memory does not contain the answer, say so plainly. Be concise.`

// AskRequest is one user message to answer.
type AskRequest struct {
	Message        string
	OwnerID        string
	ConversationID string

	// Force runs the recursive search even when the trigger does not fire.
	Force bool

	// Search overrides the engine's search defaults.
	Search *search.Config
}

// Answer is the assistant's reply and how it was grounded.
type Answer struct {
	Text    string              `json:"text"`
	Trigger search.TriggerMatch `json:"trigger"`
	// Search is nil when no recursive search ran.
	Search *search.Result `json:"search,omitempty"`
}

// Assistant answers messages, consulting history only when the message
// refers to it.
type Assistant struct {
	engine    *Engine
	reasoner  reason.Reasoner
	maxTokens int
	logger    *slog.Logger
}

// NewAssistant creates an assistant over engine's reasoning backend.
func NewAssistant(engine *Engine) *Assistant {
	return &Assistant{
		engine:    engine,
		reasoner:  engine.reasoner,
		maxTokens: engine.cfg.Reasoning.AnswerMaxTokens,
		logger:    engine.logger,
	}
}

// Answer runs the trigger, an optional recursive search, and the final
// reasoning call. Unlike the evaluator, a failed final call is an error:
// there is no answer to fall back to.
func (a *Assistant) Answer(ctx context.Context, req AskRequest) (*Answer, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, rerrors.New(rerrors.ErrCodeQueryEmpty, "message is empty", nil)
	}

	ans := &Answer{Trigger: search.Trigger(req.Message)}

	var memory string
	if ans.Trigger.Triggered || req.Force {
		res, err := a.engine.SearchRecursively(ctx, req.Message, req.OwnerID, req.ConversationID, req.Search)
		if err != nil {
			return nil, err
		}
		ans.Search = res
		memory = search.RenderContext(res.Context)
	}

	a.logger.Debug("assistant_answer",
		slog.Bool("triggered", ans.Trigger.Triggered),
		slog.String("trigger_kind", string(ans.Trigger.Kind)),
		slog.Bool("grounded", memory != ""))

	text, err := a.reasoner.Complete(ctx, reason.Request{
		System:    answerInstructions,
		Prompt:    buildAnswerPrompt(req.Message, memory),
		MaxTokens: a.maxTokens,
	})
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ErrCodeReasoningFailed, err)
	}
	ans.Text = strings.TrimSpace(text)
	return ans, nil
}

func buildAnswerPrompt(message, memory string) string {
	var b strings.Builder
	if memory != "" {
		b.WriteString("# Memory\n")
		b.WriteString(memory)
		b.WriteString("\n")
	}
	b.WriteString("# Message\n")
	b.WriteString(message)
	return b.String()
}
