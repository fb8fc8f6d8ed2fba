package agents

import (
	"context"
	"log"

	"github.com/ctxforge-dev/ctxforge/internal/llm/provider"
)

// passScore is the score at or above which work is considered verified.
const passScore = 0.7

const verifierSystemPrompt = `You are a work verifier. Given a task and the output produced for it, judge whether the output actually accomplishes the task. Respond with a JSON object only:
{"passed": <true|false>, "score": <0.0-1.0>, "issues": ["..."], "suggestions": ["..."], "improved_output": "..."}

Score 1.0 means the output fully accomplishes the task; below 0.7 means it does not. List concrete issues when the output falls short and suggestions for fixing them. Fill improved_output only when you can produce a corrected version of the output yourself; otherwise omit it. Respond with the JSON object and nothing else.`

// Verifier checks executor output against the original task.
type Verifier struct {
	provider provider.Provider
	model    string
}

// NewVerifier builds a verifier.
func NewVerifier(p provider.Provider, model string) *Verifier {
	return &Verifier{provider: p, model: model}
}

// Verify judges one output. Verification is advisory: when the model call
// or parse fails, the result passes with a recorded issue instead of
// blocking delivery.
func (v *Verifier) Verify(ctx context.Context, task, output string) (Verification, provider.Usage, error) {
	resp, err := v.provider.Complete(ctx, provider.Request{
		Model: v.model,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: verifierSystemPrompt},
			{Role: provider.RoleUser, Content: "Task:\n" + task + "\n\nOutput:\n" + output},
		},
		Temperature: 0,
		MaxTokens:   512,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Verification{}, provider.Usage{}, ctx.Err()
		}
		log.Printf("verifier: model call failed, passing unverified: %v", err)
		return Verification{
			Passed: true,
			Score:  passScore,
			Issues: []string{"verification unavailable: " + err.Error()},
		}, provider.Usage{}, nil
	}

	var ver Verification
	if perr := parseJSONBlock(resp.Content, &ver); perr != nil {
		log.Printf("verifier: unparseable verdict, passing unverified: %v", perr)
		return Verification{
			Passed: true,
			Score:  passScore,
			Issues: []string{"verification verdict unparseable"},
		}, resp.Usage, nil
	}

	if ver.Score < 0 {
		ver.Score = 0
	}
	if ver.Score > 1 {
		ver.Score = 1
	}
	// The model's explicit judgment wins; the score alone never flips it.
	return ver, resp.Usage, nil
}
