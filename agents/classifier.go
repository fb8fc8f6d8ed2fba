package agents

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ctxforge-dev/ctxforge/internal/llm/provider"
)

// minConfidence is the floor under which a classification is not trusted
// for routing and the task goes to the default executor instead.
const minConfidence = 0.5

const classifierSystemPrompt = `You are a task classifier. Classify the user task into exactly one category from the list below and respond with a JSON object only:
{"category": "<one of the categories>", "confidence": <0.0-1.0>, "requires_planning": <true|false>, "complexity": "<low|medium|high>", "suggested_roles": ["executor"], "entities": ["<named things in the task>"], "reasoning": "<one sentence>"}

Categories:
%s

Set requires_planning true when the task needs more than one step. Respond with the JSON object and nothing else.`

// Classifier assigns each incoming task to a routing category.
type Classifier struct {
	provider   provider.Provider
	model      string
	categories []string
}

// NewClassifier builds a classifier over the given category set.
func NewClassifier(p provider.Provider, model string, categories []string) *Classifier {
	return &Classifier{provider: p, model: model, categories: categories}
}

// Classify runs one classification call. On any model or parse failure it
// returns a zero-confidence classification rather than an error so the
// pipeline can still route to the default executor.
func (c *Classifier) Classify(ctx context.Context, task string) (Classification, provider.Usage, error) {
	var categoryList strings.Builder
	for _, cat := range c.categories {
		fmt.Fprintf(&categoryList, "- %s\n", cat)
	}

	resp, err := c.provider.Complete(ctx, provider.Request{
		Model: c.model,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: fmt.Sprintf(classifierSystemPrompt, categoryList.String())},
			{Role: provider.RoleUser, Content: task},
		},
		Temperature: 0,
		MaxTokens:   256,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Classification{}, provider.Usage{}, ctx.Err()
		}
		log.Printf("classifier: model call failed, routing to default: %v", err)
		return degradedClassification("classification unavailable"), provider.Usage{}, nil
	}

	var cls Classification
	if perr := parseJSONBlock(resp.Content, &cls); perr != nil {
		log.Printf("classifier: unparseable output, routing to default: %v", perr)
		return degradedClassification("unparseable classification"), resp.Usage, nil
	}
	if !c.known(cls.Category) {
		cls.Confidence = 0
	}
	if cls.Confidence < 0 {
		cls.Confidence = 0
	}
	if cls.Confidence > 1 {
		cls.Confidence = 1
	}
	return cls, resp.Usage, nil
}

// degradedClassification is the zero-confidence verdict used when the
// model call or parse fails. Planning stays on: with nothing known about
// the task, the planner's fallback path is the safer route.
func degradedClassification(reason string) Classification {
	return Classification{Confidence: 0, RequiresPlanning: true, Reasoning: reason}
}

func (c *Classifier) known(category string) bool {
	for _, cat := range c.categories {
		if strings.EqualFold(cat, category) {
			return true
		}
	}
	return false
}
