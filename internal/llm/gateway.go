package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"google.golang.org/genai"

	"newsrec/internal/core"
	"newsrec/internal/logger"
	"newsrec/internal/metrics"
	"newsrec/internal/prompts"
)

// Shape names the JSON object a completion must return.
type Shape string

const (
	ShapeTopics     Shape = "topics"
	ShapeRanking    Shape = "ranking"
	ShapeAdjustment Shape = "adjustment"
)

// TextGenerator produces a completion for a prompt. *Client implements it.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, options TextGenerationOptions) (string, error)
}

// GatewayOptions tunes the call policy around the model.
type GatewayOptions struct {
	// Timeout bounds each attempt
	Timeout          time.Duration
	// MaxRetries is the number of extra attempts after a transient failure
	MaxRetries       int
	// RetryDelay is the pause before a retry
	RetryDelay       time.Duration
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again
	OpenTimeout      time.Duration
}

// DefaultGatewayOptions returns production defaults.
func DefaultGatewayOptions() GatewayOptions {
	return GatewayOptions{
		Timeout:          30 * time.Second,
		MaxRetries:       1,
		RetryDelay:       500 * time.Millisecond,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// Ranking is the parsed result of a ranking completion. Candidates and
// Explanations have the same length.
type Ranking struct {
	Candidates   []string
	Explanations []string
}

// Adjustment is the parsed result of an adjustment completion. Preferences is
// nil when the model decided not to change them.
type Adjustment struct {
	Preferences *string
	Response    string
}

// Gateway sends prompts to the model and validates the returned JSON shape.
// It bounds every attempt with a timeout, retries transient failures once
// and fails fast while the circuit breaker is open.
type Gateway struct {
	gen    TextGenerator
	policy *callPolicy[string]
}

// NewGateway wraps gen with the call policy in opts. Zero fields use defaults.
func NewGateway(gen TextGenerator, opts GatewayOptions) *Gateway {
	return &Gateway{
		gen:    gen,
		policy: newCallPolicy[string]("llm", opts),
	}
}

// Complete sends prompt and returns the top-level fields of the JSON object,
// after checking every key required by shape is present.
func (g *Gateway) Complete(ctx context.Context, prompt string, shape Shape) (map[string]json.RawMessage, error) {
	op := "llm.Complete(" + string(shape) + ")"

	def, ok := shapes[shape]
	if !ok {
		return nil, core.E(core.KindInvalidRequest, op, fmt.Errorf("unknown response shape %q", shape))
	}

	start := time.Now()
	text, err := g.generate(ctx, prompt, shape, def.schema)
	var fields map[string]json.RawMessage
	if err == nil {
		fields, err = decodeObject(text, def.required)
		if err != nil {
			err = core.E(core.KindMalformedModelResponse, op, err)
		}
	} else {
		err = fmt.Errorf("%s: %w", op, err)
	}
	metrics.RecordLLMRequest(string(shape), time.Since(start), err)

	if err != nil {
		logger.Error("Model completion failed", err, "shape", string(shape), "duration", time.Since(start).String())
		return nil, err
	}
	return fields, nil
}

// ExtractTopics runs a topic extraction prompt.
func (g *Gateway) ExtractTopics(ctx context.Context, prompt string) ([]string, error) {
	fields, err := g.Complete(ctx, prompt, ShapeTopics)
	if err != nil {
		return nil, err
	}
	topics, err := stringList(fields, prompts.KeyTopics)
	if err != nil {
		return nil, core.E(core.KindMalformedModelResponse, "llm.ExtractTopics", err)
	}
	return topics, nil
}

// Rank runs a ranking prompt.
func (g *Gateway) Rank(ctx context.Context, prompt string) (Ranking, error) {
	const op = "llm.Rank"

	fields, err := g.Complete(ctx, prompt, ShapeRanking)
	if err != nil {
		return Ranking{}, err
	}
	candidates, err := stringList(fields, prompts.KeyCandidates)
	if err != nil {
		return Ranking{}, core.E(core.KindMalformedModelResponse, op, err)
	}
	explanations, err := stringList(fields, prompts.KeyExplanations)
	if err != nil {
		return Ranking{}, core.E(core.KindMalformedModelResponse, op, err)
	}
	if len(candidates) != len(explanations) {
		return Ranking{}, core.E(core.KindMalformedModelResponse, op,
			fmt.Errorf("%d candidates but %d explanations", len(candidates), len(explanations)))
	}
	return Ranking{Candidates: candidates, Explanations: explanations}, nil
}

// Adjust runs a preference adjustment prompt.
func (g *Gateway) Adjust(ctx context.Context, prompt string) (Adjustment, error) {
	const op = "llm.Adjust"

	fields, err := g.Complete(ctx, prompt, ShapeAdjustment)
	if err != nil {
		return Adjustment{}, err
	}

	var result Adjustment
	if err := json.Unmarshal(fields[prompts.KeyPreferences], &result.Preferences); err != nil {
		return Adjustment{}, core.E(core.KindMalformedModelResponse, op,
			fmt.Errorf("%s must be a string or null: %w", prompts.KeyPreferences, err))
	}
	if err := json.Unmarshal(fields[prompts.KeyResponse], &result.Response); err != nil {
		return Adjustment{}, core.E(core.KindMalformedModelResponse, op,
			fmt.Errorf("%s must be a string: %w", prompts.KeyResponse, err))
	}
	return result, nil
}

func (g *Gateway) generate(ctx context.Context, prompt string, shape Shape, schema *genai.Schema) (string, error) {
	opts := TextGenerationOptions{ResponseSchema: schema}
	return g.policy.run(ctx, string(shape), func(ctx context.Context) (string, error) {
		return g.gen.GenerateText(ctx, prompt, opts)
	})
}

// decodeObject parses text as a JSON object and checks the required keys.
func decodeObject(text string, required []string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	if fields == nil {
		return nil, errors.New("response is null")
	}
	for _, key := range required {
		if _, ok := fields[key]; !ok {
			return nil, fmt.Errorf("response is missing %q", key)
		}
	}
	return fields, nil
}

func stringList(fields map[string]json.RawMessage, key string) ([]string, error) {
	var out []string
	if err := json.Unmarshal(fields[key], &out); err != nil {
		return nil, fmt.Errorf("%s must be a list of strings: %w", key, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%s must be a list, got null", key)
	}
	return out, nil
}

type shapeDef struct {
	required []string
	schema   *genai.Schema
}

var shapes = map[Shape]shapeDef{
	ShapeTopics: {
		required: []string{prompts.KeyTopics},
		schema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				prompts.KeyTopics: {
					Type:        genai.TypeArray,
					Description: "Topics the user is likely interested in",
					Items:       &genai.Schema{Type: genai.TypeString},
				},
			},
			Required: []string{prompts.KeyTopics},
		},
	},
	ShapeRanking: {
		required: []string{prompts.KeyCandidates, prompts.KeyExplanations},
		schema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				prompts.KeyCandidates: {
					Type:        genai.TypeArray,
					Description: "Chosen candidate titles, copied exactly, most relevant first",
					Items:       &genai.Schema{Type: genai.TypeString},
				},
				prompts.KeyExplanations: {
					Type:        genai.TypeArray,
					Description: "One explanation per chosen title, in the same order",
					Items:       &genai.Schema{Type: genai.TypeString},
				},
			},
			Required: []string{prompts.KeyCandidates, prompts.KeyExplanations},
		},
	},
	ShapeAdjustment: {
		required: []string{prompts.KeyPreferences, prompts.KeyResponse},
		schema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				prompts.KeyPreferences: {
					Type:        genai.TypeString,
					Description: "Complete updated preference text, or null when unchanged",
					Nullable:    genai.Ptr(true),
				},
				prompts.KeyResponse: {
					Type:        genai.TypeString,
					Description: "Short reply to the user",
				},
			},
			Required: []string{prompts.KeyPreferences, prompts.KeyResponse},
		},
	},
}
