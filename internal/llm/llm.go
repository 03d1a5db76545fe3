package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const (
	// DefaultModel is the default Gemini model for completions.
	DefaultModel = "gemini-flash-lite-latest"
	// DefaultEmbeddingModel is the default model for generating embeddings
	DefaultEmbeddingModel = "gemini-embedding-001"
	// DefaultEmbeddingDimensions is the output dimension for embeddings (Matryoshka)
	DefaultEmbeddingDimensions = int32(768)

	// maxEmbeddingChars keeps inputs under the embedding model's token limit
	maxEmbeddingChars = 8000
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("empty response from LLM")

// Config configures a Client.
type Config struct {
	APIKey              string
	Model               string
	EmbeddingModel      string
	EmbeddingDimensions int32
	Temperature         float32
}

// Client wraps the Gemini API for text generation and embeddings.
type Client struct {
	modelName      string
	embeddingModel string
	dimensions     int32
	temperature    float32
	gClient        *genai.Client
}

// TextGenerationOptions contains options for text generation
type TextGenerationOptions struct {
	MaxTokens      int32         // Maximum number of tokens to generate
	Temperature    float32       // Temperature for randomness (0.0 to 1.0), client default when zero
	Model          string        // Model to use (optional, defaults to client's model)
	ResponseSchema *genai.Schema // Optional schema for structured JSON output
}

// NewClient creates a Gemini client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required. Set GEMINI_API_KEY environment variable or ai.gemini.api_key in config file.\nGet your API key from: https://makersuite.google.com/app/apikey")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = DefaultEmbeddingDimensions
	}

	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		modelName:      cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     cfg.EmbeddingDimensions,
		temperature:    cfg.Temperature,
		gClient:        gClient,
	}, nil
}

// GetModelName returns the completion model in use.
func (c *Client) GetModelName() string {
	return c.modelName
}

// GenerateText generates text using the LLM with specified options
func (c *Client) GenerateText(ctx context.Context, prompt string, options TextGenerationOptions) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	modelName := c.modelName
	if options.Model != "" {
		modelName = options.Model
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	config := &genai.GenerateContentConfig{}
	if options.MaxTokens > 0 {
		config.MaxOutputTokens = options.MaxTokens
	}
	temp := c.temperature
	if options.Temperature > 0 {
		temp = options.Temperature
	}
	if temp > 0 {
		config.Temperature = &temp
	}
	if options.ResponseSchema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = options.ResponseSchema
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, modelName, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate text: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}

	return text, nil
}

// Embed generates one embedding per input text in a single request.
// Uses Matryoshka truncation to the configured dimensions.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		text = truncateUTF8(text, maxEmbeddingChars)
		contents[i] = &genai.Content{
			Parts: []*genai.Part{{Text: text}},
			Role:  "user",
		}
	}

	dims := c.dimensions
	config := &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	}

	resp, err := c.gClient.Models.EmbedContent(ctx, c.embeddingModel, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings from API", len(texts))
	}

	out := make([][]float64, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("no embedding values returned for input %d", i)
		}
		// Convert float32 to float64
		vec := make([]float64, len(e.Values))
		for j, val := range e.Values {
			vec[j] = float64(val)
		}
		out[i] = vec
	}
	return out, nil
}

// Close releases client resources. The underlying SDK client holds no
// long-lived connections, so this is currently a no-op.
func (c *Client) Close() {}
