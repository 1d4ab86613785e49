package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// VertexClient generates exams with a Gemini model on Vertex AI.
type VertexClient struct {
	client *genai.Client
	model  *genai.GenerativeModel
	opts   Options
}

// NewVertex creates a Vertex AI backed generator.
func NewVertex(ctx context.Context, projectID, region, modelName string, opts Options) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, errors.New("NewVertex: projectID and region cannot be empty")
	}
	client, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	opts = opts.withDefaults()

	m := client.GenerativeModel(modelName)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0),
		MaxOutputTokens: genai.Ptr(int32(opts.MaxOutputTokens)),
	}

	return &VertexClient{client: client, model: m, opts: opts}, nil
}

// Generate sends the prompt and concatenates the text parts of the first candidate.
func (c *VertexClient) Generate(ctx context.Context, prompt string) (string, error) {
	return withRetry(ctx, c.opts, func(ctx context.Context) (string, error) {
		resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return "", fmt.Errorf("generate content: %w", err)
		}
		return candidateText(resp), nil
	})
}

// Close releases the underlying client.
func (c *VertexClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}
