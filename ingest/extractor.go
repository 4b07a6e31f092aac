package ingest

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// ErrExtraction wraps failures of the generative model call.
var ErrExtraction = errors.New("ingest: extraction service failed")

// Extractor turns free text into the model's raw JSON answer.
type Extractor interface {
	Extract(ctx context.Context, text string) (string, error)
}

const systemInstruction = "You extract structured data from trade spare-parts lists. Reply with valid JSON only."

const extractionPrompt = `Extract every part mentioned in the text below. For each part return:
- part_name: the name or model of the part
- category: one of electrical, plumbing, hvac, structural, roofing, flooring, doors, windows, other
- condition: one of new, like-new, used-good, used-fair, for-parts
- price: a number, taken from the text when present
- description: any remaining details

Accept any layout: bullets, numbered lists, comma or semicolon separated items, prose.
Read prices in any notation ($100, 100 USD, "one hundred dollars").
Infer condition from wording such as "brand new" or "slightly used".
Split a line that lists several parts into separate entries.

When a field is not stated use condition "used-good", description "" and price 0.

Return only a JSON array shaped like:
[{"part_name": "string", "category": "string", "condition": "string", "price": 0, "description": "string"}]

Text:
`

// GenAIExtractor calls a Gemini model through google.golang.org/genai.
type GenAIExtractor struct {
	client      *genai.Client
	model       string
	temperature float32
}

func NewGenAIExtractor(ctx context.Context, apiKey, model string, temperature float32) (*GenAIExtractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ingest: missing AI api key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: create genai client: %w", err)
	}
	return &GenAIExtractor{client: client, model: model, temperature: temperature}, nil
}

func (g *GenAIExtractor) Extract(ctx context.Context, text string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(g.temperature),
		ResponseMIMEType:  "application/json",
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(extractionPrompt+text), cfg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	out := resp.Text()
	if out == "" {
		return "", fmt.Errorf("%w: empty response", ErrExtraction)
	}
	return out, nil
}
