package analysis

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"

	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// GeminiConfig configures the Gemini generator. BaseURL and HTTPClient are
// optional and default to the public Gemini API endpoint.
type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Gemini is a Generator backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini generator.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  cfg.HTTPClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model}, nil
}

// Generate asks the model for a JSON answer constrained by the analysis schema.
func (g *Gemini) Generate(ctx context.Context, prompt string, input []byte) ([]byte, error) {
	contents := []*genai.Content{genai.NewContentFromText(string(input), genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    responseSchema(),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("generateContent: %w", err)
	}
	return []byte(strings.TrimSpace(resp.Text())), nil
}

func responseSchema() *genai.Schema {
	str := &genai.Schema{Type: genai.TypeString}
	strList := &genai.Schema{Type: genai.TypeArray, Items: str}
	object := func(props map[string]*genai.Schema) *genai.Schema {
		return &genai.Schema{Type: genai.TypeObject, Properties: props, Required: slices.Sorted(maps.Keys(props))}
	}
	arrayOf := func(s *genai.Schema) *genai.Schema {
		return &genai.Schema{Type: genai.TypeArray, Items: s}
	}

	return object(map[string]*genai.Schema{
		"overview": arrayOf(object(map[string]*genai.Schema{
			"title":       str,
			"description": str,
		})),
		"workflows": arrayOf(object(map[string]*genai.Schema{
			"categoryName":     str,
			"summary":          str,
			"outstandingItems": strList,
			"urgencyLevel":     {Type: genai.TypeString, Format: "enum", Enum: []string{"LOW", "MEDIUM", "HIGH"}},
		})),
		"keyInsights": strList,
		"inboxAnalysis": object(map[string]*genai.Schema{
			"summary": str,
			"topics": arrayOf(object(map[string]*genai.Schema{
				"topic":       str,
				"count":       {Type: genai.TypeInteger},
				"status":      str,
				"description": str,
			})),
		}),
	})
}
