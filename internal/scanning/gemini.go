package scanning

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
)

// DefaultGeminiModel is used when no model name is configured
const DefaultGeminiModel = "gemini-2.0-flash-001"

const geminiProvider = "gemini"

// generativeModel is the part of *genai.GenerativeModel used here
type generativeModel interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
	Info(ctx context.Context) (*genai.ModelInfo, error)
}

// modelIterator is satisfied by *genai.ModelInfoIterator
type modelIterator interface {
	Next() (*genai.ModelInfo, error)
}

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	modelName string
	extractor generativeModel
	plain     generativeModel
	models    func(ctx context.Context) modelIterator
}

// NewGemini creates a Gemini scanner on an already authenticated client.
// The client is owned by the caller; Close does not close it.
func NewGemini(client *genai.Client, modelName string) *Gemini {
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	extractor := client.GenerativeModel(modelName)
	extractor.ResponseMIMEType = "application/json"
	extractor.SetTemperature(0)

	return &Gemini{
		modelName: modelName,
		extractor: extractor,
		plain:     client.GenerativeModel(modelName),
		models: func(ctx context.Context) modelIterator {
			return client.ListModels(ctx)
		},
	}
}

// Scan sends the document inline with the extraction prompt and returns the model's
// text. Scan makes one call and never retries; the SDK's transport may still retry
// some transient failures on its own before the call returns.
func (g *Gemini) Scan(ctx context.Context, doc Document) (string, error) {
	parts := []genai.Part{
		genai.Blob{MIMEType: doc.MediaType, Data: doc.Data},
		genai.Text(extractionPrompt),
	}

	resp, err := g.extractor.GenerateContent(ctx, parts...)
	if err != nil {
		return "", classify(geminiProvider, err)
	}

	return responseText(resp), nil
}

// responseText joins the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return strings.TrimSpace(text.String())
}

// Provider implements Diagnoser
func (g *Gemini) Provider() string {
	return geminiProvider
}

// Model implements Diagnoser
func (g *Gemini) Model() string {
	return g.modelName
}

// ModelInfo looks up the configured model
func (g *Gemini) ModelInfo(ctx context.Context) (*ModelInfo, error) {
	info, err := g.plain.Info(ctx)
	if err != nil {
		return nil, classify(geminiProvider, err)
	}
	return &ModelInfo{
		Name:        info.Name,
		DisplayName: info.DisplayName,
		Description: info.Description,
	}, nil
}

// ListModels lists the models visible to the client
func (g *Gemini) ListModels(ctx context.Context, filter string) ([]ModelInfo, error) {
	filter = strings.ToLower(filter)
	it := g.models(ctx)

	models := make([]ModelInfo, 0)
	for {
		m, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify(geminiProvider, err)
		}
		if filter != "" &&
			!strings.Contains(strings.ToLower(m.Name), filter) &&
			!strings.Contains(strings.ToLower(m.DisplayName), filter) {
			continue
		}
		models = append(models, ModelInfo{
			Name:        m.Name,
			DisplayName: m.DisplayName,
			Description: m.Description,
		})
	}
	return models, nil
}

// Ping asks the model for a one word reply
func (g *Gemini) Ping(ctx context.Context) (string, error) {
	resp, err := g.plain.GenerateContent(ctx, genai.Text(pingPrompt))
	if err != nil {
		return "", classify(geminiProvider, err)
	}
	return responseText(resp), nil
}

// Close is a no-op; the client belongs to the caller
func (g *Gemini) Close() error {
	return nil
}
