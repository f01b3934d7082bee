package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Ollama defaults
const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "llava"
)

const ollamaProvider = "ollama"

// Ollama implements the Scanner interface using Ollama
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama Scanner instance
// Recommended models for document scanning (in order of recommendation):
//   - llava:1.6 (best balance of accuracy and speed)
//   - qwen2-vl:7b (good OCR capabilities)
//   - llava-phi3 (smaller, faster, but less accurate)
//
// PDFs are rendered to an image of their first page before they are sent.
// The client has no timeout of its own; deadlines come from the request context.
func NewOllama(baseURL string, modelName string, client *http.Client) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if modelName == "" {
		modelName = DefaultOllamaModel
	}
	if client == nil {
		client = &http.Client{}
	}

	return &Ollama{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   modelName,
		client:  client,
	}
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

type ollamaShowResponse struct {
	Details struct {
		Family        string `json:"family"`
		ParameterSize string `json:"parameter_size"`
	} `json:"details"`
}

// Scan sends the document as an image with the extraction prompt
func (o *Ollama) Scan(ctx context.Context, doc Document) (string, error) {
	img, err := imageForVision(doc)
	if err != nil {
		return "", err
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: "json",
		Options: map[string]any{
			"temperature": 0,
		},
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an expert at reading and extracting information from invoices. You must carefully read all text in images and extract accurate information.",
			},
			{
				Role:    "user",
				Content: extractionPrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(img)},
			},
		},
	}

	return o.chat(ctx, reqBody)
}

func (o *Ollama) chat(ctx context.Context, reqBody ollamaChatRequest) (string, error) {
	var chatResp ollamaChatResponse
	if err := o.call(ctx, http.MethodPost, "/api/chat", reqBody, &chatResp); err != nil {
		return "", err
	}
	return strings.TrimSpace(chatResp.Message.Content), nil
}

// call performs one request against the Ollama API and decodes the JSON answer into out
func (o *Ollama) call(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return classify(ollamaProvider, fmt.Errorf("calling ollama API: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classify(ollamaProvider, &statusError{code: resp.StatusCode, body: string(respBody)})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return classify(ollamaProvider, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// Provider implements Diagnoser
func (o *Ollama) Provider() string {
	return ollamaProvider
}

// Model implements Diagnoser
func (o *Ollama) Model() string {
	return o.model
}

// ModelInfo looks up the configured model
func (o *Ollama) ModelInfo(ctx context.Context) (*ModelInfo, error) {
	var show ollamaShowResponse
	if err := o.call(ctx, http.MethodPost, "/api/show", map[string]string{"model": o.model}, &show); err != nil {
		return nil, err
	}

	var desc string
	if show.Details.Family != "" {
		desc = strings.TrimSpace(fmt.Sprintf("%s %s", show.Details.Family, show.Details.ParameterSize))
	}
	return &ModelInfo{Name: o.model, DisplayName: o.model, Description: desc}, nil
}

// ListModels lists the locally available models
func (o *Ollama) ListModels(ctx context.Context, filter string) ([]ModelInfo, error) {
	var tags ollamaTagsResponse
	if err := o.call(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return nil, err
	}

	filter = strings.ToLower(filter)
	models := make([]ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		if filter != "" && !strings.Contains(strings.ToLower(m.Name), filter) {
			continue
		}
		models = append(models, ModelInfo{Name: m.Model, DisplayName: m.Name})
	}
	return models, nil
}

// Ping asks the model for a one word reply
func (o *Ollama) Ping(ctx context.Context) (string, error) {
	return o.chat(ctx, ollamaChatRequest{
		Model:    o.model,
		Messages: []ollamaMessage{{Role: "user", Content: pingPrompt}},
	})
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
