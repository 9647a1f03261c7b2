package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrMissingOpenAIKey indicates the OpenAI client was configured without credentials.
var ErrMissingOpenAIKey = errors.New("openai: api key is required")

// OpenAIOptions configures the OpenAI analysis client.
type OpenAIOptions struct {
	APIKey       string
	BaseURL      string
	Model        string
	Organization string
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

// OpenAI performs image analysis through the chat completions API with vision
// input. It serves the analysis role only.
type OpenAI struct {
	apiKey       string
	baseURL      string
	model        string
	organization string
	httpClient   *http.Client
	logger       zerolog.Logger
}

// NewOpenAI constructs an OpenAI client with sane defaults.
func NewOpenAI(opts OpenAIOptions) *OpenAI {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAI{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		model:        model,
		organization: strings.TrimSpace(opts.Organization),
		httpClient:   httpClient,
		logger:       opts.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIMessage struct {
	Role    string              `json:"role"`
	Content []openAIContentPart `json:"content"`
}

type openAIChatRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	ResponseFormat map[string]any  `json:"response_format,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

const openAIAnalysisPrompt = `Describe this photo for an automated editing pipeline. ` +
	`Respond with JSON only: {"description": "...", "labels": ["...", "..."]}.`

// Analyze sends the image as a data URL and parses the structured reply.
func (o *OpenAI) Analyze(ctx context.Context, img Image, prompt string) (*AnalysisResult, error) {
	const op = "analyze"
	if o.apiKey == "" {
		return nil, Permanent(o.Name(), op, ErrMissingOpenAIKey)
	}

	instruction := openAIAnalysisPrompt
	if hint := strings.TrimSpace(prompt); hint != "" {
		instruction += " The user intends to: " + hint
	}
	mime := img.MIME
	if mime == "" {
		mime = "image/png"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(img.Data))

	payload := openAIChatRequest{
		Model: o.model,
		Messages: []openAIMessage{{
			Role: "user",
			Content: []openAIContentPart{
				{Type: "text", Text: instruction},
				{Type: "image_url", ImageURL: &openAIImageURL{URL: dataURL}},
			},
		}},
		ResponseFormat: map[string]any{"type": "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Permanent(o.Name(), op, fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(o.Name(), op, fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	if o.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", o.organization)
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(o.Name(), op, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(o.Name(), op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 300 {
		var decoded openAIChatResponse
		msg := strings.TrimSpace(string(raw))
		if jsonErr := json.Unmarshal(raw, &decoded); jsonErr == nil && decoded.Error.Message != "" {
			msg = decoded.Error.Message
		}
		return nil, classify(o.Name(), op, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	var decoded openAIChatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, Transient(o.Name(), op, fmt.Errorf("decode response: %w", err))
	}
	if len(decoded.Choices) == 0 {
		return nil, Transient(o.Name(), op, errors.New("empty response"))
	}

	result := &AnalysisResult{Provider: o.model}
	var parsed analysisPayload
	if jsonErr := json.Unmarshal([]byte(stripCodeFence(decoded.Choices[0].Message.Content)), &parsed); jsonErr == nil {
		result.Description = parsed.Description
		result.Labels = parsed.Labels
	} else {
		result.Description = strings.TrimSpace(decoded.Choices[0].Message.Content)
	}
	o.logger.Debug().Str("model", o.model).Msg("openai analysis succeeded")
	return result, nil
}

var _ Analyzer = (*OpenAI)(nil)
