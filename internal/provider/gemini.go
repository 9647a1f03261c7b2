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

// ErrMissingGeminiKey indicates the Gemini client was configured without credentials.
var ErrMissingGeminiKey = errors.New("gemini: api key is required")

// GeminiOptions configures the Gemini client.
type GeminiOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Gemini calls the Generative Language API for both image analysis and image
// editing, so it can be registered for either role.
type Gemini struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewGemini constructs a Gemini client with sane defaults.
func NewGemini(opts GeminiOptions) *Gemini {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Gemini{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

func (g *Gemini) Name() string { return "gemini" }

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

type analysisPayload struct {
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
}

const geminiAnalysisPrompt = `Describe this photo for an automated editing pipeline. ` +
	`Respond with JSON only: {"description": "...", "labels": ["...", "..."]}.`

// Analyze asks the model for a structured description of the image.
func (g *Gemini) Analyze(ctx context.Context, img Image, prompt string) (*AnalysisResult, error) {
	instruction := geminiAnalysisPrompt
	if hint := strings.TrimSpace(prompt); hint != "" {
		instruction += " The user intends to: " + hint
	}
	resp, err := g.generate(ctx, "analyze", instruction, img)
	if err != nil {
		return nil, err
	}
	text := firstText(resp)
	if text == "" {
		return nil, Transient(g.Name(), "analyze", errors.New("empty response"))
	}
	result := &AnalysisResult{Provider: g.model}
	var parsed analysisPayload
	if jsonErr := json.Unmarshal([]byte(stripCodeFence(text)), &parsed); jsonErr == nil {
		result.Description = parsed.Description
		result.Labels = parsed.Labels
	} else {
		// Model ignored the JSON contract; keep the free text as description.
		result.Description = strings.TrimSpace(text)
	}
	return result, nil
}

// Edit asks the model to rewrite the image per the given instructions.
func (g *Gemini) Edit(ctx context.Context, img Image, instructions string) (*EditResult, error) {
	resp, err := g.generate(ctx, "edit", instructions, img)
	if err != nil {
		return nil, err
	}
	data, mime := firstInlineImage(resp)
	if len(data) == 0 {
		return nil, Transient(g.Name(), "edit", errors.New("response carried no image"))
	}
	return &EditResult{Data: data, Format: mime, Provider: g.model}, nil
}

func (g *Gemini) generate(ctx context.Context, op, text string, img Image) (*geminiResponse, error) {
	if g.apiKey == "" {
		return nil, Permanent(g.Name(), op, ErrMissingGeminiKey)
	}
	mime := img.MIME
	if mime == "" {
		mime = "image/png"
	}
	payload := geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{
		{Text: text},
		{InlineData: &geminiInlineData{MIMEType: mime, Data: base64.StdEncoding.EncodeToString(img.Data)}},
	}}}}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Permanent(g.Name(), op, fmt.Errorf("encode request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(g.Name(), op, fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(g.Name(), op, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(g.Name(), op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 300 {
		var decoded geminiResponse
		msg := strings.TrimSpace(string(raw))
		if jsonErr := json.Unmarshal(raw, &decoded); jsonErr == nil && decoded.Error.Message != "" {
			msg = decoded.Error.Message
		}
		return nil, classify(g.Name(), op, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	var decoded geminiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, Transient(g.Name(), op, fmt.Errorf("decode response: %w", err))
	}
	g.logger.Debug().Str("model", g.model).Str("op", op).Msg("gemini call succeeded")
	return &decoded, nil
}

func firstText(resp *geminiResponse) string {
	for _, c := range resp.Candidates {
		for _, part := range c.Content.Parts {
			if strings.TrimSpace(part.Text) != "" {
				return part.Text
			}
		}
	}
	return ""
}

func firstInlineImage(resp *geminiResponse) ([]byte, string) {
	for _, c := range resp.Candidates {
		for _, part := range c.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				continue
			}
			return data, part.InlineData.MIMEType
		}
	}
	return nil, ""
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

var (
	_ Analyzer = (*Gemini)(nil)
	_ Editor   = (*Gemini)(nil)
)
