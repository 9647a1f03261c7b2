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

// ErrMissingQwenKey indicates the Qwen client was configured without credentials.
var ErrMissingQwenKey = errors.New("qwen: api key is required")

// QwenOptions configures the DashScope Qwen editing client.
type QwenOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Qwen performs image edits through DashScope's multimodal generation API.
// It serves the editing role only.
type Qwen struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewQwen constructs a Qwen client with sane defaults.
func NewQwen(opts QwenOptions) *Qwen {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "qwen-image-edit"
	}
	return &Qwen{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

func (q *Qwen) Name() string { return "qwen" }

type qwenContent struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type qwenMessage struct {
	Role    string        `json:"role"`
	Content []qwenContent `json:"content"`
}

type qwenRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []qwenMessage `json:"messages"`
	} `json:"input"`
}

type qwenResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []struct {
					Image string `json:"image"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Edit submits the image and instructions and downloads the edited result.
func (q *Qwen) Edit(ctx context.Context, img Image, instructions string) (*EditResult, error) {
	const op = "edit"
	if q.apiKey == "" {
		return nil, Permanent(q.Name(), op, ErrMissingQwenKey)
	}
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return nil, Permanent(q.Name(), op, errors.New("instructions are required"))
	}

	mime := img.MIME
	if mime == "" {
		mime = "image/png"
	}
	payload := qwenRequest{Model: q.model}
	payload.Input.Messages = []qwenMessage{{
		Role: "user",
		Content: []qwenContent{
			{Image: fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(img.Data))},
			{Text: instructions},
		},
	}}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Permanent(q.Name(), op, fmt.Errorf("encode request: %w", err))
	}

	endpoint := q.baseURL + "/services/aigc/multimodal-generation/generation"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(q.Name(), op, fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+q.apiKey)

	resp, err := q.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(q.Name(), op, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(q.Name(), op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 300 {
		var decoded qwenResponse
		msg := strings.TrimSpace(string(raw))
		if jsonErr := json.Unmarshal(raw, &decoded); jsonErr == nil && decoded.Message != "" {
			msg = fmt.Sprintf("%s (%s)", decoded.Message, decoded.Code)
		}
		return nil, classify(q.Name(), op, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	var decoded qwenResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, Transient(q.Name(), op, fmt.Errorf("decode response: %w", err))
	}
	if decoded.Code != "" {
		return nil, Permanent(q.Name(), op, fmt.Errorf("%s (%s)", decoded.Message, decoded.Code))
	}

	imageRef := firstQwenImage(&decoded)
	if imageRef == "" {
		return nil, Transient(q.Name(), op, errors.New("response carried no image"))
	}
	data, format, err := q.fetchImage(ctx, imageRef)
	if err != nil {
		return nil, err
	}
	q.logger.Debug().Str("model", q.model).Str("request_id", decoded.RequestID).Msg("qwen edit succeeded")
	return &EditResult{Data: data, Format: format, Provider: q.model}, nil
}

// fetchImage resolves the returned image reference, which is either a data URL
// or a short-lived download URL.
func (q *Qwen) fetchImage(ctx context.Context, ref string) ([]byte, string, error) {
	const op = "edit"
	if strings.HasPrefix(ref, "data:") {
		meta, encoded, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
		if !ok {
			return nil, "", Transient(q.Name(), op, errors.New("malformed data url"))
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, "", Transient(q.Name(), op, fmt.Errorf("decode data url: %w", err))
		}
		return data, strings.TrimSuffix(meta, ";base64"), nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", Permanent(q.Name(), op, fmt.Errorf("build download request: %w", err))
	}
	resp, err := q.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", classify(q.Name(), op, 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", classify(q.Name(), op, resp.StatusCode, fmt.Errorf("download status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", Transient(q.Name(), op, fmt.Errorf("read image: %w", err))
	}
	format := resp.Header.Get("Content-Type")
	if format == "" {
		format = "image/png"
	}
	return data, format, nil
}

func firstQwenImage(resp *qwenResponse) string {
	for _, choice := range resp.Output.Choices {
		for _, content := range choice.Message.Content {
			if content.Image != "" {
				return content.Image
			}
		}
	}
	return ""
}

var _ Editor = (*Qwen)(nil)
