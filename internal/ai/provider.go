package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxInlineText bounds plain-text resumes sent inline rather than as a file part.
const maxInlineText = 64 * 1024

// Error is a failed extraction. Status is the provider's HTTP status, or 0
// when the provider was never reached.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func failure(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// Provider is an OpenAI-compatible chat completions client.
type Provider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewProvider creates a new AI provider. Returns nil if not configured.
func NewProvider(baseURL, apiKey, model string, timeout time.Duration) *Provider {
	if baseURL == "" || apiKey == "" || model == "" {
		return nil
	}
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Model returns the configured model name.
func (p *Provider) Model() string {
	return p.model
}

type chatRequest struct {
	Model          string        `json:"model"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat responseFmt   `json:"response_format"`
	Messages       []chatMessage `json:"messages"`
}

type responseFmt struct {
	Type string `json:"type"`
}

// chatMessage content is either a string or a list of content parts.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type string    `json:"type"`
	Text string    `json:"text,omitempty"`
	File *filePart `json:"file,omitempty"`
}

type filePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Extract sends the resume to the model with prompt as the system message
// and returns the JSON object it answers with.
func (p *Provider) Extract(ctx context.Context, prompt, filename string, content []byte) (map[string]any, error) {
	body := chatRequest{
		Model:          p.model,
		Temperature:    0,
		ResponseFormat: responseFmt{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: resumeParts(filename, content)},
		},
	}

	raw, err := p.complete(ctx, body)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil || out == nil {
		return nil, failure(0, "AI provider returned invalid JSON")
	}
	return out, nil
}

func (p *Provider) complete(ctx context.Context, body chatRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", failure(0, "Failed to marshal AI request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", failure(0, "Failed to create AI request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", failure(0, "Failed to connect to AI provider: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", failure(resp.StatusCode, "Failed to read AI response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		detail := string(respBody)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			detail = apiErr.Error.Message
		}
		return "", failure(resp.StatusCode, "AI provider returned %d: %s", resp.StatusCode, detail)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", failure(resp.StatusCode, "Failed to parse AI response")
	}
	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message.Content == "" {
		return "", failure(resp.StatusCode, "AI provider returned empty response")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// resumeParts inlines small UTF-8 text resumes and attaches anything else
// as a base64 data URL file part.
func resumeParts(filename string, content []byte) []contentPart {
	intro := contentPart{Type: "text", Text: "Resume file: " + filename}
	if len(content) <= maxInlineText && utf8.Valid(content) && isTextFile(filename) {
		return []contentPart{intro, {Type: "text", Text: string(content)}}
	}
	ctype := mime.TypeByExtension(filepath.Ext(filename))
	if ctype == "" {
		ctype = http.DetectContentType(content)
	}
	if i := strings.IndexByte(ctype, ';'); i >= 0 {
		ctype = ctype[:i]
	}
	return []contentPart{intro, {
		Type: "file",
		File: &filePart{
			Filename: filename,
			FileData: "data:" + ctype + ";base64," + base64.StdEncoding.EncodeToString(content),
		},
	}}
}

func isTextFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".text":
		return true
	}
	return false
}

// stripFences removes a ```json ... ``` wrapper some models add despite
// the JSON response format.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
