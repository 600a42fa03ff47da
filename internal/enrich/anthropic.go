package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
)

const anthropicAPI = "https://api.anthropic.com"

type anthropicProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func newAnthropic(baseURL, model, apiKey string) *anthropicProvider {
	if baseURL == "" {
		baseURL = anthropicAPI
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &anthropicProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{},
	}
}

func (p *anthropicProvider) Name() string  { return "anthropic/" + p.model }
func (p *anthropicProvider) Metered() bool { return true }

type apiRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	System      string       `json:"system,omitempty"`
	Temperature float64      `json:"temperature"`
	Messages    []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *anthropicProvider) Generate(ctx context.Context, r Request) (string, error) {
	maxTokens := r.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	messages := []apiMessage{{Role: "user", Content: r.Prompt}}
	if r.JSON {
		// no JSON mode here; prefilling the brace keeps the answer an object
		messages = append(messages, apiMessage{Role: "assistant", Content: "{"})
	}

	reqBody := apiRequest{
		Model:       p.model,
		MaxTokens:   maxTokens,
		System:      r.System,
		Temperature: r.Temperature,
		Messages:    messages,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return "", eris.Wrap(err, "create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "http request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       truncate(string(body), 200),
		}
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", eris.Wrap(err, "unmarshal response")
	}

	if apiResp.Error != nil {
		return "", eris.Errorf("api error: %s", apiResp.Error.Message)
	}

	if len(apiResp.Content) == 0 {
		return "", eris.New("empty response")
	}

	text := apiResp.Content[0].Text
	if r.JSON {
		text = "{" + text
	}
	return text, nil
}
