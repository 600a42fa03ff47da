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

const defaultOllamaBase = "http://localhost:11434"

type ollamaProvider struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

func newOllama(baseURL, model, apiKey string) *ollamaProvider {
	if baseURL == "" {
		baseURL = defaultOllamaBase
	}
	baseURL = strings.TrimRight(baseURL, "/")
	// the generate path is appended below
	baseURL = strings.TrimSuffix(baseURL, "/api")
	if model == "" {
		model = "qwen2.5:0.5b"
	}
	return &ollamaProvider{baseURL: baseURL, model: model, apiKey: apiKey, client: &http.Client{}}
}

func (p *ollamaProvider) Name() string { return "ollama/" + p.model }

// Metered is true for the hosted service, which pauses after an hourly token budget.
func (p *ollamaProvider) Metered() bool {
	return strings.Contains(p.baseURL, "ollama.com")
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (p *ollamaProvider) Generate(ctx context.Context, r Request) (string, error) {
	body := ollamaRequest{
		Model:  p.model,
		System: r.System,
		Prompt: r.Prompt,
	}
	if r.JSON {
		body.Format = "json"
	}
	opts := map[string]any{"temperature": r.Temperature}
	if r.MaxTokens > 0 {
		opts["num_predict"] = r.MaxTokens
	}
	if r.TopP > 0 {
		opts["top_p"] = r.TopP
	}
	body.Options = opts

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return "", eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "http request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", eris.Wrap(err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       truncate(string(data), 200),
		}
	}

	var out ollamaResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", eris.Wrap(err, "unmarshal response")
	}
	if out.Error != "" {
		return "", eris.Errorf("ollama error: %s", out.Error)
	}
	return strings.TrimSpace(out.Response), nil
}
