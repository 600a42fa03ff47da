package enrich

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/rotisserie/eris"
)

type openaiProvider struct {
	client openai.Client
	model  string
}

func newOpenAI(baseURL, model, apiKey string) *openaiProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries are owned by Client
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &openaiProvider{client: openai.NewClient(opts...), model: model}
}

func (p *openaiProvider) Name() string  { return "openai/" + p.model }
func (p *openaiProvider) Metered() bool { return true }

func (p *openaiProvider) Generate(ctx context.Context, r Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(r.System),
			openai.UserMessage(r.Prompt),
		},
		Temperature: openai.Float(r.Temperature),
	}
	if r.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(r.MaxTokens))
	}
	if r.TopP > 0 {
		params.TopP = openai.Float(r.TopP)
	}
	if r.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			se := &StatusError{StatusCode: apiErr.StatusCode, Body: truncate(apiErr.Error(), 200)}
			if apiErr.Response != nil {
				se.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return "", se
		}
		return "", eris.Wrap(err, "openai request")
	}

	if len(resp.Choices) == 0 {
		return "", eris.New("no response from openai")
	}
	return resp.Choices[0].Message.Content, nil
}
