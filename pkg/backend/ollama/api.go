package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-go-golems/ruminate/pkg/reasoning"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const maxErrorBody = 2048

var _ reasoning.Backend = (*Client)(nil)

// Complete sends the whole conversation to /api/chat and returns the reply text.
//
// Network failures and non-200 statuses come back as *reasoning.TransportError; a body
// that cannot be decoded or carries no text comes back as *reasoning.BackendContentError.
func (c *Client) Complete(ctx context.Context, req reasoning.CompletionRequest) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	body := ChatRequest{
		Model:    c.Model,
		Messages: toMessages(req.Turns),
		Stream:   false,
		Options: &Options{
			NumPredict:  req.MaxTokens,
			Temperature: req.Temperature,
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", errors.Wrap(err, "marshal chat request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", &reasoning.TransportError{Op: "ollama chat", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Debug().Str("model", c.Model).Int("messages", len(body.Messages)).Int("num_predict", req.MaxTokens).Msg("ollama chat request")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", &reasoning.TransportError{Op: "ollama chat", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &reasoning.TransportError{Op: "ollama chat", StatusCode: 0, Err: errors.Wrap(err, "read body")}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &reasoning.TransportError{
			Op:         "ollama chat",
			StatusCode: resp.StatusCode,
			Body:       limit(string(respBody), maxErrorBody),
		}
	}

	var out ChatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", &reasoning.BackendContentError{Reason: "malformed ollama response", Err: err}
	}
	if out.Error != "" {
		return "", &reasoning.BackendContentError{Reason: "ollama error: " + out.Error}
	}
	if out.Message == nil {
		return "", &reasoning.BackendContentError{Reason: "ollama response has no message"}
	}
	if strings.TrimSpace(out.Message.Content) == "" {
		return "", &reasoning.BackendContentError{Reason: "ollama response is empty"}
	}

	log.Debug().
		Str("model", out.Model).
		Int("prompt_eval_count", out.PromptEvalCount).
		Int("eval_count", out.EvalCount).
		Str("done_reason", out.DoneReason).
		Msg("ollama chat response")
	return out.Message.Content, nil
}

// Ping checks that the server answers and knows the configured model.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/tags", nil)
	if err != nil {
		return &reasoning.TransportError{Op: "ollama tags", Err: err}
	}
	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return &reasoning.TransportError{Op: "ollama tags", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &reasoning.TransportError{Op: "ollama tags", StatusCode: resp.StatusCode, Body: string(b)}
	}
	var tags TagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return &reasoning.BackendContentError{Reason: "malformed ollama tags", Err: err}
	}
	for _, m := range tags.Models {
		if m.Name == c.Model || strings.TrimSuffix(m.Name, ":latest") == c.Model {
			return nil
		}
	}
	return errors.Errorf("model %q is not pulled on %s", c.Model, c.BaseURL)
}

func toMessages(turns []reasoning.Turn) []Message {
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, Message{Role: string(t.Role), Content: t.Content})
	}
	return out
}

func limit(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
