package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChatClient implements Oracle against the hosting platform's
// text-generation service (a chat-completions style endpoint).
type ChatClient struct {
	Endpoint   string
	Token      string
	Model      string
	HTTPClient *http.Client
}

// NewChatClient creates a chat-backed oracle. Correction calls may be slow;
// the timeout is generous since the engine's repair ceiling bounds the work,
// not this client.
func NewChatClient(endpoint, token, model string) *ChatClient {
	return &ChatClient{
		Endpoint:   strings.TrimRight(endpoint, "/"),
		Token:      token,
		Model:      model,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type chatRequest struct {
	Model    string        `json:"model,omitempty"`
	Mode     string        `json:"mode,omitempty"`
	Messages []chatMessage `json:"messages"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Response string `json:"response"`
	Choices  []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

const systemPrompt = "You repair structured agent plans. Reply with the corrected step array as JSON only."

// Correct sends the correction prompt and returns the raw response text.
func (c *ChatClient) Correct(ctx context.Context, prompt string, meta map[string]string, mode string) (string, error) {
	reqBody := chatRequest{
		Model: c.Model,
		Mode:  mode,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Metadata: meta,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oracle returned %d: %s", resp.StatusCode, truncate(respBody, 300))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("oracle error [%s]: %s", chatResp.Error.Code, chatResp.Error.Message)
	}
	if chatResp.Response != "" {
		return chatResp.Response, nil
	}
	if len(chatResp.Choices) > 0 {
		return chatResp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("no content in oracle response")
}

func truncate(b []byte, max int) string {
	s := string(b)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
