package assistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	geminiDefaultModel   = "gemini-2.0-flash"
	geminiDefaultAPIBase = "https://generativelanguage.googleapis.com/v1beta"
	defaultHTTPTimeout   = 120 * time.Second
	maxSSELineSize       = 1 << 20
)

// Gemini is a Gateway backed by the Gemini streamGenerateContent API. It keeps
// the turns of one chat session until Reset is called.
type Gemini struct {
	apiKey  string
	model   string
	apiBase string
	client  *http.Client
	logger  *slog.Logger

	mu      sync.Mutex
	history []geminiContent
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	APIBase string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	if cfg.APIBase == "" {
		cfg.APIBase = geminiDefaultAPIBase
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gemini{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction geminiContent   `json:"systemInstruction"`
	Contents          []geminiContent `json:"contents"`
}

type geminiChunk struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Reset starts a new chat session.
func (g *Gemini) Reset() {
	g.mu.Lock()
	g.history = nil
	g.mu.Unlock()
}

// StreamReply sends prompt with the session history and delivers each text
// fragment to onFragment in arrival order. The exchange is added to the
// history only when the stream completes.
func (g *Gemini) StreamReply(ctx context.Context, prompt string, onFragment func(string)) error {
	if g.apiKey == "" {
		return ErrMissingAPIKey
	}

	g.mu.Lock()
	contents := make([]geminiContent, 0, len(g.history)+1)
	contents = append(contents, g.history...)
	g.mu.Unlock()

	userTurn := geminiContent{Role: "user", Parts: []geminiPart{{Text: prompt}}}
	contents = append(contents, userTurn)

	body, err := json.Marshal(geminiRequest{
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: SystemInstruction}}},
		Contents:          contents,
	})
	if err != nil {
		return fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", g.apiBase, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gemini: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gemini: returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	reply, err := g.readStream(resp.Body, onFragment)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.history = append(g.history, userTurn, geminiContent{Role: "model", Parts: []geminiPart{{Text: reply}}})
	g.mu.Unlock()

	g.logger.Debug("gemini stream complete", "model", g.model, "reply_len", len(reply))
	return nil
}

func (g *Gemini) readStream(r io.Reader, onFragment func(string)) (string, error) {
	var full strings.Builder

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk geminiChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return "", fmt.Errorf("gemini: decode chunk: %w", err)
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("gemini: stream error %d: %s", chunk.Error.Code, chunk.Error.Message)
		}

		for _, cand := range chunk.Candidates {
			for _, part := range cand.Content.Parts {
				if part.Text == "" {
					continue
				}
				full.WriteString(part.Text)
				onFragment(part.Text)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("gemini: read stream: %w", err)
	}
	return full.String(), nil
}
