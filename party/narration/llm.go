package narration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// 生成失敗・未設定時に使う決定的なフォールバック文。
const FallbackText = "Un silence tendu s'installe."

// ErrDisabled はLLM未設定のときに Generator が返すエラーです。
var ErrDisabled = errors.New("narration generator disabled")

// Generator は外部のテキスト生成器（LLM）をブラックボックスとして扱います。
// prompt を渡してテキストを受け取るだけで、失敗やタイムアウトがありえます。
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Disabled はLLMを使わない構成のためのno-op実装です。
type Disabled struct{}

func (Disabled) Generate(ctx context.Context, prompt string) (string, error) {
	return "", ErrDisabled
}

// OllamaClient は Ollama 互換の /api/generate エンドポイントを叩くクライアントです。
// 応答はタイムアウトで必ず打ち切り、失敗時は呼び出し側がフォールバックします。
type OllamaClient struct {
	Endpoint string
	Model    string
	client   *http.Client
	logger   *zap.Logger
}

func NewOllamaClient(endpoint, model string, logger *zap.Logger) *OllamaClient {
	return &OllamaClient{
		Endpoint: endpoint,
		Model:    model,
		client:   &http.Client{Timeout: 45 * time.Second},
		logger:   logger,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: c.Model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("LLM request failed", zap.Error(err))
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("LLM request returned non-200", zap.Int("status", resp.StatusCode))
		return "", fmt.Errorf("llm status %d", resp.StatusCode)
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	return strings.TrimSpace(decoded.Response), nil
}

// BuildPrompt はナレーション用のプロンプトを組み立てます。
// ネタバレ禁止・短文・フランス語、という制約は原作の演出方針に合わせています。
func BuildPrompt(event, textHint string, extra map[string]any) string {
	var b strings.Builder
	b.WriteString("Tu es la voix d'un narrateur immersif pour une murder party. ")
	b.WriteString("Parle TOUJOURS en français, en 1 à 3 phrases courtes, sans spoiler ni révéler le coupable. ")
	b.WriteString("Événement: " + event + ". ")
	if textHint != "" {
		b.WriteString("Intention / ambiance à respecter: " + textHint + ". ")
	}
	if len(extra) > 0 {
		if encoded, err := json.Marshal(extra); err == nil {
			b.WriteString("Contexte: " + string(encoded))
		}
	}
	return b.String()
}
