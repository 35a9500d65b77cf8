package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/chairside/internal/model"
	"google.golang.org/genai"
)

// SourceGemini はGemini解釈器の名前。
const SourceGemini = "gemini"

// DefaultGeminiModel はモデル名が未指定の場合に使うモデル。
const DefaultGeminiModel = "gemini-2.5-flash"

const geminiSystemInstruction = "You are a helpful dental clinic assistant. " +
	"If the user asks to book an appointment, propose a single date/time in ISO8601 if you can. " +
	"Respond briefly and helpfully."

const geminiPromptFormat = `Return ONLY a compact JSON object with exactly these keys:
  "reply": a short natural-language response for the user (string),
  "iso": an ISO8601 datetime for the requested appointment (string) or null if unknown.

User: %s`

// ContentGenerator はgenai.Modelsのうち解釈に使う部分。
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini はGeminiのJSONモードで返信文と候補時刻を抽出する解釈器。
type Gemini struct {
	models ContentGenerator
	model  string
	logger *slog.Logger
}

// NewGeminiClient はAPIキーからgenaiクライアントを生成し、Geminiを返す。
func NewGeminiClient(ctx context.Context, apiKey, modelName string, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return NewGemini(client.Models, modelName, logger), nil
}

// NewGemini はGeminiを生成する。
func NewGemini(models ContentGenerator, modelName string, logger *slog.Logger) *Gemini {
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{models: models, model: modelName, logger: logger}
}

type geminiPayload struct {
	Reply *string `json:"reply"`
	ISO   *string `json:"iso"`
}

// Interpret はモデルに発話を渡し、JSON応答から解釈結果を組み立てる。
// 候補時刻がある場合は確認を求める提案として返す。
func (g *Gemini) Interpret(ctx context.Context, req Request) (*Result, error) {
	resp, err := g.models.GenerateContent(ctx, g.model,
		genai.Text(fmt.Sprintf(geminiPromptFormat, req.Message)),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(geminiSystemInstruction, genai.RoleUser),
			Temperature:       genai.Ptr[float32](0.2),
			ResponseMIMEType:  "application/json",
		},
	)
	if err != nil {
		g.logger.Error("gemini generate content failed",
			slog.String("model", g.model),
			slog.String("error", err.Error()),
		)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, Retryable(fmt.Errorf("%w: %v", ErrUnavailable, err))
	}

	txt := strings.TrimSpace(resp.Text())
	g.logger.Debug("gemini raw response", slog.String("json", txt))

	var payload geminiPayload
	if err := json.Unmarshal([]byte(txt), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var reply, candidate string
	if payload.Reply != nil {
		reply = strings.TrimSpace(*payload.Reply)
	}
	if payload.ISO != nil {
		candidate = strings.TrimSpace(*payload.ISO)
	}
	if reply == "" && candidate == "" {
		return nil, fmt.Errorf("%w: neither reply nor iso present", ErrMalformed)
	}

	if candidate != "" {
		return &Result{
			Reply:             strings.TrimSpace(reply + " Shall I confirm?"),
			Candidate:         candidate,
			Intent:            model.IntentPropose,
			NeedsConfirmation: true,
			Source:            SourceGemini,
		}, nil
	}
	return &Result{
		Reply:  reply,
		Intent: model.IntentChat,
		Source: SourceGemini,
	}, nil
}
