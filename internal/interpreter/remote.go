package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// SourceRemote はリモート解釈器の名前。
const SourceRemote = "remote"

// maxRemoteBodyBytes はリモート解釈器の応答ボディの上限。
const maxRemoteBodyBytes = 64 << 10

// Remote は外部の解釈サービスを POST {baseURL}/simulate で呼び出すクライアント。
type Remote struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
}

// NewRemote はRemoteを生成する。
func NewRemote(httpClient *http.Client, baseURL string, logger *slog.Logger) *Remote {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   strings.TrimRight(baseURL, "/") + "/simulate",
	}
}

type remoteRequest struct {
	Message          string `json:"message"`
	UserID           string `json:"user_id,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
	PendingCandidate string `json:"pending_candidate,omitempty"`
}

type remoteResponse struct {
	Reply             *string `json:"reply"`
	Candidate         *string `json:"appointment_candidate"`
	Intent            string  `json:"intent"`
	NeedsConfirmation bool    `json:"needs_confirmation"`
}

// Interpret は外部サービスに発話を送り、解釈結果を返す。
func (c *Remote) Interpret(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(remoteRequest{
		Message:          req.Message,
		UserID:           req.Subject,
		SessionID:        req.SessionToken,
		PendingCandidate: req.PendingCandidate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode interpreter request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build interpreter request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "Chairside/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("interpreter request failed",
			slog.String("endpoint", c.endpoint),
			slog.String("error", err.Error()),
		)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, Retryable(fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	defer resp.Body.Close()

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case OutcomeRetry:
		c.logger.Warn("interpreter returned retryable status",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, Retryable(fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode))
	case OutcomeStop:
		c.logger.Error("interpreter returned error status",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBodyBytes))
	if err != nil {
		return nil, Retryable(fmt.Errorf("%w: failed to read body: %v", ErrUnavailable, err))
	}

	var payload remoteResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.logger.Error("failed to parse interpreter response",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if payload.Reply == nil || strings.TrimSpace(*payload.Reply) == "" {
		return nil, fmt.Errorf("%w: reply is missing", ErrMalformed)
	}

	res := &Result{
		Reply:             *payload.Reply,
		Intent:            payload.Intent,
		NeedsConfirmation: payload.NeedsConfirmation,
		Source:            SourceRemote,
	}
	if payload.Candidate != nil {
		res.Candidate = *payload.Candidate
	}
	return res, nil
}
