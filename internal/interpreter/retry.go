package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Outcome はHTTPステータスコードに基づく呼び出し結果の分類。
type Outcome int

const (
	// OutcomeOK は呼び出し成功（2xx）。
	OutcomeOK Outcome = iota
	// OutcomeStop は再試行しても回復しないステータス（4xx）。
	OutcomeStop
	// OutcomeRetry は再試行で回復しうるステータス（408/429/5xx）。
	OutcomeRetry
)

const (
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 100 * time.Millisecond
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = 2 * time.Second
)

// ClassifyHTTPStatus はHTTPステータスコードを呼び出し結果に分類する。
func ClassifyHTTPStatus(statusCode int) Outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return OutcomeOK
	case statusCode == 408 || statusCode == 429:
		return OutcomeRetry
	case statusCode >= 500:
		return OutcomeRetry
	default:
		return OutcomeStop
	}
}

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回100ms、2倍ずつ増加、最大2秒。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// retryableError は再試行で回復しうる失敗を表す。
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable はerrを再試行可能な失敗として印を付ける。
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable はerrが再試行可能な失敗かどうかを返す。
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Retrying は再試行可能な失敗をバックオフを挟んで再試行する解釈器。
// 再試行はctxの期限内に限られる。
type Retrying struct {
	inner    Interpreter
	attempts int
	backoff  func(failures int) time.Duration
	logger   *slog.Logger
}

// NewRetrying はRetryingを生成する。attemptsは初回を含む最大試行回数。
func NewRetrying(inner Interpreter, attempts int, logger *slog.Logger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{
		inner:    inner,
		attempts: attempts,
		backoff:  CalculateBackoff,
		logger:   logger,
	}
}

// Interpret は内側の解釈器を呼び出し、再試行可能な失敗なら再試行する。
func (r *Retrying) Interpret(ctx context.Context, req Request) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			delay := r.backoff(attempt - 1)
			r.logger.Warn("interpreter call failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", delay),
				slog.String("error", lastErr.Error()),
			)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("%w: %v (after %d attempts)", ErrUnavailable, ctx.Err(), attempt)
			case <-timer.C:
			}
		}

		res, err := r.inner.Interpret(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}
