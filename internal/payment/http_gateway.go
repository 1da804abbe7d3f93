// Package payment holds the gateways the purchase flow charges through.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cimillas/ticket-processor/internal/domain"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// ErrDeclined is returned when the gateway answered but refused the charge.
// Declines do not count against the circuit breaker.
var ErrDeclined = errors.New("charge declined")

type chargeRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	Token       string `json:"token"`
}

type chargeResponse struct {
	ConfirmationToken string `json:"confirmation_token"`
}

// HTTPGateway posts charges as JSON to an external payment service.
type HTTPGateway struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker
}

func NewHTTPGateway(url string, timeout time.Duration, logger *zap.Logger) *HTTPGateway {
	settings := gobreaker.Settings{
		Name:        "PaymentGateway",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrDeclined)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(
				"Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &HTTPGateway{
		url:    url,
		client: &http.Client{Timeout: timeout},
		cb:     gobreaker.NewCircuitBreaker(settings),
	}
}

func (g *HTTPGateway) Charge(ctx context.Context, req domain.ChargeRequest) (string, error) {
	return executeWithBreaker(g.cb, func() (string, error) {
		return g.charge(ctx, req)
	})
}

func (g *HTTPGateway) charge(ctx context.Context, req domain.ChargeRequest) (string, error) {
	body, err := json.Marshal(chargeRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		Token:       req.Token,
	})
	if err != nil {
		return "", fmt.Errorf("encode charge: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("charge request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: status %d", ErrDeclined, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("payment gateway status %d", resp.StatusCode)
	}

	var out chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode charge response: %w", err)
	}
	if out.ConfirmationToken == "" {
		return "", errors.New("payment gateway returned no confirmation token")
	}
	return out.ConfirmationToken, nil
}

func executeWithBreaker[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return *new(T), err
	}
	return res.(T), nil
}
