// Package evaluator implements the decision source for the reconciliation
// loop. The production implementation posts the position batch to an external
// evaluation service; HoldEvaluator is the conservative stand-in.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

const rateLimitKey = "evaluator"

// HTTPEvaluator sends one JSON request per batch to an evaluation endpoint
// and parses per-symbol decisions from the response. Calls are gated through
// a distributed rate limiter so concurrent engine instances share one quota.
type HTTPEvaluator struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  domain.RateLimiter
	// limit/window define the shared call budget.
	limit  int
	window time.Duration
	logger *slog.Logger
}

// NewHTTPEvaluator creates an evaluator client. limiter may be nil, in which
// case calls are ungated.
func NewHTTPEvaluator(endpoint, apiKey string, limiter domain.RateLimiter, limit int, window time.Duration, logger *slog.Logger) *HTTPEvaluator {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &HTTPEvaluator{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 60 * time.Second},
		limiter:  limiter,
		limit:    limit,
		window:   window,
		logger:   logger.With(slog.String("component", "evaluator")),
	}
}

// request/response wire format for the evaluation service.

type batchRequest struct {
	Positions []positionPayload `json:"positions"`
}

type positionPayload struct {
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
	ProfitPct    float64 `json:"profit_pct"`
	HoldHours    float64 `json:"hold_hours"`
	StopLoss     float64 `json:"stop_loss,omitempty"`
	TakeProfit   float64 `json:"take_profit,omitempty"`

	SMA20of15m    float64 `json:"sma20_15m"`
	RecentHigh1h  float64 `json:"recent_high_1h"`
	RecentLow1h   float64 `json:"recent_low_1h"`
	VolumeRatio5m float64 `json:"volume_ratio_5m"`
	FundingRate   float64 `json:"funding_rate"`
}

type decisionPayload struct {
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	ClosePct   float64 `json:"close_pct,omitempty"`
	LimitPrice float64 `json:"limit_price,omitempty"`
	LimitPct   float64 `json:"limit_pct,omitempty"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

type batchResponse struct {
	Decisions []decisionPayload `json:"decisions"`
}

// EvaluateBatch implements domain.Evaluator.
func (e *HTTPEvaluator) EvaluateBatch(ctx context.Context, contexts []domain.PositionContext) ([]domain.SymbolDecision, error) {
	if len(contexts) == 0 {
		return nil, nil
	}

	if e.limiter != nil {
		allowed, err := e.limiter.Allow(ctx, rateLimitKey, e.limit, e.window)
		if err != nil {
			e.logger.WarnContext(ctx, "rate limiter unavailable, proceeding",
				slog.String("error", err.Error()),
			)
		} else if !allowed {
			return nil, fmt.Errorf("evaluator: %w", domain.ErrRateLimited)
		}
	}

	req := batchRequest{Positions: make([]positionPayload, 0, len(contexts))}
	for _, pc := range contexts {
		req.Positions = append(req.Positions, positionPayload{
			Symbol:        pc.Symbol,
			Side:          string(pc.Side),
			EntryPrice:    pc.EntryPrice,
			CurrentPrice:  pc.CurrentPrice,
			ProfitPct:     pc.ProfitPct,
			HoldHours:     pc.HoldHours,
			StopLoss:      pc.StopLoss,
			TakeProfit:    pc.TakeProfit,
			SMA20of15m:    pc.Ind15m.SMA20,
			RecentHigh1h:  pc.Ind1h.RecentHigh,
			RecentLow1h:   pc.Ind1h.RecentLow,
			VolumeRatio5m: pc.Ind5m.VolumeRatio,
			FundingRate:   pc.Funding.Rate,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("evaluator: marshal batch: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("evaluator: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("evaluator: post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("evaluator: endpoint returned %d: %s", resp.StatusCode, string(b))
	}

	var parsed batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("evaluator: decode response: %w", err)
	}

	out := make([]domain.SymbolDecision, 0, len(parsed.Decisions))
	for _, d := range parsed.Decisions {
		out = append(out, domain.SymbolDecision{
			Symbol: d.Symbol,
			Decision: domain.Decision{
				Action:     domain.DecisionAction(d.Action),
				ClosePct:   d.ClosePct,
				LimitPrice: d.LimitPrice,
				LimitPct:   d.LimitPct,
				Reason:     d.Reason,
				Confidence: d.Confidence,
			},
		})
	}
	return out, nil
}

var _ domain.Evaluator = (*HTTPEvaluator)(nil)

// HoldEvaluator returns HOLD for every position. Used when no evaluation
// endpoint is configured: the hard rules and staged stops still protect the
// book, the engine just never takes discretionary exits.
type HoldEvaluator struct{}

// EvaluateBatch implements domain.Evaluator.
func (HoldEvaluator) EvaluateBatch(_ context.Context, contexts []domain.PositionContext) ([]domain.SymbolDecision, error) {
	out := make([]domain.SymbolDecision, 0, len(contexts))
	for _, pc := range contexts {
		out = append(out, domain.SymbolDecision{
			Symbol:   pc.Symbol,
			Decision: domain.Decision{Action: domain.ActionHold, Reason: "no evaluator configured"},
		})
	}
	return out, nil
}

var _ domain.Evaluator = HoldEvaluator{}
