package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/estrateo/estrateo/internal/app/domain/dashboard"
	"github.com/estrateo/estrateo/internal/config"
	apperr "github.com/estrateo/estrateo/internal/errors"
	"github.com/estrateo/estrateo/pkg/logger"
)

const (
	maxQuestionLength = 2000
	maxResponseBytes  = 1 << 20
	summaryMonths     = 3
)

// Summarizer provides the figures the assistant reasons about.
type Summarizer interface {
	Summary(ctx context.Context, restaurantID string, months int) (dashboard.Summary, error)
}

// Answer is the assistant's reply.
type Answer struct {
	Answer           string `json:"answer"`
	Model            string `json:"model"`
	Cache            string `json:"cache,omitempty"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
}

// Service answers business questions through the AI proxy.
type Service struct {
	client   *http.Client
	endpoint string
	model    string
	summary  Summarizer
	log      *logger.Logger
}

// New constructs an assistant. An empty proxy URL leaves it disabled.
func New(cfg config.AssistantConfig, summary Summarizer, client *http.Client, log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.NewDefault("assistant")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	s := &Service{client: client, model: model, summary: summary, log: log}

	base := strings.TrimSpace(cfg.ProxyURL)
	if base == "" {
		return s, nil
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid assistant proxy url %q", base)
	}
	s.endpoint = strings.TrimRight(parsed.String(), "/") + "/v1/chat/completions"
	return s, nil
}

// Enabled reports whether a proxy is configured.
func (s *Service) Enabled() bool { return s.endpoint != "" }

// Ask answers question using the restaurant's recent figures as context.
func (s *Service) Ask(ctx context.Context, restaurantID, question string) (Answer, error) {
	if !s.Enabled() {
		return Answer{}, apperr.NotConfigured("assistant")
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, apperr.Validation("question is required")
	}
	if len(question) > maxQuestionLength {
		return Answer{}, apperr.Validation("question cannot exceed %d characters", maxQuestionLength)
	}

	summary, err := s.summary.Summary(ctx, restaurantID, summaryMonths)
	if err != nil {
		return Answer{}, err
	}
	prompt, err := systemPrompt(summary)
	if err != nil {
		return Answer{}, apperr.Internal("build assistant prompt", err)
	}

	body, err := json.Marshal(map[string]any{
		"model":       s.model,
		"temperature": 0.2,
		"messages": []map[string]string{
			{"role": "system", "content": prompt},
			{"role": "user", "content": question},
		},
	})
	if err != nil {
		return Answer{}, apperr.Internal("encode assistant request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Answer{}, apperr.Internal("build assistant request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if traceID := logger.TraceID(ctx); traceID != "" {
		req.Header.Set("X-Request-Id", traceID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Answer{}, apperr.BadGateway("assistant proxy unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Answer{}, apperr.BadGateway("read assistant response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		s.log.WithContext(ctx).
			WithField("status", resp.StatusCode).
			Warn("assistant proxy returned an error")
		return Answer{}, apperr.BadGateway(fmt.Sprintf("assistant proxy: %s", msg), nil)
	}

	content := gjson.GetBytes(raw, "choices.0.message.content")
	if !content.Exists() {
		return Answer{}, apperr.BadGateway("assistant response has no answer", nil)
	}
	answer := Answer{
		Answer:           strings.TrimSpace(content.String()),
		Model:            gjson.GetBytes(raw, "model").String(),
		Cache:            resp.Header.Get("X-Cache"),
		PromptTokens:     gjson.GetBytes(raw, "usage.prompt_tokens").Int(),
		CompletionTokens: gjson.GetBytes(raw, "usage.completion_tokens").Int(),
	}
	if answer.Model == "" {
		answer.Model = s.model
	}
	s.log.WithContext(ctx).
		WithField("restaurant_id", restaurantID).
		WithField("cache", answer.Cache).
		Info("assistant answered")
	return answer, nil
}

func systemPrompt(summary dashboard.Summary) (string, error) {
	figures, err := json.Marshal(struct {
		Currency            string                 `json:"currency"`
		IncomeCents         int64                  `json:"income_cents"`
		ExpenseCents        int64                  `json:"expense_cents"`
		NetCents            int64                  `json:"net_cents"`
		PendingCents        int64                  `json:"pending_cents"`
		ActiveEmployees     int                    `json:"active_employees"`
		MonthlyPayrollCents int64                  `json:"monthly_payroll_cents"`
		InventoryValueCents int64                  `json:"inventory_value_cents"`
		LowStockCount       int                    `json:"low_stock_count"`
		ExpiringSoonCount   int                    `json:"expiring_soon_count"`
		Monthly             []dashboard.MonthPoint `json:"monthly"`
		ExpenseByCategory   any                    `json:"expense_by_category"`
		IncomeByCategory    any                    `json:"income_by_category"`
	}{
		Currency:            summary.Currency,
		IncomeCents:         summary.IncomeCents,
		ExpenseCents:        summary.ExpenseCents,
		NetCents:            summary.NetCents,
		PendingCents:        summary.PendingCents,
		ActiveEmployees:     summary.ActiveEmployees,
		MonthlyPayrollCents: summary.MonthlyPayrollCents,
		InventoryValueCents: summary.InventoryValueCents,
		LowStockCount:       summary.LowStockCount,
		ExpiringSoonCount:   summary.ExpiringSoonCount,
		Monthly:             summary.Monthly,
		ExpenseByCategory:   summary.ExpenseByCategory,
		IncomeByCategory:    summary.IncomeByCategory,
	})
	if err != nil {
		return "", err
	}
	return "You are Estrateo, a concise business advisor for a restaurant. " +
		"Amounts are integer cents. Base your answer on these figures and say so when they are insufficient:\n" +
		string(figures), nil
}
