package okx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"spider_go/internal/domain"

	"github.com/go-resty/resty/v2"
)

// envelope is the common OKX REST reply. Code "0" means success.
type envelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

// InstrumentQuery selects one listing. Options require the family.
type InstrumentQuery struct {
	InstType   string
	Uly        string
	InstFamily string
}

// RestClient calls the public REST endpoints used for discovery.
type RestClient struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewRestClient creates a client for baseURL. On testnet every request
// carries the simulated trading header.
func NewRestClient(baseURL string, testnet bool, timeout time.Duration, logger *slog.Logger) *RestClient {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if testnet {
		client.SetHeader("x-simulated-trading", "1")
	}
	return &RestClient{
		http:   client,
		logger: logger.With(slog.String("module", "okx_rest")),
	}
}

// Instruments lists the instruments of one type (GET /api/v5/public/instruments).
func (c *RestClient) Instruments(ctx context.Context, q InstrumentQuery) ([]InstrumentData, error) {
	params := map[string]string{"instType": q.InstType}
	if q.Uly != "" {
		params["uly"] = q.Uly
	}
	if q.InstFamily != "" {
		params["instFamily"] = q.InstFamily
	}

	var out envelope[InstrumentData]
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&out).
		Get("/api/v5/public/instruments")
	if err != nil {
		return nil, domain.NewNetworkError("instruments", err)
	}
	if resp.IsError() {
		status := fmt.Errorf("http status %d", resp.StatusCode())
		// Client errors other than rate limiting will not heal on retry.
		if resp.StatusCode() < 500 && resp.StatusCode() != http.StatusTooManyRequests {
			return nil, domain.NewFatalNetworkError("instruments", status)
		}
		return nil, domain.NewNetworkError("instruments", status)
	}
	if out.Code != "0" {
		return nil, fmt.Errorf("instruments %s failed: code %s: %s", q.InstType, out.Code, out.Msg)
	}

	c.logger.Debug("instruments listed",
		slog.String("inst_type", q.InstType),
		slog.String("inst_family", q.InstFamily),
		slog.Int("count", len(out.Data)),
	)
	return out.Data, nil
}
