package quote

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"

	"marketdesk/internal/errors"
	"marketdesk/internal/model"
	"marketdesk/pkg/exception"
)

const (
	_finnhubBaseURL   = "https://finnhub.io/api/v1"
	_maxResponseBytes = 1 << 16
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=quote_test -destination=mock_http_client_test.go -source=finnhub.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FinnhubClient fetches quote snapshots from the Finnhub REST API.
type FinnhubClient struct {
	baseURL    string
	token      string
	httpClient HTTPClient
}

// FinnhubClientOption is a configuration option for FinnhubClient.
type FinnhubClientOption func(*FinnhubClient)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) FinnhubClientOption {
	return func(c *FinnhubClient) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) FinnhubClientOption {
	return func(c *FinnhubClient) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func NewFinnhubClient(token string, options ...FinnhubClientOption) *FinnhubClient {
	c := &FinnhubClient{
		baseURL:    _finnhubBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// quoteResponse mirrors GET /quote. Pointers tell missing fields from zeros.
type quoteResponse struct {
	Current       *float64 `json:"c"`
	High          *float64 `json:"h"`
	Low           *float64 `json:"l"`
	Open          *float64 `json:"o"`
	PrevClose     *float64 `json:"pc"`
	Change        *float64 `json:"d"`
	PercentChange *float64 `json:"dp"`
	Timestamp     int64    `json:"t"`
}

// Fetch returns the snapshot of symbol. A response without close, high or
// low is reported as ErrQuoteUnavailable.
func (c *FinnhubClient) Fetch(ctx context.Context, symbol string) (model.Quote, error) {
	if c.token == "" {
		return model.Quote{}, errors.Wrap(exception.ErrQuoteUnavailable, "missing provider token")
	}

	u, err := url.Parse(c.baseURL + "/quote")
	if err != nil {
		return model.Quote{}, errors.Wrap(err, "parse base url")
	}
	query := u.Query()
	query.Set("symbol", symbol)
	query.Set("token", c.token)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.Quote{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.Quote{}, errors.Wrapf(exception.ErrQuoteUnavailable, "request %s: %v", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Quote{}, errors.Wrapf(exception.ErrQuoteUnavailable, "request %s: status %d", symbol, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, _maxResponseBytes))
	if err != nil {
		return model.Quote{}, errors.Wrapf(exception.ErrQuoteUnavailable, "read %s: %v", symbol, err)
	}

	var r quoteResponse
	if err := sonic.Unmarshal(body, &r); err != nil {
		return model.Quote{}, errors.Wrapf(exception.ErrQuoteUnavailable, "decode %s: %v", symbol, err)
	}
	if r.Current == nil || r.High == nil || r.Low == nil || *r.Current <= 0 {
		return model.Quote{}, errors.Wrapf(exception.ErrQuoteUnavailable, "incomplete quote for %s", symbol)
	}

	q := model.Quote{
		Symbol:        symbol,
		Current:       *r.Current,
		High:          *r.High,
		Low:           *r.Low,
		Open:          value(r.Open),
		PrevClose:     value(r.PrevClose),
		Change:        value(r.Change),
		PercentChange: value(r.PercentChange),
	}
	if r.Timestamp > 0 {
		q.AsOf = time.Unix(r.Timestamp, 0)
	}
	return q, nil
}

func value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
