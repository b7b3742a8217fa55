package idv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/hasanmaki/mkit-idv-next/internal/metrics"
	"github.com/hasanmaki/mkit-idv-next/internal/ports"
	"github.com/hasanmaki/mkit-idv-next/pkg/backoff"
)

var _ ports.Provider = (*Client)(nil)

// envelope mirrors the provider's response shape:
// {"res": {"status": "...", "message": "...", "balance": n, "data": {...}}}
type envelope struct {
	Res struct {
		Status    string          `json:"status"`
		StatusMsg string          `json:"status_msg"`
		Message   string          `json:"message"`
		Balance   *int            `json:"balance"`
		Data      json.RawMessage `json:"data"`
	} `json:"res"`
}

type trxData struct {
	TrxID       string `json:"trx_id"`
	TID         string `json:"t_id"`
	IsSuccess   *int   `json:"is_success"`
	Voucher     string `json:"voucher"`
	OtpRequired bool   `json:"otp_required"`
}

// Client issues typed calls against one upstream endpoint. Transport
// failures are retried with exponential backoff up to Retries attempts;
// application error codes are returned as data, never retried.
type Client struct {
	BaseURL string

	httpClient *http.Client
	retries    int
	baseWait   time.Duration
	maxWait    time.Duration

	// Caps: globalSem is shared across all clients of the factory,
	// serverSem is per upstream server.
	globalSem *semaphore.Weighted
	serverSem *semaphore.Weighted

	collector *metrics.Collector
}

type Options struct {
	Timeout      time.Duration
	Retries      int
	BaseWait     time.Duration
	MaxWait      time.Duration
	GlobalSem    *semaphore.Weighted
	PerServerCap int64
	Collector    *metrics.Collector
}

func NewClient(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.BaseWait <= 0 {
		opts.BaseWait = 200 * time.Millisecond
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 5 * time.Second
	}
	if opts.PerServerCap <= 0 {
		opts.PerServerCap = 2
	}
	return &Client{
		BaseURL:    baseURL,
		httpClient: &http.Client{Timeout: opts.Timeout},
		retries:    opts.Retries,
		baseWait:   opts.BaseWait,
		maxWait:    opts.MaxWait,
		globalSem:  opts.GlobalSem,
		serverSem:  semaphore.NewWeighted(opts.PerServerCap),
		collector:  opts.Collector,
	}
}

func (c *Client) GetBalance(ctx context.Context, binding string) (int, error) {
	env, err := c.getJSON(ctx, "/balance_pulsa", url.Values{"username": {binding}})
	if err != nil {
		return 0, err
	}
	if env.Res.Balance == nil {
		return 0, fmt.Errorf("balance missing in response")
	}
	return *env.Res.Balance, nil
}

func (c *Client) StartTransaction(ctx context.Context, binding, productID, email string, limitHarga int) (*ports.StartResult, error) {
	env, err := c.getJSON(ctx, "/trx_idv", url.Values{
		"username":    {binding},
		"product_id":  {productID},
		"email":       {email},
		"limit_harga": {strconv.Itoa(limitHarga)},
	})
	if err != nil {
		return nil, err
	}
	data, err := parseTrxData(env)
	if err != nil {
		return nil, err
	}
	if data.TrxID == "" {
		return nil, fmt.Errorf("trx_id missing in response")
	}
	return &ports.StartResult{
		TrxID:       data.TrxID,
		TID:         data.TID,
		IsSuccess:   data.IsSuccess,
		OtpRequired: data.OtpRequired,
		Message:     env.Res.Message,
	}, nil
}

func (c *Client) CheckStatus(ctx context.Context, binding, trxID string) (*ports.StatusResult, error) {
	env, err := c.getJSON(ctx, "/status_idv", url.Values{
		"username": {binding},
		"trx_id":   {trxID},
	})
	if err != nil {
		return nil, err
	}
	data, err := parseTrxData(env)
	if err != nil {
		return nil, err
	}
	return &ports.StatusResult{
		IsSuccess:   data.IsSuccess,
		VoucherCode: data.Voucher,
		OtpRequired: data.OtpRequired,
		Message:     env.Res.Message,
	}, nil
}

func (c *Client) SubmitOTP(ctx context.Context, binding, otp string) (*ports.OtpResult, error) {
	env, err := c.getJSON(ctx, "/otp_idv", url.Values{
		"username": {binding},
		"otp":      {otp},
	})
	if err != nil {
		return nil, err
	}
	ok := env.Res.Status == "200" || env.Res.StatusMsg == "success"
	return &ports.OtpResult{OK: ok, Message: env.Res.Message}, nil
}

func parseTrxData(env *envelope) (*trxData, error) {
	var data trxData
	if len(env.Res.Data) == 0 {
		return &data, nil
	}
	if err := json.Unmarshal(env.Res.Data, &data); err != nil {
		return nil, fmt.Errorf("decode response data: %w", err)
	}
	return &data, nil
}

// getJSON performs one GET with bounded transport retries. Non-2xx
// responses below 500 are terminal; 5xx and network errors are retried.
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values) (*envelope, error) {
	if c.globalSem != nil {
		if err := c.globalSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer c.globalSem.Release(1)
	}
	if err := c.serverSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.serverSem.Release(1)

	reqURL := c.BaseURL + endpoint + "?" + params.Encode()

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		env, retryable, err := c.doOnce(ctx, reqURL)
		if err == nil {
			c.collector.RecordProviderCall(endpoint, "ok")
			return env, nil
		}
		lastErr = err
		if !retryable {
			c.collector.RecordProviderCall(endpoint, "error")
			return nil, err
		}
		if attempt == c.retries {
			break
		}
		wait := backoff.ExponentialJitter(c.baseWait, c.maxWait, attempt)
		log.Warn().Err(err).Str("endpoint", endpoint).Int("attempt", attempt).Msg("provider call failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	c.collector.RecordProviderCall(endpoint, "transport_exhausted")
	return nil, fmt.Errorf("transport: %w", lastErr)
}

func (c *Client) doOnce(ctx context.Context, reqURL string) (*envelope, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("provider returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("provider returned %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}
	return &env, false, nil
}
