package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"deltaflow/conf"
	"deltaflow/internal/model"
	"deltaflow/pkg/errors"
	"deltaflow/pkg/errors/ecode"
	"deltaflow/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
)

const (
	maxAttempts  = 3
	backoffStep  = 300 * time.Millisecond
	ordersPgSize = 200
)

// 这些状态码（HTTP 或业务错误码）视为瞬时错误，允许重试
var transientCodes = map[int]bool{
	429: true, 500: true, 502: true, 503: true, 504: true,
}

// DeltaClient Delta 风格 /v2 REST 客户端
// 签名串为 METHOD + 秒级时间戳 + path + query + body
type DeltaClient struct {
	cfg        *conf.DeltaConfig
	httpClient *http.Client
	nowFn      func() time.Time
}

func NewDeltaClient(cfg *conf.DeltaConfig) *DeltaClient {
	return &DeltaClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		nowFn:      time.Now,
	}
}

type apiError struct {
	Code    interface{} `json:"code"`
	Message string      `json:"message"`
}

type apiEnvelope struct {
	Success *bool           `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *apiError       `json:"error"`
	Meta    struct {
		After string `json:"after"`
	} `json:"meta"`
}

// call 执行一次带重试的请求，query 必须是已拼好的原始串（参与签名）
func (c *DeltaClient) call(ctx context.Context, method, path, query string, body interface{}) (*apiEnvelope, error) {
	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrapf(err, ecode.ExchangeErr, "marshal request body for %s %s", method, path)
		}
		bodyBytes = b
	}

	fullURL := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if query != "" {
		fullURL += "?" + query
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// 时间戳参与签名，必须每次尝试重新取
		ts := strconv.FormatInt(c.nowFn().Unix(), 10)

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, errors.Wrapf(err, ecode.ExchangeErr, "build request %s %s", method, path)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set(c.cfg.HeaderApiKey, c.cfg.ApiKey)
		if c.cfg.AuthMode != "keyonly" {
			req.Header.Set(c.cfg.HeaderTimestamp, ts)
			req.Header.Set(c.cfg.HeaderSignature, c.sign(method, ts, path, query, bodyBytes))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// 网络错误按瞬时处理
			lastErr = errors.Wrapf(err, ecode.ExchangeErr, "%s %s network error", method, fullURL)
			if attempt < maxAttempts {
				if err := sleepCtx(ctx, backoffStep*time.Duration(attempt)); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, errors.Wrapf(readErr, ecode.ExchangeErr, "%s %s read body", method, fullURL)
		}

		var env apiEnvelope
		if err := json.Unmarshal(respBody, &env); err != nil && resp.StatusCode < 300 {
			return nil, errors.Wrapf(err, ecode.ExchangeErr, "%s %s bad json: %s", method, fullURL, truncate(respBody))
		}

		retryable := transientCodes[resp.StatusCode]
		if !retryable && env.Success != nil && !*env.Success && env.Error != nil {
			retryable = transientCodes[cast.ToInt(env.Error.Code)]
		}

		if resp.StatusCode < 300 && (env.Success == nil || *env.Success) {
			return &env, nil
		}

		lastErr = errors.Newf(ecode.ExchangeErr, "%s %s status=%d body=%s",
			method, fullURL, resp.StatusCode, truncate(respBody))
		if !retryable {
			return nil, lastErr
		}
		if attempt < maxAttempts {
			logger.Warnf("delta请求瞬时失败，第%d次重试: %s %s status=%d", attempt, method, path, resp.StatusCode)
			if err := sleepCtx(ctx, backoffStep*time.Duration(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

func (c *DeltaClient) sign(method, ts, path, query string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.ApiSecret))
	mac.Write([]byte(method))
	mac.Write([]byte(ts))
	mac.Write([]byte(path))
	mac.Write([]byte(query))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

func (c *DeltaClient) Products(ctx context.Context) ([]model.Product, error) {
	env, err := c.call(ctx, http.MethodGet, "/v2/products", "", nil)
	if err != nil {
		return nil, err
	}
	var products []model.Product
	if err := json.Unmarshal(env.Result, &products); err != nil {
		return nil, errors.Wrap(err, ecode.ExchangeErr, "decode products")
	}
	return products, nil
}

func (c *DeltaClient) Ticker(ctx context.Context, symbol string) (*model.Ticker, error) {
	env, err := c.call(ctx, http.MethodGet, "/v2/tickers", "symbol="+symbol, nil)
	if err != nil {
		return nil, err
	}
	// 不同部署下 result 可能是对象或数组
	var tk model.Ticker
	if err := json.Unmarshal(env.Result, &tk); err == nil && tk.PriceUSD() > 0 {
		return &tk, nil
	}
	var list []model.Ticker
	if err := json.Unmarshal(env.Result, &list); err == nil {
		for i := range list {
			if strings.EqualFold(list[i].Symbol, symbol) {
				return &list[i], nil
			}
		}
		if len(list) > 0 {
			return &list[0], nil
		}
	}
	return nil, errors.Newf(ecode.ExchangeErr, "ticker for %s unavailable", symbol)
}

// ListOrders 按游标分页拉取订单，直到 meta.after 为空或返回空页
func (c *DeltaClient) ListOrders(ctx context.Context, states string) ([]model.ExchangeOrder, error) {
	if states == "" {
		states = "open,pending"
	}
	var all []model.ExchangeOrder
	after := ""
	for {
		query := fmt.Sprintf("states=%s&page_size=%d", states, ordersPgSize)
		if after != "" {
			query += "&after=" + after
		}
		env, err := c.call(ctx, http.MethodGet, "/v2/orders", query, nil)
		if err != nil {
			return nil, err
		}
		var page []model.ExchangeOrder
		if err := json.Unmarshal(env.Result, &page); err != nil {
			return nil, errors.Wrap(err, ecode.ExchangeErr, "decode orders page")
		}
		all = append(all, page...)
		if env.Meta.After == "" || len(page) == 0 {
			return all, nil
		}
		after = env.Meta.After
	}
}

func (c *DeltaClient) PlaceOrder(ctx context.Context, order *model.NewOrder) (json.RawMessage, error) {
	env, err := c.call(ctx, http.MethodPost, "/v2/orders", "", order)
	if err != nil {
		return nil, err
	}
	return env.Result, nil
}

func (c *DeltaClient) BatchOrders(ctx context.Context, productID int, productSymbol string, legs []model.BatchLeg) error {
	body := map[string]interface{}{
		"product_id":     productID,
		"product_symbol": productSymbol,
		"orders":         legs,
	}
	_, err := c.call(ctx, http.MethodPost, "/v2/orders/batch", "", body)
	return err
}

func (c *DeltaClient) CancelOrder(ctx context.Context, ref *model.CancelRef) error {
	_, err := c.call(ctx, http.MethodDelete, "/v2/orders", "", ref)
	return err
}

func (c *DeltaClient) CancelAllOrders(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodDelete, "/v2/orders/all", "", nil)
	return err
}

func (c *DeltaClient) Positions(ctx context.Context) ([]model.Position, error) {
	env, err := c.call(ctx, http.MethodGet, "/v2/positions", "", nil)
	if err != nil {
		// 部分部署只开放保证金仓位端点
		env, err = c.call(ctx, http.MethodGet, "/v2/positions/margined", "", nil)
		if err != nil {
			return nil, err
		}
	}
	var positions []model.Position
	if err := json.Unmarshal(env.Result, &positions); err != nil {
		return nil, errors.Wrap(err, ecode.ExchangeErr, "decode positions")
	}
	return positions, nil
}

func (c *DeltaClient) CloseAllPositions(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodPost, "/v2/positions/close_all", "", nil)
	return err
}
