package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"group_buy/internal/model"
	pkgerrors "group_buy/pkg/errors"

	"github.com/tidwall/gjson"
)

// 读取端点的 action 参数。
const (
	ActionGetGroupBuys = "getGroupBuys"
	ActionGetOrders    = "getOrders"
)

const responseReadLimit int64 = 8 << 20

var errBaseURLRequired = errors.New("mirror url is required")

// Client 访问外部镜像（试算表脚本）的写入与读取端点。
type Client struct {
	httpClient *http.Client
	baseURL    string
}

type Option func(*Client)

// WithHTTPClient 替换默认的 HTTP 客户端。
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout 设置默认 HTTP 客户端的超时。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("parse mirror url: %w", err)
	}
	c := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Send 实现 Sink：把事件信封 POST 到写入端点。响应体不读取。
func (c *Client) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.Post(ctx, body)
}

// Post 发送已编码的信封，供 Kafka 转发进程直接使用。
func (c *Client) Post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeMirrorUnavailable, err, "post mirror event")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= http.StatusInternalServerError {
		return pkgerrors.Newf(pkgerrors.CodeMirrorUnavailable, "mirror responded %d", resp.StatusCode)
	}
	return nil
}

// FetchResult 一次读取的结果：通过校验的记录与被隔离的条数。
type FetchResult[T any] struct {
	Records     []T
	Quarantined int
}

// FetchCampaigns 读取镜像中的活动列表。
func (c *Client) FetchCampaigns(ctx context.Context) (FetchResult[model.Campaign], error) {
	return fetch(ctx, c, ActionGetGroupBuys, decodeCampaign)
}

// FetchOrders 读取镜像中的订单列表。
func (c *Client) FetchOrders(ctx context.Context) (FetchResult[model.Order], error) {
	return fetch(ctx, c, ActionGetOrders, decodeOrder)
}

func fetch[T any](ctx context.Context, c *Client, action string, decode func(string) (T, error)) (FetchResult[T], error) {
	body, err := c.get(ctx, action)
	if err != nil {
		return FetchResult[T]{}, err
	}
	// 响应是弱类型的：整体必须是 JSON 数组，单条记录不合格时隔离
	if !gjson.ValidBytes(body) {
		return FetchResult[T]{}, pkgerrors.New(pkgerrors.CodeMirrorUnavailable, "mirror response is not valid json")
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return FetchResult[T]{}, pkgerrors.New(pkgerrors.CodeMirrorUnavailable, "mirror response is not an array")
	}
	var out FetchResult[T]
	parsed.ForEach(func(_, value gjson.Result) bool {
		if !value.IsObject() {
			out.Quarantined++
			return true
		}
		rec, err := decode(value.Raw)
		if err != nil {
			out.Quarantined++
			return true
		}
		out.Records = append(out.Records, rec)
		return true
	})
	return out, nil
}

func (c *Client) get(ctx context.Context, action string) ([]byte, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("action", action)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeMirrorUnavailable, err, "fetch "+action)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, pkgerrors.Newf(pkgerrors.CodeMirrorUnavailable, "fetch %s: status %d", action, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, responseReadLimit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeMirrorUnavailable, err, "read "+action)
	}
	return body, nil
}
