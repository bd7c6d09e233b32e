package postings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/tracing"
)

// Client is a Store backed by a remote postings service.
type Client struct {
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
}

// NewClient calls the service at endpoint. Reads are retried up to
// maxRetries attempts; writes append on the server and are sent once.
func NewClient(endpoint string, timeout time.Duration, maxRetries int) *Client {
	return &Client{
		baseURL: strings.TrimRight(endpoint, "/"),
		http:    &http.Client{Timeout: timeout},
		retry:   resilience.RetryConfig{MaxAttempts: maxRetries},
		breaker: resilience.NewBreaker("postings", 5, 10*time.Second),
	}
}

// Write fails without retrying once the request may have reached the
// service, since a repeated append would store the blocks twice.
func (c *Client) Write(ctx context.Context, collectionID uint64, payload []byte) ([]int64, error) {
	url := fmt.Sprintf("%s/postings/%d", c.baseURL, collectionID)
	var body []byte
	err := c.do(ctx, "postings.write", false, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err == nil {
			req.Header.Set("Content-Type", ContentType)
		}
		return req, err
	}, &body)
	if err != nil {
		return nil, err
	}
	return DecodeOffsets(body)
}

// Read fetches one block, retrying on transport errors and 5xx responses.
func (c *Client) Read(ctx context.Context, collectionID uint64, id int64) ([]byte, error) {
	url := fmt.Sprintf("%s/postings/%d?id=%s", c.baseURL, collectionID, strconv.FormatInt(id, 10))
	var body []byte
	err := c.do(ctx, "postings.read", true, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}, &body)
	if err != nil {
		return nil, err
	}
	if body == nil {
		body = []byte{}
	}
	return body, nil
}

// do sends the request built by build. Requests that are not idempotent are
// only retried while the breaker keeps them from being sent.
func (c *Client) do(ctx context.Context, name string, idempotent bool, build func() (*http.Request, error), out *[]byte) (err error) {
	ctx, span := tracing.Start(ctx, name)
	defer func() { tracing.End(span, err) }()
	return resilience.Retry(ctx, name, c.retry, func() error {
		err := c.breaker.Do(func() error {
			req, err := build()
			if err != nil {
				return resilience.Permanent(fmt.Errorf("building request: %w", err))
			}
			tracing.Inject(ctx, req.Header)
			resp, err := c.http.Do(req)
			if err != nil {
				return fmt.Errorf("calling postings service: %w", err)
			}
			defer resp.Body.Close()
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading postings response: %w", err)
			}
			switch {
			case resp.StatusCode == http.StatusOK:
				*out = data
				return nil
			case resp.StatusCode == http.StatusBadRequest:
				return resilience.Permanent(fmt.Errorf("postings service rejected request: %s: %w", bytes.TrimSpace(data), ErrMalformedPayload))
			case resp.StatusCode >= 500:
				return fmt.Errorf("postings service returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
			default:
				return resilience.Permanent(fmt.Errorf("postings service returned %d: %s", resp.StatusCode, bytes.TrimSpace(data)))
			}
		})
		if err != nil && !idempotent && !errors.Is(err, resilience.ErrBreakerOpen) {
			return resilience.Permanent(err)
		}
		return err
	})
}
