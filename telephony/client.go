package telephony

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/internal/httpclient"
	"github.com/teranos/dialpulse/logger"
)

// ClientConfig configures the HTTP executor
type ClientConfig struct {
	BaseURL              string
	APIKey               string
	Timeout              time.Duration
	MaxRequestsPerSecond int // 0 = unthrottled
}

// Client is the HTTP JSON executor. Requests share one token bucket so a
// reaper burst and the placement loop together stay under the backend's limit.
type Client struct {
	base    *url.URL
	http    *httpclient.Client
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// NewClient creates an executor for the backend at cfg.BaseURL
func NewClient(cfg ClientConfig, log *zap.SugaredLogger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "telephony base_url is required")
	}

	header := http.Header{}
	header.Set("User-Agent", "dialpulse")
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	hc := httpclient.New(cfg.Timeout, httpclient.Options{
		MaxRedirects: -1,
		Header:       header,
	})

	base, err := hc.ValidateURL(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "telephony base_url %q", cfg.BaseURL)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.MaxRequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxRequestsPerSecond)
	}

	return &Client{
		base:    base,
		http:    hc,
		limiter: limiter,
		logger:  logger.AddDialSymbol(log),
	}, nil
}

func (c *Client) endpoint(parts ...string) string {
	u := *c.base
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/" + strings.Join(parts, "/")
	return u.String()
}

func (c *Client) do(ctx context.Context, method, target string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "telephony throttle")
	}
	return c.http.DoJSON(ctx, method, target, in, out)
}

// PlaceCall asks the backend to dial and returns its contact id
func (c *Client) PlaceCall(ctx context.Context, req CallRequest) (string, error) {
	if req.Destination == "" {
		return "", errors.Wrap(errors.ErrInvalidRequest, "destination is required")
	}

	var resp struct {
		ContactID string `json:"contact_id"`
	}
	if err := c.do(ctx, http.MethodPost, c.endpoint("calls"), req, &resp); err != nil {
		return "", errors.Wrapf(err, "place call to %s", req.Destination)
	}
	if resp.ContactID == "" {
		return "", errors.Newf("backend accepted call to %s without a contact id", req.Destination)
	}

	c.logger.Debugw("Call placed",
		logger.FieldContactID, resp.ContactID,
		"destination", req.Destination)
	return resp.ContactID, nil
}

// DescribeCall returns the backend's current view of a contact
func (c *Client) DescribeCall(ctx context.Context, contactID string) (*Call, error) {
	var call Call
	if err := c.do(ctx, http.MethodGet, c.endpoint("calls", contactID), nil, &call); err != nil {
		return nil, errors.Wrapf(err, "describe contact %s", contactID)
	}
	if call.ContactID == "" {
		call.ContactID = contactID
	}
	return &call, nil
}

// StopCall hangs up a contact. A contact the backend no longer knows is
// already gone and is not an error.
func (c *Client) StopCall(ctx context.Context, contactID string) error {
	err := c.do(ctx, http.MethodDelete, c.endpoint("calls", contactID), nil, nil)
	if errors.IsNotFoundError(err) {
		c.logger.Debugw("Contact already ended", logger.FieldContactID, contactID)
		return nil
	}
	return errors.Wrapf(err, "stop contact %s", contactID)
}
