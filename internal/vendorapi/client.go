// Package vendorapi sends text messages through the fixed WhatsApp vendor endpoint.
//
// Two request shapes are supported. The legacy v1 shape posts a form to
// {base}/send carrying the instance ID and access token as fields. The v2
// shape posts JSON to {base}/messages with a Bearer token and X-Instance-ID.
package vendorapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/CartPipe/internal/models"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "CartPipe/1.0"
	maxBodyBytes   = 1 << 20
)

var (
	// ErrMissingCredentials is returned before any HTTP call when the base URL,
	// instance ID or access token is empty.
	ErrMissingCredentials = errors.New("vendor API credentials are not configured")
	// ErrRejected is returned when the vendor answered but did not accept the message.
	ErrRejected = errors.New("vendor rejected the message")
)

// Result describes the vendor's answer to a send request.
type Result struct {
	HTTPStatus int    `json:"http_status"`
	Status     string `json:"status,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	Body       string `json:"-"`
}

// Opts holds configuration for the vendor client.
type Opts struct {
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Option configures the vendor client.
type Option func(*Opts)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// Client posts messages to the vendor endpoint.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a vendor API client.
func NewClient(opts ...Option) *Client {
	cfg := Opts{Timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{httpClient: httpClient}
}

// Send posts message to phone using the shape selected by creds.APIVersion.
func (c *Client) Send(ctx context.Context, creds models.VendorSettings, phone, message string) (*Result, error) {
	if !creds.HasCredentials() {
		slog.Error("vendorapi.Send: missing credentials",
			"has_base_url", creds.BaseURL != "", "has_instance_id", creds.InstanceID != "", "has_access_token", creds.AccessToken != "")
		return nil, ErrMissingCredentials
	}
	base := strings.TrimRight(creds.BaseURL, "/")

	var (
		req *http.Request
		err error
	)
	switch creds.APIVersion {
	case models.VendorAPIv2:
		req, err = newV2Request(ctx, base, creds, phone, message)
	default:
		req, err = newV1Request(ctx, base, creds, phone, message)
	}
	if err != nil {
		return nil, fmt.Errorf("build vendor request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("vendorapi.Send: request failed", "error", err, "api_version", creds.APIVersion)
		return nil, fmt.Errorf("vendor request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read vendor response: %w", err)
	}

	res := parseResponse(creds.APIVersion, resp.StatusCode, body)
	if !res.accepted {
		slog.Warn("vendorapi.Send: message not accepted",
			"http_status", resp.StatusCode, "status", res.Status, "api_version", creds.APIVersion)
		return &res.Result, fmt.Errorf("%w: http %d status %q", ErrRejected, resp.StatusCode, res.Status)
	}
	slog.Debug("vendorapi.Send: message accepted", "http_status", resp.StatusCode, "message_id", res.MessageID)
	return &res.Result, nil
}

func newV1Request(ctx context.Context, base string, creds models.VendorSettings, phone, message string) (*http.Request, error) {
	form := url.Values{}
	form.Set("number", phone)
	form.Set("type", "text")
	form.Set("message", message)
	form.Set("instance_id", creds.InstanceID)
	form.Set("access_token", creds.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/send", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func newV2Request(ctx context.Context, base string, creds models.VendorSettings, phone, message string) (*http.Request, error) {
	payload, err := json.Marshal(map[string]string{"phone": phone, "message": message})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/messages", strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("X-Instance-ID", creds.InstanceID)
	return req, nil
}

type vendorResponse struct {
	Status    string          `json:"status"`
	Success   *bool           `json:"success"`
	MessageID json.RawMessage `json:"message_id"`
	ID        json.RawMessage `json:"id"`
}

type parsedResponse struct {
	Result
	accepted bool
}

func parseResponse(version string, httpStatus int, body []byte) parsedResponse {
	res := parsedResponse{Result: Result{HTTPStatus: httpStatus, Body: string(body)}}

	var vr vendorResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return res
	}
	res.Status = strings.ToLower(strings.TrimSpace(vr.Status))
	res.MessageID = rawID(vr.MessageID)
	if res.MessageID == "" {
		res.MessageID = rawID(vr.ID)
	}

	if httpStatus < 200 || httpStatus > 299 {
		return res
	}
	switch version {
	case models.VendorAPIv2:
		switch res.Status {
		case "sent", "queued", "accepted":
			res.accepted = true
		}
		if vr.Success != nil && *vr.Success {
			res.accepted = true
		}
	default:
		switch res.Status {
		case "success", "ok", "sent":
			res.accepted = true
		}
	}
	return res
}

// rawID accepts both string and numeric message IDs.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
