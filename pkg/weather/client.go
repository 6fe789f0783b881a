// Package weather fetches current conditions from a wttr.in compatible
// provider.
package weather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the public wttr.in endpoint.
const DefaultBaseURL = "https://wttr.in"

// maxPayload caps how much of a provider response we read.
const maxPayload = 1 << 20

// ErrProvider wraps every failure talking to or decoding the provider.
var ErrProvider = errors.New("weather provider error")

// Report is a current-conditions observation.
type Report struct {
	Location  string
	Condition string
	TempC     int
}

// Provider returns current conditions for a free-form location.
type Provider interface {
	Current(ctx context.Context, location string) (Report, error)
}

// WttrClient talks to wttr.in's JSON (format=j1) API.
type WttrClient struct {
	baseURL string
	client  *http.Client
}

func NewWttrClient(baseURL string, client *http.Client) *WttrClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &WttrClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (c *WttrClient) Current(ctx context.Context, location string) (Report, error) {
	endpoint := fmt.Sprintf("%s/%s?format=j1", c.baseURL, url.PathEscape(location))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Report{}, fmt.Errorf("%w: create request: %v", ErrProvider, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "companion-core")

	resp, err := c.client.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Report{}, fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload))
	if err != nil {
		return Report{}, fmt.Errorf("%w: read body: %w", ErrProvider, err)
	}
	return ParseReport(body, location)
}

// ParseReport extracts a Report from a j1 payload. The provider's own area
// name is preferred over the requested location when present.
func ParseReport(body []byte, requested string) (Report, error) {
	if !gjson.ValidBytes(body) {
		return Report{}, fmt.Errorf("%w: invalid json", ErrProvider)
	}
	doc := gjson.ParseBytes(body)

	temp := doc.Get("current_condition.0.temp_C")
	cond := doc.Get("current_condition.0.weatherDesc.0.value")
	if !temp.Exists() || !cond.Exists() {
		return Report{}, fmt.Errorf("%w: missing current_condition", ErrProvider)
	}

	name := strings.TrimSpace(doc.Get("nearest_area.0.areaName.0.value").String())
	if name == "" {
		name = requested
	}
	return Report{
		Location:  name,
		Condition: strings.TrimSpace(cond.String()),
		TempC:     int(temp.Int()),
	}, nil
}
