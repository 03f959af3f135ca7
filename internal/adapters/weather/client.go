// Package weather looks up current conditions from OpenWeatherMap.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

// DefaultBaseURL is the public OpenWeatherMap API.
const DefaultBaseURL = "https://api.openweathermap.org"

// Client implements ports.WeatherProvider.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an OpenWeatherMap client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{apiKey: apiKey, baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

type currentResponse struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

// Current returns the metric conditions at lat, lon.
func (c *Client) Current(ctx context.Context, lat, lon float64) (*domain.Weather, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: no OpenWeatherMap API key configured", domain.ErrRemoteService)
	}

	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%.6f", lat))
	params.Set("lon", fmt.Sprintf("%.6f", lon))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/data/2.5/weather?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: weather request: %v", domain.ErrRemoteService, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: weather rate limit exceeded", domain.ErrRemoteService)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: invalid weather API key", domain.ErrRemoteService)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: weather API error %d: %s", domain.ErrRemoteService, resp.StatusCode, string(body))
	}

	var r currentResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: decode weather response: %v", domain.ErrRemoteService, err)
	}

	w := &domain.Weather{
		Temperature: r.Main.Temp,
		WindSpeed:   r.Wind.Speed,
		Humidity:    r.Main.Humidity,
	}
	if len(r.Weather) > 0 {
		w.Description = r.Weather[0].Description
	}
	return w, nil
}
