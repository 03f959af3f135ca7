// Package opentopo downloads digital elevation models from the OpenTopography
// global DEM API.
package opentopo

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

// DefaultBaseURL is the public global DEM endpoint.
const DefaultBaseURL = "https://portal.opentopography.org/API/globaldem"

const maxRasterBytes = 256 << 20

// Client implements ports.ElevationProvider.
type Client struct {
	baseURL    string
	apiKey     string
	demType    string
	httpClient *http.Client
}

// NewClient creates a Client. An empty baseURL uses DefaultBaseURL and an
// empty demType uses SRTMGL3.
func NewClient(baseURL, apiKey, demType string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if demType == "" {
		demType = "SRTMGL3"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		demType:    demType,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchRaster downloads a GeoTIFF covering env. Anything other than a 200
// response carrying application/octet-stream is domain.ErrRasterUnavailable.
func (c *Client) FetchRaster(ctx context.Context, env domain.Envelope) ([]byte, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: no OpenTopography API key configured", domain.ErrRasterUnavailable)
	}

	params := url.Values{}
	params.Set("demtype", c.demType)
	params.Set("south", ftoa(env.South))
	params.Set("north", ftoa(env.North))
	params.Set("west", ftoa(env.West))
	params.Set("east", ftoa(env.East))
	params.Set("outputFormat", "GTiff")
	params.Set("API_Key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrRasterUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRasterUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrRasterUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/octet-stream" {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: unexpected content type %q: %s", domain.ErrRasterUnavailable, mediaType, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRasterBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrRasterUnavailable, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty response", domain.ErrRasterUnavailable)
	}
	return data, nil
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
