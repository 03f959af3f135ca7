package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

func TestCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/2.5/weather", r.URL.Path)
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		assert.Equal(t, "key", r.URL.Query().Get("appid"))
		assert.Equal(t, "40.100000", r.URL.Query().Get("lat"))
		_, _ = w.Write([]byte(`{
			"weather": [{"id": 801, "main": "Clouds", "description": "few clouds"}],
			"main": {"temp": 12.4, "feels_like": 11.1, "humidity": 48},
			"wind": {"speed": 3.6, "deg": 250}
		}`))
	}))
	defer srv.Close()

	w, err := NewClient(srv.URL, "key", time.Second).Current(context.Background(), 40.1, -105.3)
	require.NoError(t, err)
	assert.Equal(t, &domain.Weather{Temperature: 12.4, Description: "few clouds", WindSpeed: 3.6, Humidity: 48}, w)
}

func TestCurrent_Errors(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusBadGateway} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		_, err := NewClient(srv.URL, "key", time.Second).Current(context.Background(), 40, -105)
		assert.ErrorIs(t, err, domain.ErrRemoteService, "status %d", status)
		srv.Close()
	}
}
