package natsadapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

func TestSessionEventCodec(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	in := &domain.SessionEvent{
		SessionID: "s1",
		Workspace: "ws1",
		State:     domain.SessionFailed,
		Reason:    "sample: elevation raster unavailable",
		Stage:     "sample",
		At:        at,
	}
	data, err := EncodeSessionEvent(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state"`)

	out, err := DecodeSessionEvent(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeSessionEvent_Rejects(t *testing.T) {
	_, err := DecodeSessionEvent([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeSessionEvent([]byte(`{"state":"done"}`))
	assert.Error(t, err)
}

func TestEncodeArtifactEvent(t *testing.T) {
	data, err := EncodeArtifactEvent(&domain.ArtifactEvent{Namespace: "ws1", Name: "trails", Features: 12, At: time.Now()})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"features"`)
	assert.Contains(t, string(data), `"trails"`)
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "elevation_tif", subjectToken("elevation.tif"))
	assert.Equal(t, "abc-123", subjectToken("abc-123"))
}
