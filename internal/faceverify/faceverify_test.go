package faceverify

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutcome(t *testing.T) {
	out, err := parseOutcome(`{"quality":"GOOD","isMatch":true,"reason":"OK"}`)
	require.NoError(t, err)
	assert.True(t, out.Match)
	assert.Equal(t, QualityGood, out.Quality)
	assert.Equal(t, "OK", out.Reason)
	assert.True(t, out.Usable())
}

func TestParseOutcome_PoorQuality(t *testing.T) {
	out, err := parseOutcome("\n{\"quality\":\"POOR\",\"isMatch\":false,\"reason\":\"Blurry photo\"}\n")
	require.NoError(t, err)
	assert.False(t, out.Usable())
	assert.Equal(t, "Blurry photo", out.Reason)
}

func TestParseOutcome_Rejections(t *testing.T) {
	_, err := parseOutcome(`not json`)
	assert.Error(t, err)

	_, err = parseOutcome(`{"quality":"FINE","isMatch":true,"reason":"OK"}`)
	assert.Error(t, err)
}

func TestHTTPOracle_SkipMode(t *testing.T) {
	c := NewHTTPOracle("http://localhost:1", true)

	out, err := c.Verify(context.Background(), Image{}, Image{})
	require.NoError(t, err)
	assert.True(t, out.Match)
	assert.Equal(t, QualityGood, out.Quality)
}

func TestFetchImage_DataURL(t *testing.T) {
	raw := []byte{0xFF, 0xD8, 0xFF}
	url := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw)

	img, err := FetchImage(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, raw, img.Data)
	assert.Equal(t, "image/jpeg", img.MIME)
}

func TestFetchImage_MalformedDataURL(t *testing.T) {
	_, err := FetchImage(context.Background(), "data:image/jpeg;base64")
	assert.Error(t, err)
}
