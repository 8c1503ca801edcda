package qr

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLPAString(t *testing.T) {
	got := LPAString("rsp.oxio.com", "8910300000003540720", "K2-ABCDEF")
	assert.Equal(t, "LPA:1$rsp.oxio.com$8910300000003540720$K2-ABCDEF", got)
}

func TestLPAStringWithoutCode(t *testing.T) {
	got := LPAString("rsp.oxio.com", "8910300000003540720", "")
	assert.Equal(t, "LPA:1$rsp.oxio.com$8910300000003540720", got)
}

func TestLPAStringTrimsWhitespace(t *testing.T) {
	got := LPAString(" rsp.oxio.com ", " 891030 ", " K2 ")
	assert.Equal(t, "LPA:1$rsp.oxio.com$891030$K2", got)
}

func TestEncodePNG(t *testing.T) {
	encoded, err := EncodePNG("LPA:1$rsp.oxio.com$8910300000003540720$K2-ABCDEF")
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
	assert.Equal(t, 256, img.Bounds().Dy())
}

func TestEncodePNGEmptyPayload(t *testing.T) {
	_, err := EncodePNG("  ")
	require.Error(t, err)
}
