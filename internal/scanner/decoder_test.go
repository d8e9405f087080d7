package scanner

import (
	"image"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrylevesque/equipscan/internal/config"
)

func TestNativeDetectorReadsQRCode(t *testing.T) {
	img, err := qrcode.NewQRCodeWriter().Encode("EQ-1001", gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	require.NoError(t, err)

	d, err := NewNativeDetector(config.DefaultConfig().Scanner.Formats)
	require.NoError(t, err)

	code, found, err := d.Decode(capture(nil, img))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "EQ-1001", code.Text)
	assert.Equal(t, "qr_code", code.Format)
}

func TestNativeDetectorReadsCode128(t *testing.T) {
	img, err := oned.NewCode128Writer().Encode("EQ-1002", gozxing.BarcodeFormat_CODE_128, 400, 120, nil)
	require.NoError(t, err)

	d, err := NewNativeDetector([]string{"code_128"})
	require.NoError(t, err)

	code, found, err := d.Decode(capture(nil, img))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "EQ-1002", code.Text)
	assert.Equal(t, "code_128", code.Format)
}

func TestNativeDetectorBlankFrame(t *testing.T) {
	d, err := NewNativeDetector([]string{"qr_code", "code_128"})
	require.NoError(t, err)

	blank := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range blank.Pix {
		blank.Pix[i] = 0xff
	}
	_, found, err := d.Decode(blank)
	assert.NoError(t, err, "an empty frame is not a decode error")
	assert.False(t, found)
}

func TestProbeDecoder(t *testing.T) {
	t.Run("zxing", func(t *testing.T) {
		d := ProbeDecoder(config.DecoderZXing, []string{"qr_code"}, nil)
		assert.True(t, d.Available())
		assert.IsType(t, &NativeDetector{}, d)
	})

	t.Run("disabled", func(t *testing.T) {
		d := ProbeDecoder(config.DecoderNone, []string{"qr_code"}, nil)
		assert.False(t, d.Available())
	})

	t.Run("no usable formats", func(t *testing.T) {
		d := ProbeDecoder(config.DecoderZXing, []string{"aztec"}, nil)
		require.IsType(t, Unavailable{}, d)
		assert.False(t, d.Available())
		assert.NotEmpty(t, d.(Unavailable).Reason)
	})
}

func TestUnavailableNeverFinds(t *testing.T) {
	_, found, err := Unavailable{}.Decode(image.NewGray(image.Rect(0, 0, 1, 1)))
	assert.NoError(t, err)
	assert.False(t, found)
}
