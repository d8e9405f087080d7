package scanner

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/harrylevesque/equipscan/internal/config"
	"github.com/harrylevesque/equipscan/internal/utils"
)

// Code is one decoded symbol.
type Code struct {
	Text   string
	Format string
}

// Decoder extracts at most one code from a frame.
type Decoder interface {
	Available() bool
	Decode(img image.Image) (Code, bool, error)
}

// ===== NativeDetector =====

type namedReader struct {
	format string
	reader gozxing.Reader
}

// NativeDetector tries each configured reader in order; the first match wins.
type NativeDetector struct {
	readers []namedReader
	hints   map[gozxing.DecodeHintType]interface{}
}

// NewNativeDetector builds readers for formats (qr_code, code_128, code_39,
// ean_13, ean_8, upc_a, upc_e). QR is always tried first.
func NewNativeDetector(formats []string) (*NativeDetector, error) {
	want := make(map[string]bool, len(formats))
	for _, f := range formats {
		want[strings.ToLower(strings.TrimSpace(f))] = true
	}
	d := &NativeDetector{
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
	if want["qr_code"] {
		d.readers = append(d.readers, namedReader{"qr_code", qrcode.NewQRCodeReader()})
	}
	if want["code_128"] {
		d.readers = append(d.readers, namedReader{"code_128", oned.NewCode128Reader()})
	}
	if want["code_39"] {
		d.readers = append(d.readers, namedReader{"code_39", oned.NewCode39Reader()})
	}
	if want["ean_13"] {
		d.readers = append(d.readers, namedReader{"ean_13", oned.NewEAN13Reader()})
	}
	if want["ean_8"] {
		d.readers = append(d.readers, namedReader{"ean_8", oned.NewEAN8Reader()})
	}
	if want["upc_a"] {
		d.readers = append(d.readers, namedReader{"upc_a", oned.NewUPCAReader()})
	}
	if want["upc_e"] {
		d.readers = append(d.readers, namedReader{"upc_e", oned.NewUPCEReader()})
	}
	if len(d.readers) == 0 {
		return nil, fmt.Errorf("no supported barcode formats in %v", formats)
	}
	return d, nil
}

func (d *NativeDetector) Available() bool { return true }

func (d *NativeDetector) Decode(img image.Image) (Code, bool, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return Code{}, false, fmt.Errorf("binarize frame: %w", err)
	}
	var lastErr error
	for _, r := range d.readers {
		res, err := r.reader.Decode(bmp, d.hints)
		r.reader.Reset()
		if err == nil {
			return Code{Text: res.GetText(), Format: r.format}, true, nil
		}
		if !isNothingFound(err) {
			lastErr = fmt.Errorf("%s: %w", r.format, err)
		}
	}
	return Code{}, false, lastErr
}

// isNothingFound reports whether err only means no readable symbol was in
// the frame.
func isNothingFound(err error) bool {
	var nf gozxing.NotFoundException
	var cs gozxing.ChecksumException
	var fe gozxing.FormatException
	return errors.As(err, &nf) || errors.As(err, &cs) || errors.As(err, &fe)
}

// ===== Unavailable =====

// Unavailable is the decoder used when no detector could be built. Scanning
// is inert and manual entry is the only input.
type Unavailable struct {
	Reason string
}

func (Unavailable) Available() bool { return false }

func (Unavailable) Decode(image.Image) (Code, bool, error) { return Code{}, false, nil }

// ProbeDecoder picks the decoder for a session. It is called once per
// session; the choice is never revisited.
func ProbeDecoder(name string, formats []string, logger *slog.Logger) Decoder {
	logger = utils.OrDefault(logger)
	if name == config.DecoderNone {
		return Unavailable{Reason: "decoding disabled"}
	}
	d, err := NewNativeDetector(formats)
	if err != nil {
		logger.Warn("Barcode decoding unavailable, manual entry only", "error", err)
		return Unavailable{Reason: err.Error()}
	}
	return d
}
