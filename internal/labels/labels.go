// Package labels renders printable barcode labels for equipment.
package labels

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

type Format string

const (
	FormatQR      Format = "qr"
	FormatCode128 Format = "code128"
)

const (
	DefaultSize = 300
	MaxSize     = 2000
	minSize     = 64
)

// ParseFormat accepts "", "qr" and "code128".
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatQR:
		return FormatQR, nil
	case FormatCode128:
		return FormatCode128, nil
	default:
		return "", fmt.Errorf("unknown label format %q", s)
	}
}

// Render draws code as a symbol of the given format. size is the width;
// QR labels are square, Code 128 labels are a third as tall as wide.
func Render(code string, format Format, size int) (image.Image, error) {
	if code == "" {
		return nil, fmt.Errorf("empty code")
	}
	if size <= 0 {
		size = DefaultSize
	}
	if size < minSize || size > MaxSize {
		return nil, fmt.Errorf("label size must be between %d and %d", minSize, MaxSize)
	}
	var (
		m   *gozxing.BitMatrix
		err error
	)
	switch format {
	case FormatQR:
		hints := map[gozxing.EncodeHintType]interface{}{
			gozxing.EncodeHintType_MARGIN: 2,
		}
		m, err = qrcode.NewQRCodeWriter().Encode(code, gozxing.BarcodeFormat_QR_CODE, size, size, hints)
	case FormatCode128:
		m, err = oned.NewCode128Writer().Encode(code, gozxing.BarcodeFormat_CODE_128, size, size/3, nil)
	default:
		return nil, fmt.Errorf("unknown label format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s label: %w", format, err)
	}
	return m, nil
}

// ===== Cache =====

type key struct {
	code   string
	format Format
	size   int
}

// Cache keeps rendered PNGs; labels are requested repeatedly while printing.
type Cache struct {
	mu      sync.RWMutex
	entries map[key][]byte
	max     int
}

// NewCache holds at most max labels; when full it is cleared.
func NewCache(max int) *Cache {
	if max <= 0 {
		max = 256
	}
	return &Cache{entries: make(map[key][]byte), max: max}
}

// PNG returns the encoded label, rendering it on a miss.
func (c *Cache) PNG(code string, format Format, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	k := key{code, format, size}
	c.mu.RLock()
	data, ok := c.entries[k]
	c.mu.RUnlock()
	if ok {
		return data, nil
	}

	img, err := Render(code, format, size)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	data = buf.Bytes()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		c.entries = make(map[key][]byte)
	}
	c.entries[k] = data
	return data, nil
}

// Len reports the number of cached labels.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
