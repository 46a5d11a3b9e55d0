// Package compression encodes batch payloads for the InfluxDB v2 write
// endpoint, which accepts identity or gzip bodies.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Level selects the gzip compression strength, or no compression at all.
type Level string

const (
	// LevelNone passes payloads through unchanged.
	LevelNone Level = "none"
	// LevelFastest uses the fastest gzip compression (lowest ratio).
	LevelFastest Level = "fastest"
	// LevelBest uses the best gzip compression (highest ratio).
	LevelBest Level = "best"
	// LevelDefault uses the default gzip compression level.
	LevelDefault Level = "default"
)

// Content-Encoding labels advertised on the wire.
const (
	EncodingIdentity = "identity"
	EncodingGzip     = "gzip"
)

// ParseLevel parses a compression level selector. An empty string means no
// compression.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return LevelNone, nil
	case "fastest":
		return LevelFastest, nil
	case "best":
		return LevelBest, nil
	case "default":
		return LevelDefault, nil
	default:
		return LevelNone, fmt.Errorf("unsupported compression level: %s", s)
	}
}

// ContentEncoding returns the HTTP Content-Encoding header value for the level.
func (l Level) ContentEncoding() string {
	if l == LevelNone || l == "" {
		return EncodingIdentity
	}
	return EncodingGzip
}

// gzipLevel maps a Level to a gzip writer level.
func gzipLevel(l Level) int {
	switch l {
	case LevelFastest:
		return gzip.BestSpeed
	case LevelBest:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

// Encode returns the encoded payload and the Content-Encoding label to
// advertise. For LevelNone the data passes through unchanged. The gzip
// stream is fully flushed and closed before returning, so the result is
// always a complete frame.
func Encode(data []byte, level Level) ([]byte, string, error) {
	if level == LevelNone || level == "" {
		return data, EncodingIdentity, nil
	}

	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzipLevel(level))
	if err != nil {
		return nil, "", fmt.Errorf("create gzip writer: %w", err)
	}
	if _, err := gw.Write(data); err != nil {
		return nil, "", fmt.Errorf("write gzip data: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, "", fmt.Errorf("close gzip writer: %w", err)
	}
	return buf.Bytes(), EncodingGzip, nil
}

// Decode reverses Encode given the advertised Content-Encoding label.
func Decode(data []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "", EncodingIdentity:
		return data, nil
	case EncodingGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	default:
		return nil, fmt.Errorf("unsupported content encoding: %s", encoding)
	}
}
