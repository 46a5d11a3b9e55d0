package compression

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		wantErr  bool
	}{
		{"", LevelNone, false},
		{"none", LevelNone, false},
		{"fastest", LevelFastest, false},
		{"FASTEST", LevelFastest, false},
		{"best", LevelBest, false},
		{"default", LevelDefault, false},
		{" default ", LevelDefault, false},
		{"zstd", LevelNone, true},
		{"9", LevelNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestContentEncoding(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelNone, "identity"},
		{Level(""), "identity"},
		{LevelFastest, "gzip"},
		{LevelBest, "gzip"},
		{LevelDefault, "gzip"},
	}

	for _, tt := range tests {
		if got := tt.level.ContentEncoding(); got != tt.expected {
			t.Errorf("Level(%q).ContentEncoding() = %q, want %q", tt.level, got, tt.expected)
		}
	}
}

func TestEncodeIdentity(t *testing.T) {
	data := []byte("table,tag=a field_b=true 1\n")

	out, encoding, err := Encode(data, LevelNone)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if encoding != EncodingIdentity {
		t.Errorf("encoding = %q, want identity", encoding)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("identity encoding modified payload")
	}
}

func TestEncodeGzipRoundTrip(t *testing.T) {
	data := []byte(strings.Repeat("table,tag=a field_s=\"abcdefgh\",field_i=1i,field_u=2u,field_f=0.5,field_b=true 1700000000000000000\n", 200))

	for _, level := range []Level{LevelFastest, LevelBest, LevelDefault} {
		t.Run(string(level), func(t *testing.T) {
			out, encoding, err := Encode(data, level)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if encoding != EncodingGzip {
				t.Errorf("encoding = %q, want gzip", encoding)
			}
			if bytes.Equal(out, data) {
				t.Error("payload was not compressed")
			}
			if len(out) >= len(data) {
				t.Errorf("compressed size %d >= original %d", len(out), len(data))
			}

			back, err := Decode(out, encoding)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !bytes.Equal(back, data) {
				t.Error("round-trip payload differs from original")
			}
		})
	}
}

func TestDecodeIdentity(t *testing.T) {
	data := []byte("plain")
	for _, encoding := range []string{"", EncodingIdentity} {
		out, err := Decode(data, encoding)
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", encoding, err)
		}
		if !bytes.Equal(out, data) {
			t.Errorf("Decode(%q) modified payload", encoding)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode([]byte("x"), "zstd"); err == nil {
		t.Error("Decode() with unsupported encoding: want error")
	}
	if _, err := Decode([]byte("not gzip"), EncodingGzip); err == nil {
		t.Error("Decode() with corrupt gzip frame: want error")
	}
}
