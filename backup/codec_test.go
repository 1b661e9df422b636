package backup

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestCodecRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("node:func:main.go;"), 512)

	for _, c := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			body, used, err := compress(data, c)
			require.NoError(t, err)
			assert.Equal(t, c, used)
			if c != CodecNone {
				assert.Less(t, len(body), len(data))
			}

			got, err := decompress(body, used, int64(len(data)))
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestCodecIncompressibleFallsBackToNone(t *testing.T) {
	data := make([]byte, 4096)
	_, err := rand.Read(data)
	require.NoError(t, err)

	for _, c := range []Codec{CodecZstd, CodecLZ4} {
		body, used, err := compress(data, c)
		require.NoError(t, err)
		assert.Equal(t, CodecNone, used, c.String())
		assert.Equal(t, data, body)
	}
}

func TestDecompressChecksSize(t *testing.T) {
	body, used, err := compress(bytes.Repeat([]byte("a"), 1000), CodecZstd)
	require.NoError(t, err)
	_, err = decompress(body, used, 999)
	assert.Error(t, err)

	_, err = decompress([]byte("abc"), CodecNone, 4)
	assert.Error(t, err)

	_, err = decompress([]byte("garbage"), CodecLZ4, 100)
	assert.Error(t, err)
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		in      string
		want    Codec
		wantErr bool
	}{
		{"", CodecZstd, false},
		{"zstd", CodecZstd, false},
		{"lz4", CodecLZ4, false},
		{"none", CodecNone, false},
		{"gzip", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseCodec(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestCodecYAML(t *testing.T) {
	var cfg struct {
		Codec Codec `yaml:"codec"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("codec: lz4\n"), &cfg))
	assert.Equal(t, CodecLZ4, cfg.Codec)

	assert.Error(t, yaml.Unmarshal([]byte("codec: brotli\n"), &cfg))
}

func TestChecksumText(t *testing.T) {
	sum := checksumOf([]byte("segment"))
	text, err := sum.MarshalText()
	require.NoError(t, err)
	assert.Len(t, text, 64)

	var back Checksum
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, sum, back)

	assert.Error(t, back.UnmarshalText([]byte("abcd")))
	assert.NotEqual(t, sum, checksumOf([]byte("segmenT")))
}
