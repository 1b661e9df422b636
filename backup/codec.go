package backup

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies how a segment body is compressed in the remote store.
type Codec uint8

const (
	// CodecNone stores the segment as is. Segments that do not shrink under
	// the configured codec are stored this way too.
	CodecNone Codec = iota
	// CodecZstd compresses with zstd at the default level.
	CodecZstd
	// CodecLZ4 compresses with LZ4 block mode. Faster, lower ratio.
	CodecLZ4
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCodec parses "none", "zstd" or "lz4". The empty string selects zstd.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "", "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	case "none":
		return CodecNone, nil
	default:
		return 0, fmt.Errorf("backup: unknown codec %q", s)
	}
}

func (c Codec) MarshalText() ([]byte, error) {
	if c > CodecLZ4 {
		return nil, fmt.Errorf("backup: unknown codec %d", uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Codec) UnmarshalText(text []byte) error {
	v, err := ParseCodec(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// extension is appended to the remote object name so a segment exported with
// different codecs never collides.
func (c Codec) extension() string {
	switch c {
	case CodecZstd:
		return ".zst"
	case CodecLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// zstd encoders and decoders are safe for concurrent use and expensive to
// build, so one of each is shared.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

// compress encodes data with c. It returns the body to store and the codec
// actually used, which is CodecNone when compression would not save space.
func compress(data []byte, c Codec) ([]byte, Codec, error) {
	switch c {
	case CodecNone:
		return data, CodecNone, nil

	case CodecZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, 0, fmt.Errorf("zstd encoder: %w", err)
		}
		out := enc.EncodeAll(data, make([]byte, 0, len(data)/2))
		if len(out) >= len(data) {
			return data, CodecNone, nil
		}
		return out, CodecZstd, nil

	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		// 0 means incompressible.
		if n == 0 || n >= len(data) {
			return data, CodecNone, nil
		}
		return dst[:n], CodecLZ4, nil

	default:
		return nil, 0, fmt.Errorf("backup: unsupported codec %d", uint8(c))
	}
}

// decompress reverses compress. size is the original length and is checked.
func decompress(data []byte, c Codec, size int64) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch c {
	case CodecNone:
		out = data

	case CodecZstd:
		dec, derr := zstdDecoder()
		if derr != nil {
			return nil, fmt.Errorf("zstd decoder: %w", derr)
		}
		out, err = dec.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}

	case CodecLZ4:
		out = make([]byte, size)
		n, lerr := lz4.UncompressBlock(data, out)
		if lerr != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", lerr)
		}
		out = out[:n]

	default:
		return nil, fmt.Errorf("backup: unsupported codec %d", uint8(c))
	}

	if int64(len(out)) != size {
		return nil, fmt.Errorf("%s: got %d bytes, expected %d", c, len(out), size)
	}
	return out, nil
}
