package formats

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	// segmentPrefix marks base64 encoded gzip text, the way screeps memory
	// segments store compressed profiler dumps.
	segmentPrefix = []byte("gz:")
)

// Decompress returns a reader over the uncompressed contents of r. Gzip and
// zstd streams are recognized by their magic bytes, and "gz:" prefixed base64
// gzip text by its prefix; anything else is passed through unchanged. The
// returned closer releases decoder resources.
func Decompress(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, nil, fmt.Errorf("peek input: %w", err)
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip: %w", err)
		}
		return gz, func() { _ = gz.Close() }, nil
	case bytes.HasPrefix(head, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd: %w", err)
		}
		return dec, dec.Close, nil
	case bytes.HasPrefix(head, segmentPrefix):
		if _, err := br.Discard(len(segmentPrefix)); err != nil {
			return nil, nil, fmt.Errorf("discard prefix: %w", err)
		}
		gz, err := gzip.NewReader(base64.NewDecoder(base64.StdEncoding, br))
		if err != nil {
			return nil, nil, fmt.Errorf("segment gzip: %w", err)
		}
		return gz, func() { _ = gz.Close() }, nil
	}
	return br, func() {}, nil
}

// Text decodes a text stream to UTF-8. A UTF-8 or UTF-16 byte order mark is
// honored and stripped; input without one is taken as UTF-8.
func Text(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}
