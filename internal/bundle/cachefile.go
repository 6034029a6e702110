package bundle

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	dbzip2 "github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// Compression names accepted by WriteFile.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionBzip2  = "bzip2"
	CompressionXz     = "xz"
	CompressionBrotli = "brotli"
)

// Ext returns the filename extension for a compression name, including
// the leading dot; empty for none.
func Ext(compression string) string {
	switch compression {
	case CompressionGzip:
		return ".gz"
	case CompressionBzip2:
		return ".bz2"
	case CompressionXz:
		return ".xz"
	case CompressionBrotli:
		return ".br"
	default:
		return ""
	}
}

// WriteFile writes a serialized bundle to path, compressed with the
// given codec. The write goes through a temp file and rename so readers
// never observe a partial bundle.
func WriteFile(path string, data []byte, compression string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating bundle file: %w", err)
	}

	var w io.Writer = f
	var closers []io.Closer
	switch compression {
	case CompressionNone, "":
	case CompressionGzip:
		gz := gzip.NewWriter(f)
		w = gz
		closers = append(closers, gz)
	case CompressionBzip2:
		bz, err := dbzip2.NewWriter(f, &dbzip2.WriterConfig{Level: dbzip2.DefaultCompression})
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("creating bzip2 writer: %w", err)
		}
		w = bz
		closers = append(closers, bz)
	case CompressionXz:
		xw, err := xz.NewWriter(f)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("creating xz writer: %w", err)
		}
		w = xw
		closers = append(closers, xw)
	case CompressionBrotli:
		br := brotli.NewWriter(f)
		w = br
		closers = append(closers, br)
	default:
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("unknown compression %q", compression)
	}

	if _, err := w.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing bundle: %w", err)
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("flushing bundle: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing bundle file: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadFile reads a serialized bundle, auto-detecting gzip, bzip2, and
// xz from magic bytes. Brotli carries no magic, so it is recognized by
// the .br extension instead.
func ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bundle file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("peeking header: %w", err)
	}

	var reader io.Reader = br
	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gzr.Close()
		reader = gzr

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		reader = bzip2.NewReader(br)

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		reader = xzr

	case strings.EqualFold(filepath.Ext(path), ".br"):
		reader = brotli.NewReader(br)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}
	return data, nil
}
