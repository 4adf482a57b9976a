package build

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/andybalholm/brotli"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
)

// Compressed describes one precompressed sibling of the entry file.
type Compressed struct {
	Algo string // "gzip" | "br"
	Path string
	Size int64
}

var extByAlgo = map[string]string{
	"gzip": ".gz",
	"br":   ".br",
}

// CompressEntry writes a sibling of path for each algorithm in algos
// (".gz" for gzip, ".br" for brotli).
func CompressEntry(path string, algos []string) ([]Compressed, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}

	out := make([]Compressed, 0, len(algos))
	for _, algo := range algos {
		ext, ok := extByAlgo[algo]
		if !ok {
			return out, fmt.Errorf("unknown compression %q", algo)
		}
		var buf bytes.Buffer
		if err := compress(&buf, algo, src); err != nil {
			return out, fmt.Errorf("%s %s: %w", algo, path, err)
		}
		dst := path + ext
		if err := os.WriteFile(dst, buf.Bytes(), 0o644); err != nil {
			return out, fmt.Errorf("write %s: %w", dst, err)
		}
		out = append(out, Compressed{Algo: algo, Path: dst, Size: int64(buf.Len())})
	}
	return out, nil
}

func compress(dst io.Writer, algo string, src []byte) error {
	var w io.WriteCloser
	switch algo {
	case "gzip":
		gw, err := gzip.NewWriterLevel(dst, gzip.BestCompression)
		if err != nil {
			return err
		}
		w = gw
	case "br":
		w = brotli.NewWriterLevel(dst, brotli.BestCompression)
	default:
		return fmt.Errorf("unknown compression %q", algo)
	}
	if _, err := w.Write(src); err != nil {
		return err
	}
	return w.Close()
}

// logSizes reports the entry and its compressed siblings in human units.
func logSizes(logger *slog.Logger, entry string, size int64, siblings []Compressed) {
	logger.Info("entry size", "path", entry, "size", humanize.Bytes(uint64(size)))
	for _, c := range siblings {
		logger.Info("entry size", "path", c.Path, "algo", c.Algo, "size", humanize.Bytes(uint64(c.Size)))
	}
}
