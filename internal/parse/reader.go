package parse

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Open returns a reader over the raw log source. The path "-" reads from
// stdin; a ".gz" suffix transparently decompresses. Closing the returned
// ReadCloser closes both the decompressor and the underlying file.
func Open(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log source: %w", err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open gzip log source %s: %w", path, err)
	}
	return &dualCloser{Reader: zr, primary: zr, secondary: f}, nil
}

// dualCloser closes a wrapping reader and then the file beneath it.
type dualCloser struct {
	io.Reader
	primary   io.Closer
	secondary io.Closer
}

func (d *dualCloser) Close() error {
	perr := d.primary.Close()
	serr := d.secondary.Close()
	if perr != nil {
		return perr
	}
	return serr
}
