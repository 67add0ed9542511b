package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

func newWriter(format string) (io.Writer, error) {
	switch format {
	case LogFormatPlain, LogFormatText:
		return zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    true,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					return ll
				}
				return "????"
			},
		}, nil

	case LogFormatJSON:
		return os.Stderr, nil

	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

// newSyncWriter returns a new writer that is safe for concurrent use by
// multiple goroutines. Writes to the returned writer are passed on to w. If
// another write is already in progress, the calling goroutine blocks until
// the writer is available.
func newSyncWriter(w io.Writer) io.Writer {
	return &syncWriter{Writer: w}
}

type syncWriter struct {
	sync.Mutex
	io.Writer
}

// Write writes p to the underlying writer. If another write is already in
// progress, the calling goroutine blocks until the syncWriter is available.
func (w *syncWriter) Write(p []byte) (int, error) {
	w.Lock()
	defer w.Unlock()
	return w.Writer.Write(p)
}
