package spawner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"horust/internal/config"
)

// runRotatingWriter reads the parent end of a stdout pipe and spills it
// into sequentially numbered chunk files once stdout_rotate_size bytes
// have been written to the current one, closing when the pipe reports
// EOF (spec.md §4.3 "Log rotation").
func (s *Spawner) runRotatingWriter(r *os.File, svc *config.Service) {
	defer func() { _ = r.Close() }()

	withTimestamp := svc.StdoutRotateTimestamp == nil || *svc.StdoutRotateTimestamp

	var timestamp int64
	if withTimestamp {
		timestamp = time.Now().Unix()
	}

	seq := 0

	for {
		out, err := openChunk(svc.Stdout, timestamp, seq, withTimestamp)
		if err != nil {
			s.log.Warn().Str("name", svc.Name).Err(err).Msg("failed to open log rotation chunk")

			return
		}

		copied, err := io.CopyN(out, r, svc.StdoutRotateSize)
		_ = out.Close()

		if err != nil && !errors.Is(err, io.EOF) {
			s.log.Warn().Str("name", svc.Name).Err(err).Msg("log rotation writer error")

			return
		}

		seq++

		if copied < svc.StdoutRotateSize {
			return
		}
	}
}

// openChunk names each rotated file base.{timestamp}.{seq}, or just
// base.{seq} when withTimestamp is false.
func openChunk(base string, timestamp int64, seq int, withTimestamp bool) (*os.File, error) {
	path := fmt.Sprintf("%s.%d", base, seq)
	if withTimestamp {
		path = fmt.Sprintf("%s.%d.%d", base, timestamp, seq)
	}

	return os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
}
