package ffmpeg

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync"

	"vexport/internal/transcoder"
)

// parseProgress consumes ffmpeg -progress output until EOF. out_time_us is
// microseconds despite the out_time_ms alias carrying the same value.
func parseProgress(r io.Reader, durationSeconds float64, h *transcoder.RunHandle) {
	scanner := bufio.NewScanner(r)
	state := ""
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			if durationSeconds <= 0 {
				continue
			}
			us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil || us < 0 {
				continue
			}
			h.SetProgress(float64(us) / (durationSeconds * 1e6))
		case "progress":
			if value == "end" {
				h.SetProgress(1)
			}
			if value != state {
				state = value
				h.NotifyChange()
			}
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
