package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// commandContext is swapped in tests.
var commandContext = exec.CommandContext

// FFmpegRequirements lists the binaries the ffmpeg engine and probe need.
// The drapto engine drives the ffmpeg found on PATH, so enabling it adds a
// PATH lookup even when a custom ffmpeg binary is configured.
func FFmpegRequirements(ffmpegBinary, ffprobeBinary string, draptoEnabled bool) []Requirement {
	reqs := []Requirement{
		{
			Name:        "FFmpeg",
			Command:     ffmpegBinary,
			Description: "Required for exporting",
		},
		{
			Name:        "FFprobe",
			Command:     ffprobeBinary,
			Description: "Required for probing sources and outputs",
		},
	}
	if draptoEnabled && strings.TrimSpace(ffmpegBinary) != "ffmpeg" {
		reqs = append(reqs, Requirement{
			Name:        "FFmpeg (PATH)",
			Command:     "ffmpeg",
			Description: "Used by the AV1 engine",
		})
	}
	return reqs
}

// Version runs `<binary> -version` and returns the first line of output.
func Version(ctx context.Context, binary string) (string, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return "", fmt.Errorf("version: command not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := commandContext(ctx, binary, "-version")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s -version: %w", binary, err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("%s -version: empty output", binary)
}

// CheckVersions fills Detail with the reported version for every available
// status. Statuses that fail to report a version are marked unavailable.
func CheckVersions(ctx context.Context, statuses []Status) []Status {
	out := make([]Status, len(statuses))
	for i, st := range statuses {
		out[i] = st
		if !st.Available {
			continue
		}
		version, err := Version(ctx, st.Command)
		if err != nil {
			out[i].Available = false
			out[i].Detail = err.Error()
			continue
		}
		out[i].Detail = version
	}
	return out
}
