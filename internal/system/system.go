// Package system probes the host: ffmpeg tooling, memory headroom and the
// newest input documents.
package system

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// FindLatestBoard returns the most recently modified board document in dir.
func FindLatestBoard(dir string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := strings.ToLower(f.Name())
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, f.Name())
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("no board documents found in %s", dir)
	}

	return latestFile, nil
}

// MediaDuration asks ffprobe for the container duration of path.
func MediaDuration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return ParseDuration(out)
}

// ParseDuration reads ffprobe's seconds output. Live-recorded webm files
// report "N/A" until remuxed.
func ParseDuration(out []byte) (time.Duration, error) {
	s := strings.TrimSpace(string(out))
	if s == "N/A" || s == "" {
		return 0, fmt.Errorf("duration unavailable")
	}
	var seconds float64
	if _, err := fmt.Sscanf(s, "%f", &seconds); err != nil {
		return 0, err
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// AvailableEncoders lists the video encoders the local ffmpeg was built with.
func AvailableEncoders(ctx context.Context) (map[string]bool, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-encoders")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -encoders: %w", err)
	}
	return ParseEncoders(out), nil
}

// ParseEncoders extracts video encoder names from `ffmpeg -encoders`.
func ParseEncoders(out []byte) map[string]bool {
	encoders := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	listing := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "------") {
			listing = true
			continue
		}
		fields := strings.Fields(line)
		if !listing || len(fields) < 2 || !strings.HasPrefix(fields[0], "V") {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

// MemoryBudget returns how many bytes of encoded video may be buffered in
// memory: a quarter of what the host reports available.
func MemoryBudget() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("read memory stats: %w", err)
	}
	return vm.Available / 4, nil
}
