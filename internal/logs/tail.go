package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	pollInterval = 250 * time.Millisecond
	maxLineBytes = 1 << 20
)

// TailOptions selects what Tail reads. A negative Offset returns the last
// Limit lines (all lines when Limit <= 0); otherwise reading starts at the
// byte Offset. With Follow set and nothing new, Tail polls for up to Wait.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
}

// TailResult carries the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads complete lines from path. A missing file yields no lines and
// offset zero so callers can wait for it to appear.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return TailResult{}, nil
	}
	if err != nil {
		return TailResult{Offset: opts.Offset}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return TailResult{Offset: opts.Offset}, fmt.Errorf("log path %q is a directory", path)
	}

	start := opts.Offset
	if start > info.Size() {
		// Truncated or rotated; resume at the current end.
		start = info.Size()
	}
	var result TailResult
	if start < 0 {
		result, err = lastLines(path, opts.Limit)
	} else {
		result, err = readFrom(path, start, opts.Limit)
	}
	if err != nil || len(result.Lines) > 0 || !opts.Follow || opts.Wait <= 0 {
		return result, err
	}
	return waitForLines(ctx, path, result.Offset, opts.Limit, opts.Wait)
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return scanner
}

func lastLines(path string, limit int) (TailResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return TailResult{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	var lines []string
	var offset int64
	scanner := newScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		offset += int64(len(line)) + 1
		lines = append(lines, line)
		if limit > 0 && len(lines) > limit {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return TailResult{}, fmt.Errorf("read log file: %w", err)
	}
	return TailResult{Lines: lines, Offset: offset}, nil
}

// readFrom returns up to limit lines starting at offset. A trailing partial
// line is left for the next call.
func readFrom(path string, offset int64, limit int) (TailResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return TailResult{Offset: offset}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return TailResult{Offset: offset}, fmt.Errorf("seek log file: %w", err)
	}

	result := TailResult{Offset: offset}
	reader := bufio.NewReaderSize(file, 64*1024)
	for limit <= 0 || len(result.Lines) < limit {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return result, fmt.Errorf("read log file: %w", err)
		}
		result.Offset += int64(len(line))
		result.Lines = append(result.Lines, trimNewline(line))
	}
	return result, nil
}

func trimNewline(line string) string {
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}

func waitForLines(ctx context.Context, path string, offset int64, limit int, wait time.Duration) (TailResult, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return TailResult{Offset: offset}, ctx.Err()
		case <-timer.C:
			return TailResult{Offset: offset}, nil
		case <-ticker.C:
		}
		result, err := readFrom(path, offset, limit)
		if err != nil || len(result.Lines) > 0 {
			return result, err
		}
	}
}
