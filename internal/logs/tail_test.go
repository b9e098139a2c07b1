package logs_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bemflow/internal/logging"
	"bemflow/internal/logs"
)

func TestTailLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bemflow.log")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\n"), 0o644))

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, result.Lines)
	require.Equal(t, int64(6), result.Offset)
}

func TestTailFromOffsetLeavesPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bemflow.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\npart"), 0o644))

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: 4})
	require.NoError(t, err)
	require.Equal(t, []string{"two"}, result.Lines)
	require.Equal(t, int64(8), result.Offset)
}

func TestTailMissingFile(t *testing.T) {
	result, err := logs.Tail(context.Background(), filepath.Join(t.TempDir(), "none.log"), logs.TailOptions{Offset: -1})
	require.NoError(t, err)
	require.Empty(t, result.Lines)
	require.Zero(t, result.Offset)
}

func TestTailFollowWaits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bemflow.log")
	require.NoError(t, os.WriteFile(path, []byte("start\n"), 0o644))
	ctx := context.Background()

	first, err := logs.Tail(ctx, path, logs.TailOptions{Offset: -1, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"start"}, first.Lines)

	type outcome struct {
		result logs.TailResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := logs.Tail(ctx, path, logs.TailOptions{Offset: first.Offset, Follow: true, Wait: 5 * time.Second})
		done <- outcome{res, err}
	}()

	time.Sleep(100 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("later\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case got := <-done:
		require.NoError(t, got.err)
		require.Equal(t, []string{"later"}, got.result.Lines)
	case <-time.After(10 * time.Second):
		t.Fatal("tail follow did not return")
	}
}

func TestTailFollowTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bemflow.log")
	require.NoError(t, os.WriteFile(path, []byte("start\n"), 0o644))

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: 6, Follow: true, Wait: 300 * time.Millisecond})
	require.NoError(t, err)
	require.Empty(t, result.Lines)
	require.Equal(t, int64(6), result.Offset)
}

func TestReadJobLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.jsonl")
	content := `{"ts":"2026-01-02T03:04:05Z","level":"info","job_id":"j1","component":"job","stage":"simulate","msg":"stage started","fields":{"round":2}}
not json
{"ts":"2026-01-02T03:04:06Z","level":"warn","job_id":"j1","msg":"slow","fields":{"tool.name":"sim","tool.elapsed":"3s","failed_ids":["b1","b2"]}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	msgs, err := logs.ReadJobLog(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.Equal(t, uint64(1), msgs[0].Seq)
	require.Equal(t, "stage started", msgs[0].Text)
	require.Equal(t, "simulate", msgs[0].Stage)
	require.Equal(t, "job", msgs[0].Component)
	require.Equal(t, "2", msgs[0].Fields["round"])
	require.Equal(t, 2026, msgs[0].Time.Year())

	require.Equal(t, uint64(2), msgs[1].Seq)
	require.Equal(t, "warn", msgs[1].Level)
	require.Equal(t, "sim", msgs[1].Fields["tool.name"])
	require.Equal(t, "b1,b2", msgs[1].Fields["failed_ids"])
	require.NotContains(t, msgs[1].Fields, "job_id")
}

func TestReadJobLogDecodesJobLoggerOutput(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := logging.NewJobLogger(nil, logging.JobLoggerOptions{JobID: "j2", Level: slog.LevelInfo, LogDir: dir})
	require.NoError(t, err)
	logger.With(logging.String(logging.FieldComponent, "job")).Info("round complete",
		logging.String(logging.FieldStage, "iterate"),
		logging.Int(logging.FieldRound, 3),
		logging.Float64("metric", 41.5),
		logging.Duration("stage_duration", 1500*time.Millisecond),
	)
	require.NoError(t, closer.Close())

	msgs, err := logs.ReadJobLog(context.Background(), logging.JobLogPath(dir, "j2"))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "info", msgs[0].Level)
	require.Equal(t, "job", msgs[0].Component)
	require.Equal(t, "iterate", msgs[0].Stage)
	require.Equal(t, "round complete", msgs[0].Text)
	require.Equal(t, map[string]string{"round": "3", "metric": "41.5", "stage_duration": "1.5s"}, msgs[0].Fields)
}
