package exectool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"bemflow/internal/logging"
	"bemflow/internal/services"
)

// Executor abstracts command execution so tests can stub tools.
type Executor interface {
	Run(ctx context.Context, command []string, stdin []byte) ([]byte, error)
}

// commandExecutor executes commands using os/exec.
type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, command []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, command[0], command[1:]...) //nolint:gosec
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if tail := lastLine(stderr.String()); tail != "" {
			return nil, fmt.Errorf("%w: %s", err, tail)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}

// envelope is the JSON document written to a tool's stdin.
type envelope struct {
	Operation string `json:"operation"`
	Request   any    `json:"request"`
}

// Tool is one configured external command speaking JSON over stdio.
type Tool struct {
	name    string
	command []string
	exec    Executor
	timeout time.Duration
	logger  *slog.Logger
}

func newTool(name, command string, exec Executor, timeout time.Duration, logger *slog.Logger) *Tool {
	return &Tool{
		name:    name,
		command: strings.Fields(command),
		exec:    exec,
		timeout: timeout,
		logger:  logger,
	}
}

// Name returns the collaborator name the tool serves.
func (t *Tool) Name() string { return t.name }

// call runs the tool once for operation, decoding its stdout into resp.
func (t *Tool) call(ctx context.Context, operation string, req, resp any) error {
	stage, _ := services.StageFromContext(ctx)
	if len(t.command) == 0 {
		return services.Wrap(services.ErrConfiguration, stage, operation, t.name+" command is empty", nil)
	}
	payload, err := json.Marshal(envelope{Operation: operation, Request: req})
	if err != nil {
		return services.Wrap(services.ErrExternalTool, stage, operation, "encode request", err)
	}

	runCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	started := time.Now()
	out, err := t.exec.Run(runCtx, t.command, payload)
	elapsed := time.Since(started)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return services.Wrap(services.ErrCanceled, stage, operation, t.name+" interrupted", ctx.Err())
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return services.WithHint(
				services.Wrap(services.ErrTimeout, stage, operation, fmt.Sprintf("%s exceeded %s", t.name, t.timeout), err),
				"raise [tools] timeout_seconds or check the tool for hangs",
			)
		default:
			return services.Wrap(services.ErrExternalTool, stage, operation, t.name+" failed", err)
		}
	}
	logging.WithContext(ctx, t.logger).Debug("tool call completed",
		logging.String("tool", t.name),
		logging.String("operation", operation),
		logging.Duration("elapsed", elapsed),
		logging.Int("response_bytes", len(out)),
	)
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(out, resp); err != nil {
		return services.WithHint(
			services.Wrap(services.ErrExternalTool, stage, operation, t.name+" returned malformed JSON", err),
			"the tool must print a single JSON document on stdout",
		)
	}
	return nil
}

func invoke[Resp any](ctx context.Context, t *Tool, operation string, req any) (Resp, error) {
	var resp Resp
	err := t.call(ctx, operation, req, &resp)
	return resp, err
}
