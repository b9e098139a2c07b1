package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"bemflow/internal/ipc"
	"bemflow/internal/joblog"
	"bemflow/internal/jobs"
	"bemflow/internal/workflow"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func renderField(label, value string) string {
	return fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", value)
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func jobStatusKind(status string) statusKind {
	switch jobs.Status(status) {
	case jobs.StatusFinished:
		return statusOK
	case jobs.StatusError:
		return statusError
	case jobs.StatusCanceled:
		return statusWarn
	default:
		return statusInfo
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func jobDuration(job ipc.JobInfo) string {
	if job.StartedAt.IsZero() {
		return "-"
	}
	end := job.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(job.StartedAt).Round(time.Millisecond).String()
}

func renderJobTable(list []ipc.JobInfo, colorize bool) string {
	rows := make([][]string, 0, len(list))
	for _, job := range list {
		stage := job.CurrentStage
		if job.FailedStage != "" {
			stage = job.FailedStage
		}
		status := job.Status
		if job.CancelPending {
			status += " (cancel pending)"
		}
		rows = append(rows, []string{
			job.ID,
			job.Name,
			status,
			workflow.StageLabel(stage),
			formatTime(job.CreatedAt),
			jobDuration(job),
		})
	}
	return renderTable(
		[]string{"ID", "Name", "Status", "Stage", "Created", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
		colorize,
	)
}

func renderJobDetail(out io.Writer, job ipc.JobInfo, colorize bool) {
	for _, line := range renderSectionHeader("Job "+job.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderField("Name", job.Name))
	fmt.Fprintln(out, renderStatusLine("Status", jobStatusKind(job.Status), job.Status, colorize))
	if job.CancelPending {
		fmt.Fprintln(out, renderField("Cancel", "pending start (job ends canceled when started)"))
	}
	if job.CurrentStage != "" && !jobs.Status(job.Status).IsTerminal() {
		fmt.Fprintln(out, renderField("Stage", workflow.StageLabel(job.CurrentStage)))
	}
	if job.FailedStage != "" {
		fmt.Fprintln(out, renderField("Failed stage", workflow.StageLabel(job.FailedStage)))
	}
	if job.Error != "" {
		fmt.Fprintln(out, renderField("Error", job.Error))
	}
	fmt.Fprintln(out, renderField("Created", formatTime(job.CreatedAt)))
	fmt.Fprintln(out, renderField("Started", formatTime(job.StartedAt)))
	fmt.Fprintln(out, renderField("Ended", formatTime(job.EndedAt)))
	fmt.Fprintln(out, renderField("Duration", jobDuration(job)))
	fmt.Fprintln(out, renderField("Live", yesNo(job.Live)))
	if it := job.Iteration; it != nil {
		fmt.Fprintln(out, renderField("Iteration", fmt.Sprintf("%d rounds (%d failed), stopped: %s", it.Rounds, it.FailedRounds, it.StopReason)))
	}
	for _, artifact := range job.Artifacts {
		fmt.Fprintln(out, renderField("Artifact", fmt.Sprintf("%s (%d files)", artifact.Location, len(artifact.Files))))
	}

	if len(job.Stages) == 0 {
		return
	}
	fmt.Fprintln(out)
	rows := make([][]string, 0, len(job.Stages))
	for _, st := range job.Stages {
		detail := st.Reason
		if st.Error != "" {
			detail = st.Error
		}
		name := workflow.StageLabel(st.Name)
		if st.Finalizer {
			name += " (finalizer)"
		}
		rows = append(rows, []string{
			name,
			st.Outcome,
			(time.Duration(st.DurationMS) * time.Millisecond).String(),
			detail,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Stage", "Outcome", "Duration", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
		colorize,
	))
}

func formatLogMessage(msg joblog.Message) string {
	var b strings.Builder
	b.WriteString(msg.Time.Local().Format("15:04:05"))
	b.WriteString(" ")
	fmt.Fprintf(&b, "%-5s", strings.ToUpper(msg.Level))
	if msg.Stage != "" {
		fmt.Fprintf(&b, " [%s]", workflow.StageLabel(msg.Stage))
	}
	b.WriteString(" ")
	b.WriteString(msg.Text)
	keys := make([]string, 0, len(msg.Fields))
	for k := range msg.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, msg.Fields[k])
	}
	return b.String()
}
