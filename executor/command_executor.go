package executor

import (
	"context"
	"os/exec"
	"strings"

	"github.com/dataforge/bqm2-engine/common"
)

// ShellRunner runs a `.bashtemplate` resource's rendered command through a
// shell, implementing resource.BashRunner. It is the teacher's
// CommandExecutor narrowed from "one of several action-type executors
// selected by CanHandle" to bqm2's single always-applicable bash backend,
// since a Bash resource's kind already determines that a shell command (not
// an HTTP call or SQL job) is what runs.
type ShellRunner struct {
	Shell  string
	Logger *common.ContextLogger
}

// NewShellRunner returns a ShellRunner using /bin/sh, matching the
// teacher's NewCommandExecutor default.
func NewShellRunner(logger *common.ContextLogger) *ShellRunner {
	return &ShellRunner{Shell: "/bin/sh", Logger: logger}
}

// Run executes command via the configured shell and returns its combined
// stdout+stderr, the same CombinedOutput call the teacher's CommandExecutor
// used.
func (r *ShellRunner) Run(ctx context.Context, command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", errEmptyCommand
	}

	log := r.Logger
	if log != nil {
		log = log.WithField("command", command)
		log.Debug("running bash resource")
	}

	cmd := exec.CommandContext(ctx, r.Shell, "-c", command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if log != nil {
			log.WithField("output", string(output)).WithError(err).Error("bash resource failed")
		}
		return string(output), err
	}
	return string(output), nil
}

var errEmptyCommand = &emptyCommandError{}

type emptyCommandError struct{}

func (*emptyCommandError) Error() string { return "executor: empty bash command" }
