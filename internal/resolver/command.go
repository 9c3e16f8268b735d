package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bcnelson/ipauth-sync/internal/domain"
	"github.com/cyclopcam/logs"
)

// CommandError describes a failed provider command. Stderr is preferred over
// the exit status when describing it.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %s", e.Command, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() []error {
	if e.Err == nil {
		return []error{domain.ErrExternalCommand}
	}
	return []error{domain.ErrExternalCommand, e.Err}
}

// CommandResolver runs an external provider whose stdout is a comma-separated
// address list.
type CommandResolver struct {
	command string
	log     logs.Log
}

var _ Resolver = (*CommandResolver)(nil)

// NewCommandResolver creates a resolver that runs command through /bin/sh.
func NewCommandResolver(command string, logger logs.Log) *CommandResolver {
	return &CommandResolver{command: command, log: logger}
}

// Resolve runs the command. A non-zero exit, any stderr output, or an empty
// address list is a failure.
func (r *CommandResolver) Resolve(ctx context.Context) (domain.AddressSet, error) {
	out, err := r.run(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrResolution, err)
	}

	set := ParseAddressList(out)
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: %s produced no addresses", domain.ErrResolution, r.command)
	}
	warnInvalid(r.log, set.Sorted()...)
	return set, nil
}

func (r *CommandResolver) run(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", r.command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		cerr := &CommandError{Command: r.command, ExitCode: -1, Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cerr.ExitCode = exitErr.ExitCode()
		}
		return "", cerr
	}
	if stderr.Len() > 0 {
		return "", &CommandError{Command: r.command, Stderr: stderr.String()}
	}
	return stdout.String(), nil
}
