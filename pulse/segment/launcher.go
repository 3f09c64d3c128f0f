package segment

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/kballard/go-shellquote"

	"github.com/teranos/ontogen/am"
	"github.com/teranos/ontogen/errors"
)

// Process is a running worker
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the worker exits. A non-zero exit is reported through
	// the exit code, not the error; err covers failures to wait at all.
	Wait() (exitCode int, err error)
}

// Launcher starts one worker per segment
type Launcher interface {
	Launch(ctx context.Context, d Descriptor) (Process, error)
}

// ExecLauncher starts workers as child processes. Each child inherits the
// parent environment plus SEGMENT_START and SEGMENT_SIZE.
type ExecLauncher struct {
	Argv []string
	Env  []string
	Dir  string
}

// NewExecLauncher splits command with shell quoting rules. An empty command
// runs this executable's worker subcommand.
func NewExecLauncher(command string) (*ExecLauncher, error) {
	if command == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, errors.Wrap(err, "failed to locate own executable")
		}
		return &ExecLauncher{Argv: []string{self, "worker"}}, nil
	}
	argv, err := shellquote.Split(command)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "segments.worker_command %q: %v", command, err)
	}
	if len(argv) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "segments.worker_command is blank")
	}
	return &ExecLauncher{Argv: argv}, nil
}

// Launch starts the worker for d
func (l *ExecLauncher) Launch(ctx context.Context, d Descriptor) (Process, error) {
	cmd := exec.CommandContext(ctx, l.Argv[0], l.Argv[1:]...)
	cmd.Dir = l.Dir
	cmd.Env = append(append(os.Environ(), l.Env...), am.SegmentEnv(d.Start, d.Size)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to attach stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to attach stderr")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start worker %s", shellquote.Join(l.Argv...))
	}
	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, errors.Wrap(err, "failed to wait for worker")
	}
	return 0, nil
}
