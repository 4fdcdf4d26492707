// Package printer hands finished artifacts to the operating system's print
// mechanism. It does not manage queues or dialogs.
package printer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/video-system/go-photo-kiosk/internal/runner"
	"github.com/video-system/go-photo-kiosk/pkg/faults"
)

// DefaultTimeout bounds one print submission.
const DefaultTimeout = 30 * time.Second

// Command builds the argv of a print submission.
type Command func(path, printer string) (name string, args []string)

// Commands holds the print command per GOOS.
var Commands = map[string]Command{
	"linux":  lp,
	"darwin": lp,
	"windows": func(path, printer string) (string, []string) {
		if printer != "" {
			return "mspaint", []string{"/pt", path, printer}
		}
		return "mspaint", []string{"/pt", path}
	},
}

func lp(path, printer string) (string, []string) {
	args := []string{}
	if printer != "" {
		args = append(args, "-d", printer)
	}
	return "lp", append(args, path)
}

// Config holds printer configuration
type Config struct {
	// Name is the destination printer; empty uses the system default.
	Name    string        `yaml:"name" env:"NAME"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Command overrides the platform command binary, e.g. a full lp path.
	Command string `yaml:"command" env:"COMMAND"`
}

// Printer submits files to the OS print mechanism.
type Printer struct {
	cfg    Config
	goos   string
	logger *slog.Logger
}

// New creates a Printer for the running platform.
func New(cfg Config, logger *slog.Logger) *Printer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Printer{cfg: cfg, goos: runtime.GOOS, logger: logger}
}

// Print submits path copies times. Each copy is a separate submission so
// the Windows path, which has no copies flag, behaves like the others.
func (p *Printer) Print(ctx context.Context, path string, copies int) error {
	const op = "printer.Print"

	if _, err := os.Stat(path); err != nil {
		return faults.New(op, faults.ErrInputMissing, path)
	}
	build, ok := Commands[p.goos]
	if !ok {
		return faults.New(op, faults.ErrToolUnavailable, "no print command for "+p.goos)
	}
	if copies < 1 {
		copies = 1
	}

	name, args := build(path, p.cfg.Name)
	if p.cfg.Command != "" {
		name = p.cfg.Command
	}

	for i := 1; i <= copies; i++ {
		res, err := runner.Run(ctx, name, args, runner.Options{Timeout: p.cfg.Timeout})
		if err != nil {
			if ctx.Err() != nil {
				return faults.Wrap(op, ctx.Err())
			}
			return faults.New(op, faults.ErrToolUnavailable, err.Error())
		}
		switch {
		case res.TimedOut:
			return faults.New(op, fmt.Errorf("%w: %w", faults.ErrPrintFailed, faults.ErrTimeout),
				"no response after "+p.cfg.Timeout.String())
		case res.Canceled:
			return faults.Wrap(op, ctx.Err())
		case !res.Success():
			return faults.New(op, faults.ErrPrintFailed,
				"exit "+strconv.Itoa(res.Code)+": "+strings.TrimSpace(string(res.Stderr)))
		}
		p.logger.Info("printer: job submitted", "path", path, "copy", i, "of", copies,
			"output", strings.TrimSpace(string(res.Stdout)))
	}
	return nil
}
