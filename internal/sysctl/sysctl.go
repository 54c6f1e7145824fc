// Package sysctl runs the system verbs of the command grammar: reboot and
// shutdown through configured command lines, quit and restart through a hook
// owned by main.
package sysctl

import (
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	"onairsync/internal/apperr"
	"onairsync/internal/config"
	"onairsync/internal/logger"
)

const commandTimeout = 30 * time.Second

// ExitFunc ends the process. restart asks main to re-exec the binary after a
// clean shutdown.
type ExitFunc func(restart bool)

// Controller implements dispatch.ProcessControl.
type Controller struct {
	reboot   []string
	shutdown []string
	exit     ExitFunc
	log      *logger.Log
}

// New creates a controller. exit may be nil, in which case QUIT and RESTART fail.
func New(cfg config.SystemConf, exit ExitFunc, log *logger.Log) *Controller {
	return &Controller{
		reboot:   cfg.Reboot,
		shutdown: cfg.Shutdown,
		exit:     exit,
		log:      log.Module("system"),
	}
}

// Reboot runs the configured reboot command.
func (c *Controller) Reboot(ctx context.Context) error {
	return c.run(ctx, "reboot", c.reboot)
}

// Shutdown runs the configured shutdown command.
func (c *Controller) Shutdown(ctx context.Context) error {
	return c.run(ctx, "shutdown", c.shutdown)
}

// Quit ends the process.
func (c *Controller) Quit() error {
	return c.terminate(false)
}

// Restart ends the process and re-executes it.
func (c *Controller) Restart() error {
	return c.terminate(true)
}

func (c *Controller) terminate(restart bool) error {
	if c.exit == nil {
		return apperr.ProcessFailed(nil, "process exit not available")
	}
	c.log.With(logger.Fields{"restart": restart}).Warn("exit requested")
	go c.exit(restart)
	return nil
}

func (c *Controller) run(ctx context.Context, verb string, argv []string) error {
	if len(argv) == 0 || argv[0] == "" {
		return apperr.ProcessFailed(nil, "%s: no command configured", verb)
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	log := c.log.With(logger.Fields{"verb": verb, "argv": strings.Join(argv, " ")})
	log.Warn("running system command")
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err == nil {
		return nil
	}
	output := strings.TrimSpace(string(out))
	log.With(logger.Fields{"error": err.Error(), "output": output}).Error("system command failed")
	if deniedError(err, output) {
		return apperr.PermissionDenied(err, "%s: %s", verb, firstLine(output, err))
	}
	return apperr.ProcessFailed(err, "%s: %s", verb, firstLine(output, err))
}

// deniedError reports whether a failed command was refused for lack of
// privilege: not executable, exit status 126, or a sudo/polkit refusal.
func deniedError(err error, output string) bool {
	if errors.Is(err, fs.ErrPermission) {
		return true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 126 {
		return true
	}
	lower := strings.ToLower(output)
	for _, s := range []string{"permission denied", "not permitted", "password is required", "not authorized", "interactive authentication required"} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func firstLine(output string, err error) string {
	if output == "" {
		return err.Error()
	}
	if i := strings.IndexByte(output, '\n'); i >= 0 {
		return output[:i]
	}
	return output
}
