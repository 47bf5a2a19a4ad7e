// Package cmdrunner runs the command lines the event engine hands it after
// variable expansion: fire-and-forget for --<event>_cmd flags, and
// captured for command-backed --uservar values. The argv splitting
// follows HashiCorp's consul-template spawnChild helper.
package cmdrunner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"
)

// Run splits cmdLine with shell-word semantics and starts it without
// waiting for it to exit, used for --<event>_cmd flags where the daemon
// must not block its main loop on a user-supplied program.
func Run(cmdLine string) error {
	args, err := split(cmdLine)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("cmdrunner: starting %q: %w", cmdLine, err)
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

// Capture splits cmdLine, runs it to completion bounded by timeout, and
// returns its trimmed stdout, used to evaluate command-backed --uservar
// entries during template rendering.
func Capture(cmdLine string, timeout time.Duration) (string, error) {
	args, err := split(cmdLine)
	if err != nil {
		return "", err
	}
	if len(args) == 0 {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("cmdrunner: running %q: %w", cmdLine, err)
	}
	return trimTrailingNewline(out.String()), nil
}

func split(cmdLine string) ([]string, error) {
	p := shellwords.NewParser()
	p.ParseEnv = true
	p.ParseBacktick = true
	args, err := p.Parse(cmdLine)
	if err != nil {
		return nil, fmt.Errorf("cmdrunner: parsing %q: %w", cmdLine, err)
	}
	return args, nil
}

func trimTrailingNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
