package event

import "fmt"

// MaxRecursion bounds how deep variable/inner-variable resolution can
// nest before a render aborts, matching the original's
// CATCIERGE_OUTPUT_MAX_RECURSION.
const MaxRecursion = 20

// UserVar is one entry from --uservar "name cmd-or-value". When IsCommand
// is true, evaluating the variable spawns Value as a shell command and
// uses its captured stdout; otherwise Value is used verbatim.
type UserVar struct {
	Name      string
	Value     string
	IsCommand bool
}

// CommandCapture runs a shell command line and returns its captured
// stdout, used to evaluate command-backed user variables. It is satisfied
// by internal/cmdrunner.Capture; Context takes it as a function value
// rather than importing cmdrunner directly so tests can stub it out
// without spawning a real shell.
type CommandCapture func(cmdLine string) (string, error)

// Context owns the user-variable hash map. Recursive expansion is bounded
// by the renderer's depth check against MaxRecursion, not by Context.
type Context struct {
	vars    map[string]UserVar
	capture CommandCapture

	expanding   bool // not read or written by any code path
	relativeRec bool // not read or written by any code path
}

// NewContext returns an empty Context. capture may be nil if no
// command-backed user variables are registered.
func NewContext(capture CommandCapture) *Context {
	return &Context{vars: map[string]UserVar{}, capture: capture}
}

// SetUserVar registers or replaces a user variable.
func (c *Context) SetUserVar(v UserVar) {
	c.vars[v.Name] = v
}

// HasUserVar reports whether name was registered with SetUserVar, used to
// validate a template's %!required list at registration time.
func (c *Context) HasUserVar(name string) bool {
	_, ok := c.vars[name]
	return ok
}

// pushLoopVar temporarily overrides a name with a literal value for the
// duration of a %for% iteration, returning a function that restores the
// previous binding (or removes it if there was none).
func (c *Context) pushLoopVar(name, value string) func() {
	prev, had := c.vars[name]
	c.vars[name] = UserVar{Name: name, Value: value}
	return func() {
		if had {
			c.vars[name] = prev
		} else {
			delete(c.vars, name)
		}
	}
}

// lookupUserVar resolves a user variable, running its backing command if
// it is command-backed.
func (c *Context) lookupUserVar(name string) (string, bool, error) {
	v, ok := c.vars[name]
	if !ok {
		return "", false, nil
	}
	if !v.IsCommand {
		return v.Value, true, nil
	}
	if c.capture == nil {
		return "", true, fmt.Errorf("event: user variable %q is command-backed but no command runner is configured", name)
	}
	out, err := c.capture(v.Value)
	if err != nil {
		return "", true, fmt.Errorf("event: user variable %q command failed: %w", name, err)
	}
	return out, true, nil
}
