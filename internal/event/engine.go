package event

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Publisher publishes a rendered template body on a topic. It is satisfied
// by internal/pubsub's implementations; event takes the narrow interface
// rather than importing pubsub so the template engine never needs to know
// about websockets or ZeroMQ.
type Publisher interface {
	Publish(topic string, data []byte) error
}

// CommandSpawn fires off a fully-expanded command line without waiting for
// it to finish, used for --<event>_cmd flags. It is satisfied by
// internal/cmdrunner.Run.
type CommandSpawn func(cmdLine string) error

// TemplateDefinition is one template loaded through --input: a parsed body
// plus its settings header.
type TemplateDefinition struct {
	Settings Settings
	nodes []node
	filenameNodes []node
}

// ParseTemplateDefinition parses a raw template (settings header plus
// body) loaded from a CLI argument or a template file. The %!filename
// setting is itself a template and is parsed here too, so it renders
// through the same variable resolver as the body instead of being
// written out as a literal string.
func ParseTemplateDefinition(raw string) (*TemplateDefinition, error) {
	settings, body, err := splitSettings(raw)
	if err != nil {
		return nil, err
	}
	nodes, err := parseTemplate(body)
	if err != nil {
		return nil, fmt.Errorf("event: parsing template %q: %w", settings.Name, err)
	}
	var filenameNodes []node
	if settings.Filename != "" {
		filenameNodes, err = parseTemplate(settings.Filename)
		if err != nil {
			return nil, fmt.Errorf("event: parsing template %q filename: %w", settings.Name, err)
		}
	}
	return &TemplateDefinition{Settings: settings, nodes: nodes, filenameNodes: filenameNodes}, nil
}

// EventCommand is one --<event>_cmd registration: an unparsed command line
// template (rendered the same way as a %var%-bearing template body, then
// handed to Spawn).
type EventCommand struct {
	Event Name
	Nodes []node
}

// ParseEventCommand parses a raw "--<event>_cmd" argument's value as a
// one-line template.
func ParseEventCommand(ev Name, raw string) (*EventCommand, error) {
	nodes, err := parseTemplate(raw)
	if err != nil {
		return nil, fmt.Errorf("event: parsing %s command: %w", ev, err)
	}
	return &EventCommand{Event: ev, Nodes: nodes}, nil
}

// Engine owns every registered template and command, and drives Trigger.
type Engine struct {
	Templates []*TemplateDefinition
	Commands []*EventCommand
	Context *Context
	Publish Publisher // nil disables pub/sub delivery entirely
	Spawn CommandSpawn // nil disables command execution entirely
}

// NewEngine returns an empty Engine. Use AddTemplate/AddCommand or set
// Templates/Commands directly before the first Trigger call.
func NewEngine(ctx *Context, pub Publisher, spawn CommandSpawn) *Engine {
	return &Engine{Context: ctx, Publish: pub, Spawn: spawn}
}

// AddTemplate registers t, after checking that every user variable its
// %!required list names was registered with the engine's Context. A
// template naming a variable that was never set with --uservar is
// rejected outright, matching the original's load-time check.
func (e *Engine) AddTemplate(t *TemplateDefinition) error {
	for _, name := range t.Settings.RequiredVars {
		if e.Context == nil || !e.Context.HasUserVar(name) {
			return fmt.Errorf("event: template %q requires user variable %q, define it with --uservar %q <value>",
				t.Settings.Name, name, name)
		}
	}
	e.Templates = append(e.Templates, t)
	return nil
}

func (e *Engine) AddCommand(c *EventCommand) { e.Commands = append(e.Commands, c) }

// Trigger renders and dispatches every template and command registered for
// ev, in registration order: file write, then pub/sub publish, then
// command spawn, matching the ordering.
func (e *Engine) Trigger(ev Name, snap Snapshot) error {
	resolve := newResolver(snap)

	for _, t := range e.Templates {
		if !matchesEvent(t.Settings.Events, ev) {
			continue
		}
		if err := e.fireTemplate(t, resolve); err != nil {
			slog.Error("template render failed", "name", t.Settings.Name, "event", ev, "err", err)
		}
	}

	for _, c := range e.Commands {
		if c.Event != ev {
			continue
		}
		if err := e.fireCommand(c, resolve); err != nil {
			slog.Error("event command failed", "event", ev, "err", err)
		}
	}
	return nil
}

func (e *Engine) fireTemplate(t *TemplateDefinition, resolve func(string) (string, bool, error)) error {
	out, err := render(t.nodes, e.Context, resolve)
	if err != nil {
		return err
	}

	if !t.Settings.NoFile && len(t.filenameNodes) > 0 {
		name, err := render(t.filenameNodes, e.Context, resolve)
		if err != nil {
			return fmt.Errorf("rendering filename for %q: %w", t.Settings.Name, err)
		}
		path := sanitizeFilename(name)
		if t.Settings.RootPath != "" {
			path = filepath.Join(t.Settings.RootPath, path)
		}
		if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
			return fmt.Errorf("writing %q: %w", path, err)
		}
	}

	if !t.Settings.NoZMQ && e.Publish != nil && t.Settings.Topic != "" {
		if err := e.Publish.Publish(t.Settings.Topic, []byte(out)); err != nil {
			return fmt.Errorf("publishing to %q: %w", t.Settings.Topic, err)
		}
	}
	return nil
}

// sanitizeFilename replaces whitespace and ':' with '_' in a rendered
// filename template's output, since rendered variables (timestamps,
// descriptions) routinely contain both.
func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == ':':
			return '_'
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			return '_'
		default:
			return r
		}
	}, name)
}

func (e *Engine) fireCommand(c *EventCommand, resolve func(string) (string, bool, error)) error {
	cmdLine, err := render(c.Nodes, e.Context, resolve)
	if err != nil {
		return err
	}
	if e.Spawn == nil {
		return nil
	}
	return e.Spawn(cmdLine)
}
