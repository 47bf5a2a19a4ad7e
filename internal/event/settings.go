package event

import (
	"bufio"
	"fmt"
	"strings"
)

// Settings holds one template's %!key value header block of per-template
// settings.
type Settings struct {
	Name string
	Filename string
	Events []string
	Topic string
	NoZMQ bool
	NoFile bool
	RootPath string
	// RequiredVars lists user-variable names that must be registered
	// (via --uservar) before this template can be used at all.
	RequiredVars []string
}

// splitSettings pulls leading "%!key value" lines off raw and returns the
// parsed Settings plus the remaining template body.
func splitSettings(raw string) (Settings, string, error) {
	s := Settings{}
	lines := bufio.NewScanner(strings.NewReader(raw))
	lines.Buffer(make([]byte, 64*1024), 1024*1024)

	var consumed int
	for lines.Scan() {
		line := lines.Text()
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "%!") {
			break
		}
		consumed += len(line) + 1

		body := strings.TrimSpace(strings.TrimPrefix(trimmed, "%!"))
		sp := strings.IndexByte(body, ' ')
		var key, val string
		if sp < 0 {
			key = body
		} else {
			key = body[:sp]
			val = strings.TrimSpace(body[sp+1:])
		}

		if err := applySetting(&s, key, val); err != nil {
			return Settings{}, "", err
		}
	}
	if err := lines.Err(); err != nil {
		return Settings{}, "", fmt.Errorf("event: scanning settings header: %w", err)
	}

	if consumed > len(raw) {
		consumed = len(raw)
	}
	return s, raw[consumed:], nil
}

func applySetting(s *Settings, key, val string) error {
	switch key {
	case "name":
		s.Name = val
	case "filename":
		s.Filename = val
	case "event":
		for _, e := range strings.Split(val, ",") {
			if e = strings.TrimSpace(e); e != "" {
				s.Events = append(s.Events, e)
			}
		}
	case "topic":
		s.Topic = val
	case "nozmq":
		s.NoZMQ = true
	case "nofile":
		s.NoFile = true
	case "rootpath":
		s.RootPath = val
	case "required":
		for _, v := range strings.Split(val, ",") {
			if v = strings.TrimSpace(v); v != "" {
				s.RequiredVars = append(s.RequiredVars, v)
			}
		}
	default:
		return fmt.Errorf("event: unknown template setting %q", key)
	}
	return nil
}
