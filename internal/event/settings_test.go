package event

import "testing"

func TestSplitSettingsParsesHeader(t *testing.T) {
	raw := "%!name mytemplate\n%!filename out.txt\n%!event match_done,do_lockout\n%!required myvar,othervar\nbody text"
	s, body, err := splitSettings(raw)
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "mytemplate" || s.Filename != "out.txt" {
		t.Errorf("got %#v", s)
	}
	if len(s.Events) != 2 || s.Events[0] != "match_done" || s.Events[1] != "do_lockout" {
		t.Errorf("got events %#v", s.Events)
	}
	if len(s.RequiredVars) != 2 || s.RequiredVars[0] != "myvar" || s.RequiredVars[1] != "othervar" {
		t.Errorf("got required vars %#v", s.RequiredVars)
	}
	if body != "body text" {
		t.Errorf("got body %q", body)
	}
}

func TestSplitSettingsNoHeader(t *testing.T) {
	s, body, err := splitSettings("just text, no header")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "" || s.Filename != "" || len(s.Events) != 0 || len(s.RequiredVars) != 0 {
		t.Errorf("expected zero Settings, got %#v", s)
	}
	if body != "just text, no header" {
		t.Errorf("got %q", body)
	}
}

func TestSplitSettingsUnknownKey(t *testing.T) {
	if _, _, err := splitSettings("%!bogus value\nbody"); err == nil {
		t.Fatal("expected an error for an unknown setting key")
	}
}

func TestSplitSettingsBooleanFlags(t *testing.T) {
	s, _, err := splitSettings("%!nozmq\n%!nofile\nbody")
	if err != nil {
		t.Fatal(err)
	}
	if !s.NoZMQ || !s.NoFile {
		t.Errorf("got %#v", s)
	}
}

func TestSplitSettingsRequiredCommaList(t *testing.T) {
	s, _, err := splitSettings("%!required  myvar , other \nbody")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.RequiredVars) != 2 || s.RequiredVars[0] != "myvar" || s.RequiredVars[1] != "other" {
		t.Errorf("got %#v, want a trimmed two-element list", s.RequiredVars)
	}
}
