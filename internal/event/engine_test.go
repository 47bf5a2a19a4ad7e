package event

import (
	"os"
	"path/filepath"
	"testing"
)

type recordingPublisher struct {
	topic string
	data  []byte
}

func (p *recordingPublisher) Publish(topic string, data []byte) error {
	p.topic = topic
	p.data = append([]byte(nil), data...)
	return nil
}

func snapshotFor(state string) Snapshot {
	return Snapshot{State: state, Group: GroupSnapshot{CurrentIdx: -1}}
}

func TestEngineTriggerWritesFileAndPublishes(t *testing.T) {
	dir := t.TempDir()
	def, err := ParseTemplateDefinition("%!name t1\n%!event match_done\n%!topic cat/match\n%!filename out.txt\n%!rootpath " + dir + "\nstate=%state%")
	if err != nil {
		t.Fatal(err)
	}

	pub := &recordingPublisher{}
	engine := NewEngine(NewContext(nil), pub, nil)
	if err := engine.AddTemplate(def); err != nil {
		t.Fatal(err)
	}

	if err := engine.Trigger(MatchDone, snapshotFor("matching")); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "state=matching" {
		t.Errorf("got file contents %q", data)
	}
	if pub.topic != "cat/match" || string(pub.data) != "state=matching" {
		t.Errorf("got publish %q=%q", pub.topic, pub.data)
	}
}

func TestEngineTriggerSkipsUnmatchedEvents(t *testing.T) {
	def, err := ParseTemplateDefinition("%!name t1\n%!event do_lockout\nbody")
	if err != nil {
		t.Fatal(err)
	}
	pub := &recordingPublisher{}
	engine := NewEngine(NewContext(nil), pub, nil)
	if err := engine.AddTemplate(def); err != nil {
		t.Fatal(err)
	}

	if err := engine.Trigger(MatchDone, snapshotFor("x")); err != nil {
		t.Fatal(err)
	}
	if pub.topic != "" {
		t.Error("expected no publish for a non-matching event")
	}
}

func TestEngineAddTemplateRejectsUndeclaredRequiredVar(t *testing.T) {
	def, err := ParseTemplateDefinition("%!name t1\n%!event match_done\n%!required myvar\nbody")
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(NewContext(nil), nil, nil)

	if err := engine.AddTemplate(def); err == nil {
		t.Fatal("expected AddTemplate to reject a template whose required var was never set")
	}
}

func TestEngineAddTemplateAcceptsRequiredVarSetViaUservar(t *testing.T) {
	def, err := ParseTemplateDefinition("%!name t1\n%!event match_done\n%!required myvar\nvalue=%myvar%")
	if err != nil {
		t.Fatal(err)
	}
	ctx := NewContext(nil)
	ctx.SetUserVar(UserVar{Name: "myvar", Value: "hello"})
	engine := NewEngine(ctx, nil, nil)

	if err := engine.AddTemplate(def); err != nil {
		t.Fatal(err)
	}
}

func TestEngineTriggerTemplateFailureIsSwallowed(t *testing.T) {
	def, err := ParseTemplateDefinition("%!name t1\n%!event match_done\n%missing%")
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(NewContext(nil), nil, nil)
	if err := engine.AddTemplate(def); err != nil {
		t.Fatal(err)
	}

	if err := engine.Trigger(MatchDone, snapshotFor("x")); err != nil {
		t.Fatalf("expected a template render failure to be swallowed, got %v", err)
	}
}

func TestEngineTriggerRunsEventCommand(t *testing.T) {
	cmd, err := ParseEventCommand(MatchDone, "echo %state%")
	if err != nil {
		t.Fatal(err)
	}
	var spawned string
	engine := NewEngine(NewContext(nil), nil, func(cmdLine string) error {
		spawned = cmdLine
		return nil
	})
	engine.AddCommand(cmd)

	if err := engine.Trigger(MatchDone, snapshotFor("lockout")); err != nil {
		t.Fatal(err)
	}
	if spawned != "echo lockout" {
		t.Errorf("got spawned command %q", spawned)
	}
}

func TestEngineTriggerRendersAndSanitizesFilename(t *testing.T) {
	dir := t.TempDir()
	def, err := ParseTemplateDefinition("%!name t1\n%!event match_done\n%!rootpath " + dir + "\n%!filename state %state%.txt\nbody")
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(NewContext(nil), nil, nil)
	if err := engine.AddTemplate(def); err != nil {
		t.Fatal(err)
	}

	if err := engine.Trigger(MatchDone, snapshotFor("keep_open")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "state_keep_open.txt")); err != nil {
		t.Errorf("expected a rendered, sanitized filename: %v", err)
	}
}

func TestEngineTriggerNoFileSettingSkipsWrite(t *testing.T) {
	dir := t.TempDir()
	def, err := ParseTemplateDefinition("%!name t1\n%!event match_done\n%!nofile\n%!filename " + filepath.Join(dir, "out.txt") + "\nbody")
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(NewContext(nil), nil, nil)
	if err := engine.AddTemplate(def); err != nil {
		t.Fatal(err)
	}

	if err := engine.Trigger(MatchDone, snapshotFor("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.txt")); !os.IsNotExist(err) {
		t.Error("expected nofile to suppress the write")
	}
}
