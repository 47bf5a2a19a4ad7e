package catpath

import "testing"

func TestNewJoinsDirAndFilename(t *testing.T) {
	p := New("/tmp/out", "match0.png")
	if p.Full != "/tmp/out/match0.png" {
		t.Errorf("got %q", p.Full)
	}
	if p.Dir != "/tmp/out" || p.Filename != "match0.png" {
		t.Errorf("got %#v", p)
	}
}

func TestFromFullSplitsDirAndFilename(t *testing.T) {
	p := FromFull("/tmp/out/match0.png")
	if p.Dir != "/tmp/out" || p.Filename != "match0.png" {
		t.Errorf("got %#v", p)
	}
	if p.Full != "/tmp/out/match0.png" {
		t.Errorf("got %q", p.Full)
	}
}

func TestSetFilenameRecomputesFull(t *testing.T) {
	p := New("/tmp/out", "a.png")
	p.SetFilename("b.png")
	if p.Full != "/tmp/out/b.png" {
		t.Errorf("got %q", p.Full)
	}
}

func TestSetDirRecomputesFull(t *testing.T) {
	p := New("/tmp/out", "a.png")
	p.SetDir("/tmp/other")
	if p.Full != "/tmp/other/a.png" {
		t.Errorf("got %q", p.Full)
	}
}

func TestRelComputesRelativePath(t *testing.T) {
	p := New("/tmp/out/sub", "a.png")
	rel, err := p.Rel("/tmp/out")
	if err != nil {
		t.Fatal(err)
	}
	if rel != "sub/a.png" {
		t.Errorf("got %q", rel)
	}
}

func TestStringReturnsFull(t *testing.T) {
	p := New("dir", "file.png")
	if p.String() != p.Full {
		t.Errorf("String() = %q, want %q", p.String(), p.Full)
	}
}
