package event

import "testing"

func TestContextSetAndLookupUserVar(t *testing.T) {
	ctx := NewContext(nil)
	ctx.SetUserVar(UserVar{Name: "greeting", Value: "hi"})
	v, ok, err := ctx.lookupUserVar("greeting")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v != "hi" {
		t.Errorf("got %q, %v", v, ok)
	}
}

func TestContextLookupMissingUserVar(t *testing.T) {
	ctx := NewContext(nil)
	_, ok, err := ctx.lookupUserVar("missing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected ok=false for a var that was never set")
	}
}

func TestContextPushLoopVarRestoresPrevious(t *testing.T) {
	ctx := NewContext(nil)
	ctx.SetUserVar(UserVar{Name: "x", Value: "outer"})

	pop := ctx.pushLoopVar("x", "inner")
	v, _, _ := ctx.lookupUserVar("x")
	if v != "inner" {
		t.Fatalf("got %q during loop, want inner", v)
	}
	pop()
	v, _, _ = ctx.lookupUserVar("x")
	if v != "outer" {
		t.Fatalf("got %q after pop, want outer restored", v)
	}
}

func TestContextPushLoopVarRemovesWhenNoPrevious(t *testing.T) {
	ctx := NewContext(nil)
	pop := ctx.pushLoopVar("y", "1")
	pop()
	if _, ok, _ := ctx.lookupUserVar("y"); ok {
		t.Error("expected y to be removed after pop when it had no previous binding")
	}
}

func TestContextCommandBackedVarFailurePropagates(t *testing.T) {
	ctx := NewContext(func(string) (string, error) {
		return "", errFakeCommand
	})
	ctx.SetUserVar(UserVar{Name: "x", Value: "false", IsCommand: true})
	if _, _, err := ctx.lookupUserVar("x"); err == nil {
		t.Fatal("expected the capture error to propagate")
	}
}

var errFakeCommand = fakeErr("boom")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
