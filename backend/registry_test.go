package backend

import (
	"errors"
	"testing"
)

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("missing", Options{})
	var berr *Error
	if !errors.As(err, &berr) || berr.Kind != ErrInit {
		t.Fatalf("want init error, got %v", err)
	}
}

func TestRegisterAndOpen(t *testing.T) {
	var got Options
	Register("fake", func(opts Options) (Runtime, error) {
		got = opts
		return nil, nil
	})
	if _, err := Open("fake", Options{StackTraceLimit: 3}); err != nil {
		t.Fatal(err)
	}
	if got.Logger == nil || got.StackTraceLimit != 3 {
		t.Fatalf("options not passed through: %+v", got)
	}
	found := false
	for _, name := range Backends() {
		if name == "fake" {
			found = true
		}
	}
	if !found {
		t.Fatal("registered backend not listed")
	}
}

func TestLocationHelpers(t *testing.T) {
	resource, line, text, ok := SplitLocation("main.lua:12: something failed")
	if !ok || resource != "main.lua" || line != 12 || text != "something failed" {
		t.Fatalf("SplitLocation = %q %d %q %v", resource, line, text, ok)
	}
	if _, _, text, ok := SplitLocation("no location here"); ok || text != "no location here" {
		t.Fatal("SplitLocation matched plain text")
	}

	resource, line, ok = StackLocation("Error: x\n    at <native code>\n    at script.js:4:9\n")
	if !ok || resource != "script.js" || line != 4 {
		t.Fatalf("StackLocation = %q %d %v", resource, line, ok)
	}

	if n := SyntaxLine("a.js: Line 7:3 Unexpected token"); n != 7 {
		t.Fatalf("SyntaxLine = %d", n)
	}
	if n := SyntaxLine("b.lua line:2(column:4) near 'x'"); n != 2 {
		t.Fatalf("SyntaxLine = %d", n)
	}
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("disk full")
	err := &Error{Kind: ErrRuntime, Cause: cause}
	if err.Error() != "runtime: disk full" || !errors.Is(err, cause) {
		t.Fatalf("unexpected %q", err.Error())
	}
	ex := &Exception{Message: "boom", Resource: "x.lua", Line: 3}
	if ex.Error() != "x.lua:3: boom" {
		t.Fatalf("unexpected %q", ex.Error())
	}
}
