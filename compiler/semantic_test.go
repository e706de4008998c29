package compiler

import (
	"strings"
	"testing"
)

func checkSource(t *testing.T, source string) []Diagnostic {
	t.Helper()
	return Check(mustParse(t, source))
}

func hasDiagnostic(diags []Diagnostic, substr string) bool {
	for _, d := range diags {
		if strings.Contains(d.Message, substr) {
			return true
		}
	}
	return false
}

func TestSemanticUndefinedVariable(t *testing.T) {
	diags := checkSource(t, "display total")
	if !hasDiagnostic(diags, `"total" may be used before it is assigned`) {
		t.Errorf("expected warning about total, got: %v", diags)
	}
}

func TestSemanticDefinedVariable(t *testing.T) {
	diags := checkSource(t, "set total to 1\ndisplay total\ncount is total + 1\ndisplay \"[count]\"")
	if len(diags) != 0 {
		t.Errorf("unexpected warnings: %v", diags)
	}
}

func TestSemanticInterpolatedNames(t *testing.T) {
	diags := checkSource(t, `display "Hi [who]"`)
	if !hasDiagnostic(diags, `"who"`) {
		t.Errorf("expected warning about who, got: %v", diags)
	}
}

func TestSemanticParametersAndGlobals(t *testing.T) {
	source := `action show with label
    display label
    display greeting
end action
set greeting to "hello"
show with "x"`
	if diags := checkSource(t, source); len(diags) != 0 {
		t.Errorf("unexpected warnings: %v", diags)
	}
}

func TestSemanticUndefinedAction(t *testing.T) {
	diags := checkSource(t, "launch\ndisplay compute(1)")
	if !hasDiagnostic(diags, `undefined action "launch"`) {
		t.Errorf("expected warning about launch, got: %v", diags)
	}
	if !hasDiagnostic(diags, `undefined action "compute"`) {
		t.Errorf("expected warning about compute, got: %v", diags)
	}
}

func TestSemanticCallBeforeDefinition(t *testing.T) {
	tests := []struct {
		name   string
		source string
		warn   bool
	}{
		{"top level before", "greet\naction greet\ndisplay \"hi\"\nend action", true},
		{"top level after", "action greet\ndisplay \"hi\"\nend action\ngreet", false},
		{"inside loop before", "set n to 1\nwhile n > 0\ngreet\nset n to n - 1\nend while\naction greet\ndisplay \"hi\"\nend action", true},
		{"from a later action body", "action first\nsecond\nend action\naction second\ndisplay \"hi\"\nend action\nfirst", false},
		{"recursive", "action countdown with n\nif n > 0 then\ncountdown(n - 1)\nend if\nend action\ncountdown(3)", false},
	}
	for _, tt := range tests {
		diags := checkSource(t, tt.source)
		if got := hasDiagnostic(diags, "called before it is defined"); got != tt.warn {
			t.Errorf("%s: warned = %v, want %v (diagnostics: %v)", tt.name, got, tt.warn, diags)
		}
	}
}

func TestSemanticArgumentCount(t *testing.T) {
	source := `action add with a and b
    give back a + b
end action
display add(1)`
	diags := checkSource(t, source)
	if !hasDiagnostic(diags, `action "add" expects 2 argument(s), got 1`) {
		t.Errorf("expected arity warning, got: %v", diags)
	}
}

func TestSemanticDuplicateDefinitions(t *testing.T) {
	source := `action a
end action
task a
end task
data D
end data
data D
end data`
	diags := checkSource(t, source)
	if !hasDiagnostic(diags, `duplicate definition of action "a" (first defined at line 1)`) {
		t.Errorf("expected duplicate action warning, got: %v", diags)
	}
	if !hasDiagnostic(diags, `duplicate definition of data "D" (first defined at line 5)`) {
		t.Errorf("expected duplicate data warning, got: %v", diags)
	}
}

func TestSemanticTopLevelReturn(t *testing.T) {
	diags := checkSource(t, "display 1\nreturn\ndisplay 2")
	if !hasDiagnostic(diags, "return outside of an action") {
		t.Errorf("expected top-level return warning, got: %v", diags)
	}

	inside := checkSource(t, "action a\n return 1\nend action\na")
	if hasDiagnostic(inside, "return outside") {
		t.Errorf("unexpected warning for return inside action: %v", inside)
	}
}

func TestSemanticDiagnosticsSorted(t *testing.T) {
	diags := checkSource(t, "display b\ndisplay a\nmissing")
	for i := 1; i < len(diags); i++ {
		if diags[i].Pos.Line < diags[i-1].Pos.Line {
			t.Errorf("diagnostics not sorted: %v", diags)
		}
	}
	if len(diags) != 3 {
		t.Errorf("got %d diagnostics, want 3: %v", len(diags), diags)
	}
	if got := diags[0].String(); got != `warning: line 1, column 9: variable "b" may be used before it is assigned` {
		t.Errorf("String() = %q", got)
	}
}

func TestSymbols(t *testing.T) {
	source := `module M
action add with a, b
    give back a + b
end action
data Point
    x as number
    y as number
end data
set origin which is Point to nothing
end module`
	syms := Symbols(mustParse(t, source))

	byName := make(map[string]Symbol)
	for _, s := range syms {
		byName[s.Kind.String()+":"+s.Name] = s
	}

	add, ok := byName["action:add"]
	if !ok {
		t.Fatalf("missing action add in %v", syms)
	}
	if add.Pos.Line != 2 {
		t.Errorf("add line = %d, want 2", add.Pos.Line)
	}
	if got, want := add.Signature(), "action add with a, b"; got != want {
		t.Errorf("Signature() = %q, want %q", got, want)
	}

	point, ok := byName["data:Point"]
	if !ok {
		t.Fatalf("missing data Point in %v", syms)
	}
	if got, want := point.Signature(), "data Point:\n  x as number\n  y as number"; got != want {
		t.Errorf("Signature() = %q, want %q", got, want)
	}

	origin, ok := byName["variable:origin"]
	if !ok || origin.Signature() != "origin which is Point" {
		t.Errorf("origin = %+v", origin)
	}
	if _, ok := byName["variable:a"]; !ok {
		t.Errorf("missing parameter a in %v", syms)
	}
}
