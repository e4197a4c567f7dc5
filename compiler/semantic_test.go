package compiler

import (
	"strings"
	"testing"
)

func analyze(t *testing.T, src string, templates []string) []Warning {
	t.Helper()
	warnings, err := Analyze(src, templates)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return warnings
}

func hasWarning(warnings []Warning, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w.Message, substr) {
			return true
		}
	}
	return false
}

func TestSemanticAnalyzer_UndefinedVariable(t *testing.T) {
	warnings := analyze(t, "<?print missing?>", nil)
	if !hasWarning(warnings, `variable "missing" may be undefined`) {
		t.Errorf("expected undefined variable warning, got %v", warnings)
	}
}

func TestSemanticAnalyzer_DefinedVariables(t *testing.T) {
	src := `<?code x = data.a?><?print x?><?for k, v in data.items()?><?print k?><?print v?><?end?><?for i in data?><?code i += 1?><?end?>`
	if warnings := analyze(t, src, nil); len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}

func TestSemanticAnalyzer_UseBeforeAssignment(t *testing.T) {
	warnings := analyze(t, "<?print x?><?code x = 1?>", nil)
	if !hasWarning(warnings, `"x"`) {
		t.Errorf("expected use before assignment warning, got %v", warnings)
	}
}

func TestSemanticAnalyzer_DeletedVariable(t *testing.T) {
	warnings := analyze(t, "<?code x = 1?><?code del x?><?print x?>", nil)
	if len(warnings) != 1 || !hasWarning(warnings, `"x"`) {
		t.Errorf("expected one warning for x after del, got %v", warnings)
	}
}

func TestSemanticAnalyzer_UnknownBuiltins(t *testing.T) {
	warnings := analyze(t, "<?print frobnicate(data)?><?print data.upper(1)?><?print len(data)?><?print data.get('a', 1)?>", nil)
	if !hasWarning(warnings, "unknown function frobnicate() with 1 argument(s)") {
		t.Errorf("expected unknown function warning, got %v", warnings)
	}
	if !hasWarning(warnings, "unknown method .upper() with 1 argument(s)") {
		t.Errorf("expected unknown method warning, got %v", warnings)
	}
	if len(warnings) != 2 {
		t.Errorf("got %d warnings, want 2: %v", len(warnings), warnings)
	}
}

func TestSemanticAnalyzer_Templates(t *testing.T) {
	src := "<?render row(data)?><?render partials.cell(data)?>"
	if warnings := analyze(t, src, nil); len(warnings) != 0 {
		t.Errorf("template check should be off without names: %v", warnings)
	}
	warnings := analyze(t, src, []string{"row"})
	if len(warnings) != 1 || !hasWarning(warnings, `unknown template "partials/cell"`) {
		t.Errorf("expected one unknown template warning, got %v", warnings)
	}
}

func TestSemanticAnalyzer_KnownGlobal(t *testing.T) {
	stmts, err := Parse("<?print site.title?>")
	if err != nil {
		t.Fatal(err)
	}
	a := NewSemanticAnalyzer()
	a.AddKnownGlobal("site")
	a.AnalyzeStatements(stmts)
	if len(a.Warnings()) != 0 {
		t.Errorf("unexpected warnings: %v", a.Warnings())
	}
}

func TestWarningPosition(t *testing.T) {
	warnings := analyze(t, "ok\n<?print  nope?>", nil)
	if len(warnings) != 1 {
		t.Fatalf("got %v", warnings)
	}
	line, col := warnings[0].Position()
	if line != 1 || col != 9 {
		t.Errorf("Position() = %d:%d, want 1:9", line, col)
	}
	if got := warnings[0].String(); !strings.HasPrefix(got, "warning: line 2, column 10: ") {
		t.Errorf("String() = %q", got)
	}
}

func TestAnalyzeParseError(t *testing.T) {
	if _, err := Analyze("<?if x?>", nil); err == nil {
		t.Error("expected parse error")
	}
}
