package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ferret-scan/ferret/pkg/models"
)

const testPrompts = `
templates:
  comprehensive:
    system: "You are a document sensitivity classifier."
    user: "Classify {{.Name}} ({{.Size}} bytes) at {{.Path}}."
  quick:
    user: "Quick check of {{.Name}}."
`

func loadTestManager(t *testing.T, content string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestRender(t *testing.T) {
	m := loadTestManager(t, testPrompts)

	out, err := m.Render("comprehensive", models.FileRecord{
		Name: "budget.xlsx",
		Path: `\\fs01\finance\budget.xlsx`,
		Size: 4096,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "You are a document sensitivity classifier.") {
		t.Error("system prompt missing")
	}
	if !strings.Contains(out, "Classify budget.xlsx (4096 bytes)") {
		t.Errorf("unexpected render: %s", out)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	m := loadTestManager(t, testPrompts)
	if _, err := m.Render("nope", models.FileRecord{}); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestVersionChangesWithContent(t *testing.T) {
	m1 := loadTestManager(t, testPrompts)
	m2 := loadTestManager(t, strings.Replace(testPrompts, "Classify", "Categorize", 1))

	v1, err := m1.Version("comprehensive")
	if err != nil {
		t.Fatal(err)
	}
	v2, err := m2.Version("comprehensive")
	if err != nil {
		t.Fatal(err)
	}
	if v1 == v2 {
		t.Error("edited template should produce a different version tag")
	}

	// Same content, same tag.
	m3 := loadTestManager(t, testPrompts)
	v3, _ := m3.Version("comprehensive")
	if v1 != v3 {
		t.Error("identical template should produce the same version tag")
	}
}

func TestNames(t *testing.T) {
	m := loadTestManager(t, testPrompts)
	names := m.Names()
	if len(names) != 2 || names[0] != "comprehensive" || names[1] != "quick" {
		t.Errorf("unexpected names: %v", names)
	}
}
