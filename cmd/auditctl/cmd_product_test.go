package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "products.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadProductFileAcceptsBothSpecShapes(t *testing.T) {
	path := writeFile(t, `
products:
  - id: p-kettle
    slug: kettle
    name: Kettle 2000
    category: kitchen
    specs:
      - label: Power
        value: 2200 W
      - label: Capacity
        value: 1.7 l
  - slug: " toaster "
    category: kitchen
    specs:
      Slots: 2
      Power: 900 W
`)

	products, err := loadProductFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	if products[0].ID != "p-kettle" {
		t.Fatalf("explicit id must be kept, got %q", products[0].ID)
	}
	if diff := cmp.Diff(domain.Specs{{Label: "Power", Value: "2200 W"}, {Label: "Capacity", Value: "1.7 l"}}, products[0].Specs); diff != "" {
		t.Fatalf("list specs mismatch (-want +got):\n%s", diff)
	}

	if products[1].Slug != "toaster" || products[1].ID == "" {
		t.Fatalf("expected trimmed slug and generated id, got %+v", products[1])
	}
	if diff := cmp.Diff(domain.Specs{{Label: "Power", Value: "900 W"}, {Label: "Slots", Value: "2"}}, products[1].Specs); diff != "" {
		t.Fatalf("map specs mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadProductFileRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"empty":     "products: []\n",
		"no slug":   "products:\n  - name: x\n",
		"duplicate": "products:\n  - slug: a\n  - slug: a\n",
	}
	for name, body := range cases {
		if _, err := loadProductFile(writeFile(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := loadProductFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "read product file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestFirstPositive(t *testing.T) {
	if got := firstPositive(0, -1, 7, 3); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	if got := firstPositive(0); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestCommandTreeRegistersOperatorCommands(t *testing.T) {
	for _, path := range [][]string{
		{"sweep"},
		{"stage", "run"},
		{"run", "enqueue"},
		{"run", "get"},
		{"run", "step"},
		{"freshness"},
		{"snapshot", "rebuild"},
		{"product", "import"},
		{"product", "get"},
		{"mcp", "serve"},
	} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil || cmd == rootCmd {
			t.Fatalf("command %v not registered: %v", path, err)
		}
	}
}
