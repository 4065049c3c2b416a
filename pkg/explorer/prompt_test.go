package explorer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PentesterFlow/OpenExplorer/internal/apilog"
	"github.com/PentesterFlow/OpenExplorer/internal/logger"
)

func TestBuildPrompt_Sections(t *testing.T) {
	calls := []apilog.Call{
		{URL: "https://a.com/api/items?page=1", Method: "GET", Status: 200},
		{URL: "https://a.com/api/items?page=2", Method: "GET", Status: 200},
		{URL: "https://a.com/api/cart", Method: "POST", Status: 201},
	}
	actions := []ActionWithIntent{
		{Step: 0, Action: "click", Ref: "e4", Intention: "open catalogue"},
		{Step: 1, Action: "type", Ref: "e9", Text: "red shoes", Intention: "search"},
	}

	got := buildPrompt("find the cart API", "[3 links, 7 interactive, 0 iframes, 1 images, 900 chars]",
		"- document \"Shop\"", actions, 10, calls)

	want := strings.Join([]string{
		"## Task",
		"find the cart API",
		"",
		"## Page Statistics",
		"[3 links, 7 interactive, 0 iframes, 1 images, 900 chars]",
		"",
		"## Current Page Snapshot",
		"- document \"Shop\"",
		"",
		"## Actions Taken So Far",
		"1. click @e4 - open catalogue",
		`2. type @e9 "red shoes" - search`,
		"",
		"## API Calls Observed",
		"- GET https://a.com/api/items (200) x2",
		"- POST https://a.com/api/cart (201) x1",
		"",
		"Step 3: What should I do next? Respond with JSON.",
	}, "\n")

	if got != want {
		t.Errorf("buildPrompt() =\n%s\n\nwant\n%s", got, want)
	}
}

func TestBuildPrompt_OmitsEmptySections(t *testing.T) {
	got := buildPrompt("task", "", "- document", nil, 10, nil)

	for _, section := range []string{"## Page Statistics", "## Actions Taken So Far", "## API Calls Observed"} {
		if strings.Contains(got, section) {
			t.Errorf("prompt should not contain %q:\n%s", section, got)
		}
	}
	if !strings.HasSuffix(got, "Step 1: What should I do next? Respond with JSON.") {
		t.Errorf("prompt ending wrong:\n%s", got)
	}
}

func TestBuildPrompt_HistoryWindow(t *testing.T) {
	var actions []ActionWithIntent
	for i := 0; i < 14; i++ {
		actions = append(actions, ActionWithIntent{Step: i, Action: "scroll", Intention: "more", Timestamp: time.Now()})
	}

	got := buildPrompt("task", "", "tree", actions, 10, nil)

	if strings.Contains(got, "\n4. scroll") {
		t.Error("actions older than the window should be dropped")
	}
	if !strings.Contains(got, "\n5. scroll - more") || !strings.Contains(got, "\n14. scroll - more") {
		t.Errorf("window should keep steps 5..14:\n%s", got)
	}
	if !strings.HasSuffix(got, "Step 15: What should I do next? Respond with JSON.") {
		t.Error("step number should count every action, not only the window")
	}
}

func TestLoadSystemPrompt(t *testing.T) {
	dir := t.TempDir()
	custom := filepath.Join(dir, "custom.md")
	_ = os.WriteFile(custom, []byte("Be brief."), 0644)
	empty := filepath.Join(dir, "empty.md")
	_ = os.WriteFile(empty, []byte("  \n"), 0644)

	tests := []struct {
		name string
		path string
		want string
	}{
		{"built-in", "", builtinSystemPrompt},
		{"override", custom, "Be brief."},
		{"missing file", filepath.Join(dir, "nope.md"), builtinSystemPrompt},
		{"empty file", empty, builtinSystemPrompt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := loadSystemPrompt(tt.path, logger.Nop()); got != tt.want {
				t.Errorf("loadSystemPrompt(%q) = %.40q, want %.40q", tt.path, got, tt.want)
			}
		})
	}
}

func TestBuiltinSystemPrompt(t *testing.T) {
	for _, want := range []string{`"action"`, `"done"`, "password"} {
		if !strings.Contains(builtinSystemPrompt, want) {
			t.Errorf("built-in prompt missing %q", want)
		}
	}
}
