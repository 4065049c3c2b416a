package explorer

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/PentesterFlow/OpenExplorer/internal/apilog"
	"github.com/PentesterFlow/OpenExplorer/internal/logger"
)

//go:embed prompts/explore.md
var builtinSystemPrompt string

const fallbackSystemPrompt = "You are a web exploration agent. Respond with JSON actions."

// loadSystemPrompt reads path if set, then falls back to the built-in
// prompt, then to a one-line prompt.
func loadSystemPrompt(path string, l *logger.Logger) string {
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err != nil:
			l.Warnf("system prompt %s unreadable, using built-in: %v", path, err)
		case strings.TrimSpace(string(data)) == "":
			l.Warnf("system prompt %s is empty, using built-in", path)
		default:
			return string(data)
		}
	}
	if strings.TrimSpace(builtinSystemPrompt) != "" {
		return builtinSystemPrompt
	}
	return fallbackSystemPrompt
}

// buildPrompt composes the user message for one step.
func buildPrompt(task, stats, tree string, actions []ActionWithIntent, window int, calls []apilog.Call) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Task\n%s\n\n", task)
	if stats != "" {
		fmt.Fprintf(&b, "## Page Statistics\n%s\n\n", stats)
	}
	fmt.Fprintf(&b, "## Current Page Snapshot\n%s\n\n", tree)

	if len(actions) > 0 {
		b.WriteString("## Actions Taken So Far\n")
		recent := actions
		if window > 0 && len(recent) > window {
			recent = recent[len(recent)-window:]
		}
		for _, a := range recent {
			b.WriteString(historyLine(a))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	if len(calls) > 0 {
		b.WriteString("## API Calls Observed\n")
		for _, line := range apilog.Summarize(calls) {
			fmt.Fprintf(&b, "- %s\n", line)
		}
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "Step %d: What should I do next? Respond with JSON.", len(actions)+1)
	return b.String()
}

// historyLine renders e.g. `3. type @e4 "laptop" - search the catalogue`.
func historyLine(a ActionWithIntent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d. %s", a.Step+1, a.Action)
	if a.Ref != "" {
		fmt.Fprintf(&b, " @%s", a.Ref)
	}
	if a.Text != "" {
		fmt.Fprintf(&b, " %q", a.Text)
	}
	fmt.Fprintf(&b, " - %s", a.Intention)
	return b.String()
}
