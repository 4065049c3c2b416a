package browser

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	errs "github.com/PentesterFlow/OpenExplorer/internal/errors"
)

// MaxRefs caps how many interactive elements a snapshot lists.
const MaxRefs = 400

const maxNameLen = 80

// Ref locates one interactive element from a snapshot.
type Ref struct {
	Selector string `json:"selector"`
	Role     string `json:"role"`
	Name     string `json:"name,omitempty"`
	Password bool   `json:"password,omitempty"`
}

// Snapshot is a compact text view of the page plus the refs it mentions.
type Snapshot struct {
	Tree string
	Refs map[string]Ref
}

// SnapshotStats sizes a snapshot for logging.
type SnapshotStats struct {
	Refs   int
	Tokens int
}

// Lookup resolves a ref id such as "e3". A leading "@" is tolerated.
func (s *Snapshot) Lookup(id string) (Ref, bool) {
	if s == nil {
		return Ref{}, false
	}
	r, ok := s.Refs[strings.TrimPrefix(id, "@")]
	return r, ok
}

// Stats estimates the prompt cost of the snapshot at ~4 chars per token.
func (s *Snapshot) Stats() SnapshotStats {
	if s == nil {
		return SnapshotStats{}
	}
	return SnapshotStats{Refs: len(s.Refs), Tokens: (len(s.Tree) + 3) / 4}
}

// Snapshot captures the current DOM as a snapshot.
func (s *Session) Snapshot(ctx context.Context) (*Snapshot, error) {
	doc, err := s.page.Context(ctx).HTML()
	if err != nil {
		return nil, errs.NewSnapshotError("", "read html", err)
	}
	return BuildSnapshot(doc)
}

const interactiveSelector = `a[href], button, input, select, textarea, summary,
	[role="button"], [role="link"], [role="checkbox"], [role="radio"], [role="tab"],
	[role="menuitem"], [role="option"], [role="switch"], [role="combobox"], [role="textbox"],
	[onclick], [contenteditable="true"], [tabindex]`

var whitespace = regexp.MustCompile(`\s+`)

// BuildSnapshot walks page HTML and assigns refs e1, e2, ... to visible
// interactive elements in document order. Headings are listed for context
// without refs. Input values are never read except the labels of buttons.
func BuildSnapshot(page string) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, errs.NewParseError("", "parse html", err)
	}

	snap := &Snapshot{Refs: make(map[string]Ref)}
	var b strings.Builder

	if title := clean(doc.Find("title").First().Text()); title != "" {
		fmt.Fprintf(&b, "- document %q\n", title)
	}

	truncated := 0
	doc.Find("h1, h2, h3, " + interactiveSelector).Each(func(_ int, sel *goquery.Selection) {
		if hidden(sel) {
			return
		}
		node := sel.Get(0)

		if level, ok := headingLevel(node.Data); ok {
			if name := clean(sel.Text()); name != "" {
				fmt.Fprintf(&b, "- heading %q [level=%d]\n", name, level)
			}
			return
		}

		if tabindex, ok := sel.Attr("tabindex"); ok && tabindex == "-1" && !natural(node) {
			return
		}
		if len(snap.Refs) >= MaxRefs {
			truncated++
			return
		}

		ref := Ref{
			Selector: cssPath(node),
			Role:     role(sel),
			Name:     accessibleName(doc, sel),
		}
		inputType := strings.ToLower(sel.AttrOr("type", ""))
		ref.Password = node.Data == "input" && inputType == "password"

		id := fmt.Sprintf("e%d", len(snap.Refs)+1)
		snap.Refs[id] = ref

		b.WriteString("- ")
		b.WriteString(ref.Role)
		if ref.Name != "" {
			fmt.Fprintf(&b, " %q", ref.Name)
		}
		if node.Data == "input" && inputType != "" && inputType != "text" {
			fmt.Fprintf(&b, " [type=%s]", inputType)
		}
		if _, ok := sel.Attr("disabled"); ok {
			b.WriteString(" [disabled]")
		}
		fmt.Fprintf(&b, " [ref=%s]\n", id)
	})

	if truncated > 0 {
		fmt.Fprintf(&b, "- ... %d more interactive elements not shown\n", truncated)
	}

	snap.Tree = strings.TrimRight(b.String(), "\n")
	return snap, nil
}

func headingLevel(tag string) (int, bool) {
	switch tag {
	case "h1":
		return 1, true
	case "h2":
		return 2, true
	case "h3":
		return 3, true
	}
	return 0, false
}

// natural reports elements that are focusable without a tabindex.
func natural(n *html.Node) bool {
	switch n.Data {
	case "a", "button", "input", "select", "textarea", "summary":
		return true
	}
	return false
}

func hidden(sel *goquery.Selection) bool {
	if sel.Is(`input[type="hidden"]`) {
		return true
	}
	for n := sel.Get(0); n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		switch n.Data {
		case "head", "script", "style", "template", "noscript":
			return true
		}
		for _, a := range n.Attr {
			switch a.Key {
			case "hidden":
				return true
			case "aria-hidden":
				if a.Val == "true" {
					return true
				}
			case "style":
				style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
				if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
					return true
				}
			}
		}
	}
	return false
}

func role(sel *goquery.Selection) string {
	if r := strings.TrimSpace(sel.AttrOr("role", "")); r != "" {
		return r
	}
	switch sel.Get(0).Data {
	case "a":
		return "link"
	case "button", "summary":
		return "button"
	case "select":
		return "combobox"
	case "textarea":
		return "textbox"
	case "input":
		switch strings.ToLower(sel.AttrOr("type", "text")) {
		case "submit", "button", "reset", "image":
			return "button"
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "range":
			return "slider"
		case "search":
			return "searchbox"
		default:
			return "textbox"
		}
	}
	return "clickable"
}

func accessibleName(doc *goquery.Document, sel *goquery.Selection) string {
	if v := clean(sel.AttrOr("aria-label", "")); v != "" {
		return v
	}

	node := sel.Get(0)
	if node.Data == "input" || node.Data == "select" || node.Data == "textarea" {
		if id := sel.AttrOr("id", ""); id != "" {
			var label string
			doc.Find("label").EachWithBreak(func(_ int, l *goquery.Selection) bool {
				if l.AttrOr("for", "") == id {
					label = clean(l.Text())
					return false
				}
				return true
			})
			if label != "" {
				return label
			}
		}
		if l := sel.Closest("label"); l.Length() > 0 {
			if label := clean(l.Text()); label != "" {
				return label
			}
		}
		if node.Data == "input" {
			// Buttons render their value as a label; other inputs hold user data.
			switch strings.ToLower(sel.AttrOr("type", "")) {
			case "submit", "button", "reset":
				if v := clean(sel.AttrOr("value", "")); v != "" {
					return v
				}
			}
		}
		for _, attr := range []string{"placeholder", "title", "name"} {
			if v := clean(sel.AttrOr(attr, "")); v != "" {
				return v
			}
		}
		return ""
	}

	if v := clean(sel.Text()); v != "" {
		return v
	}
	for _, attr := range []string{"title", "alt"} {
		if v := clean(sel.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	if alt := clean(sel.Find("img[alt]").First().AttrOr("alt", "")); alt != "" {
		return alt
	}
	return ""
}

func clean(s string) string {
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
	if r := []rune(s); len(r) > maxNameLen {
		s = string(r[:maxNameLen]) + "…"
	}
	return s
}

var simpleID = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// cssPath builds a selector from the nearest ancestor with a usable id, or
// from the root, using nth-of-type steps.
func cssPath(n *html.Node) string {
	var parts []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if id := attr(cur, "id"); simpleID.MatchString(id) {
			parts = append(parts, "#"+id)
			break
		}
		if cur.Data == "html" || cur.Data == "body" {
			parts = append(parts, cur.Data)
			break
		}
		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", cur.Data, nthOfType(cur)))
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

func nthOfType(n *html.Node) int {
	k := 1
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode && s.Data == n.Data {
			k++
		}
	}
	return k
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
