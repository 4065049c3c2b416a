package browser

import (
	"fmt"
	"strings"
)

// RawStats is what the page reports about itself.
type RawStats struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	Links         int    `json:"links"`
	Interactive   int    `json:"interactive"`
	IFrames       int    `json:"iframes"`
	Images        int    `json:"images"`
	TextLength    int    `json:"textLength"`
	Sample        string `json:"sample"`
	CaptchaFrames int    `json:"captchaFrames"`
}

// PageStats summarises a page and flags pages that look like bot walls.
type PageStats struct {
	URL             string `json:"url"`
	Title           string `json:"title"`
	Links           int    `json:"links"`
	Interactive     int    `json:"interactive"`
	IFrames         int    `json:"iframes"`
	Images          int    `json:"images"`
	TextLength      int    `json:"textLength"`
	IsLikelyBlocked bool   `json:"isLikelyBlocked"`
	BlockReason     string `json:"blockReason,omitempty"`
}

var blockPhrases = []struct {
	phrase string
	reason string
}{
	{"verify you are human", "human verification challenge"},
	{"checking your browser", "browser check interstitial"},
	{"just a moment", "browser check interstitial"},
	{"unusual traffic", "unusual traffic warning"},
	{"access denied", "access denied"},
	{"are you a robot", "bot challenge"},
	{"captcha", "captcha"},
}

// Classify decides whether a page is likely blocking automation.
func Classify(raw RawStats) *PageStats {
	ps := &PageStats{
		URL:         raw.URL,
		Title:       raw.Title,
		Links:       raw.Links,
		Interactive: raw.Interactive,
		IFrames:     raw.IFrames,
		Images:      raw.Images,
		TextLength:  raw.TextLength,
	}

	switch {
	case raw.CaptchaFrames > 0:
		ps.BlockReason = "captcha iframe"
	case raw.TextLength < 50 && raw.Interactive == 0 && raw.Images == 0 && raw.IFrames == 0:
		ps.BlockReason = "empty page"
	default:
		text := strings.ToLower(raw.Title + " " + raw.Sample)
		// Phrases only count on sparse pages; a real site may mention a captcha in its footer.
		if raw.TextLength < 2000 || raw.Interactive < 10 {
			for _, bp := range blockPhrases {
				if strings.Contains(text, bp.phrase) {
					ps.BlockReason = bp.reason
					break
				}
			}
		}
	}

	ps.IsLikelyBlocked = ps.BlockReason != ""
	return ps
}

// FormatStats renders stats as the one-line summary used in logs and prompts.
func FormatStats(ps *PageStats) string {
	if ps == nil {
		return ""
	}
	s := fmt.Sprintf("[%d links, %d interactive, %d iframes, %d images, %d chars]",
		ps.Links, ps.Interactive, ps.IFrames, ps.Images, ps.TextLength)
	if ps.IsLikelyBlocked {
		s += " BLOCKED: " + ps.BlockReason
	}
	return s
}
