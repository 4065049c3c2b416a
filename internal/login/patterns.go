package login

import "regexp"

// loginPathPatterns match URL paths that usually serve a sign-in form.
var loginPathPatterns = compileAll(
	`/login`,
	`/signin`,
	`/sign-in`,
	`/auth\b`,
	`/sso`,
	`/oauth`,
	`/session/new`,
	`/accounts/login`,
	`/authenticate`,
)

// ssoPrefixes are hostname+path prefixes of well-known identity providers.
var ssoPrefixes = []string{
	"accounts.google.com",
	"github.com/login",
	"login.microsoftonline.com",
	"auth0.com",
	"login.live.com",
	"appleid.apple.com",
	"id.atlassian.com",
	"login.salesforce.com",
}

// redirectParams carry the post-login destination.
var redirectParams = []string{"redirect", "return_to", "next", "continue", "redirect_uri", "returnUrl", "callback"}

var (
	loginButtonPattern  = regexp.MustCompile(`(?i)^(sign\s*in|log\s*in|continue|submit|next|authenticate)$`)
	oauthInvitePattern  = regexp.MustCompile(`(?i)(sign\s*in\s*with|continue\s*with|log\s*in\s*with)\s*(google|apple|microsoft|facebook|github|email|sso)`)
	loginHeadingPattern = regexp.MustCompile(`(?i)(sign\s*in|log\s*in|welcome\s*back|authenticate|enter\s*your\s*(password|email))`)
	loginTextPattern    = regexp.MustCompile(`(?i)\b(sign\s*in|log\s*in|create\s*(an?\s*)?account|sign\s*up)\b`)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// MatchLoginPath returns the first login pattern matching path.
func MatchLoginPath(path string) (string, bool) {
	for _, re := range loginPathPatterns {
		if re.MatchString(path) {
			return re.String()[len(`(?i)`):], true
		}
	}
	return "", false
}
