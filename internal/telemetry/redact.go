package telemetry

import "regexp"

type redactRule struct {
	re          *regexp.Regexp
	replacement string
}

func (r redactRule) apply(input string) (string, bool) {
	output := r.re.ReplaceAllString(input, r.replacement)
	return output, output != input
}

// Server URLs and fault details routinely carry API keys in query strings or
// userinfo. Everything stored in the ring passes through these rules first.
var redactRules = []redactRule{
	{
		re:          regexp.MustCompile(`(?i)([?&](?:key|api_key|apikey|token|access_token|secret|password|authorization)=)[^&\s"]+`),
		replacement: "${1}[redacted]",
	},
	{
		re:          regexp.MustCompile(`(?i)\b(bearer\s+)[A-Za-z0-9._\-]+`),
		replacement: "${1}[redacted]",
	},
	{
		re:          regexp.MustCompile(`(?i)\b(wss?://|https?://)([^/@\s:]+):([^@\s]+)@`),
		replacement: "${1}${2}:[redacted]@",
	},
}

// Redact masks credential-shaped substrings in s.
func Redact(s string) string {
	out := s
	for _, rule := range redactRules {
		out, _ = rule.apply(out)
	}
	return out
}
