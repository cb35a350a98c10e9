package replies

import (
	"regexp"
	"strings"
)

var (
	fenceRe      = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	labelRe      = regexp.MustCompile(`(?i)^(reply|response|comment|dm|message|draft)\s*:\s*`)
	spacesRe     = regexp.MustCompile(`[ \t]+`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// quotePairs are the wrapping quotes models like to add.
var quotePairs = [][2]string{
	{`"`, `"`},
	{"'", "'"},
	{"“", "”"},
	{"‘", "’"},
}

// Clean strips the wrapping a model adds around a plain-text reply: code
// fences, a leading "Reply:" style label, surrounding quotes, and runs of
// whitespace. Paragraph breaks are kept.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	for i := 0; i < 3; i++ {
		before := s
		if m := fenceRe.FindStringSubmatch(s); m != nil {
			s = strings.TrimSpace(m[1])
		}
		s = strings.TrimSpace(labelRe.ReplaceAllString(s, ""))
		s = unquote(s)
		if s == before {
			break
		}
	}

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spacesRe.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLinesRe.ReplaceAllString(s, "\n\n"))
}

func unquote(s string) string {
	for _, q := range quotePairs {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			inner := s[len(q[0]) : len(s)-len(q[1])]
			// Leave text like "a" and "b" alone.
			if !strings.Contains(inner, q[0]) {
				return strings.TrimSpace(inner)
			}
		}
	}
	return s
}
