package replies

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Thanks for sharing!", "Thanks for sharing!"},
		{"quoted", `"Thanks for sharing!"`, "Thanks for sharing!"},
		{"smart quotes", "“Glad it helped.”", "Glad it helped."},
		{"label", "Reply: Glad it helped.", "Glad it helped."},
		{"label and quotes", `Response: "Glad it helped."`, "Glad it helped."},
		{"code fence", "```\nGlad it helped.\n```", "Glad it helped."},
		{"fenced label", "```text\nDM: Happy to chat.\n```", "Happy to chat."},
		{"whitespace", "Glad   it\thelped.\n\n\n\nTalk soon.", "Glad it helped.\n\nTalk soon."},
		{"inner quotes kept", `"Done" is better than "perfect".`, `"Done" is better than "perfect".`},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}
