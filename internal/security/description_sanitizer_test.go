package security

import (
	"strings"
	"testing"
)

func TestSanitize_AllowedTags(t *testing.T) {
	sanitizer := NewDescriptionSanitizer()

	tests := []struct {
		name         string
		input        string
		wantContains []string
	}{
		{
			name:         "pタグが許可される",
			input:        "<p>ライブ演奏</p>",
			wantContains: []string{"<p>ライブ演奏</p>"},
		},
		{
			name:         "リストが許可される",
			input:        "<ul><li>出演A</li><li>出演B</li></ul>",
			wantContains: []string{"<ul>", "<li>出演A</li>", "</ul>"},
		},
		{
			name:         "強調が許可される",
			input:        "<strong>入場無料</strong><em>雨天決行</em>",
			wantContains: []string{"<strong>入場無料</strong>", "<em>雨天決行</em>"},
		},
		{
			name:         "httpsリンクにtargetとrelが付与される",
			input:        `<a href="https://example.com/tickets">チケット</a>`,
			wantContains: []string{`href="https://example.com/tickets"`, `target="_blank"`, "noopener", "noreferrer"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, want to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

func TestSanitize_RemovesDangerousContent(t *testing.T) {
	sanitizer := NewDescriptionSanitizer()

	tests := []struct {
		name       string
		input      string
		notContain []string
	}{
		{"scriptタグ", `<p>説明</p><script>alert(1)</script>`, []string{"<script", "alert(1)"}},
		{"on*属性", `<p onclick="steal()">説明</p>`, []string{"onclick", "steal"}},
		{"javascriptスキーム", `<a href="javascript:alert(1)">x</a>`, []string{"javascript:"}},
		{"httpリンク", `<a href="http://example.com">x</a>`, []string{"http://example.com"}},
		{"imgタグ", `<img src="https://example.com/a.png">`, []string{"<img"}},
		{"iframeタグ", `<iframe src="https://example.com"></iframe>`, []string{"<iframe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, bad := range tt.notContain {
				if strings.Contains(got, bad) {
					t.Errorf("Sanitize(%q) = %q, must not contain %q", tt.input, got, bad)
				}
			}
		})
	}
}

func TestSanitize_PlainTextAndIdempotent(t *testing.T) {
	sanitizer := NewDescriptionSanitizer()

	if got := sanitizer.Sanitize("  Outdoor jazz in the park  "); got != "Outdoor jazz in the park" {
		t.Errorf("Sanitize(plain) = %q", got)
	}
	if got := sanitizer.Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, want empty", got)
	}

	once := sanitizer.Sanitize(`<p>A <strong>B</strong></p><script>x</script>`)
	if twice := sanitizer.Sanitize(once); twice != once {
		t.Errorf("冪等でない: %q -> %q", once, twice)
	}
}
