package relay

import (
	"net/url"
	"testing"
)

func TestExtractFirstURL(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"https://example.com/a.zip", "https://example.com/a.zip", true},
		{"/leech https://example.com/a.zip", "https://example.com/a.zip", true},
		{"grab this: http://files.example.org/x.iso please", "http://files.example.org/x.iso", true},
		{"two http://a.example/1 and http://b.example/2", "http://a.example/1", true},
		{"no link here", "", false},
		{"ftp://example.com/a.zip", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractFirstURL(tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ExtractFirstURL(%q) = (%q, %v), want (%q, %v)", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestResolveFileName(t *testing.T) {
	mustURL := func(s string) *url.URL {
		u, err := url.Parse(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		return u
	}

	tests := []struct {
		name        string
		disposition string
		url         string
		want        string
	}{
		{"header wins", `attachment; filename="q3.pdf"`, "https://example.com/files/report.pdf", "q3.pdf"},
		{"url fallback", "", "https://example.com/files/report.pdf", "report.pdf"},
		{"query ignored", "", "https://example.com/files/report.pdf?dl=1", "report.pdf"},
		{"garbage header falls through", "not a header", "https://example.com/a.bin", "a.bin"},
		{"path traversal stripped", `attachment; filename="../../etc/passwd"`, "https://example.com/a.bin", "passwd"},
		{"windows separators stripped", `attachment; filename="C:\temp\evil.exe"`, "https://example.com/a.bin", "evil.exe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveFileName(tt.disposition, mustURL(tt.url))
			if got != tt.want {
				t.Errorf("resolveFileName(%q, %q) = %q, want %q", tt.disposition, tt.url, got, tt.want)
			}
		})
	}

	// Bare-root URLs with no header get a generated placeholder.
	got := resolveFileName("", mustURL("https://example.com/"))
	if len(got) < 6 || got[:5] != "file_" {
		t.Errorf("placeholder = %q, want file_ prefix", got)
	}
}
