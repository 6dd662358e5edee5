package server

import (
	"strings"
	"testing"
)

func FuzzIsSafeName(f *testing.F) {
	for _, s := range []string{"clock", "", "..", "../etc/passwd", "a/b", `a\b`, "bat.0", "한글", "x\x00y"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, name string) {
		ok := isSafeName(name)
		if name == "" && ok {
			t.Error("empty name should not be safe")
		}
		if strings.Contains(name, "..") && ok {
			t.Errorf("name with .. should not be safe: %q", name)
		}
		if strings.ContainsAny(name, "/\\") && ok {
			t.Errorf("name with path separators should not be safe: %q", name)
		}
	})
}

func FuzzSanitizeBase(f *testing.F) {
	for _, s := range []string{"", "/", "/api", "/api/", "api", "  /api/v1/  ", "//x//"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, basePath string) {
		result := sanitizeBase(basePath)
		if result != "" {
			if !strings.HasPrefix(result, "/") {
				t.Errorf("sanitized base should start with /: %q -> %q", basePath, result)
			}
			if strings.HasSuffix(result, "/") {
				t.Errorf("sanitized base should not end with /: %q -> %q", basePath, result)
			}
		}
		if trimmed := strings.TrimSpace(basePath); (trimmed == "" || trimmed == "/") && result != "" {
			t.Errorf("empty or root base should result in empty: %q -> %q", basePath, result)
		}
	})
}
