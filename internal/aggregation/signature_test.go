package aggregation

import (
	"strings"
	"testing"
)

func TestNormalizeMessageCollapsesVariableParts(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"User 123 not found", "user {number} not found"},
		{"User 456 not found", "user {number} not found"},
		{"GET https://api.example.com/v1/users?id=9 failed", "get {url} failed"},
		{"session 550e8400-e29b-41d4-a716-446655440000 expired", "session {uuid} expired"},
		{"job started at 2024-01-15T10:30:00Z", "job started at {timestamp}"},
		{"cannot open /var/lib/app/data.db", "cannot open {path}"},
	}
	for _, tc := range cases {
		if got := NormalizeMessage(tc.in); got != tc.want {
			t.Errorf("NormalizeMessage(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeMessageIdempotent(t *testing.T) {
	msg := "Timeout after 3000ms calling https://svc.internal/health at 2024-06-01T00:00:00Z"
	once := NormalizeMessage(msg)
	if twice := NormalizeMessage(once); twice != once {
		t.Fatalf("normalization not idempotent: %q then %q", once, twice)
	}
}

func TestSignatureStableAcrossPayloadValues(t *testing.T) {
	a := Signature("NotFoundError", "User 123 not found", "", "", "api")
	b := Signature("NotFoundError", "User 456 not found", "", "", "api")
	if a != b {
		t.Fatalf("signatures differ for same error class: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("signature length = %d, want 16", len(a))
	}
}

func TestSignatureDiscriminates(t *testing.T) {
	base := Signature("NotFoundError", "User 123 not found", "", "", "api")
	if got := Signature("TimeoutError", "User 123 not found", "", "", "api"); got == base {
		t.Error("different name should change signature")
	}
	if got := Signature("NotFoundError", "User 123 not found", "", "", "billing"); got == base {
		t.Error("different service should change signature")
	}
	if got := Signature("NotFoundError", "User 123 not found", "", "E404", "api"); got == base {
		t.Error("different code should change signature")
	}
}

func TestNormalizeStackPattern(t *testing.T) {
	stack := strings.Join([]string{
		"Error: boom",
		"    at handler (/app/src/routes/user.js:42:13)",
		"    at dispatch (/app/src/router.js:90:5)",
		"    at process (/app/src/server.js:12:1)",
		"    at listen (/app/src/server.js:8:1)",
		"    at main (/app/src/index.js:3:1)",
		"    at bootstrap (/app/src/index.js:1:1)",
	}, "\n")

	got := NormalizeStackPattern(stack)
	if strings.Contains(got, ":42") || strings.Contains(got, ":13") {
		t.Errorf("line:column coordinates survived normalization: %q", got)
	}
	if lines := strings.Split(got, "\n"); len(lines) != 5 {
		t.Errorf("expected 5 retained frames, got %d", len(lines))
	}

	deep := Signature("Error", "boom", stack, "", "api")
	shallow := Signature("Error", "boom", strings.Join(strings.Split(stack, "\n")[:5], "\n"), "", "api")
	if deep != shallow {
		t.Error("frames beyond the retained prefix should not affect the signature")
	}
}

func TestNormalizeStackPatternEmpty(t *testing.T) {
	if got := NormalizeStackPattern(""); got != "" {
		t.Fatalf("empty stack should normalize to empty, got %q", got)
	}
}
