package collab

import "testing"

func TestEndpointURL(t *testing.T) {
	cases := []struct {
		base string
		doc  string
		want string
	}{
		{"http://localhost:8080", "doc-1", "ws://localhost:8080/ws/document/doc-1"},
		{"https://collab.example.com", "doc-1", "wss://collab.example.com/ws/document/doc-1"},
		{"ws://localhost:8080", "doc-1", "ws://localhost:8080/ws/document/doc-1"},
		{"wss://collab.example.com/base/", "doc-1", "wss://collab.example.com/base/ws/document/doc-1"},
		{"http://localhost:8080", "notes/2026 Q3", "ws://localhost:8080/ws/document/notes%2F2026%20Q3"},
	}

	for _, tc := range cases {
		got, err := EndpointURL(tc.base, tc.doc)
		if err != nil {
			t.Errorf("EndpointURL(%q, %q): %v", tc.base, tc.doc, err)
			continue
		}
		if got != tc.want {
			t.Errorf("EndpointURL(%q, %q) = %q, want %q", tc.base, tc.doc, got, tc.want)
		}
	}
}

func TestEndpointURLRejectsBadScheme(t *testing.T) {
	if _, err := EndpointURL("ftp://host", "doc-1"); err == nil {
		t.Error("expected unsupported scheme to be rejected")
	}
	if _, err := EndpointURL("://broken", "doc-1"); err == nil {
		t.Error("expected unparseable url to be rejected")
	}
}

func TestPickColorUsesPalette(t *testing.T) {
	inPalette := func(color string) bool {
		for _, c := range cursorPalette {
			if c == color {
				return true
			}
		}
		return false
	}

	for i := 0; i < 50; i++ {
		if color := pickColor(); !inPalette(color) {
			t.Fatalf("color %s not in palette", color)
		}
	}
}
