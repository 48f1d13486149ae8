package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewAppliesDefaultTimeout(t *testing.T) {
	client := New(0, nil)
	if client.Timeout != defaultTimeout {
		t.Fatalf("expected default timeout %s, got %s", defaultTimeout, client.Timeout)
	}
	if New(5*time.Second, nil).Timeout != 5*time.Second {
		t.Fatal("expected explicit timeout to be kept")
	}
}

func TestClientRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	resp, err := New(time.Second, nil).Get(server.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}

func TestValidateBaseURL(t *testing.T) {
	valid := map[string]string{
		"https://api.openai.com/v1/":  "https://api.openai.com/v1",
		" http://localhost:11434 ":    "http://localhost:11434",
		"https://openrouter.ai/api/v1": "https://openrouter.ai/api/v1",
	}
	for input, want := range valid {
		got, err := ValidateBaseURL(input)
		if err != nil {
			t.Fatalf("ValidateBaseURL(%q) failed: %v", input, err)
		}
		if got != want {
			t.Fatalf("ValidateBaseURL(%q) = %q, want %q", input, got, want)
		}
	}

	for _, input := range []string{"", "ftp://example.com", "localhost:8080", "https://"} {
		if _, err := ValidateBaseURL(input); err == nil {
			t.Fatalf("expected %q to be rejected", input)
		}
	}
}
