package gemini

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func testClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := NewClient(5*time.Second, WithBaseURL(srv.URL))
	return c, srv
}

func TestGenerateSuccess(t *testing.T) {
	var gotPath, gotKey, gotPrompt string
	c, srv := testClient(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		body, _ := io.ReadAll(r.Body)
		gotPrompt = gjson.GetBytes(body, "contents.0.parts.0.text").String()
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"|xin chào|"}]}}]}`))
	})
	defer srv.Close()

	res, err := c.Generate(context.Background(), "hello", "test-key", "gemini-2.5-flash")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Errorf("outcome = %s, want success", res.Outcome)
	}
	if res.Text != "|xin chào|" {
		t.Errorf("text = %q", res.Text)
	}
	if !strings.Contains(gotPath, "gemini-2.5-flash:generateContent") {
		t.Errorf("request path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("key query param = %q", gotKey)
	}
	if gotPrompt != "hello" {
		t.Errorf("prompt in payload = %q", gotPrompt)
	}
}

func TestGenerateRateLimited(t *testing.T) {
	c, srv := testClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`))
	})
	defer srv.Close()

	res, err := c.Generate(context.Background(), "p", "k", "m")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// 429 is always rate-limited, even with a quota-looking body.
	if res.Outcome != OutcomeRateLimited {
		t.Errorf("outcome = %s, want rate_limited", res.Outcome)
	}
	if res.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d", res.StatusCode)
	}
}

func TestGenerateQuotaExhausted(t *testing.T) {
	c, srv := testClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"Quota exceeded for quota metric","status":"RESOURCE_EXHAUSTED"}}`))
	})
	defer srv.Close()

	res, err := c.Generate(context.Background(), "p", "k", "m")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Outcome != OutcomeQuotaExhausted {
		t.Errorf("outcome = %s, want quota_exhausted", res.Outcome)
	}
	if !strings.Contains(res.ErrorMessage, "Quota exceeded") {
		t.Errorf("error message = %q", res.ErrorMessage)
	}
}

func TestGenerateFailed(t *testing.T) {
	c, srv := testClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	})
	defer srv.Close()

	res, err := c.Generate(context.Background(), "p", "k", "m")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Errorf("outcome = %s, want failed", res.Outcome)
	}
	if res.ErrorMessage != "API key not valid" {
		t.Errorf("error message = %q", res.ErrorMessage)
	}
}

func TestGenerateErrorWithoutBodyMessage(t *testing.T) {
	c, srv := testClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer srv.Close()

	res, err := c.Generate(context.Background(), "p", "k", "m")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Errorf("outcome = %s, want failed", res.Outcome)
	}
	if res.ErrorMessage != "HTTP 502" {
		t.Errorf("error message = %q, want HTTP 502", res.ErrorMessage)
	}
}

func TestGenerateEmptyCandidates(t *testing.T) {
	c, srv := testClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	})
	defer srv.Close()

	res, err := c.Generate(context.Background(), "p", "k", "m")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Errorf("outcome = %s, want failed", res.Outcome)
	}
	if res.ErrorMessage != "response has no content" {
		t.Errorf("error message = %q", res.ErrorMessage)
	}
}

func TestGenerateTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on
	c := NewClient(time.Second, WithBaseURL(srv.URL))

	res, err := c.Generate(context.Background(), "p", "k", "m")
	if err == nil {
		t.Fatalf("Generate on closed server: res=%+v, want error", res)
	}
}

func TestGenerateContextCancelled(t *testing.T) {
	c, srv := testClient(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Generate(ctx, "p", "k", "m"); err == nil {
		t.Fatal("Generate past context deadline did not error")
	}
}

func TestOutcomeString(t *testing.T) {
	cases := map[Outcome]string{
		OutcomeSuccess:        "success",
		OutcomeRateLimited:    "rate_limited",
		OutcomeQuotaExhausted: "quota_exhausted",
		OutcomeFailed:         "failed",
	}
	for outcome, want := range cases {
		if got := outcome.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", outcome, got, want)
		}
	}
}
