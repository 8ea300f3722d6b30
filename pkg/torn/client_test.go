package torn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tornwatch/torntrainer/pkg/ratelimit"
)

const testAPIKey = "abcdef1234567890"

type fakeStore struct {
	disabled map[string]bool
	marks    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{disabled: map[string]bool{}}
}

func (f *fakeStore) IsKeyDisabled(ctx context.Context, keyID string) (bool, error) {
	return f.disabled[keyID], nil
}

func (f *fakeStore) MarkKeyDisabled(ctx context.Context, keyID, apiKey string) error {
	f.disabled[keyID] = true
	f.marks++
	return nil
}

type auditEntry struct {
	kind    string
	payload map[string]any
	result  map[string]any
}

type fakeAudit struct {
	entries []auditEntry
}

func (f *fakeAudit) LogAction(ctx context.Context, kind string, payload, result map[string]any) error {
	f.entries = append(f.entries, auditEntry{kind, payload, result})
	return nil
}

func (f *fakeAudit) outcomes() []string {
	var out []string
	for _, e := range f.entries {
		if e.kind != "api_request" {
			continue
		}
		if o, ok := e.result["outcome"].(string); ok {
			out = append(out, o)
		}
	}
	return out
}

// newTestClient wires a client at srv's URL with a permissive limiter and an
// instant backoff sleep so retry paths run fast.
func newTestClient(t *testing.T, srv *httptest.Server, store *fakeStore, audit *fakeAudit) *Client {
	t.Helper()
	var sink AuditSink
	if audit != nil {
		sink = audit
	}
	c := New(Config{
		APIKey:  testAPIKey,
		UserID:  "123",
		BaseURL: srv.URL,
		Limiter: ratelimit.NewTokenBucket(100, 1000, 0),
	}, store, sink)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestRequest_RetriesTransientThenSucceeds(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"level": 42}`)
	}))
	defer srv.Close()

	audit := &fakeAudit{}
	c := newTestClient(t, srv, newFakeStore(), audit)

	data, err := c.Request(context.Background(), "user", "123", "profile", nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if v, _ := data.Float("level"); v != 42 {
		t.Errorf("payload = %v; want level 42", data)
	}
	if hits != 3 {
		t.Errorf("upstream hit %d times; want 3", hits)
	}

	want := []string{OutcomeTransientRetry, OutcomeTransientRetry, OutcomeSuccess}
	got := audit.outcomes()
	if len(got) != len(want) {
		t.Fatalf("audit outcomes = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("audit outcome[%d] = %q; want %q", i, got[i], want[i])
		}
	}
}

func TestRequest_TransientExhausted(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	audit := &fakeAudit{}
	c := newTestClient(t, srv, newFakeStore(), audit)

	_, err := c.Request(context.Background(), "user", "123", "", nil)
	var exhausted *TransientExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v; want TransientExhaustedError", err)
	}
	if exhausted.Attempts != defaultMaxAttempts || exhausted.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("exhausted = %+v; want %d attempts at 503", exhausted, defaultMaxAttempts)
	}
	if hits != defaultMaxAttempts {
		t.Errorf("upstream hit %d times; want exactly %d", hits, defaultMaxAttempts)
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("exhausted error should unwrap to the last StatusError, got %v", err)
	}

	got := audit.outcomes()
	if len(got) != defaultMaxAttempts || got[len(got)-1] != OutcomeTransientExhausted {
		t.Errorf("audit outcomes = %v; want %d records ending in %s",
			got, defaultMaxAttempts, OutcomeTransientExhausted)
	}
}

func TestRequest_ThreeAuthFailuresDisableKey(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := newFakeStore()
	c := newTestClient(t, srv, store, &fakeAudit{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Request(ctx, "user", "123", "", nil)
		var statusErr *StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
			t.Fatalf("call %d: err = %v; want StatusError 401", i+1, err)
		}
	}
	if hits != 3 {
		t.Errorf("upstream hit %d times; want 3 (no retries on auth failures)", hits)
	}
	if !store.disabled["123"] {
		t.Fatal("key not disabled after three auth failures")
	}

	// Disabled latch short-circuits before any network traffic.
	_, err := c.Request(ctx, "user", "123", "", nil)
	var disabledErr *AuthDisabledError
	if !errors.As(err, &disabledErr) {
		t.Fatalf("err = %v; want AuthDisabledError", err)
	}
	if disabledErr.KeyID != "123" {
		t.Errorf("KeyID = %q; want 123", disabledErr.KeyID)
	}
	if hits != 3 {
		t.Errorf("upstream hit %d times after disable; want still 3", hits)
	}
}

func TestRequest_AuthCodedPayloadCountsTowardDisable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": {"code": 2, "error": "Incorrect key"}}`)
	}))
	defer srv.Close()

	store := newFakeStore()
	c := newTestClient(t, srv, store, &fakeAudit{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		data, err := c.Request(ctx, "user", "123", "", nil)
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i+1, err)
		}
		// The error payload is still handed back for inspection.
		if apiErr := data.Err(); apiErr == nil || apiErr.Code != 2 {
			t.Fatalf("call %d: payload error = %v; want code 2", i+1, data.Err())
		}
	}
	if !store.disabled["123"] {
		t.Error("key not disabled after three auth-coded payloads")
	}
}

func TestRequest_SuccessResetsAuthFailureCount(t *testing.T) {
	responses := []int{401, 401, 200, 401, 401}
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := responses[hits]
		hits++
		if status == 200 {
			fmt.Fprint(w, `{}`)
			return
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	store := newFakeStore()
	c := newTestClient(t, srv, store, &fakeAudit{})
	ctx := context.Background()

	for range responses {
		c.Request(ctx, "user", "123", "", nil)
	}
	if store.disabled["123"] {
		t.Error("key disabled; success in between should have reset the tally")
	}
}

func TestRequest_NetworkFailureExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connections now refused

	audit := &fakeAudit{}
	c := New(Config{
		APIKey:      testAPIKey,
		UserID:      "123",
		BaseURL:     srv.URL,
		MaxAttempts: 2,
		Limiter:     ratelimit.NewTokenBucket(100, 1000, 0),
	}, newFakeStore(), audit)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	_, err := c.Request(context.Background(), "user", "123", "", nil)
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v; want NetworkError", err)
	}
	if netErr.Attempts != 2 {
		t.Errorf("Attempts = %d; want 2", netErr.Attempts)
	}
	if netErr.Unwrap() == nil {
		t.Error("NetworkError should wrap the transport error")
	}

	for _, e := range audit.entries {
		if status, ok := e.result["status"].(int); !ok || status != netFailureStatus {
			t.Errorf("network attempt audit status = %v; want %d", e.result["status"], netFailureStatus)
		}
	}
}

func TestRequest_CredentialNeverInAuditRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != testAPIKey {
			t.Error("upstream did not receive the real key")
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	audit := &fakeAudit{}
	c := newTestClient(t, srv, newFakeStore(), audit)

	if _, err := c.Request(context.Background(), "user", "123", "bars", nil); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if len(audit.entries) == 0 {
		t.Fatal("no audit records written")
	}
	for _, e := range audit.entries {
		b, err := json.Marshal(map[string]any{"payload": e.payload, "result": e.result})
		if err != nil {
			t.Fatalf("marshal audit entry: %v", err)
		}
		if strings.Contains(string(b), testAPIKey) {
			t.Errorf("credential leaked into audit record: %s", b)
		}
	}
	url, _ := audit.entries[0].payload["url"].(string)
	if !strings.Contains(url, redactionMarker) {
		t.Errorf("audit url %q missing redaction marker", url)
	}
}

func TestRequest_EmptyKey(t *testing.T) {
	c := New(Config{UserID: "123"}, newFakeStore(), nil)
	_, err := c.Request(context.Background(), "user", "123", "", nil)
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("err = %v; want ErrNoAPIKey", err)
	}
}

func TestClient_CloseIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, newFakeStore(), nil)
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if _, err := c.Request(context.Background(), "user", "123", "", nil); !errors.Is(err, ErrClientClosed) {
		t.Errorf("err = %v; want ErrClientClosed", err)
	}
}

func TestRequest_NonJSONBodyWrapped(t *testing.T) {
	long := strings.Repeat("x", rawBodyLimit+100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, long)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, newFakeStore(), nil)
	data, err := c.Request(context.Background(), "user", "123", "", nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	raw, ok := data["raw"].(string)
	if !ok {
		t.Fatalf("payload = %v; want raw fallback envelope", data)
	}
	if len(raw) != rawBodyLimit {
		t.Errorf("raw length = %d; want truncated to %d", len(raw), rawBodyLimit)
	}
}

func TestRedactKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://api.torn.com/user/1?key=SECRET&selections=bars", "https://api.torn.com/user/1?key=REDACTED"},
		{"https://api.torn.com/user/1?comment=x&key=SECRET", "https://api.torn.com/user/1?comment=x&key=REDACTED"},
		{"https://api.torn.com/torn?selections=crimes", "https://api.torn.com/torn?selections=crimes"},
	}
	for _, tt := range tests {
		if got := redactKey(tt.in); got != tt.want {
			t.Errorf("redactKey(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildURL(t *testing.T) {
	c := New(Config{APIKey: "K", UserID: "1", BaseURL: "https://api.torn.com"}, newFakeStore(), nil)

	got := c.buildURL("user", "1", "bars,profile", nil)
	want := "https://api.torn.com/user/1?key=K&selections=bars%2Cprofile"
	if got != want {
		t.Errorf("buildURL = %q; want %q", got, want)
	}

	got = c.buildURL("torn", "", "crimes", nil)
	want = "https://api.torn.com/torn?key=K&selections=crimes"
	if got != want {
		t.Errorf("buildURL = %q; want %q", got, want)
	}
}
