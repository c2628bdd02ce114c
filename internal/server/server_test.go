package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/beekhof/ics-sync/internal/sync"
)

const testSecret = "test-secret"

// fakeSyncer records the identities it was called with and returns canned
// results.
type fakeSyncer struct {
	userID     string
	calendarID string
	stats      *sync.Stats
	err        error
}

func (f *fakeSyncer) SyncCalendar(ctx context.Context, userID, calendarID string) (*sync.Stats, error) {
	f.userID = userID
	f.calendarID = calendarID
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

func signToken(t *testing.T, secret, userID string) string {
	t.Helper()
	claims := jwt.MapClaims{}
	if userID != "" {
		claims["user_id"] = userID
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func postSync(t *testing.T, srv *Server, auth, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/sync", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("unmarshalling response %q: %v", raw, err)
	}
	return resp.StatusCode, parsed
}

func TestHealth(t *testing.T) {
	srv := New(&fakeSyncer{}, testSecret)

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestSync(t *testing.T) {
	syncer := &fakeSyncer{stats: &sync.Stats{EventCount: 3, EventsCreated: 2, Message: "Synced 3 events"}}
	srv := New(syncer, testSecret)

	token := signToken(t, testSecret, "user-1")
	status, body := postSync(t, srv, "Bearer "+token, `{"calendarId":"cal-1"}`)

	if status != http.StatusOK {
		t.Errorf("Expected 200, got %d", status)
	}
	if body["success"] != true {
		t.Fatalf("Expected success:true, got %v", body)
	}
	if body["eventCount"] != float64(3) || body["eventsCreated"] != float64(2) {
		t.Errorf("Expected stats echoed in the response, got %v", body)
	}
	if syncer.userID != "user-1" || syncer.calendarID != "cal-1" {
		t.Errorf("Expected syncer called as user-1/cal-1, got %s/%s", syncer.userID, syncer.calendarID)
	}
}

func TestSync_AuthFailures(t *testing.T) {
	tests := []struct {
		name    string
		auth    string
		wantErr string
	}{
		{"missing header", "", "missing authorization header"},
		{"not bearer", "Basic dXNlcjpwdw==", "malformed authorization header"},
		{"scheme glued to token", "Bearerabc.def.ghi", "malformed authorization header"},
		{"empty token", "Bearer ", "missing bearer token"},
		{"bare scheme", "Bearer", "missing bearer token"},
		{"wrong secret", "Bearer " + signTokenStatic("other-secret", "user-1"), "invalid bearer token"},
		{"no user claim", "Bearer " + signTokenStatic(testSecret, ""), "token carries no user identity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &fakeSyncer{stats: &sync.Stats{}}
			srv := New(syncer, testSecret)

			status, body := postSync(t, srv, tt.auth, `{"calendarId":"cal-1"}`)
			if status != http.StatusOK {
				t.Errorf("Fatal errors still use 200, got %d", status)
			}
			if body["success"] != false {
				t.Fatalf("Expected success:false, got %v", body)
			}
			if body["error"] != tt.wantErr {
				t.Errorf("Expected error %q, got %v", tt.wantErr, body["error"])
			}
			if syncer.calendarID != "" {
				t.Error("Syncer must not be reached without a valid identity")
			}
		})
	}
}

// signTokenStatic is signToken without the *testing.T, for table literals.
func signTokenStatic(secret, userID string) string {
	claims := jwt.MapClaims{}
	if userID != "" {
		claims["user_id"] = userID
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	return token
}

func TestSync_BadRequests(t *testing.T) {
	token := signTokenStatic(testSecret, "user-1")

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"missing calendar id", `{}`, "calendarId is required"},
		{"malformed json", `{"calendarId":`, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &fakeSyncer{stats: &sync.Stats{}}
			srv := New(syncer, testSecret)

			_, body := postSync(t, srv, "Bearer "+token, tt.body)
			if body["success"] != false || body["error"] != tt.wantErr {
				t.Errorf("Expected error %q, got %v", tt.wantErr, body)
			}
		})
	}
}

func TestSync_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr string
	}{
		{"not found", sync.ErrCalendarNotFound, "calendar not found"},
		{"disabled", sync.ErrCalendarDisabled, "calendar is disabled"},
		{"other", errors.New("database unavailable"), "database unavailable"},
	}

	token := signTokenStatic(testSecret, "user-1")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(&fakeSyncer{err: tt.err}, testSecret)

			status, body := postSync(t, srv, "Bearer "+token, `{"calendarId":"cal-1"}`)
			if status != http.StatusOK {
				t.Errorf("Sync failures still use 200, got %d", status)
			}
			if body["success"] != false || body["error"] != tt.wantErr {
				t.Errorf("Expected error %q, got %v", tt.wantErr, body)
			}
		})
	}
}
