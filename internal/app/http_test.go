package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestHTTPServer(t *testing.T) (*httptest.Server, *Service) {
	t.Helper()
	svc, _ := newTestService(t)
	ts := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(ts.Close)
	return ts, svc
}

func doJSON(t *testing.T, method, url, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, payload
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestHTTPServer(t)

	status, payload := doJSON(t, http.MethodGet, ts.URL+"/api/health", "", nil)
	if status != http.StatusOK || payload["ok"] != true {
		t.Errorf("health: status=%d payload=%v", status, payload)
	}

	status, payload = doJSON(t, http.MethodGet, ts.URL+"/api/ready", "", nil)
	if status != http.StatusOK || payload["ok"] != true {
		t.Errorf("ready: status=%d payload=%v", status, payload)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	ts, _ := newTestHTTPServer(t)
	status, payload := doJSON(t, http.MethodGet, ts.URL+"/api/nope", "", nil)
	if status != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Errorf("status=%d payload=%v", status, payload)
	}
}

func TestAuthLinkValidation(t *testing.T) {
	ts, _ := newTestHTTPServer(t)
	status, payload := doJSON(t, http.MethodPost, ts.URL+"/api/auth/link", "", map[string]any{"email": "nope"})
	if status != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("status=%d payload=%v", status, payload)
	}
}

func signInHTTP(t *testing.T, ts *httptest.Server, emailAddr string) (token, refresh string) {
	t.Helper()
	status, payload := doJSON(t, http.MethodPost, ts.URL+"/api/auth/link", "", map[string]any{"email": emailAddr})
	if status != http.StatusOK {
		t.Fatalf("auth/link status=%d payload=%v", status, payload)
	}
	devToken, _ := payload["devToken"].(string)
	if devToken == "" {
		t.Fatal("no dev token")
	}
	status, payload = doJSON(t, http.MethodPost, ts.URL+"/api/auth/complete", "", map[string]any{"token": devToken})
	if status != http.StatusOK {
		t.Fatalf("auth/complete status=%d payload=%v", status, payload)
	}
	return payload["token"].(string), payload["refreshToken"].(string)
}

func TestAuthSessionLifecycleOverHTTP(t *testing.T) {
	ts, _ := newTestHTTPServer(t)

	status, payload := doJSON(t, http.MethodGet, ts.URL+"/api/auth/session", "", nil)
	if status != http.StatusOK || payload["authenticated"] != false {
		t.Errorf("anonymous session: %v", payload)
	}

	token, refresh := signInHTTP(t, ts, "alice@example.com")

	status, payload = doJSON(t, http.MethodGet, ts.URL+"/api/auth/session", token, nil)
	if status != http.StatusOK || payload["authenticated"] != true || payload["email"] != "alice@example.com" {
		t.Errorf("authenticated session: %v", payload)
	}

	status, payload = doJSON(t, http.MethodPost, ts.URL+"/api/auth/refresh", "", map[string]any{"refreshToken": refresh})
	if status != http.StatusOK || payload["token"] == "" {
		t.Errorf("refresh: status=%d payload=%v", status, payload)
	}

	status, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/signout", "", map[string]any{"refreshToken": payload["refreshToken"]})
	if status != http.StatusOK {
		t.Errorf("signout status=%d", status)
	}
}

func TestEditingFlowOverHTTP(t *testing.T) {
	ts, _ := newTestHTTPServer(t)

	status, state := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", "", map[string]any{"clientId": "client-1"})
	if status != http.StatusOK {
		t.Fatalf("create session: status=%d payload=%v", status, state)
	}
	sessionID := state["sessionId"].(string)
	base := fmt.Sprintf("%s/api/sessions/%s", ts.URL, sessionID)

	status, state = doJSON(t, http.MethodPost, base+"/edits", "", map[string]any{"domainId": 3, "index": 1, "text": "Revised text"})
	if status != http.StatusOK || state["dirty"] != true {
		t.Fatalf("edit: status=%d payload=%v", status, state)
	}

	// Anonymous publish maps to the sign-in-required code.
	status, payload := doJSON(t, http.MethodPost, base+"/publish", "", map[string]any{"name": "My Copy"})
	if status != http.StatusUnauthorized || payload["code"] != "SIGN_IN_REQUIRED" {
		t.Fatalf("anonymous publish: status=%d payload=%v", status, payload)
	}

	token, _ := signInHTTP(t, ts, "alice@example.com")
	status, state = doJSON(t, http.MethodPost, base+"/publish", token, map[string]any{"name": "My Copy"})
	if status != http.StatusOK {
		t.Fatalf("publish: status=%d payload=%v", status, state)
	}
	published := state["published"].(map[string]any)
	docID := published["id"].(string)

	// The published record is publicly readable by id.
	status, payload = doJSON(t, http.MethodGet, ts.URL+"/api/documents/"+docID, "", nil)
	if status != http.StatusOK || payload["name"] != "My Copy" {
		t.Fatalf("public read: status=%d payload=%v", status, payload)
	}

	// The owner's listing includes it.
	status, payload = doJSON(t, http.MethodGet, ts.URL+"/api/documents?mine=1", token, nil)
	if status != http.StatusOK || payload["total"] != float64(1) {
		t.Fatalf("mine listing: status=%d payload=%v", status, payload)
	}
}

func TestDocumentListingRequiresAuth(t *testing.T) {
	ts, _ := newTestHTTPServer(t)
	status, payload := doJSON(t, http.MethodGet, ts.URL+"/api/documents?mine=1", "", nil)
	if status != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
		t.Errorf("status=%d payload=%v", status, payload)
	}
}

func TestTemplateEndpoint(t *testing.T) {
	ts, _ := newTestHTTPServer(t)
	status, payload := doJSON(t, http.MethodGet, ts.URL+"/api/template", "", nil)
	if status != http.StatusOK {
		t.Fatalf("status=%d", status)
	}
	if _, ok := payload["document"]; !ok {
		t.Error("template payload missing document")
	}

	status, _ = doJSON(t, http.MethodGet, ts.URL+"/api/template?scale=individual", "", nil)
	if status != http.StatusOK {
		t.Fatalf("scale filter: status=%d", status)
	}
	status, payload = doJSON(t, http.MethodGet, ts.URL+"/api/template?scale=cosmic", "", nil)
	if status != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("bad scale: status=%d payload=%v", status, payload)
	}
}

func TestRecentRequiresClientID(t *testing.T) {
	ts, _ := newTestHTTPServer(t)
	status, payload := doJSON(t, http.MethodGet, ts.URL+"/api/recent", "", nil)
	if status != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("status=%d payload=%v", status, payload)
	}

	status, payload = doJSON(t, http.MethodGet, ts.URL+"/api/recent?clientId=client-1", "", nil)
	if status != http.StatusOK {
		t.Errorf("status=%d payload=%v", status, payload)
	}
	if _, ok := payload["shares"]; !ok {
		t.Error("recent payload missing shares")
	}
}

func TestResetWithoutConfirmOverHTTP(t *testing.T) {
	ts, _ := newTestHTTPServer(t)

	_, state := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", "", map[string]any{"clientId": "client-1"})
	sessionID := state["sessionId"].(string)

	status, payload := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/sessions/%s/reset", ts.URL, sessionID), "", map[string]any{"confirm": false})
	if status != http.StatusUnprocessableEntity || payload["code"] != "CONFIRM_REQUIRED" {
		t.Errorf("status=%d payload=%v", status, payload)
	}
}
