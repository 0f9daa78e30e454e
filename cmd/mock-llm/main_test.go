package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFixtures_BaseOnly(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "mock-classifier.json", `{"intent":"refill_request","confidence":0.95}`)
	writeFixture(t, dir, "mock-replier.txt", `Your lisinopril refill is on its way.`)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	if len(fixtures) != 2 {
		t.Fatalf("expected 2 models, got %d", len(fixtures))
	}

	// Each model should have exactly 1 fixture (the base)
	for model, seq := range fixtures {
		if len(seq) != 1 {
			t.Errorf("model %q: expected 1 fixture, got %d", model, len(seq))
		}
	}
}

func TestLoadFixtures_Sequential(t *testing.T) {
	dir := t.TempDir()

	// Numbered fixtures scripting a conversation (request, then confirmation)
	writeFixture(t, dir, "mock-classifier.1.json", `{"intent":"refill_request","confidence":0.9}`)
	writeFixture(t, dir, "mock-classifier.2.json", `{"intent":"confirm","confidence":0.95}`)
	// Base fallback
	writeFixture(t, dir, "mock-classifier.json", `{"intent":"unknown","confidence":0.2}`)

	// Non-sequential model
	writeFixture(t, dir, "mock-replier.json", `"Got it."`)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	// Classifier should have 3 entries: .1, .2, base
	classifierSeq := fixtures["mock-classifier"]
	if len(classifierSeq) != 3 {
		t.Fatalf("mock-classifier: expected 3 fixtures, got %d", len(classifierSeq))
	}

	// Verify order: numbered first (sorted), then base
	if !strings.Contains(classifierSeq[0], "refill_request") {
		t.Errorf("fixture[0] should be refill_request, got: %s", classifierSeq[0])
	}
	if !strings.Contains(classifierSeq[1], "confirm") {
		t.Errorf("fixture[1] should be confirm, got: %s", classifierSeq[1])
	}
	if !strings.Contains(classifierSeq[2], "unknown") {
		t.Errorf("fixture[2] should be the unknown fallback, got: %s", classifierSeq[2])
	}

	// Replier should have 1 entry
	replierSeq := fixtures["mock-replier"]
	if len(replierSeq) != 1 {
		t.Fatalf("mock-replier: expected 1 fixture, got %d", len(replierSeq))
	}
}

func TestLoadFixtures_NumberedOnly(t *testing.T) {
	dir := t.TempDir()

	// Only numbered, no base file
	writeFixture(t, dir, "mock-classifier.1.json", `{"intent":"refill_request"}`)
	writeFixture(t, dir, "mock-classifier.2.json", `{"intent":"confirm"}`)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	seq := fixtures["mock-classifier"]
	if len(seq) != 2 {
		t.Fatalf("expected 2 fixtures, got %d", len(seq))
	}
}

func TestLoadFixtures_TextServedRaw(t *testing.T) {
	dir := t.TempDir()

	// Prose reply fixtures are not JSON and must load anyway
	writeFixture(t, dir, "mock-replier.1.txt", `Which pharmacy would you like to use?`)
	writeFixture(t, dir, "mock-replier.txt", `Anything else I can help with?`)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	seq := fixtures["mock-replier"]
	if len(seq) != 2 {
		t.Fatalf("expected 2 fixtures, got %d", len(seq))
	}
	if seq[0] != "Which pharmacy would you like to use?" {
		t.Errorf("txt fixture should be served verbatim, got: %s", seq[0])
	}
}

func TestLoadFixtures_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "mock-classifier.json", `{"intent": unquoted}`)

	if _, err := loadFixtures(dir); err == nil {
		t.Fatal("expected error for invalid JSON fixture")
	}
}

func TestLoadFixtures_EmptyDir(t *testing.T) {
	dir := t.TempDir()

	_, err := loadFixtures(dir)
	if err == nil {
		t.Fatal("expected error for empty directory")
	}
}

func TestSequentialFixtureSelection(t *testing.T) {
	fixtures := map[string][]string{
		"mock-classifier": {
			`{"intent":"refill_request","confidence":0.9}`,
			`{"intent":"confirm","confidence":0.95}`,
		},
		"mock-replier": {
			`Your refill has been placed.`,
		},
	}

	s := newServer(fixtures)

	// First call to mock-classifier → refill_request
	resp1 := doCompletion(t, s, "mock-classifier")
	if !strings.Contains(resp1, "refill_request") {
		t.Errorf("call 1: expected refill_request, got: %s", resp1)
	}

	// Second call to mock-classifier → confirm
	resp2 := doCompletion(t, s, "mock-classifier")
	if !strings.Contains(resp2, "confirm") {
		t.Errorf("call 2: expected confirm, got: %s", resp2)
	}

	// Third call (beyond sequence) → repeats last (confirm)
	resp3 := doCompletion(t, s, "mock-classifier")
	if !strings.Contains(resp3, "confirm") {
		t.Errorf("call 3: expected confirm (repeat last), got: %s", resp3)
	}

	// Replier calls are independent
	replyResp := doCompletion(t, s, "mock-replier")
	if !strings.Contains(replyResp, "refill has been placed") {
		t.Errorf("replier: expected reply fixture, got: %s", replyResp)
	}
}

func TestStatsEndpoint(t *testing.T) {
	fixtures := map[string][]string{
		"mock-classifier": {`{"intent":"confirm"}`},
		"mock-replier":    {`One moment.`},
	}

	s := newServer(fixtures)

	// Make some calls
	doCompletion(t, s, "mock-classifier")
	doCompletion(t, s, "mock-classifier")
	doCompletion(t, s, "mock-replier")

	// Query stats
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	s.handleStats(w, req)

	var stats struct {
		TotalCalls   int64            `json:"total_calls"`
		CallsByModel map[string]int64 `json:"calls_by_model"`
	}
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}

	if stats.TotalCalls != 3 {
		t.Errorf("total_calls: expected 3, got %d", stats.TotalCalls)
	}
	if stats.CallsByModel["mock-classifier"] != 2 {
		t.Errorf("mock-classifier calls: expected 2, got %d", stats.CallsByModel["mock-classifier"])
	}
	if stats.CallsByModel["mock-replier"] != 1 {
		t.Errorf("mock-replier calls: expected 1, got %d", stats.CallsByModel["mock-replier"])
	}
}

func TestRequestsEndpoint(t *testing.T) {
	fixtures := map[string][]string{
		"mock-classifier": {`{"intent":"confirm"}`},
	}

	s := newServer(fixtures)

	body := strings.NewReader(`{
		"model": "mock-classifier",
		"messages": [{"role": "user", "content": "Yes, that dosage is right"}]
	}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}

	// Captured request should include the user message
	reqReq := httptest.NewRequest(http.MethodGet, "/requests?model=mock-classifier", nil)
	reqW := httptest.NewRecorder()
	s.handleRequests(reqW, reqReq)

	var captured struct {
		RequestsByModel map[string][]capturedRequest `json:"requests_by_model"`
	}
	if err := json.NewDecoder(reqW.Body).Decode(&captured); err != nil {
		t.Fatalf("decode requests: %v", err)
	}

	reqs := captured.RequestsByModel["mock-classifier"]
	if len(reqs) != 1 {
		t.Fatalf("expected 1 captured request, got %d", len(reqs))
	}
	if reqs[0].CallIndex != 1 {
		t.Errorf("call_index: expected 1, got %d", reqs[0].CallIndex)
	}
	if len(reqs[0].Messages) != 1 || !strings.Contains(reqs[0].Messages[0].Content, "dosage") {
		t.Errorf("captured messages missing user content: %+v", reqs[0].Messages)
	}
}

func TestStripMockPrefix(t *testing.T) {
	fixtures := map[string][]string{
		"classifier": {`{"intent":"confirm"}`},
	}

	s := newServer(fixtures)

	// Request with "mock-" prefix should resolve to "classifier"
	resp := doCompletion(t, s, "mock-classifier")
	if !strings.Contains(resp, "confirm") {
		t.Errorf("expected mock-prefix stripping to resolve, got: %s", resp)
	}
}

func TestUnknownModelReturns404(t *testing.T) {
	s := newServer(map[string][]string{
		"mock-classifier": {`{"intent":"confirm"}`},
	})

	body := strings.NewReader(`{"model":"mystery","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown model, got %d", w.Code)
	}
}

func TestNumberedFileRegex(t *testing.T) {
	tests := []struct {
		filename string
		wantBase string
		wantNum  string
		match    bool
	}{
		{"mock-classifier.1.json", "mock-classifier", "1", true},
		{"mock-classifier.2.json", "mock-classifier", "2", true},
		{"mock-classifier.10.json", "mock-classifier", "10", true},
		{"mock-replier.3.txt", "mock-replier", "3", true},
		{"mock-classifier.json", "", "", false},
		{"mock-replier.txt", "", "", false},
	}

	for _, tt := range tests {
		matches := numberedFileRe.FindStringSubmatch(tt.filename)
		if tt.match {
			if matches == nil {
				t.Errorf("%s: expected match, got nil", tt.filename)
				continue
			}
			if matches[1] != tt.wantBase {
				t.Errorf("%s: base=%q, want %q", tt.filename, matches[1], tt.wantBase)
			}
			if matches[2] != tt.wantNum {
				t.Errorf("%s: num=%q, want %q", tt.filename, matches[2], tt.wantNum)
			}
		} else {
			if matches != nil {
				t.Errorf("%s: expected no match, got %v", tt.filename, matches)
			}
		}
	}
}

// --- helpers ---

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func doCompletion(t *testing.T, s *server, model string) string {
	t.Helper()
	body := strings.NewReader(`{"model":"` + model + `","messages":[{"role":"user","content":"test"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("model %s: status %d, body: %s", model, w.Code, w.Body.String())
	}

	var resp chatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if len(resp.Choices) == 0 {
		t.Fatalf("no choices in response")
	}

	return resp.Choices[0].Message.Content
}
