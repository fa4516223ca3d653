package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arenfeld/codex/internal/testutil"
)

// testEnv sets up a temp store, service, and router for testing.
// An empty authToken means auth-disabled mode.
func testEnv(t *testing.T, authToken string) (*Service, http.Handler) {
	t.Helper()

	store := testutil.TestStore(t)

	svc := NewService(store, nil)
	router := NewRouter(svc, authToken != "", authToken, nil)
	return svc, router
}

func addItem(t *testing.T, router http.Handler, title string, payload []byte) ItemResponse {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"title":   title,
		"author":  "Ian Goodfellow",
		"tags":    []string{"AI"},
		"content": base64.StdEncoding.EncodeToString(payload),
	})
	req := httptest.NewRequest(http.MethodPost, "/items", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", w.Code, w.Body.String())
	}
	var item ItemResponse
	if err := json.Unmarshal(w.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode add response: %v", err)
	}
	return item
}

func TestAddAndGetItem(t *testing.T) {
	_, router := testEnv(t, "")
	payload := []byte("book bytes")
	item := addItem(t, router, "Deep Learning", payload)

	req := httptest.NewRequest(http.MethodGet, "/items/"+item.ID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, body = %s", w.Code, w.Body.String())
	}
	var detail ItemDetail
	_ = json.Unmarshal(w.Body.Bytes(), &detail)
	if detail.Title != "Deep Learning" {
		t.Errorf("title = %q", detail.Title)
	}
	got, err := base64.StdEncoding.DecodeString(detail.Content)
	if err != nil {
		t.Fatalf("decode content: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload round trip mismatch")
	}
}

func TestGetItemNotFound(t *testing.T) {
	_, router := testEnv(t, "")
	req := httptest.NewRequest(http.MethodGet, "/items/missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListItemsWithFilter(t *testing.T) {
	_, router := testEnv(t, "")
	addItem(t, router, "Deep Learning", []byte("a"))
	addItem(t, router, "The Go Programming Language", []byte("b"))

	req := httptest.NewRequest(http.MethodGet, "/items?title=deep", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var resp struct {
		Items []ItemResponse `json:"items"`
		Total int            `json:"total"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 1 || len(resp.Items) != 1 {
		t.Fatalf("total = %d, items = %d, want 1", resp.Total, len(resp.Items))
	}
	if resp.Items[0].Title != "Deep Learning" {
		t.Errorf("title = %q", resp.Items[0].Title)
	}
}

func TestAddRejectsBadRequests(t *testing.T) {
	_, router := testEnv(t, "")
	cases := []struct {
		name string
		body string
	}{
		{"invalid json", "{"},
		{"missing title", `{"content":"aGk="}`},
		{"missing content", `{"title":"x"}`},
		{"bad base64", `{"title":"x","content":"not-base64!!"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/items", bytes.NewReader([]byte(tc.body)))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestUpdateItem(t *testing.T) {
	_, router := testEnv(t, "")
	item := addItem(t, router, "Deep Learning", []byte("a"))

	body := []byte(`{"title":"Deep Learning, 2nd Edition"}`)
	req := httptest.NewRequest(http.MethodPatch, "/items/"+item.ID, bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}
	var updated ItemResponse
	_ = json.Unmarshal(w.Body.Bytes(), &updated)
	if updated.Title != "Deep Learning, 2nd Edition" {
		t.Errorf("title = %q", updated.Title)
	}
}

func TestDeleteItem(t *testing.T) {
	_, router := testEnv(t, "")
	item := addItem(t, router, "Deep Learning", []byte("a"))

	req := httptest.NewRequest(http.MethodDelete, "/items/"+item.ID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/items/"+item.ID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestExportBundle(t *testing.T) {
	_, router := testEnv(t, "")
	addItem(t, router, "Deep Learning", []byte("a"))

	req := httptest.NewRequest(http.MethodGet, "/export", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-tar" {
		t.Errorf("content type = %q", ct)
	}
	if w.Body.Len() == 0 {
		t.Error("empty bundle")
	}
}

func TestAuthMiddleware(t *testing.T) {
	_, router := testEnv(t, "sekrit")

	req := httptest.NewRequest(http.MethodGet, "/items", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/items", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/items", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", w.Code)
	}
}
