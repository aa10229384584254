package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"commenergy/internal/exports"
	"commenergy/internal/services"
	"commenergy/internal/storage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	repo, err := storage.NewSQLiteRepository(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	store, err := exports.NewStore(filepath.Join(dir, "exports"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	billing := services.NewBillingService(repo, store, nil)
	srv := NewServer(":0", repo, billing, store)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, _ := doJSON(t, http.MethodGet, ts.URL+path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestMemberLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/members", map[string]any{
		"name":      "Dupont",
		"firstname": "Marie",
		"email":     "marie@example.org",
		"pods": []map[string]any{
			{"label": "House", "type": "Consumption", "pod_number": "POD-1"},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create member = %d: %s", resp.StatusCode, body)
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	resp, body = doJSON(t, http.MethodGet, fmt.Sprintf("%s/members/%d", ts.URL, created.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get member = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"name":"Dupont"`) {
		t.Errorf("get member body = %s", body)
	}

	resp, body = doJSON(t, http.MethodGet, fmt.Sprintf("%s/members/%d/pods", ts.URL, created.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list pods = %d", resp.StatusCode)
	}
	var pods []map[string]any
	if err := json.Unmarshal(body, &pods); err != nil {
		t.Fatalf("unmarshal pods: %v", err)
	}
	if len(pods) != 1 {
		t.Errorf("pod count = %d, want 1", len(pods))
	}

	resp, _ = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/members/%d", ts.URL, created.ID), nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete member = %d, want 204", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, fmt.Sprintf("%s/members/%d", ts.URL, created.ID), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get deleted member = %d, want 404", resp.StatusCode)
	}
}

func TestCreateMemberValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/members", map[string]any{"name": "   "})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("blank name = %d, want 422", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/members", map[string]any{"unknown_field": true})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown field = %d, want 400", resp.StatusCode)
	}
}

func TestDuplicatePodGroupLinkConflicts(t *testing.T) {
	ts := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, ts.URL+"/members", map[string]any{
		"name": "Dupont", "firstname": "Marie",
		"pods": []map[string]any{{"label": "House", "type": "Consumption", "pod_number": "POD-1"}},
	})
	var member struct {
		ID int64 `json:"id"`
	}
	_ = json.Unmarshal(body, &member)

	_, body = doJSON(t, http.MethodGet, fmt.Sprintf("%s/members/%d/pods", ts.URL, member.ID), nil)
	var pods []struct {
		ID int64 `json:"id"`
	}
	_ = json.Unmarshal(body, &pods)
	if len(pods) != 1 {
		t.Fatalf("pod count = %d", len(pods))
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/sharing-groups", map[string]any{
		"name": "village", "group_number": "G-1", "price": "12.00", "type": "Local",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create group = %d: %s", resp.StatusCode, body)
	}
	var group struct {
		ID int64 `json:"id"`
	}
	_ = json.Unmarshal(body, &group)

	linkURL := fmt.Sprintf("%s/sharing-groups/%d/pods", ts.URL, group.ID)
	resp, _ = doJSON(t, http.MethodPost, linkURL, map[string]any{"pod_id": pods[0].ID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first link = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, linkURL, map[string]any{"pod_id": pods[0].ID})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second link = %d, want 409", resp.StatusCode)
	}
}

func TestBillingRunEndpoint(t *testing.T) {
	ts := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, ts.URL+"/members", map[string]any{
		"name": "Dupont", "firstname": "Marie",
		"pods": []map[string]any{{"label": "House", "type": "Consumption", "pod_number": "POD-1"}},
	})
	var member struct {
		ID int64 `json:"id"`
	}
	_ = json.Unmarshal(body, &member)

	_, body = doJSON(t, http.MethodGet, fmt.Sprintf("%s/members/%d/pods", ts.URL, member.ID), nil)
	var pods []struct {
		ID int64 `json:"id"`
	}
	_ = json.Unmarshal(body, &pods)

	_, body = doJSON(t, http.MethodPost, ts.URL+"/sharing-groups", map[string]any{
		"name": "village", "group_number": "G-1", "price": "12.00", "type": "Local",
	})
	var group struct {
		ID int64 `json:"id"`
	}
	_ = json.Unmarshal(body, &group)

	entry := map[string]any{
		"year": 2026, "month": 7,
		"member_id": member.ID, "pod_id": pods[0].ID, "sharing_group_id": group.ID,
		"amount": "75.50",
	}
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/accounting", entry)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create accounting = %d: %s", resp.StatusCode, body)
	}

	// The same (year, month, member, pod) tuple conflicts.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/accounting", entry)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate accounting = %d, want 409", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/accounting/unbilled", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list unbilled = %d", resp.StatusCode)
	}
	var unbilled []map[string]any
	_ = json.Unmarshal(body, &unbilled)
	if len(unbilled) != 1 {
		t.Fatalf("unbilled count = %d, want 1", len(unbilled))
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/billing/runs", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("billing run = %d: %s", resp.StatusCode, body)
	}
	var run struct {
		Filename   string `json:"filename"`
		GrandTotal string `json:"grand_total"`
		Lines      []struct {
			Name  string `json:"name"`
			Total string `json:"total"`
		} `json:"lines"`
	}
	if err := json.Unmarshal(body, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if run.GrandTotal != "75.50" {
		t.Errorf("grand_total = %q, want 75.50", run.GrandTotal)
	}
	if len(run.Lines) != 1 || run.Lines[0].Name != "Dupont" {
		t.Errorf("lines = %+v", run.Lines)
	}
	if !strings.HasPrefix(run.Filename, "decompte-") || !strings.HasSuffix(run.Filename, ".csv") {
		t.Errorf("filename = %q", run.Filename)
	}

	// The export is listed and downloadable.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/exports", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list exports = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), run.Filename) {
		t.Errorf("exports listing missing %q: %s", run.Filename, body)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/exports/"+run.Filename, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download export = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.HasPrefix(string(body), "Nom;Prénom;Montant") {
		t.Errorf("export body = %q", body)
	}

	// Everything is billed now.
	_, body = doJSON(t, http.MethodGet, ts.URL+"/accounting/unbilled", nil)
	unbilled = nil
	_ = json.Unmarshal(body, &unbilled)
	if len(unbilled) != 0 {
		t.Errorf("unbilled after run = %d, want 0", len(unbilled))
	}
}

func TestExportDownloadRejectsTraversal(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/exports/%2e%2e%2fsecret.txt", nil)
	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusNotFound {
		t.Errorf("traversal download = %d, want 400 or 404", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/exports/missing.csv", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing export = %d, want 404", resp.StatusCode)
	}
}
