package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
)

func newTestServer() (*HTTPServer, *Service) {
	svc, _, _ := newTestService()
	return NewHTTPServer(svc, "*"), svc
}

func doJSON(t *testing.T, server *HTTPServer, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("parse response: %v (%s)", err, rr.Body.String())
	}
	return response
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer()

	rr := doJSON(t, server, http.MethodGet, "/api/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ok := decodeResponse(t, rr)["ok"]; ok != true {
		t.Fatalf("ok = %v", ok)
	}
}

func TestReadyEndpoint(t *testing.T) {
	server, _ := newTestServer()

	rr := doJSON(t, server, http.MethodGet, "/api/ready", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if response["status"] != "ready" {
		t.Fatalf("status field = %v", response["status"])
	}
}

func TestCreateAndFetchItem(t *testing.T) {
	server, _ := newTestServer()

	rr := doJSON(t, server, http.MethodPost, "/api/items", map[string]any{
		"name":   "Warehouse",
		"qrCode": "QR-1",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d (%s)", rr.Code, rr.Body.String())
	}
	created := decodeResponse(t, rr)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("no id in response: %v", created)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/items/"+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	fetched := decodeResponse(t, rr)
	if fetched["name"] != "Warehouse" || fetched["qrCode"] != "QR-1" {
		t.Fatalf("fetched = %v", fetched)
	}
}

func TestMalformedQueryParamsReturn400(t *testing.T) {
	server, _ := newTestServer()

	rr := doJSON(t, server, http.MethodGet, "/api/items?hierarchical=maybe", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("hierarchical status = %d", rr.Code)
	}
	if code := decodeResponse(t, rr)["code"]; code != "VALIDATION_ERROR" {
		t.Fatalf("hierarchical code = %v", code)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/items/search?q=crate&limit=abc", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("limit status = %d", rr.Code)
	}
	if code := decodeResponse(t, rr)["code"]; code != "VALIDATION_ERROR" {
		t.Fatalf("limit code = %v", code)
	}
}

func TestCreateItemValidationResponse(t *testing.T) {
	server, _ := newTestServer()

	rr := doJSON(t, server, http.MethodPost, "/api/items", map[string]any{"name": " "})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if response["code"] != "VALIDATION_ERROR" {
		t.Fatalf("code = %v", response["code"])
	}
	details, ok := response["details"].(map[string]any)
	if !ok || details["name"] == nil {
		t.Fatalf("details = %v", response["details"])
	}
}

func TestGetUnknownItem(t *testing.T) {
	server, _ := newTestServer()

	rr := doJSON(t, server, http.MethodGet, "/api/items/item-nope", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	if code := decodeResponse(t, rr)["code"]; code != "NOT_FOUND" {
		t.Fatalf("code = %v", code)
	}
}

func createItemHTTP(t *testing.T, server *HTTPServer, parentID, name string) string {
	t.Helper()
	body := map[string]any{"name": name}
	if parentID != "" {
		body["parentId"] = parentID
	}
	rr := doJSON(t, server, http.MethodPost, "/api/items", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create %s: status %d (%s)", name, rr.Code, rr.Body.String())
	}
	id, _ := decodeResponse(t, rr)["id"].(string)
	return id
}

func TestMoveEndpointRejectsCycle(t *testing.T) {
	server, _ := newTestServer()

	warehouse := createItemHTTP(t, server, "", "Warehouse")
	shelf := createItemHTTP(t, server, warehouse, "Shelf-A")

	rr := doJSON(t, server, http.MethodPut, "/api/items/"+warehouse+"/parent",
		map[string]any{"parentId": shelf})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if response["code"] != "CIRCULAR_DEPENDENCY" {
		t.Fatalf("code = %v", response["code"])
	}
	if !strings.Contains(response["error"].(string), "circular") {
		t.Fatalf("error = %v", response["error"])
	}
}

func TestMoveEndpointPromotesToRoot(t *testing.T) {
	server, _ := newTestServer()

	warehouse := createItemHTTP(t, server, "", "Warehouse")
	shelf := createItemHTTP(t, server, warehouse, "Shelf-A")

	rr := doJSON(t, server, http.MethodPut, "/api/items/"+shelf+"/parent",
		map[string]any{"parentId": nil})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rr.Code, rr.Body.String())
	}
	moved := decodeResponse(t, rr)
	if moved["parentId"] != nil {
		t.Fatalf("parentId = %v", moved["parentId"])
	}
	if moved["depth"] != float64(0) {
		t.Fatalf("depth = %v", moved["depth"])
	}
}

func TestListItemsHierarchicalToggle(t *testing.T) {
	server, _ := newTestServer()

	warehouse := createItemHTTP(t, server, "", "Warehouse")
	createItemHTTP(t, server, warehouse, "Shelf-A")

	rr := doJSON(t, server, http.MethodGet, "/api/items", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	items := decodeResponse(t, rr)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("hierarchical roots = %d, want 1", len(items))
	}
	root := items[0].(map[string]any)
	if children := root["children"].([]any); len(children) != 1 {
		t.Fatalf("children = %v", children)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/items?hierarchical=false", nil)
	items = decodeResponse(t, rr)["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("flat items = %d, want 2", len(items))
	}
	if _, nested := items[0].(map[string]any)["children"]; nested {
		t.Fatal("flat rows must not nest children")
	}
}

func TestSearchEndpoint(t *testing.T) {
	server, _ := newTestServer()

	warehouse := createItemHTTP(t, server, "", "Warehouse")
	shelf := createItemHTTP(t, server, warehouse, "Paint Shelf")
	createItemHTTP(t, server, shelf, "Bin-1")

	rr := doJSON(t, server, http.MethodGet, "/api/items/search?q=paint", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	items := decodeResponse(t, rr)["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("results = %d, want shelf plus bin", len(items))
	}

	// Empty predicate returns an empty list, not everything.
	rr = doJSON(t, server, http.MethodGet, "/api/items/search", nil)
	items = decodeResponse(t, rr)["items"].([]any)
	if len(items) != 0 {
		t.Fatalf("empty search returned %d items", len(items))
	}
}

func TestBreadcrumbEndpoint(t *testing.T) {
	server, _ := newTestServer()

	warehouse := createItemHTTP(t, server, "", "Warehouse")
	shelf := createItemHTTP(t, server, warehouse, "Shelf-A")
	bin := createItemHTTP(t, server, shelf, "Bin-1")

	rr := doJSON(t, server, http.MethodGet, "/api/items/"+bin+"/breadcrumb", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var crumbs []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &crumbs); err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"Warehouse", "Shelf-A", "Bin-1"}
	if len(crumbs) != len(want) {
		t.Fatalf("crumbs = %v", crumbs)
	}
	for i, crumb := range crumbs {
		if crumb["name"] != want[i] {
			t.Fatalf("crumb %d = %v, want %s", i, crumb["name"], want[i])
		}
	}
}

func TestHistoryEndpoint(t *testing.T) {
	server, _ := newTestServer()

	warehouse := createItemHTTP(t, server, "", "Warehouse")
	shelfA := createItemHTTP(t, server, warehouse, "Shelf-A")
	shelfB := createItemHTTP(t, server, warehouse, "Shelf-B")
	bin := createItemHTTP(t, server, shelfA, "Bin-1")

	rr := doJSON(t, server, http.MethodPut, "/api/items/"+bin+"/parent",
		map[string]any{"parentId": shelfB})
	if rr.Code != http.StatusOK {
		t.Fatalf("move status = %d", rr.Code)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/items/history", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	history := decodeResponse(t, rr)["history"].([]any)
	if len(history) != 1 {
		t.Fatalf("history = %d entries", len(history))
	}
	entry := history[0].(map[string]any)
	if entry["itemName"] != "Bin-1" || entry["oldParentName"] != "Shelf-A" || entry["newParentName"] != "Shelf-B" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestAttachmentUploadAndDownload(t *testing.T) {
	server, _ := newTestServer()
	item := createItemHTTP(t, server, "", "Crate")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename=%q`, "label.txt")},
		"Content-Type":        {"text/plain"},
	})
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write([]byte("fragile")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/items/"+item+"/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d (%s)", rr.Code, rr.Body.String())
	}
	attID, _ := decodeResponse(t, rr)["id"].(string)
	if attID == "" {
		t.Fatal("no attachment id")
	}

	rr = doJSON(t, server, http.MethodGet, "/api/items/"+item+"/attachments/"+attID+"/content", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("download status = %d", rr.Code)
	}
	if rr.Body.String() != "fragile" {
		t.Fatalf("content = %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("content type = %s", ct)
	}
}

func TestAdminVerifyEndpoint(t *testing.T) {
	server, _ := newTestServer()

	warehouse := createItemHTTP(t, server, "", "Warehouse")
	createItemHTTP(t, server, warehouse, "Shelf-A")

	rr := doJSON(t, server, http.MethodGet, "/api/admin/verify", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ok := decodeResponse(t, rr)["ok"]; ok != true {
		t.Fatalf("ok = %v", ok)
	}
}

func TestDeleteItemEndpoint(t *testing.T) {
	server, _ := newTestServer()

	warehouse := createItemHTTP(t, server, "", "Warehouse")
	shelf := createItemHTTP(t, server, warehouse, "Shelf-A")

	rr := doJSON(t, server, http.MethodDelete, "/api/items/"+shelf, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	rr = doJSON(t, server, http.MethodGet, "/api/items/"+shelf, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer()
	item := createItemHTTP(t, server, "", "Crate")

	rr := doJSON(t, server, http.MethodPost, "/api/items/"+item+"/notes/some-note", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rr.Code)
	}
}
