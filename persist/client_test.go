package persist

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/docforge/docsync/asset"
)

func TestClient_SaveDocument(t *testing.T) {
	var (
		gotMethod, gotPath, gotAuth, gotType string
		gotBody                              []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	c := NewClient(server.URL, "proj-1", "tok", nil)
	if err := c.SaveDocument(context.Background(), []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %s", gotMethod)
	}
	if gotPath != "/projects/uuid/proj-1/yjs-document" {
		t.Errorf("path = %s", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotType != "application/octet-stream" {
		t.Errorf("content type = %q", gotType)
	}
	if string(gotBody) != string([]byte{1, 2, 3}) {
		t.Errorf("body = %v", gotBody)
	}
}

func TestClient_SyncAssets(t *testing.T) {
	var (
		gotPath  string
		gotFiles int
		gotMetas []assetMeta
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotFiles = len(r.MultipartForm.File["files[]"])
		json.Unmarshal([]byte(r.FormValue("metadata")), &gotMetas)
	}))
	defer server.Close()

	c := NewClient(server.URL, "proj-1", "tok", nil)
	records := []asset.Record{
		{ID: "a1", Filename: "one.png", Mime: "image/png", ContentHash: "h1", Size: 3, Blob: []byte{1, 2, 3}},
		{ID: "a2", Filename: "two.jpg", Mime: "image/jpeg", ContentHash: "h2", Size: 2, Blob: []byte{4, 5}},
	}
	if err := c.SyncAssets(context.Background(), records); err != nil {
		t.Fatal(err)
	}

	if gotPath != "/projects/proj-1/assets/sync" {
		t.Errorf("path = %s", gotPath)
	}
	if gotFiles != 2 {
		t.Errorf("files = %d, want 2", gotFiles)
	}
	if len(gotMetas) != 2 {
		t.Fatalf("metadata entries = %d, want 2", len(gotMetas))
	}
	if gotMetas[0].ClientID != "a1" || gotMetas[0].MimeType != "image/png" || gotMetas[0].ContentHash != "h1" {
		t.Errorf("metadata[0] = %+v", gotMetas[0])
	}
}

func TestClient_UploadChunk(t *testing.T) {
	var gotForm map[string]string
	var gotData []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects/proj-1/assets/upload-chunk" {
			http.NotFound(w, r)
			return
		}
		r.ParseMultipartForm(32 << 20)
		gotForm = map[string]string{}
		for _, k := range []string{"resumableIdentifier", "resumableChunkNumber", "resumableTotalChunks", "resumableFilename", "resumableType", "clientId"} {
			gotForm[k] = r.FormValue(k)
		}
		file, _, err := r.FormFile("file")
		if err == nil {
			gotData, _ = io.ReadAll(file)
			file.Close()
		}
		json.NewEncoder(w).Encode(map[string]any{
			"complete": true,
			"progress": map[string]int{"received": 4},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, "proj-1", "", nil)
	result, err := c.UploadChunk(context.Background(), chunkRequest{
		Identifier:  "upload-1",
		ChunkNumber: 4,
		TotalChunks: 4,
		Filename:    "big.bin",
		Mime:        "application/octet-stream",
		ClientID:    "a1",
		Data:        []byte("chunk"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if !result.Complete || result.Progress.Received != 4 {
		t.Errorf("result = %+v", result)
	}
	if gotForm["resumableChunkNumber"] != "4" || gotForm["resumableTotalChunks"] != "4" {
		t.Errorf("chunk numbering = %v", gotForm)
	}
	if gotForm["resumableIdentifier"] != "upload-1" || gotForm["clientId"] != "a1" {
		t.Errorf("identifiers = %v", gotForm)
	}
	if string(gotData) != "chunk" {
		t.Errorf("file data = %q", gotData)
	}
}

func TestClient_FinalizeChunks(t *testing.T) {
	var gotReq finalizeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects/proj-1/assets/upload-chunk/finalize" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]any{"complete": false})
	}))
	defer server.Close()

	c := NewClient(server.URL, "proj-1", "", nil)
	result, err := c.FinalizeChunks(context.Background(), finalizeRequest{
		Identifier: "upload-1", TotalChunks: 7, Filename: "big.bin", ClientID: "a1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Complete {
		t.Error("complete = true, want false")
	}
	if gotReq.Identifier != "upload-1" || gotReq.TotalChunks != 7 {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestClient_UpdateMetadata(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	defer server.Close()

	c := NewClient(server.URL, "proj-1", "", nil)
	if err := c.UpdateMetadata(context.Background(), "New Title"); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodPatch {
		t.Errorf("method = %s", gotMethod)
	}
	if gotPath != "/projects/uuid/proj-1/metadata" {
		t.Errorf("path = %s", gotPath)
	}
	if gotBody["title"] != "New Title" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestClient_NonSuccessStatusBecomesTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer server.Close()

	c := NewClient(server.URL, "proj-1", "", nil)
	err := c.SaveDocument(context.Background(), []byte{1})

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want TransportError", err)
	}
	if te.Status != http.StatusPaymentRequired {
		t.Errorf("status = %d", te.Status)
	}
}
