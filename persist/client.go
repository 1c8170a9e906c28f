package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/docforge/docsync/asset"
)

// Client talks to the project's save and upload endpoints. One instance per
// project; the bearer token comes from the engine context, never a global.
type Client struct {
	base      string // API root, no trailing slash
	projectID string
	token     string
	http      *http.Client
}

// NewClient builds an API client. httpClient may be nil for the default.
func NewClient(base, projectID, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{base: base, projectID: projectID, token: token, http: httpClient}
}

// assetMeta is the per-file entry of the batch sync metadata array.
type assetMeta struct {
	ClientID    string `json:"clientId"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mimeType"`
	ContentHash string `json:"contentHash"`
}

// ChunkResult is the server's answer to a chunk or finalize call. Any chunk
// response may carry Complete once the server has assembled the whole file.
type ChunkResult struct {
	Complete bool `json:"complete"`
	Progress struct {
		Received int `json:"received"`
	} `json:"progress"`
}

// chunkRequest carries one chunk of a resumable upload. Chunk numbers are
// 1-indexed on the wire.
type chunkRequest struct {
	Identifier  string
	ChunkNumber int
	TotalChunks int
	Filename    string
	Mime        string
	ClientID    string
	Data        []byte
}

// finalizeRequest asks the server to check assembly of a chunked upload.
type finalizeRequest struct {
	Identifier  string `json:"resumableIdentifier"`
	TotalChunks int    `json:"resumableTotalChunks"`
	Filename    string `json:"resumableFilename"`
	Mime        string `json:"resumableType"`
	ClientID    string `json:"clientId"`
}

// SaveDocument POSTs the full binary document update.
func (c *Client) SaveDocument(ctx context.Context, update []byte) error {
	url := fmt.Sprintf("%s/projects/uuid/%s/yjs-document", c.base, c.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(update))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	c.authorize(req)
	return c.do(req, nil)
}

// SyncAssets uploads one batch of small assets as a single multipart call.
func (c *Client) SyncAssets(ctx context.Context, records []asset.Record) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	metas := make([]assetMeta, 0, len(records))
	for _, rec := range records {
		part, err := w.CreateFormFile("files[]", rec.Filename)
		if err != nil {
			return err
		}
		if _, err := part.Write(rec.Blob); err != nil {
			return err
		}
		metas = append(metas, assetMeta{
			ClientID:    rec.ID,
			Filename:    rec.Filename,
			MimeType:    rec.Mime,
			ContentHash: rec.ContentHash,
		})
	}
	metaJSON, err := json.Marshal(metas)
	if err != nil {
		return err
	}
	if err := w.WriteField("metadata", string(metaJSON)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/projects/%s/assets/sync", c.base, c.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req)
	return c.do(req, nil)
}

// UploadChunk sends one chunk of a large asset.
func (c *Client) UploadChunk(ctx context.Context, r chunkRequest) (ChunkResult, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", r.Filename)
	if err != nil {
		return ChunkResult{}, err
	}
	if _, err := part.Write(r.Data); err != nil {
		return ChunkResult{}, err
	}
	fields := map[string]string{
		"resumableIdentifier":  r.Identifier,
		"resumableChunkNumber": strconv.Itoa(r.ChunkNumber),
		"resumableTotalChunks": strconv.Itoa(r.TotalChunks),
		"resumableFilename":    r.Filename,
		"resumableType":        r.Mime,
		"clientId":             r.ClientID,
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return ChunkResult{}, err
		}
	}
	if err := w.Close(); err != nil {
		return ChunkResult{}, err
	}

	url := fmt.Sprintf("%s/projects/%s/assets/upload-chunk", c.base, c.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return ChunkResult{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req)

	var result ChunkResult
	if err := c.do(req, &result); err != nil {
		return ChunkResult{}, err
	}
	return result, nil
}

// FinalizeChunks polls the server's assembly check for a chunked upload.
func (c *Client) FinalizeChunks(ctx context.Context, r finalizeRequest) (ChunkResult, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return ChunkResult{}, err
	}
	url := fmt.Sprintf("%s/projects/%s/assets/upload-chunk/finalize", c.base, c.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return ChunkResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	var result ChunkResult
	if err := c.do(req, &result); err != nil {
		return ChunkResult{}, err
	}
	return result, nil
}

// UpdateMetadata patches the server's record of the project title.
func (c *Client) UpdateMetadata(ctx context.Context, title string) error {
	payload, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/projects/uuid/%s/metadata", c.base, c.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.do(req, nil)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// do runs the request, maps non-2xx responses to TransportError, and decodes
// the JSON body into out when asked.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Status: resp.StatusCode, Body: string(body)}
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
