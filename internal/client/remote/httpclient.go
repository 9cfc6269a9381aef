package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/dkocetkov/notesync/internal/common"
	"github.com/dkocetkov/notesync/internal/netx"
)

// HTTPClient talks JSON over HTTP to the sync server. It implements
// MutationAPI, QueryAPI and BlobStore. Per-call deadlines come from the
// caller's context; the embedded http.Client carries no timeout of its own
// so cancellation semantics stay in one place.
type HTTPClient struct {
	baseURL  string
	token    string
	deviceID string
	http     *http.Client
}

// NewHTTPClient returns a client for the server at baseURL. token may be
// empty for unauthenticated deployments.
func NewHTTPClient(baseURL, token, deviceID string) *HTTPClient {
	return &HTTPClient{
		baseURL:  baseURL,
		token:    token,
		deviceID: deviceID,
		http:     &http.Client{},
	}
}

type applyBatchRequest struct {
	Ops []BatchOp `json:"ops"`
}

type applyBatchResponse struct {
	Results []BatchResult `json:"results"`
}

type presignRequest struct {
	Mime string `json:"mime"`
}

type presignResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(common.AuthTokenHeaderName, "Bearer "+c.token)
	}
	req.Header.Set(common.DeviceIDHeaderName, c.deviceID)
	return req, nil
}

// do executes the request and decodes the JSON response into out. Transport
// failures and 5xx responses map to common.ErrTransientNetwork; 4xx
// responses are permanent.
func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: server returned %s", common.ErrTransientNetwork, resp.Status)
	case resp.StatusCode >= 400:
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s: %s", common.ErrRemoteRejected, resp.Status, string(b))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ApplyBatch sends queued mutations in one idempotent call.
func (c *HTTPClient) ApplyBatch(ctx context.Context, ops []BatchOp) ([]BatchResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/sync/batch", applyBatchRequest{Ops: ops})
	if err != nil {
		return nil, err
	}
	var resp applyBatchResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Pull requests records changed since the cursor.
func (c *HTTPClient) Pull(ctx context.Context, updatedAfter int64) (*PullResponse, error) {
	q := url.Values{"updated_after": {strconv.FormatInt(updatedAfter, 10)}}
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/sync/pull?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var resp PullResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Upload asks the server for a presigned PUT URL, uploads the file bytes to
// it, and returns the storage key as the attachment's stable remote
// reference. A local read failure is permanent; transport failures are
// transient.
func (c *HTTPClient) Upload(ctx context.Context, localPath, mime string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", common.ErrAttachmentUpload, localPath, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/blobs/presign", presignRequest{Mime: mime})
	if err != nil {
		return "", err
	}
	var presign presignResponse
	if err := c.do(req, &presign); err != nil {
		return "", err
	}

	if err := netx.UploadToPresignedURL(ctx, c.http, presign.URL, mime, data); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrTransientNetwork, err)
	}
	return presign.Key, nil
}
