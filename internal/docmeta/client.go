// Package docmeta はドキュメントメタデータサービスのクライアントを提供します。
package docmeta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yourusername/paper-forge-worker/internal/document"
)

// ErrNotFound はメタデータサービスが 404 を返した場合のエラーです。
var ErrNotFound = errors.New("docmeta: not found")

// StatusError は 2xx 以外の応答を表します。
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("docmeta: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// NewDocument はドキュメント作成リクエストです。
type NewDocument struct {
	Name     string              `json:"name"`
	Owner    string              `json:"owner"`
	FileType document.FileType   `json:"fileType"`
	BOM      []document.BOMEntry `json:"bom,omitempty"`
	Key      string              `json:"key,omitempty"`
	JobID    string              `json:"jobId,omitempty"`
}

// CreatedDocument は作成されたドキュメントの識別子です。
type CreatedDocument struct {
	DocumentID        string `json:"documentId"`
	DocumentVersionID string `json:"documentVersionId"`
}

// Client はメタデータサービスへの HTTP クライアントです。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient は Client を作成します。
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetDocument は最新版のメタデータを取得します。
func (c *Client) GetDocument(ctx context.Context, documentID string) (*document.Metadata, error) {
	var meta document.Metadata
	if err := c.getJSON(ctx, "/documents/"+url.PathEscape(documentID), nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// GetDocumentVersion は指定版のメタデータを取得します。
func (c *Client) GetDocumentVersion(ctx context.Context, documentID, documentVersionID string) (*document.Metadata, error) {
	path := fmt.Sprintf("/documents/%s/versions/%s", url.PathEscape(documentID), url.PathEscape(documentVersionID))
	var meta document.Metadata
	if err := c.getJSON(ctx, path, nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// GetAccessLevel はユーザーのアクセスレベルを返します。
func (c *Client) GetAccessLevel(ctx context.Context, documentID, userID string) (string, error) {
	var body struct {
		AccessLevel string `json:"accessLevel"`
	}
	query := url.Values{"userId": {userID}}
	if err := c.getJSON(ctx, "/documents/"+url.PathEscape(documentID)+"/access", query, &body); err != nil {
		return "", err
	}
	return body.AccessLevel, nil
}

// GetModificationData は保存済みの変更データを返します。データがない場合は nil を返します。
func (c *Client) GetModificationData(ctx context.Context, documentID, documentVersionID string) (json.RawMessage, error) {
	path := fmt.Sprintf("/documents/%s/versions/%s/modifications", url.PathEscape(documentID), url.PathEscape(documentVersionID))
	var raw json.RawMessage
	err := c.getJSON(ctx, path, nil, &raw)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) || bytes.Equal(trimmed, []byte("[]")) {
		return nil, nil
	}
	return raw, nil
}

// GetUserIDByEmail はメールアドレスからユーザーIDを解決します。
func (c *Client) GetUserIDByEmail(ctx context.Context, email string) (string, error) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := c.getJSON(ctx, "/users", url.Values{"email": {email}}, &body); err != nil {
		return "", err
	}
	return body.UserID, nil
}

// CreateDocument は新しいドキュメントを登録します。
func (c *Client) CreateDocument(ctx context.Context, doc NewDocument) (*CreatedDocument, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var created CreatedDocument
	if err := c.do(req, &created); err != nil {
		return nil, err
	}
	if created.DocumentID == "" {
		return nil, fmt.Errorf("docmeta: create document returned no documentId")
	}
	return &created, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("docmeta: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("docmeta: read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{
			Method:     req.Method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("docmeta: decode %s: %w", req.URL.Path, err)
	}
	return nil
}
