// Package convert は PDF/DOCX 変換サービスへのクライアントを提供します。
// 各呼び出しはステータスコードと本文をそのまま返し、成否の判断は呼び出し側が行います。
package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/yourusername/paper-forge-worker/internal/document"
)

// Response は下流サービスの応答です。
type Response struct {
	StatusCode int
	Body       []byte
}

// OK は 2xx 応答かどうかを返します。
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// RevisionCount は変更履歴の集計結果です。
type RevisionCount struct {
	Insertions int `json:"insertions"`
	Deletions  int `json:"deletions"`
}

// Client は変換サービスへの HTTP クライアントです。
type Client struct {
	pdfBaseURL  string
	docxBaseURL string
	httpClient  *http.Client
}

// NewClient は Client を作成します。
func NewClient(pdfBaseURL, docxBaseURL string, timeout time.Duration) *Client {
	return &Client{
		pdfBaseURL:  strings.TrimRight(pdfBaseURL, "/"),
		docxBaseURL: strings.TrimRight(docxBaseURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Preprocess は PDF の前処理を行います。
func (c *Client) Preprocess(ctx context.Context, file document.File) (*Response, error) {
	return c.post(ctx, c.pdfBaseURL+"/preprocess", []document.File{file}, nil)
}

// Convert はファイルを target 形式へ変換します。
func (c *Client) Convert(ctx context.Context, file document.File, target document.FileType) (*Response, error) {
	base := c.pdfBaseURL
	if file.Type == document.FileTypeDOCX {
		base = c.docxBaseURL
	}
	return c.post(ctx, base+"/convert", []document.File{file}, map[string]string{"to": string(target)})
}

// Modify は変更データを PDF にマージします。
func (c *Client) Modify(ctx context.Context, file document.File, modifications json.RawMessage) (*Response, error) {
	return c.post(ctx, c.pdfBaseURL+"/modify", []document.File{file}, map[string]string{"modifications": string(modifications)})
}

// PasswordEncrypt は PDF をパスワードで暗号化します。
func (c *Client) PasswordEncrypt(ctx context.Context, file document.File, password string) (*Response, error) {
	return c.post(ctx, c.pdfBaseURL+"/password/encrypt", []document.File{file}, map[string]string{"password": password})
}

// PasswordDecrypt は暗号化済み PDF を復号します。
func (c *Client) PasswordDecrypt(ctx context.Context, file document.File, password string) (*Response, error) {
	return c.post(ctx, c.pdfBaseURL+"/password/decrypt", []document.File{file}, map[string]string{"password": password})
}

// RemoveMetadata は PDF のメタデータを削除します。
func (c *Client) RemoveMetadata(ctx context.Context, file document.File) (*Response, error) {
	return c.post(ctx, c.pdfBaseURL+"/remove-metadata", []document.File{file}, nil)
}

// SimpleCompare は2つの DOCX を比較し、変更履歴付き DOCX を返します。
func (c *Client) SimpleCompare(ctx context.Context, original, revised document.File) (*Response, error) {
	return c.post(ctx, c.docxBaseURL+"/compare/simple", []document.File{original, revised}, nil)
}

// Consolidate は複数の DOCX の変更を1つに統合します。
func (c *Client) Consolidate(ctx context.Context, files []document.File) (*Response, error) {
	return c.post(ctx, c.docxBaseURL+"/compare/consolidate", files, nil)
}

// CountRevisions は DOCX 内の挿入・削除数を数えます。
func (c *Client) CountRevisions(ctx context.Context, file document.File) (*Response, error) {
	return c.post(ctx, c.docxBaseURL+"/revisions/count", []document.File{file}, nil)
}

// DecodeRevisionCount は CountRevisions の本文を解釈します。
func DecodeRevisionCount(body []byte) (*RevisionCount, error) {
	var count RevisionCount
	if err := json.Unmarshal(body, &count); err != nil {
		return nil, fmt.Errorf("convert: decode revision count: %w", err)
	}
	return &count, nil
}

func (c *Client) post(ctx context.Context, endpoint string, files []document.File, fields map[string]string) (*Response, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Name))
		header.Set("Content-Type", f.Type.ContentType())
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, err
		}
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("convert: POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("convert: read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}
