// Package pdf は生成された PDF の検査を提供します。
package pdf

import (
	"bytes"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// Error は PDF 検査時のエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Info は PDF の基本メタデータです。
type Info struct {
	Pages int
	MIME  string
	Size  int
}

// Inspect は内容が PDF であることを確認し、ページ数を返します。
func Inspect(content []byte) (*Info, error) {
	if len(content) == 0 {
		return nil, newError("INVALID_INPUT", "PDFの内容が空です。", nil)
	}
	mtype := mimetype.Detect(content)
	if !mtype.Is("application/pdf") {
		return nil, newError("UNSUPPORTED_PDF", fmt.Sprintf("PDFではありません (detected: %s)", mtype.String()), nil)
	}
	pages, err := pdfapi.PageCount(bytes.NewReader(content), nil)
	if err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFのページ数を取得できませんでした。", err)
	}
	return &Info{Pages: pages, MIME: mtype.String(), Size: len(content)}, nil
}

// PageCount は検査に失敗した場合 0 を返します。
func PageCount(content []byte) int {
	info, err := Inspect(content)
	if err != nil {
		return 0
	}
	return info.Pages
}
