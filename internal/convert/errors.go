package convert

import (
	"fmt"
	"unicode/utf8"
)

// PdfServiceError は PDF サービスが成功以外のステータスを返したことを表します。
type PdfServiceError struct {
	JobType    string
	Operation  string
	StatusCode int
	Body       string
}

func (e *PdfServiceError) Error() string {
	return fmt.Sprintf("pdf service %s failed for %s: status %d: %s", e.Operation, e.JobType, e.StatusCode, truncate(e.Body))
}

// DocxServiceError は DOCX サービスが成功以外のステータスを返したことを表します。
type DocxServiceError struct {
	JobType    string
	Operation  string
	StatusCode int
	Body       string
}

func (e *DocxServiceError) Error() string {
	return fmt.Sprintf("docx service %s failed for %s: status %d: %s", e.Operation, e.JobType, e.StatusCode, truncate(e.Body))
}

// CheckPdf は応答が成功でなければ PdfServiceError を返します。
func CheckPdf(resp *Response, jobType, operation string) error {
	if resp.OK() {
		return nil
	}
	return &PdfServiceError{JobType: jobType, Operation: operation, StatusCode: statusOf(resp), Body: bodyOf(resp)}
}

// CheckDocx は応答が成功でなければ DocxServiceError を返します。
func CheckDocx(resp *Response, jobType, operation string) error {
	if resp.OK() {
		return nil
	}
	return &DocxServiceError{JobType: jobType, Operation: operation, StatusCode: statusOf(resp), Body: bodyOf(resp)}
}

func statusOf(resp *Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

func bodyOf(resp *Response) string {
	if resp == nil {
		return ""
	}
	return string(resp.Body)
}

func truncate(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
