package jobs

import (
	"errors"
	"fmt"

	"github.com/yourusername/paper-forge-worker/internal/assembler"
	"github.com/yourusername/paper-forge-worker/internal/convert"
	"github.com/yourusername/paper-forge-worker/internal/permission"
)

var (
	// ErrUnsupportedEvent は未知のジョブ種別を受け取ったことを表します。
	ErrUnsupportedEvent = errors.New("event not supported")
	// ErrInvalidResponse は応答がスキーマに合わない、または送信できなかったことを表します。
	ErrInvalidResponse = errors.New("invalid response data")
)

// ValidationError はペイロードの検証失敗です。
type ValidationError struct {
	JobType JobType
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %v", e.JobType, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// errorCode はジョブ状態に記録するエラーコードを返します。
func errorCode(err error) string {
	var (
		validationErr *ValidationError
		missingErr    *assembler.MissingPartsError
		pdfErr        *convert.PdfServiceError
		docxErr       *convert.DocxServiceError
	)
	switch {
	case errors.Is(err, ErrUnsupportedEvent):
		return "UNSUPPORTED_EVENT"
	case errors.As(err, &validationErr):
		return "INVALID_INPUT"
	case errors.Is(err, permission.ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.As(err, &missingErr):
		return "MISSING_PARTS"
	case errors.As(err, &pdfErr), errors.As(err, &docxErr):
		return "SERVICE_ERROR"
	case errors.Is(err, ErrInvalidResponse):
		return "INVALID_RESPONSE"
	default:
		return "INTERNAL_ERROR"
	}
}
