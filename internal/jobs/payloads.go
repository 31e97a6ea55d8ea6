package jobs

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/yourusername/paper-forge-worker/internal/document"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// エラーメッセージには JSON のフィールド名を使う
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

const (
	preprocessInvoke = "invoke"
	preprocessUpload = "upload"
)

// PingPayload は ping のペイロードです。内容は見ません。
type PingPayload struct{}

// PreprocessPayload は pdf_preprocess のペイロードです。Type で形が変わります。
type PreprocessPayload struct {
	Type              string `json:"type" validate:"required,oneof=invoke upload"`
	DocumentID        string `json:"documentId,omitempty" validate:"required_if=Type invoke"`
	DocumentVersionID string `json:"documentVersionId,omitempty"`
	DocumentKey       string `json:"documentKey,omitempty" validate:"required_if=Type upload"`
	FileName          string `json:"fileName,omitempty" validate:"required_if=Type upload"`
}

// ExportPayload は pdf_export のペイロードです。
type ExportPayload struct {
	DocumentID        string `json:"documentId" validate:"required"`
	DocumentVersionID string `json:"documentVersionId,omitempty"`
	RemoveMetadata    bool   `json:"removeMetadata,omitempty"`
}

// EncryptPayload は pdf_password_encrypt のペイロードです。
type EncryptPayload struct {
	DocumentID        string `json:"documentId" validate:"required"`
	DocumentVersionID string `json:"documentVersionId,omitempty"`
	Password          string `json:"password" validate:"required"`
	CurrentPassword   string `json:"currentPassword,omitempty"`
}

// ComparePayload は docx_simple_compare のペイロードです。
type ComparePayload struct {
	Documents []document.Reference `json:"documents" validate:"len=2,dive"`
	Title     string               `json:"title,omitempty"`
}

// ConsolidatePayload は docx_consolidate のペイロードです。
type ConsolidatePayload struct {
	Documents []document.Reference `json:"documents" validate:"min=2,dive"`
	Title     string               `json:"title,omitempty"`
}

// DocxUploadPayload は docx_upload のペイロードです。
type DocxUploadPayload struct {
	DocumentKey string `json:"documentKey" validate:"required"`
	FileName    string `json:"fileName" validate:"required"`
}

func (p DocxUploadPayload) check() error {
	t, err := document.TypeFromName(p.FileName)
	if err != nil {
		return err
	}
	if t != document.FileTypeDOCX {
		return fmt.Errorf("fileName must be a .docx file")
	}
	return nil
}

// TempFilePayload は create_temp_file のペイロードです。
type TempFilePayload struct {
	Document document.Reference `json:"document"`
	Format   document.FileType  `json:"format,omitempty" validate:"omitempty,oneof=pdf docx"`
}

func (p TempFilePayload) check() error {
	if p.Document.HasKey() {
		if _, err := document.TypeFromName(p.Document.FileName); err != nil {
			return err
		}
	}
	return nil
}

// checker は構造タグで表せない追加検証です。
type checker interface {
	check() error
}

// parsePayload は JSON を P に読み込み、タグと追加検証を適用します。
func parsePayload[P any](raw json.RawMessage) (P, error) {
	var payload P
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("malformed json: %w", err)
	}
	if err := validate.Struct(payload); err != nil {
		return payload, err
	}
	if c, ok := any(payload).(checker); ok {
		if err := c.check(); err != nil {
			return payload, err
		}
	}
	return payload, nil
}
