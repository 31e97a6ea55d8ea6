package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/paper-forge-worker/internal/invoke"
)

// PingResult は ping の応答です。
type PingResult struct {
	Pong bool `json:"pong" validate:"eq=true"`
}

// PreprocessResult は前処理済み成果物の参照です。
type PreprocessResult struct {
	DocumentID string `json:"documentId" validate:"required"`
	ResultKey  string `json:"resultKey" validate:"required"`
	Cached     bool   `json:"cached"`
}

// UploadRecorded はアップロード起点ジョブを記録したことを表します。
type UploadRecorded struct {
	DocumentKey string `json:"documentKey" validate:"required"`
	FileName    string `json:"fileName" validate:"required"`
	Recorded    bool   `json:"recorded" validate:"eq=true"`
}

// ExportResult は pdf_export の応答です。
type ExportResult struct {
	URL       string `json:"url" validate:"required,url"`
	FileName  string `json:"fileName" validate:"required"`
	PageCount int    `json:"pageCount" validate:"gte=0"`
}

// EncryptResult は pdf_password_encrypt の応答です。
type EncryptResult struct {
	URL      string `json:"url" validate:"required,url"`
	FileName string `json:"fileName" validate:"required"`
}

// CompareResult は比較・統合で作成されたドキュメントと変更件数です。
type CompareResult struct {
	DocumentID        string `json:"documentId" validate:"required"`
	DocumentVersionID string `json:"documentVersionId" validate:"required"`
	Insertions        int    `json:"insertions" validate:"gte=0"`
	Deletions         int    `json:"deletions" validate:"gte=0"`
}

// DocxUploadResult は docx_upload の応答です。
type DocxUploadResult struct {
	DocumentID        string `json:"documentId" validate:"required"`
	DocumentVersionID string `json:"documentVersionId" validate:"required"`
	Parts             int    `json:"parts" validate:"gt=0"`
}

// TempFileResult は create_temp_file の応答です。
type TempFileResult struct {
	URL       string `json:"url" validate:"required,url"`
	FileName  string `json:"fileName" validate:"required"`
	PageCount int    `json:"pageCount,omitempty" validate:"gte=0"`
}

// schema は1ジョブ種別分の応答データ検証です。
type schema func(data any) error

// schemaOf は T (または *T) のみを受け付けるスキーマを返します。
func schemaOf[T any]() schema {
	return func(data any) error {
		switch v := data.(type) {
		case T:
			return validate.Struct(v)
		case *T:
			if v == nil {
				return fmt.Errorf("data is nil")
			}
			return validate.Struct(v)
		default:
			var zero T
			return fmt.Errorf("data must be %T, got %T", zero, data)
		}
	}
}

// anyOf はいずれかのスキーマに合えば通します。
func anyOf(schemas ...schema) schema {
	return func(data any) error {
		var firstErr error
		for _, s := range schemas {
			err := s(data)
			if err == nil {
				return nil
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
}

var responseSchemas = map[JobType]schema{
	JobPing:              schemaOf[PingResult](),
	JobPreprocess:        anyOf(schemaOf[PreprocessResult](), schemaOf[UploadRecorded]()),
	JobExport:            schemaOf[ExportResult](),
	JobPasswordEncrypt:   schemaOf[EncryptResult](),
	JobDocxSimpleCompare: schemaOf[CompareResult](),
	JobDocxConsolidate:   schemaOf[CompareResult](),
	JobDocxUpload:        schemaOf[DocxUploadResult](),
	JobCreateTempFile:    schemaOf[TempFileResult](),
}

// validateResponse は応答を登録済みスキーマで検証します。
// エラー応答はジョブ種別を問わずメッセージが必須です。
func validateResponse(resp JobResponse) error {
	if resp.JobID == "" {
		return fmt.Errorf("jobId is required")
	}
	if resp.Error {
		if resp.Message == "" {
			return fmt.Errorf("error response requires a message")
		}
		return nil
	}
	s, ok := responseSchemas[resp.JobType]
	if !ok {
		return fmt.Errorf("no response schema for %q", resp.JobType)
	}
	return s(resp.Data)
}

// FramePublisher は応答チャネルへの送信手段です。
type FramePublisher interface {
	Publish(ctx context.Context, frames ...string) error
}

// StatusNotifier は状態通知の送信手段です。
type StatusNotifier interface {
	SendStatus(ctx context.Context, n invoke.StatusNotification) error
}

// ResponsePublisher は応答を検証してから送信します。
type ResponsePublisher struct {
	frames   FramePublisher
	notifier StatusNotifier
	logger   logrus.FieldLogger
}

// NewResponsePublisher は ResponsePublisher を作成します。notifier は nil でも構いません。
func NewResponsePublisher(frames FramePublisher, notifier StatusNotifier, logger logrus.FieldLogger) *ResponsePublisher {
	return &ResponsePublisher{frames: frames, notifier: notifier, logger: logger}
}

// SendResponse は [event, jobId, payload] を送信します。
// 検証や送信に失敗した場合は ErrInvalidResponse を返し、不正な形のまま送ることはありません。
func (p *ResponsePublisher) SendResponse(ctx context.Context, resp JobResponse) error {
	logger := p.logger.WithFields(logrus.Fields{
		"jobId":   resp.JobID,
		"jobType": resp.JobType,
	})
	if err := validateResponse(resp); err != nil {
		logger.WithError(err).WithField("data", resp.Data).Error("response failed schema validation")
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		logger.WithError(err).Error("failed to encode response")
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := p.frames.Publish(ctx, string(resp.JobType), resp.JobID, string(payload)); err != nil {
		logger.WithError(err).Error("failed to publish response")
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// SendWSResponse は状態通知を送ります。失敗はログに残すだけです。
func (p *ResponsePublisher) SendWSResponse(ctx context.Context, jobID, status, message string) {
	if p.notifier == nil {
		return
	}
	err := p.notifier.SendStatus(ctx, invoke.StatusNotification{
		JobID:  jobID,
		Status: status,
		Data:   invoke.StatusData{Message: message},
	})
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"jobId":  jobID,
			"status": status,
		}).Warn("failed to send status notification")
	}
}
