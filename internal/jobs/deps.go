package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/paper-forge-worker/internal/config"
	"github.com/yourusername/paper-forge-worker/internal/convert"
	"github.com/yourusername/paper-forge-worker/internal/database"
	"github.com/yourusername/paper-forge-worker/internal/docmeta"
	"github.com/yourusername/paper-forge-worker/internal/document"
	"github.com/yourusername/paper-forge-worker/internal/invoke"
	"github.com/yourusername/paper-forge-worker/internal/metrics"
	"github.com/yourusername/paper-forge-worker/internal/storage"
)

// MetadataService はメタデータサービスのうちハンドラーが使う操作です。
type MetadataService interface {
	GetUserIDByEmail(ctx context.Context, email string) (string, error)
	GetModificationData(ctx context.Context, documentID, documentVersionID string) (json.RawMessage, error)
	CreateDocument(ctx context.Context, doc docmeta.NewDocument) (*docmeta.CreatedDocument, error)
}

// DocumentAssembler はストレージからのドキュメント組み立てです。
type DocumentAssembler interface {
	Resolve(ctx context.Context, documentID, documentVersionID string) (*document.Metadata, error)
	FetchFile(ctx context.Context, documentID, documentVersionID string) (*document.File, *document.Metadata, error)
	FetchReference(ctx context.Context, ref document.Reference) (*document.File, *document.Metadata, error)
	FetchCompareFiles(ctx context.Context, jobID, userID, jobType string, refs []document.Reference) ([]document.File, error)
	StoreDocx(ctx context.Context, archive []byte) ([]document.BOMEntry, error)
}

// Converter は変換サービスの呼び出しです。
type Converter interface {
	Preprocess(ctx context.Context, file document.File) (*convert.Response, error)
	Convert(ctx context.Context, file document.File, target document.FileType) (*convert.Response, error)
	Modify(ctx context.Context, file document.File, modifications json.RawMessage) (*convert.Response, error)
	PasswordEncrypt(ctx context.Context, file document.File, password string) (*convert.Response, error)
	PasswordDecrypt(ctx context.Context, file document.File, password string) (*convert.Response, error)
	RemoveMetadata(ctx context.Context, file document.File) (*convert.Response, error)
	SimpleCompare(ctx context.Context, original, revised document.File) (*convert.Response, error)
	Consolidate(ctx context.Context, files []document.File) (*convert.Response, error)
	CountRevisions(ctx context.Context, file document.File) (*convert.Response, error)
}

// PermissionChecker はドキュメントへのアクセス権確認です。
type PermissionChecker interface {
	ValidateDocumentPermission(ctx context.Context, documentID, userID string) error
}

// ResultCache は完了済み成果物の再利用です。
type ResultCache interface {
	CheckForCachedResult(ctx context.Context, documentID, jobType, jobID string) (*database.ProcessResult, bool)
}

// ResultRepository は成果物とアップロード記録の永続化です。
type ResultRepository interface {
	CreateProcessResult(ctx context.Context, result *database.ProcessResult) error
	CreateUploadJob(ctx context.Context, job *database.UploadJob) error
	GetUploadJob(ctx context.Context, jobID string) (*database.UploadJob, error)
	CompleteUploadJob(ctx context.Context, jobID, documentID, documentVersionID string, parts int) error
}

// Invoker は前処理ファンクションの起動です。
type Invoker interface {
	InvokePreprocess(ctx context.Context, req invoke.PreprocessRequest) error
}

// StatusTracker はジョブ状態の記録先です。
type StatusTracker interface {
	Upsert(ctx context.Context, record *Record) error
	MarkDone(ctx context.Context, jobID string, data any, cached bool) error
	MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error
}

// Deps はプロセス起動時に一度だけ構築される依存の集まりです。
type Deps struct {
	Meta        MetadataService
	Store       storage.ContentStore
	Assembler   DocumentAssembler
	Converter   Converter
	Permissions PermissionChecker
	Cache       ResultCache
	Results     ResultRepository
	Invoker     Invoker
	Responses   *ResponsePublisher

	// 以下は省略可能
	Tracker StatusTracker
	Metrics *metrics.Metrics
	NewID   func() string
	Now     func() time.Time

	Logger          logrus.FieldLogger
	PreprocessMode  string
	SignedURLExpiry time.Duration
}

func (d *Deps) applyDefaults() {
	if d.PreprocessMode == "" {
		d.PreprocessMode = config.PreprocessModeInvoke
	}
	if d.SignedURLExpiry <= 0 {
		d.SignedURLExpiry = 15 * time.Minute
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewMetrics()
	}
}
