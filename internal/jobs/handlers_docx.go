package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/paper-forge-worker/internal/convert"
	"github.com/yourusername/paper-forge-worker/internal/database"
	"github.com/yourusername/paper-forge-worker/internal/docmeta"
	"github.com/yourusername/paper-forge-worker/internal/document"
)

func (d *Dispatcher) handleSimpleCompare(ctx context.Context, job *Job, p ComparePayload) (*Result, error) {
	return d.compareDocuments(ctx, job, p.Documents, p.Title, "simple_compare", func(files []document.File) (*convert.Response, error) {
		return d.deps.Converter.SimpleCompare(ctx, files[0], files[1])
	})
}

func (d *Dispatcher) handleConsolidate(ctx context.Context, job *Job, p ConsolidatePayload) (*Result, error) {
	return d.compareDocuments(ctx, job, p.Documents, p.Title, "consolidate", func(files []document.File) (*convert.Response, error) {
		return d.deps.Converter.Consolidate(ctx, files)
	})
}

// compareDocuments は全入力の権限を確認してから組み立て、比較結果を保存して変更件数を数えます。
// 保存と件数計算は並列に行い、どちらかが失敗すればジョブ全体を失敗とします。
func (d *Dispatcher) compareDocuments(ctx context.Context, job *Job, refs []document.Reference, title, operation string, call func([]document.File) (*convert.Response, error)) (*Result, error) {
	for _, ref := range refs {
		if ref.HasKey() {
			continue
		}
		if err := d.deps.Permissions.ValidateDocumentPermission(ctx, ref.DocumentID, job.UserID); err != nil {
			return nil, err
		}
	}

	files, err := d.deps.Assembler.FetchCompareFiles(ctx, job.JobID, job.UserID, string(job.Event), refs)
	if err != nil {
		return nil, err
	}

	resp, err := call(files)
	if err != nil {
		return nil, err
	}
	if err := convert.CheckDocx(resp, string(job.Event), operation); err != nil {
		return nil, err
	}
	merged := document.File{
		Content: resp.Body,
		Name:    resultName(title, files, operation),
		Type:    document.FileTypeDOCX,
	}

	var (
		created *docmeta.CreatedDocument
		counts  *convert.RevisionCount
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		created, _, err = d.persistDocx(gctx, job, merged, "")
		return err
	})
	g.Go(func() error {
		resp, err := d.deps.Converter.CountRevisions(gctx, merged)
		if err != nil {
			return err
		}
		if err := convert.CheckDocx(resp, string(job.Event), "count_revisions"); err != nil {
			return err
		}
		counts, err = convert.DecodeRevisionCount(resp.Body)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Result{Data: CompareResult{
		DocumentID:        created.DocumentID,
		DocumentVersionID: created.DocumentVersionID,
		Insertions:        counts.Insertions,
		Deletions:         counts.Deletions,
	}}, nil
}

// handleDocxUpload はアップロード済み DOCX をパーツに分解して登録します。
// 同じ jobId の再配信には登録済みのドキュメントを返します。
func (d *Dispatcher) handleDocxUpload(ctx context.Context, job *Job, p DocxUploadPayload) (*Result, error) {
	recorded, err := d.deps.Results.GetUploadJob(ctx, job.JobID)
	if err != nil {
		return nil, err
	}
	if recorded != nil && recorded.DocumentID != "" {
		d.deps.Logger.WithFields(logrus.Fields{
			"jobId":      job.JobID,
			"documentId": recorded.DocumentID,
		}).Info("docx upload already registered")
		return &Result{Data: DocxUploadResult{
			DocumentID:        recorded.DocumentID,
			DocumentVersionID: recorded.DocumentVersionID,
			Parts:             recorded.Parts,
		}}, nil
	}

	file, _, err := d.deps.Assembler.FetchReference(ctx, document.Reference{DocumentKey: p.DocumentKey, FileName: p.FileName})
	if err != nil {
		return nil, err
	}

	err = d.deps.Results.CreateUploadJob(ctx, &database.UploadJob{
		JobID:       job.JobID,
		JobType:     string(job.Event),
		UserID:      job.UserID,
		DocumentKey: p.DocumentKey,
		FileName:    p.FileName,
		CreatedAt:   d.deps.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record upload job: %w", err)
	}

	created, bom, err := d.persistDocx(ctx, job, *file, p.DocumentKey)
	if err != nil {
		return nil, err
	}
	if err := d.deps.Results.CompleteUploadJob(ctx, job.JobID, created.DocumentID, created.DocumentVersionID, len(bom)); err != nil {
		return nil, err
	}

	return &Result{Data: DocxUploadResult{
		DocumentID:        created.DocumentID,
		DocumentVersionID: created.DocumentVersionID,
		Parts:             len(bom),
	}}, nil
}

// persistDocx は DOCX のパーツを保存し、メタデータサービスにドキュメントを作成します。
func (d *Dispatcher) persistDocx(ctx context.Context, job *Job, file document.File, sourceKey string) (*docmeta.CreatedDocument, []document.BOMEntry, error) {
	bom, err := d.deps.Assembler.StoreDocx(ctx, file.Content)
	if err != nil {
		return nil, nil, err
	}
	created, err := d.deps.Meta.CreateDocument(ctx, docmeta.NewDocument{
		Name:     file.Name,
		Owner:    job.UserID,
		FileType: document.FileTypeDOCX,
		BOM:      bom,
		Key:      sourceKey,
		JobID:    job.JobID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create document: %w", err)
	}
	return created, bom, nil
}

// resultName はタイトル、なければ先頭入力の名前から成果物名を決めます。
func resultName(title string, files []document.File, operation string) string {
	if name := strings.TrimSpace(title); name != "" {
		if !strings.HasSuffix(strings.ToLower(name), ".docx") {
			name += ".docx"
		}
		return name
	}
	base := "document.docx"
	if len(files) > 0 {
		base = files[0].Name
	}
	stem := strings.TrimSuffix(base, ".docx")
	return fmt.Sprintf("%s_%s.docx", stem, operation)
}
