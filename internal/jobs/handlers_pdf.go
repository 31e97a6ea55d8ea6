package jobs

import (
	"context"
	"fmt"

	"github.com/yourusername/paper-forge-worker/internal/config"
	"github.com/yourusername/paper-forge-worker/internal/convert"
	"github.com/yourusername/paper-forge-worker/internal/database"
	"github.com/yourusername/paper-forge-worker/internal/document"
	"github.com/yourusername/paper-forge-worker/internal/invoke"
	"github.com/yourusername/paper-forge-worker/internal/pdf"
)

func (d *Dispatcher) handlePing(ctx context.Context, job *Job, _ PingPayload) (*Result, error) {
	return &Result{Data: PingResult{Pong: true}}, nil
}

// handlePreprocess はアップロード記録、または既存ドキュメントの前処理を行います。
func (d *Dispatcher) handlePreprocess(ctx context.Context, job *Job, p PreprocessPayload) (*Result, error) {
	if p.Type == preprocessUpload {
		err := d.deps.Results.CreateUploadJob(ctx, &database.UploadJob{
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
		return &Result{Data: UploadRecorded{DocumentKey: p.DocumentKey, FileName: p.FileName, Recorded: true}}, nil
	}

	if err := d.deps.Permissions.ValidateDocumentPermission(ctx, p.DocumentID, job.UserID); err != nil {
		return nil, err
	}
	if hit, ok := d.deps.Cache.CheckForCachedResult(ctx, p.DocumentID, string(job.Event), job.JobID); ok {
		return &Result{
			Data:   PreprocessResult{DocumentID: p.DocumentID, ResultKey: hit.ResultKey, Cached: true},
			Cached: true,
		}, nil
	}

	meta, err := d.deps.Assembler.Resolve(ctx, p.DocumentID, p.DocumentVersionID)
	if err != nil {
		return nil, err
	}
	if meta.FileType != document.FileTypePDF {
		return nil, &ValidationError{JobType: job.Event, Err: fmt.Errorf("document %s is %s, not pdf", p.DocumentID, meta.FileType)}
	}

	if d.deps.PreprocessMode == config.PreprocessModeInvoke {
		err := d.deps.Invoker.InvokePreprocess(ctx, invoke.PreprocessRequest{
			JobID:             job.JobID,
			DocumentID:        meta.DocumentID,
			DocumentVersionID: meta.DocumentVersionID,
			DocumentKey:       document.PDFKey(meta.Owner, meta.DocumentID, meta.DocumentVersionID),
			Owner:             meta.Owner,
		})
		if err != nil {
			return nil, err
		}
		return &Result{Deferred: true}, nil
	}

	file, _, err := d.deps.Assembler.FetchFile(ctx, meta.DocumentID, meta.DocumentVersionID)
	if err != nil {
		return nil, err
	}
	resp, err := d.deps.Converter.Preprocess(ctx, *file)
	if err != nil {
		return nil, err
	}
	if err := convert.CheckPdf(resp, string(job.Event), "preprocess"); err != nil {
		return nil, err
	}

	key := document.PreprocessedKey(meta.DocumentID, meta.DocumentVersionID)
	if err := d.deps.Store.Put(ctx, key, resp.Body, document.FileTypePDF.ContentType()); err != nil {
		return nil, fmt.Errorf("failed to upload preprocessed file: %w", err)
	}
	err = d.deps.Results.CreateProcessResult(ctx, &database.ProcessResult{
		ID:         d.deps.NewID(),
		DocumentID: meta.DocumentID,
		JobType:    string(job.Event),
		JobID:      job.JobID,
		ResultKey:  key,
		CreatedAt:  d.deps.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store process result: %w", err)
	}
	return &Result{Data: PreprocessResult{DocumentID: meta.DocumentID, ResultKey: key}}, nil
}

// handleExport は変更データを反映した PDF を一時ファイルとして書き出します。
// 変更データがなければ元のバイト列をそのまま使います。
func (d *Dispatcher) handleExport(ctx context.Context, job *Job, p ExportPayload) (*Result, error) {
	if err := d.deps.Permissions.ValidateDocumentPermission(ctx, p.DocumentID, job.UserID); err != nil {
		return nil, err
	}
	file, meta, err := d.deps.Assembler.FetchFile(ctx, p.DocumentID, p.DocumentVersionID)
	if err != nil {
		return nil, err
	}
	out, err := d.asPDF(ctx, job, *file)
	if err != nil {
		return nil, err
	}

	mods, err := d.deps.Meta.GetModificationData(ctx, meta.DocumentID, meta.DocumentVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load modification data: %w", err)
	}
	if mods != nil {
		resp, err := d.deps.Converter.Modify(ctx, out, mods)
		if err != nil {
			return nil, err
		}
		if err := convert.CheckPdf(resp, string(job.Event), "modify"); err != nil {
			return nil, err
		}
		out.Content = resp.Body
	}

	if p.RemoveMetadata {
		resp, err := d.deps.Converter.RemoveMetadata(ctx, out)
		if err != nil {
			return nil, err
		}
		if err := convert.CheckPdf(resp, string(job.Event), "remove_metadata"); err != nil {
			return nil, err
		}
		out.Content = resp.Body
	}

	url, err := d.uploadTemp(ctx, job.JobID, out)
	if err != nil {
		return nil, err
	}
	return &Result{Data: ExportResult{URL: url, FileName: out.Name, PageCount: pdf.PageCount(out.Content)}}, nil
}

// handlePasswordEncrypt はパスワード付き PDF を一時ファイルとして書き出します。
func (d *Dispatcher) handlePasswordEncrypt(ctx context.Context, job *Job, p EncryptPayload) (*Result, error) {
	if err := d.deps.Permissions.ValidateDocumentPermission(ctx, p.DocumentID, job.UserID); err != nil {
		return nil, err
	}
	file, _, err := d.deps.Assembler.FetchFile(ctx, p.DocumentID, p.DocumentVersionID)
	if err != nil {
		return nil, err
	}
	out, err := d.asPDF(ctx, job, *file)
	if err != nil {
		return nil, err
	}

	if p.CurrentPassword != "" {
		resp, err := d.deps.Converter.PasswordDecrypt(ctx, out, p.CurrentPassword)
		if err != nil {
			return nil, err
		}
		if err := convert.CheckPdf(resp, string(job.Event), "password_decrypt"); err != nil {
			return nil, err
		}
		out.Content = resp.Body
	}

	resp, err := d.deps.Converter.PasswordEncrypt(ctx, out, p.Password)
	if err != nil {
		return nil, err
	}
	if err := convert.CheckPdf(resp, string(job.Event), "password_encrypt"); err != nil {
		return nil, err
	}
	out.Content = resp.Body

	url, err := d.uploadTemp(ctx, job.JobID, out)
	if err != nil {
		return nil, err
	}
	return &Result{Data: EncryptResult{URL: url, FileName: out.Name}}, nil
}

// handleCreateTempFile はドキュメントを指定形式の一時ファイルとして書き出します。
func (d *Dispatcher) handleCreateTempFile(ctx context.Context, job *Job, p TempFilePayload) (*Result, error) {
	if !p.Document.HasKey() {
		if err := d.deps.Permissions.ValidateDocumentPermission(ctx, p.Document.DocumentID, job.UserID); err != nil {
			return nil, err
		}
	}
	file, _, err := d.deps.Assembler.FetchReference(ctx, p.Document)
	if err != nil {
		return nil, err
	}

	out := *file
	if p.Format != "" && p.Format != file.Type {
		out, err = d.convertTo(ctx, job, *file, p.Format)
		if err != nil {
			return nil, err
		}
	}

	url, err := d.uploadTemp(ctx, job.JobID, out)
	if err != nil {
		return nil, err
	}
	result := TempFileResult{URL: url, FileName: out.Name}
	if out.Type == document.FileTypePDF {
		result.PageCount = pdf.PageCount(out.Content)
	}
	return &Result{Data: result}, nil
}

// asPDF は DOCX を PDF に変換します。PDF はそのまま返します。
func (d *Dispatcher) asPDF(ctx context.Context, job *Job, file document.File) (document.File, error) {
	if file.Type == document.FileTypePDF {
		return file, nil
	}
	return d.convertTo(ctx, job, file, document.FileTypePDF)
}

func (d *Dispatcher) convertTo(ctx context.Context, job *Job, file document.File, target document.FileType) (document.File, error) {
	resp, err := d.deps.Converter.Convert(ctx, file, target)
	if err != nil {
		return document.File{}, err
	}
	if file.Type == document.FileTypePDF {
		err = convert.CheckPdf(resp, string(job.Event), "convert")
	} else {
		err = convert.CheckDocx(resp, string(job.Event), "convert")
	}
	if err != nil {
		return document.File{}, err
	}
	return document.File{
		Content: resp.Body,
		Name:    document.ReplaceExt(file.Name, target),
		Type:    target,
	}, nil
}

// uploadTemp は一時ファイルを保存し、署名付き URL を返します。
func (d *Dispatcher) uploadTemp(ctx context.Context, jobID string, file document.File) (string, error) {
	key := document.TempKey(jobID, d.deps.NewID(), file.Type)
	if err := d.deps.Store.Put(ctx, key, file.Content, file.Type.ContentType()); err != nil {
		return "", fmt.Errorf("failed to upload temp file: %w", err)
	}
	url, err := d.deps.Store.SignedURL(ctx, key, d.deps.SignedURLExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to sign temp file url: %w", err)
	}
	return url, nil
}
