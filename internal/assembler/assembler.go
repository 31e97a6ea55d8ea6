// Package assembler はコンテンツアドレス型ストレージのパーツからドキュメントを組み立てます。
package assembler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/paper-forge-worker/internal/convert"
	"github.com/yourusername/paper-forge-worker/internal/document"
	"github.com/yourusername/paper-forge-worker/internal/storage"
)

const fetchConcurrency = 16

// MissingPartsError は取得できなかったコンテンツキーを列挙します。
type MissingPartsError struct {
	Keys []string
}

func (e *MissingPartsError) Error() string {
	return fmt.Sprintf("missing content parts: %s", strings.Join(e.Keys, ", "))
}

// MetadataSource はドキュメントメタデータの参照操作です。
type MetadataSource interface {
	GetDocument(ctx context.Context, documentID string) (*document.Metadata, error)
	GetDocumentVersion(ctx context.Context, documentID, documentVersionID string) (*document.Metadata, error)
}

// Converter は形式変換を行う下流サービスです。
type Converter interface {
	Convert(ctx context.Context, file document.File, target document.FileType) (*convert.Response, error)
}

// Assembler は DocumentAssembler の実装です。
type Assembler struct {
	meta      MetadataSource
	store     storage.ContentStore
	converter Converter
	logger    logrus.FieldLogger
}

// New は Assembler を作成します。
func New(meta MetadataSource, store storage.ContentStore, converter Converter, logger logrus.FieldLogger) *Assembler {
	return &Assembler{meta: meta, store: store, converter: converter, logger: logger}
}

// plan は1ドキュメント分の組み立て計画です。
type plan struct {
	meta *document.Metadata
	name string
	kind document.FileType
	keys []string
	// 直接キー指定の場合は組み立て済みアーカイブのキー
	rawKey string
}

// Resolve はリファレンスをメタデータに解決します。バージョン未指定なら最新版を使います。
func (a *Assembler) Resolve(ctx context.Context, documentID, documentVersionID string) (*document.Metadata, error) {
	var (
		meta *document.Metadata
		err  error
	)
	if documentVersionID == "" {
		meta, err = a.meta.GetDocument(ctx, documentID)
	} else {
		meta, err = a.meta.GetDocumentVersion(ctx, documentID, documentVersionID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve document %s: %w", documentID, err)
	}
	if !meta.FileType.Valid() {
		return nil, fmt.Errorf("document %s has unsupported file type %q", documentID, meta.FileType)
	}
	return meta, nil
}

// FetchFile は1つのドキュメントを組み立てます。
func (a *Assembler) FetchFile(ctx context.Context, documentID, documentVersionID string) (*document.File, *document.Metadata, error) {
	files, plans, err := a.assemble(ctx, []document.Reference{{DocumentID: documentID, DocumentVersionID: documentVersionID}})
	if err != nil {
		return nil, nil, err
	}
	return &files[0], plans[0].meta, nil
}

// FetchReference はキー直接指定を含むリファレンスから1ファイルを組み立てます。
func (a *Assembler) FetchReference(ctx context.Context, ref document.Reference) (*document.File, *document.Metadata, error) {
	files, plans, err := a.assemble(ctx, []document.Reference{ref})
	if err != nil {
		return nil, nil, err
	}
	return &files[0], plans[0].meta, nil
}

// FetchCompareFiles は比較用の入力を組み立てます。PDF 入力は DOCX に変換し、
// 出力名には1始まりの位置を付与します。
func (a *Assembler) FetchCompareFiles(ctx context.Context, jobID, userID, jobType string, refs []document.Reference) ([]document.File, error) {
	files, _, err := a.assemble(ctx, refs)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range files {
		i := i
		g.Go(func() error {
			f := files[i]
			if f.Type == document.FileTypePDF {
				resp, err := a.converter.Convert(gctx, f, document.FileTypeDOCX)
				if err != nil {
					return fmt.Errorf("convert %s: %w", f.Name, err)
				}
				if err := convert.CheckPdf(resp, jobType, "convert"); err != nil {
					return err
				}
				f = document.File{
					Content: resp.Body,
					Name:    document.ReplaceExt(f.Name, document.FileTypeDOCX),
					Type:    document.FileTypeDOCX,
				}
			}
			f.Name = document.IndexedName(f.Name, i+1)
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.logger.WithFields(logrus.Fields{
			"jobId":   jobID,
			"userId":  userID,
			"jobType": jobType,
		}).WithError(err).Error("failed to normalize compare inputs")
		return nil, err
	}
	return files, nil
}

// StoreDocx は DOCX をパーツに分解して保存し、BOM を返します。既存のパーツは再アップロードしません。
func (a *Assembler) StoreDocx(ctx context.Context, archive []byte) ([]document.BOMEntry, error) {
	bom, contents, err := SplitArchive(archive)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for key, data := range contents {
		key, data := key, data
		g.Go(func() error {
			exists, err := a.store.Exists(gctx, key)
			if err != nil {
				return err
			}
			if exists {
				return nil
			}
			return a.store.Put(gctx, key, data, "application/octet-stream")
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("store docx parts: %w", err)
	}
	return bom, nil
}

func (a *Assembler) assemble(ctx context.Context, refs []document.Reference) ([]document.File, []plan, error) {
	if len(refs) == 0 {
		return nil, nil, fmt.Errorf("no documents to assemble")
	}

	plans := make([]plan, len(refs))
	keySet := make(map[string]struct{})
	for i, ref := range refs {
		p, err := a.planFor(ctx, ref)
		if err != nil {
			return nil, nil, err
		}
		plans[i] = *p
		for _, k := range p.keys {
			keySet[k] = struct{}{}
		}
	}

	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	contents, err := a.fetchAll(ctx, keys)
	if err != nil {
		return nil, nil, err
	}

	files := make([]document.File, len(plans))
	for i, p := range plans {
		file, err := build(p, contents)
		if err != nil {
			return nil, nil, err
		}
		files[i] = *file
	}
	return files, plans, nil
}

func (a *Assembler) planFor(ctx context.Context, ref document.Reference) (*plan, error) {
	if ref.HasKey() {
		kind, err := document.TypeFromName(ref.FileName)
		if err != nil {
			return nil, err
		}
		return &plan{
			name:   ref.FileName,
			kind:   kind,
			keys:   []string{ref.DocumentKey},
			rawKey: ref.DocumentKey,
			meta:   &document.Metadata{DocumentName: ref.FileName, FileType: kind},
		}, nil
	}

	meta, err := a.Resolve(ctx, ref.DocumentID, ref.DocumentVersionID)
	if err != nil {
		return nil, err
	}
	p := &plan{
		meta: meta,
		name: document.ReplaceExt(meta.DocumentName, meta.FileType),
		kind: meta.FileType,
	}
	switch meta.FileType {
	case document.FileTypePDF:
		p.keys = []string{document.PDFKey(meta.Owner, meta.DocumentID, meta.DocumentVersionID)}
	case document.FileTypeDOCX:
		if err := ValidateBOM(meta.BOM); err != nil {
			return nil, fmt.Errorf("document %s: %w", meta.DocumentID, err)
		}
		for _, entry := range meta.BOM {
			p.keys = append(p.keys, document.PartKey(entry.Sha))
		}
	}
	return p, nil
}

// fetchAll は全キーを並列に取得し、1つでも欠けていれば全体を失敗させます。
func (a *Assembler) fetchAll(ctx context.Context, keys []string) (map[string][]byte, error) {
	var (
		mu       sync.Mutex
		contents = make(map[string][]byte, len(keys))
		missing  []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			data, err := a.store.Get(gctx, key)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			// 長さ0のパーツは正当な内容として扱う
			if err != nil || data == nil {
				missing = append(missing, key)
				return nil
			}
			contents[key] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch content: %w", err)
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		a.logger.WithField("missingKeys", missing).Error("document assembly aborted")
		return nil, &MissingPartsError{Keys: missing}
	}
	return contents, nil
}

func build(p plan, contents map[string][]byte) (*document.File, error) {
	if p.rawKey != "" || p.kind == document.FileTypePDF {
		return &document.File{Content: contents[p.keys[0]], Name: p.name, Type: p.kind}, nil
	}
	archive, err := BuildArchive(p.meta.BOM, contents)
	if err != nil {
		return nil, err
	}
	return &document.File{Content: archive, Name: p.name, Type: p.kind}, nil
}
