// Package document はジョブ間で共有するドキュメントの型とストレージキーの規約を提供します。
package document

import (
	"fmt"
	"path"
	"strings"
)

// FileType はドキュメントの形式です。
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDOCX FileType = "docx"
)

// Valid は既知の形式かどうかを返します。
func (t FileType) Valid() bool {
	return t == FileTypePDF || t == FileTypeDOCX
}

// ContentType はアップロード時に使うMIMEタイプを返します。
func (t FileType) ContentType() string {
	switch t {
	case FileTypePDF:
		return "application/pdf"
	case FileTypeDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}

// TypeFromName はファイル名の拡張子から形式を推定します。
func TypeFromName(name string) (FileType, error) {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	t := FileType(ext)
	if !t.Valid() {
		return "", fmt.Errorf("unsupported file extension: %q", name)
	}
	return t, nil
}

// File は下流サービスへ渡せる状態に組み立てられたドキュメントです。
type File struct {
	Content []byte
	Name    string
	Type    FileType
}

// Reference はジョブが対象とするドキュメントの指定です。
// DocumentID か DocumentKey のどちらか一方を持ちます。
type Reference struct {
	DocumentID        string `json:"documentId,omitempty" validate:"required_without=DocumentKey"`
	DocumentVersionID string `json:"documentVersionId,omitempty"`
	DocumentKey       string `json:"documentKey,omitempty" validate:"required_without=DocumentID"`
	FileName          string `json:"fileName,omitempty" validate:"required_with=DocumentKey"`
}

// HasKey はストレージキーが直接指定されているかを返します。
func (r Reference) HasKey() bool {
	return r.DocumentKey != ""
}

// BOMEntry はアーカイブ内パスとコンテンツアドレスの対応です。
type BOMEntry struct {
	Path string `json:"path"`
	Sha  string `json:"sha"`
}

// Metadata はメタデータサービスが返すドキュメント情報です。
type Metadata struct {
	DocumentID        string     `json:"documentId"`
	DocumentVersionID string     `json:"documentVersionId"`
	DocumentName      string     `json:"documentName"`
	Owner             string     `json:"owner"`
	FileType          FileType   `json:"fileType"`
	BOM               []BOMEntry `json:"bom,omitempty"`
}

// PDFKey は PDF 本体のコンテンツキー {owner}/{documentId}/{documentVersionId}.pdf を返します。
func PDFKey(owner, documentID, documentVersionID string) string {
	return fmt.Sprintf("%s/%s/%s.pdf", owner, documentID, documentVersionID)
}

// PreprocessedKey は前処理済みPDFの保存先です。
func PreprocessedKey(documentID, documentVersionID string) string {
	return fmt.Sprintf("preprocessed/%s/%s.pdf", documentID, documentVersionID)
}

// TempKey は一時ファイルのキー temp_files/{jobId}-{suffix}.{ext} を返します。
func TempKey(jobID, suffix string, t FileType) string {
	return fmt.Sprintf("temp_files/%s-%s.%s", jobID, suffix, t)
}

// PartKey は DOCX パーツのコンテンツキーです。
func PartKey(sha string) string {
	return sha
}

// ReplaceExt はファイル名の拡張子を形式に合わせて差し替えます。
func ReplaceExt(name string, t FileType) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	if base == "" {
		base = "document"
	}
	return base + "." + string(t)
}

// IndexedName は比較入力の衝突を避けるため、1始まりの位置をファイル名に付与します。
func IndexedName(name string, position int) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s_%d%s", base, position, ext)
}
