package assembler

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/yourusername/paper-forge-worker/internal/document"
)

// ValidateBOM はパスの重複と空エントリを検出します。
func ValidateBOM(bom []document.BOMEntry) error {
	if len(bom) == 0 {
		return fmt.Errorf("bom is empty")
	}
	seen := make(map[string]struct{}, len(bom))
	for i, entry := range bom {
		if entry.Path == "" || entry.Sha == "" {
			return fmt.Errorf("bom entry %d is incomplete", i)
		}
		if _, dup := seen[entry.Path]; dup {
			return fmt.Errorf("bom path %q appears more than once", entry.Path)
		}
		seen[entry.Path] = struct{}{}
	}
	return nil
}

// BuildArchive は BOM の順序どおりに各パスへ内容を書き込んだ zip を生成します。
// contents はコンテンツキーから内容への対応で、全キーが揃っている必要があります。
func BuildArchive(bom []document.BOMEntry, contents map[string][]byte) ([]byte, error) {
	if err := ValidateBOM(bom); err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	zipWriter := zip.NewWriter(buf)
	for _, entry := range bom {
		data, ok := contents[document.PartKey(entry.Sha)]
		if !ok {
			return nil, fmt.Errorf("content for %s (%s) is missing", entry.Path, entry.Sha)
		}
		writer, err := zipWriter.CreateHeader(&zip.FileHeader{
			Name:   entry.Path,
			Method: zip.Deflate,
		})
		if err != nil {
			return nil, fmt.Errorf("write zip header %s: %w", entry.Path, err)
		}
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("write zip entry %s: %w", entry.Path, err)
		}
	}
	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// SplitArchive は zip を BOM と sha256 キーごとの内容に分解します。
func SplitArchive(archive []byte) ([]document.BOMEntry, map[string][]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid docx archive: %w", err)
	}

	bom := make([]document.BOMEntry, 0, len(reader.File))
	contents := make(map[string][]byte, len(reader.File))
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		sum := sha256.Sum256(data)
		sha := hex.EncodeToString(sum[:])
		bom = append(bom, document.BOMEntry{Path: f.Name, Sha: sha})
		contents[document.PartKey(sha)] = data
	}
	if err := ValidateBOM(bom); err != nil {
		return nil, nil, err
	}
	return bom, contents, nil
}
