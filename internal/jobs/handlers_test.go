package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/yourusername/paper-forge-worker/internal/config"
	"github.com/yourusername/paper-forge-worker/internal/convert"
	"github.com/yourusername/paper-forge-worker/internal/database"
	"github.com/yourusername/paper-forge-worker/internal/document"
	"github.com/yourusername/paper-forge-worker/internal/invoke"
)

func decodeData[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("failed to decode data %s: %v", raw, err)
	}
	return out
}

func TestExportWithoutModificationsKeepsBytes(t *testing.T) {
	h := newHarness(t, config.PreprocessModeSync)
	original := []byte("%PDF-1.4 original bytes")
	h.addPDF(t, "U1", "D1", "V1", "contract", original)
	h.grant("D1", "U1", "edit")

	h.dispatcher.HandleFrames(frame(JobExport, "J1", "U1", "", `{"documentId":"D1"}`))
	h.dispatcher.Wait()

	resps := h.frames.responses(t)
	if len(resps) != 1 || resps[0].Error {
		t.Fatalf("expected one success response, got %+v", resps)
	}
	data := decodeData[ExportResult](t, resps[0].Data)
	if !strings.HasPrefix(data.URL, "http://files.test/temp_files/J1-fixed.pdf") {
		t.Fatalf("unexpected url: %s", data.URL)
	}
	if data.FileName != "contract.pdf" {
		t.Fatalf("unexpected file name: %s", data.FileName)
	}
	stored, err := h.store.Get(context.Background(), "temp_files/J1-fixed.pdf")
	if err != nil {
		t.Fatalf("temp file missing: %v", err)
	}
	if !bytes.Equal(stored, original) {
		t.Fatalf("export should re-upload the original bytes, got %q", stored)
	}
	if h.converter.called("modify") != 0 {
		t.Fatal("modify should not be called without modification data")
	}
	if got := h.tracker.get("J1"); got.Status != StatusSucceeded {
		t.Fatalf("unexpected status: %+v", got)
	}
}

func TestExportAppliesModifications(t *testing.T) {
	h := newHarness(t, config.PreprocessModeSync)
	h.addPDF(t, "U1", "D1", "V1", "contract", []byte("%PDF-1.4 original"))
	h.grant("D1", "U1", "edit")
	h.meta.mods["D1"] = json.RawMessage(`{"annotations":[{"page":1}]}`)
	var seen string
	h.converter.modify = func(file document.File, mods json.RawMessage) *convert.Response {
		seen = string(mods)
		return &convert.Response{StatusCode: 200, Body: []byte("%PDF-1.4 modified")}
	}

	h.dispatcher.HandleFrames(frame(JobExport, "J1", "U1", "", `{"documentId":"D1","removeMetadata":true}`))
	h.dispatcher.Wait()

	resps := h.frames.responses(t)
	if len(resps) != 1 || resps[0].Error {
		t.Fatalf("expected one success response, got %+v", resps)
	}
	if seen != `{"annotations":[{"page":1}]}` {
		t.Fatalf("modification data not forwarded: %s", seen)
	}
	if h.converter.called("remove_metadata") != 1 {
		t.Fatal("remove_metadata should be called when requested")
	}
	stored, _ := h.store.Get(context.Background(), "temp_files/J1-fixed.pdf")
	if string(stored) != "%PDF-1.4 modified" {
		t.Fatalf("unexpected exported content: %q", stored)
	}
}

func TestExportServiceErrorStopsJob(t *testing.T) {
	h := newHarness(t, config.PreprocessModeSync)
	h.addPDF(t, "U1", "D1", "V1", "contract", []byte("%PDF-1.4 original"))
	h.grant("D1", "U1", "edit")
	h.meta.mods["D1"] = json.RawMessage(`{}`)
	h.converter.modify = func(document.File, json.RawMessage) *convert.Response {
		return &convert.Response{StatusCode: 422, Body: []byte("bad annotations")}
	}

	h.dispatcher.HandleFrames(frame(JobExport, "J1", "U1", "", `{"documentId":"D1"}`))
	h.dispatcher.Wait()

	resps := h.frames.responses(t)
	if len(resps) != 1 || !resps[0].Error || !strings.Contains(resps[0].Message, "bad annotations") {
		t.Fatalf("unexpected responses: %+v", resps)
	}
	if ok, _ := h.store.Exists(context.Background(), "temp_files/J1-fixed.pdf"); ok {
		t.Fatal("no temp file should be written after a service error")
	}
	if got := h.tracker.get("J1"); got.Error.Code != "SERVICE_ERROR" {
		t.Fatalf("unexpected error code: %+v", got.Error)
	}
}

func TestPasswordEncrypt(t *testing.T) {
	h := newHarness(t, config.PreprocessModeSync)
	h.addPDF(t, "U1", "D1", "V1", "contract", []byte("%PDF-1.4 original"))
	h.grant("D1", "U1", "edit")
	var password string
	h.converter.encrypt = func(file document.File, pw string) *convert.Response {
		password = pw
		return &convert.Response{StatusCode: 200, Body: []byte("%PDF-1.4 encrypted")}
	}

	h.dispatcher.HandleFrames(frame(JobPasswordEncrypt, "J1", "U1", "", `{"documentId":"D1","password":"s3cret","currentPassword":"old"}`))
	h.dispatcher.Wait()

	resps := h.frames.responses(t)
	if len(resps) != 1 || resps[0].Error {
		t.Fatalf("expected one success response, got %+v", resps)
	}
	if password != "s3cret" {
		t.Fatalf("password not forwarded: %q", password)
	}
	if h.converter.called("password_decrypt") != 1 {
		t.Fatal("current password should be removed first")
	}
	data := decodeData[EncryptResult](t, resps[0].Data)
	if data.FileName != "contract.pdf" || data.URL == "" {
		t.Fatalf("unexpected data: %+v", data)
	}
}

func TestPreprocessSync(t *testing.T) {
	h := newHarness(t, config.PreprocessModeSync)
	h.addPDF(t, "U1", "D1", "V1", "contract", []byte("%PDF-1.4 original"))
	h.grant("D1", "U1", "edit")
	h.converter.preprocess = func(document.File) *convert.Response {
		return &convert.Response{StatusCode: 200, Body: []byte("%PDF-1.4 preprocessed")}
	}

	h.dispatcher.HandleFrames(frame(JobPreprocess, "J1", "U1", "", `{"type":"invoke","documentId":"D1"}`))
	h.dispatcher.Wait()

	resps := h.frames.responses(t)
	if len(resps) != 1 || resps[0].Error {
		t.Fatalf("expected one success response, got %+v", resps)
	}
	data := decodeData[PreprocessResult](t, resps[0].Data)
	if data.ResultKey != "preprocessed/D1/V1.pdf" || data.Cached {
		t.Fatalf("unexpected data: %+v", data)
	}
	stored, _ := h.store.Get(context.Background(), data.ResultKey)
	if string(stored) != "%PDF-1.4 preprocessed" {
		t.Fatalf("unexpected preprocessed content: %q", stored)
	}
	result, err := h.db.GetResultByJobID(context.Background(), "J1")
	if err != nil || result == nil || result.ResultKey != data.ResultKey {
		t.Fatalf("process result not stored: %+v, %v", result, err)
	}
}

func TestPreprocessCacheHit(t *testing.T) {
	h := newHarness(t, config.PreprocessModeInvoke)
	h.addPDF(t, "U1", "D1", "V1", "contract", []byte("%PDF-1.4 original"))
	h.grant("D1", "U1", "edit")
	err := h.db.CreateProcessResult(context.Background(), &database.ProcessResult{
		ID:         "R1",
		DocumentID: "D1",
		JobType:    string(JobPreprocess),
		JobID:      "J0",
		ResultKey:  "preprocessed/D1/V1.pdf",
	})
	if err != nil {
		t.Fatalf("failed to seed result: %v", err)
	}

	h.dispatcher.HandleFrames(frame(JobPreprocess, "J1", "U1", "", `{"type":"invoke","documentId":"D1"}`))
	h.dispatcher.Wait()

	resps := h.frames.responses(t)
	if len(resps) != 1 || resps[0].Error {
		t.Fatalf("expected one success response, got %+v", resps)
	}
	data := decodeData[PreprocessResult](t, resps[0].Data)
	if !data.Cached || data.ResultKey != "preprocessed/D1/V1.pdf" {
		t.Fatalf("unexpected data: %+v", data)
	}
	if len(h.invoker.requests) != 0 {
		t.Fatal("cache hit should not invoke the preprocess function")
	}
	links, err := h.db.CountResultLinks(context.Background(), "R1")
	if err != nil || links != 2 {
		t.Fatalf("expected 2 links, got %d (%v)", links, err)
	}
	if got := h.tracker.get("J1"); !got.Cached {
		t.Fatalf("record should be marked cached: %+v", got)
	}
	snap := h.snapshot(t)
	if snap.Jobs[0].Cached != 1 {
		t.Fatalf("cache hit should be counted: %+v", snap.Jobs[0])
	}
}

func TestPreprocessInvokeDefersUntilCompletion(t *testing.T) {
	h := newHarness(t, config.PreprocessModeInvoke)
	h.addPDF(t, "U1", "D1", "V1", "contract", []byte("%PDF-1.4 original"))
	h.grant("D1", "U1", "edit")

	h.dispatcher.HandleFrames(frame(JobPreprocess, "J1", "U1", "", `{"type":"invoke","documentId":"D1"}`))
	h.dispatcher.Wait()

	if got := len(h.frames.all()); got != 0 {
		t.Fatalf("invoke mode should not respond before completion, got %d frames", got)
	}
	if len(h.invoker.requests) != 1 {
		t.Fatalf("expected one invocation, got %d", len(h.invoker.requests))
	}
	req := h.invoker.requests[0]
	if req.DocumentKey != "U1/D1/V1.pdf" || req.JobID != "J1" {
		t.Fatalf("unexpected request: %+v", req)
	}

	err := h.dispatcher.HandlePreprocessCompletion(context.Background(), invoke.Completion{
		JobID:      "J1",
		DocumentID: "D1",
		JobType:    string(JobPreprocess),
		ResultKey:  "preprocessed/D1/V1.pdf",
	})
	if err != nil {
		t.Fatalf("HandlePreprocessCompletion returned error: %v", err)
	}

	resps := h.frames.responses(t)
	if len(resps) != 1 || resps[0].Error {
		t.Fatalf("expected one success response, got %+v", resps)
	}
	result, err := h.db.GetResultByJobID(context.Background(), "J1")
	if err != nil || result == nil || result.ResultKey != "preprocessed/D1/V1.pdf" {
		t.Fatalf("process result not stored: %+v, %v", result, err)
	}
	snap := h.snapshot(t)
	if snap.Jobs[0].Succeeded != 1 || snap.Jobs[0].InFlight != 0 {
		t.Fatalf("completion should settle the job: %+v", snap.Jobs[0])
	}
}

func TestPreprocessCompletionFailure(t *testing.T) {
	h := newHarness(t, config.PreprocessModeInvoke)

	err := h.dispatcher.HandlePreprocessCompletion(context.Background(), invoke.Completion{
		JobID:      "J1",
		DocumentID: "D1",
		Error:      true,
		Message:    "ghostscript crashed",
	})
	if err != nil {
		t.Fatalf("HandlePreprocessCompletion returned error: %v", err)
	}
	resps := h.frames.responses(t)
	if len(resps) != 1 || !resps[0].Error || !strings.Contains(resps[0].Message, "ghostscript crashed") {
		t.Fatalf("unexpected responses: %+v", resps)
	}

	if err := h.dispatcher.HandlePreprocessCompletion(context.Background(), invoke.Completion{JobID: "J2", DocumentID: "D1", JobType: "pdf_export"}); err == nil {
		t.Fatal("expected error for unexpected job type")
	}
}

func TestPreprocessUploadRecordsJob(t *testing.T) {
	h := newHarness(t, config.PreprocessModeInvoke)

	h.dispatcher.HandleFrames(frame(JobPreprocess, "J1", "U1", "", `{"type":"upload","documentKey":"uploads/a.pdf","fileName":"a.pdf"}`))
	h.dispatcher.Wait()

	resps := h.frames.responses(t)
	if len(resps) != 1 || resps[0].Error {
		t.Fatalf("expected one success response, got %+v", resps)
	}
	job, err := h.db.GetUploadJob(context.Background(), "J1")
	if err != nil || job == nil || job.DocumentKey != "uploads/a.pdf" {
		t.Fatalf("upload job not recorded: %+v, %v", job, err)
	}
}

func TestPreprocessRejectsDocx(t *testing.T) {
	h := newHarness(t, config.PreprocessModeInvoke)
	h.addDocx(t, "U1", "D1", "V1", "report", map[string]string{"word/document.xml": "<w:document/>"})
	h.grant("D1", "U1", "edit")

	h.dispatcher.HandleFrames(frame(JobPreprocess, "J1", "U1", "", `{"type":"invoke","documentId":"D1"}`))
	h.dispatcher.Wait()

	resps := h.frames.responses(t)
	if len(resps) != 1 || !resps[0].Error || !strings.Contains(resps[0].Message, "not pdf") {
		t.Fatalf("unexpected responses: %+v", resps)
	}
}

func TestSimpleCompare(t *testing.T) {
	h := newHarness(t, config.PreprocessModeSync)
	h.addDocx(t, "U1", "D1", "V1", "draft", map[string]string{"word/document.xml": "<w:document>a</w:document>"})
	h.addDocx(t, "U1", "D2", "V2", "final", map[string]string{"word/document.xml": "<w:document>b</w:document>"})
	h.grant("D1", "U1", "edit")
	h.grant("D2", "U1", "view")
	var names []string
	h.converter.compare = func(original, revised document.File) *convert.Response {
		names = []string{original.Name, revised.Name}
		return echo(original)
	}
	h.converter.countRevisions = func(document.File) *convert.Response {
		return &convert.Response{StatusCode: 200, Body: []byte(`{"insertions":3,"deletions":1}`)}
	}

	h.dispatcher.HandleFrames(frame(JobDocxSimpleCompare, "J1", "U1", "", `{"documents":[{"documentId":"D1"},{"documentId":"D2"}]}`))
	h.dispatcher.Wait()

	resps := h.frames.responses(t)
	if len(resps) != 1 || resps[0].Error {
		t.Fatalf("expected one success response, got %+v", resps)
	}
	data := decodeData[CompareResult](t, resps[0].Data)
	if data.DocumentID != "NEW1" || data.Insertions != 3 || data.Deletions != 1 {
		t.Fatalf("unexpected data: %+v", data)
	}
	if strings.Join(names, ",") != "draft_1.docx,final_2.docx" {
		t.Fatalf("unexpected input names: %v", names)
	}
	created := h.meta.created[0]
	if created.Name != "draft_1_simple_compare.docx" || created.Owner != "U1" || len(created.BOM) != 1 {
		t.Fatalf("unexpected created document: %+v", created)
	}
}

func TestCompareCountFailureSendsSingleError(t *testing.T) {
	h := newHarness(t, config.PreprocessModeSync)
	h.addDocx(t, "U1", "D1", "V1", "draft", map[string]string{"word/document.xml": "a"})
	h.addDocx(t, "U1", "D2", "V2", "final", map[string]string{"word/document.xml": "b"})
	h.grant("D1", "U1", "edit")
	h.grant("D2", "U1", "edit")
	h.converter.countRevisions = func(document.File) *convert.Response {
		return &convert.Response{StatusCode: 500, Body: []byte("count exploded")}
	}

	h.dispatcher.HandleFrames(frame(JobDocxSimpleCompare, "J1", "U1", "", `{"documents":[{"documentId":"D1"},{"documentId":"D2"}]}`))
	h.dispatcher.Wait()

	resps := h.frames.responses(t)
	if len(resps) != 1 || !resps[0].Error || !strings.Contains(resps[0].Message, "count_revisions") {
		t.Fatalf("expected exactly one error response, got %+v", resps)
	}
}

func TestCompareChecksEveryPermission(t *testing.T) {
	h := newHarness(t, config.PreprocessModeSync)
	h.addDocx(t, "U1", "D1", "V1", "draft", map[string]string{"word/document.xml": "a"})
	h.addDocx(t, "U2", "D2", "V2", "final", map[string]string{"word/document.xml": "b"})
	h.grant("D1", "U1", "edit")

	h.dispatcher.HandleFrames(frame(JobDocxSimpleCompare, "J1", "U1", "", `{"documents":[{"documentId":"D1"},{"documentId":"D2"}]}`))
	h.dispatcher.Wait()

	resps := h.frames.responses(t)
	if len(resps) != 1 || !resps[0].Error || !strings.Contains(resps[0].Message, "permission denied") {
		t.Fatalf("unexpected responses: %+v", resps)
	}
	if h.converter.called("simple_compare") != 0 {
		t.Fatal("compare should not run without permission on every input")
	}
}

func TestConsolidateWithTitleAndPDFInput(t *testing.T) {
	h := newHarness(t, config.PreprocessModeSync)
	docx := h.addDocx(t, "U1", "D1", "V1", "draft", map[string]string{"word/document.xml": "a"})
	h.addPDF(t, "U1", "D2", "V2", "scan", []byte("%PDF-1.4 scan"))
	h.grant("D1", "U1", "edit")
	h.grant("D2", "U1", "edit")
	var count int
	h.converter.consolidate = func(files []document.File) *convert.Response {
		count = len(files)
		return &convert.Response{StatusCode: 200, Body: docx}
	}

	body := `{"title":"Merged v2","documents":[{"documentId":"D1"},{"documentId":"D2"},{"documentKey":"uploads/x.docx","fileName":"x.docx"}]}`
	if err := h.store.Put(context.Background(), "uploads/x.docx", docx, ""); err != nil {
		t.Fatal(err)
	}
	h.dispatcher.HandleFrames(frame(JobDocxConsolidate, "J1", "U1", "", body))
	h.dispatcher.Wait()

	resps := h.frames.responses(t)
	if len(resps) != 1 || resps[0].Error {
		t.Fatalf("expected one success response, got %+v", resps)
	}
	if count != 3 {
		t.Fatalf("expected 3 inputs, got %d", count)
	}
	if h.converter.called("convert") != 1 {
		t.Fatalf("pdf input should be converted once, got %d", h.converter.called("convert"))
	}
	if h.meta.created[0].Name != "Merged v2.docx" {
		t.Fatalf("unexpected name: %s", h.meta.created[0].Name)
	}
}

func TestDocxUpload(t *testing.T) {
	h := newHarness(t, config.PreprocessModeSync)
	archive := buildDocx(t, map[string]string{
		"[Content_Types].xml": "<Types/>",
		"word/document.xml":   "<w:document/>",
	})
	if err := h.store.Put(context.Background(), "uploads/u.docx", archive, ""); err != nil {
		t.Fatal(err)
	}

	h.dispatcher.HandleFrames(frame(JobDocxUpload, "J1", "U1", "", `{"documentKey":"uploads/u.docx","fileName":"u.docx"}`))
	h.dispatcher.Wait()

	resps := h.frames.responses(t)
	if len(resps) != 1 || resps[0].Error {
		t.Fatalf("expected one success response, got %+v", resps)
	}
	data := decodeData[DocxUploadResult](t, resps[0].Data)
	if data.Parts != 2 || data.DocumentID != "NEW1" {
		t.Fatalf("unexpected data: %+v", data)
	}
	if h.meta.created[0].Key != "uploads/u.docx" {
		t.Fatalf("source key not recorded: %+v", h.meta.created[0])
	}
	job, err := h.db.GetUploadJob(context.Background(), "J1")
	if err != nil || job == nil {
		t.Fatalf("upload job not recorded: %v", err)
	}
}

func TestDocxUploadRedeliveryReturnsRegisteredDocument(t *testing.T) {
	h := newHarness(t, config.PreprocessModeSync)
	archive := buildDocx(t, map[string]string{
		"[Content_Types].xml": "<Types/>",
		"word/document.xml":   "<w:document/>",
	})
	if err := h.store.Put(context.Background(), "uploads/u.docx", archive, ""); err != nil {
		t.Fatal(err)
	}

	payload := `{"documentKey":"uploads/u.docx","fileName":"u.docx"}`
	for i := 0; i < 2; i++ {
		h.dispatcher.HandleFrames(frame(JobDocxUpload, "J1", "U1", "", payload))
		h.dispatcher.Wait()
	}

	resps := h.frames.responses(t)
	if len(resps) != 2 || resps[0].Error || resps[1].Error {
		t.Fatalf("expected two success responses, got %+v", resps)
	}
	first := decodeData[DocxUploadResult](t, resps[0].Data)
	second := decodeData[DocxUploadResult](t, resps[1].Data)
	if first != second || first.DocumentID != "NEW1" {
		t.Fatalf("redelivery returned a different document: %+v vs %+v", first, second)
	}
	if len(h.meta.created) != 1 {
		t.Fatalf("expected one created document, got %d", len(h.meta.created))
	}
}

func TestPreprocessUploadRedeliverySucceeds(t *testing.T) {
	h := newHarness(t, config.PreprocessModeInvoke)

	payload := `{"type":"upload","documentKey":"uploads/a.pdf","fileName":"a.pdf"}`
	for i := 0; i < 2; i++ {
		h.dispatcher.HandleFrames(frame(JobPreprocess, "J1", "U1", "", payload))
		h.dispatcher.Wait()
	}

	resps := h.frames.responses(t)
	if len(resps) != 2 || resps[0].Error || resps[1].Error {
		t.Fatalf("expected two success responses, got %+v", resps)
	}
}

func TestDocxUploadRejectsOtherExtensions(t *testing.T) {
	h := newHarness(t, config.PreprocessModeSync)

	h.dispatcher.HandleFrames(frame(JobDocxUpload, "J1", "U1", "", `{"documentKey":"uploads/u.pdf","fileName":"u.pdf"}`))
	h.dispatcher.Wait()

	resps := h.frames.responses(t)
	if len(resps) != 1 || !resps[0].Error {
		t.Fatalf("unexpected responses: %+v", resps)
	}
}

func TestCreateTempFileConvertsFormat(t *testing.T) {
	h := newHarness(t, config.PreprocessModeSync)
	h.addDocx(t, "U1", "D1", "V1", "report", map[string]string{"word/document.xml": "a"})
	h.grant("D1", "U1", "view")

	h.dispatcher.HandleFrames(frame(JobCreateTempFile, "J1", "U1", "", `{"document":{"documentId":"D1"},"format":"pdf"}`))
	h.dispatcher.Wait()

	resps := h.frames.responses(t)
	if len(resps) != 1 || resps[0].Error {
		t.Fatalf("expected one success response, got %+v", resps)
	}
	data := decodeData[TempFileResult](t, resps[0].Data)
	if data.FileName != "report.pdf" || !strings.Contains(data.URL, "temp_files/J1-fixed.pdf") {
		t.Fatalf("unexpected data: %+v", data)
	}
	stored, _ := h.store.Get(context.Background(), "temp_files/J1-fixed.pdf")
	if !bytes.HasPrefix(stored, []byte("pdf:")) {
		t.Fatalf("converted content not stored: %q", stored)
	}
}

func TestCreateTempFileFromKeySkipsPermission(t *testing.T) {
	h := newHarness(t, config.PreprocessModeSync)
	if err := h.store.Put(context.Background(), "uploads/raw.pdf", []byte("%PDF-1.4 raw"), ""); err != nil {
		t.Fatal(err)
	}

	h.dispatcher.HandleFrames(frame(JobCreateTempFile, "J1", "U1", "", `{"document":{"documentKey":"uploads/raw.pdf","fileName":"raw.pdf"}}`))
	h.dispatcher.Wait()

	resps := h.frames.responses(t)
	if len(resps) != 1 || resps[0].Error {
		t.Fatalf("expected one success response, got %+v", resps)
	}
	if h.converter.called("convert") != 0 {
		t.Fatal("no conversion expected without a format")
	}
}

func TestMissingPartsFailsJob(t *testing.T) {
	h := newHarness(t, config.PreprocessModeSync)
	h.meta.docs["D1"] = &document.Metadata{
		DocumentID:        "D1",
		DocumentVersionID: "V1",
		DocumentName:      "broken",
		Owner:             "U1",
		FileType:          document.FileTypeDOCX,
		BOM:               []document.BOMEntry{{Path: "word/document.xml", Sha: "deadbeef"}},
	}
	h.grant("D1", "U1", "edit")

	h.dispatcher.HandleFrames(frame(JobCreateTempFile, "J1", "U1", "", `{"document":{"documentId":"D1"}}`))
	h.dispatcher.Wait()

	resps := h.frames.responses(t)
	if len(resps) != 1 || !resps[0].Error || !strings.Contains(resps[0].Message, "deadbeef") {
		t.Fatalf("unexpected responses: %+v", resps)
	}
	if got := h.tracker.get("J1"); got.Error.Code != "MISSING_PARTS" {
		t.Fatalf("unexpected error code: %+v", got.Error)
	}
}

func TestResultName(t *testing.T) {
	files := []document.File{{Name: "draft_1.docx"}}
	cases := []struct {
		title string
		want  string
	}{
		{"", "draft_1_consolidate.docx"},
		{"Q3 report", "Q3 report.docx"},
		{"v1.2 notes.DOCX", "v1.2 notes.DOCX"},
	}
	for _, tc := range cases {
		if got := resultName(tc.title, files, "consolidate"); got != tc.want {
			t.Errorf("resultName(%q) = %q, want %q", tc.title, got, tc.want)
		}
	}
}
