package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/paper-forge-worker/internal/assembler"
	"github.com/yourusername/paper-forge-worker/internal/cache"
	"github.com/yourusername/paper-forge-worker/internal/convert"
	"github.com/yourusername/paper-forge-worker/internal/database"
	"github.com/yourusername/paper-forge-worker/internal/docmeta"
	"github.com/yourusername/paper-forge-worker/internal/document"
	"github.com/yourusername/paper-forge-worker/internal/invoke"
	"github.com/yourusername/paper-forge-worker/internal/metrics"
	"github.com/yourusername/paper-forge-worker/internal/permission"
	"github.com/yourusername/paper-forge-worker/internal/storage"
)

type capturedFrames struct {
	mu     sync.Mutex
	frames [][]string
	err    error
	// gate が設定されていると閉じられるまで送信を保留します。
	gate chan struct{}
}

func (c *capturedFrames) Publish(ctx context.Context, frames ...string) error {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, frames)
	return nil
}

func (c *capturedFrames) all() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.frames...)
}

type sentResponse struct {
	JobID   string          `json:"jobId"`
	JobType string          `json:"jobType"`
	Data    json.RawMessage `json:"data"`
	Error   bool            `json:"error"`
	Message string          `json:"message"`
}

func (c *capturedFrames) responses(t *testing.T) []sentResponse {
	t.Helper()
	var out []sentResponse
	for _, f := range c.all() {
		if len(f) != 3 {
			t.Fatalf("expected 3 frames, got %d", len(f))
		}
		var resp sentResponse
		if err := json.Unmarshal([]byte(f[2]), &resp); err != nil {
			t.Fatalf("invalid response payload: %v", err)
		}
		if resp.JobID != f[1] || resp.JobType != f[0] {
			t.Fatalf("frame header %v does not match payload %+v", f[:2], resp)
		}
		out = append(out, resp)
	}
	return out
}

type capturedStatus struct {
	mu    sync.Mutex
	sent  []invoke.StatusNotification
	err   error
	panic string
}

func (c *capturedStatus) SendStatus(ctx context.Context, n invoke.StatusNotification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panic != "" {
		panic(c.panic)
	}
	c.sent = append(c.sent, n)
	return c.err
}

type fakeInvoker struct {
	mu       sync.Mutex
	requests []invoke.PreprocessRequest
}

func (f *fakeInvoker) InvokePreprocess(ctx context.Context, req invoke.PreprocessRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return nil
}

// fakeMeta はメタデータサービス全体の代役です。
type fakeMeta struct {
	mu      sync.Mutex
	docs    map[string]*document.Metadata
	access  map[string]string
	users   map[string]string
	mods    map[string]json.RawMessage
	created []docmeta.NewDocument
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{
		docs:   make(map[string]*document.Metadata),
		access: make(map[string]string),
		users:  make(map[string]string),
		mods:   make(map[string]json.RawMessage),
	}
}

func (f *fakeMeta) GetDocument(ctx context.Context, documentID string) (*document.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.docs[documentID]
	if !ok {
		return nil, docmeta.ErrNotFound
	}
	copied := *meta
	return &copied, nil
}

func (f *fakeMeta) GetDocumentVersion(ctx context.Context, documentID, documentVersionID string) (*document.Metadata, error) {
	meta, err := f.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if meta.DocumentVersionID != documentVersionID {
		return nil, docmeta.ErrNotFound
	}
	return meta, nil
}

func (f *fakeMeta) GetAccessLevel(ctx context.Context, documentID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	level, ok := f.access[documentID+"/"+userID]
	if !ok {
		return "", &docmeta.StatusError{Method: "GET", Path: "/access", StatusCode: 403}
	}
	return level, nil
}

func (f *fakeMeta) GetUserIDByEmail(ctx context.Context, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.users[email]
	if !ok {
		return "", docmeta.ErrNotFound
	}
	return id, nil
}

func (f *fakeMeta) GetModificationData(ctx context.Context, documentID, documentVersionID string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mods[documentID], nil
}

func (f *fakeMeta) CreateDocument(ctx context.Context, doc docmeta.NewDocument) (*docmeta.CreatedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, doc)
	n := len(f.created)
	return &docmeta.CreatedDocument{DocumentID: fmt.Sprintf("NEW%d", n), DocumentVersionID: fmt.Sprintf("NEWV%d", n)}, nil
}

// fakeConverter は変換サービスの代役です。未設定の操作は入力をそのまま返します。
type fakeConverter struct {
	mu    sync.Mutex
	calls []string

	preprocess     func(document.File) *convert.Response
	modify         func(document.File, json.RawMessage) *convert.Response
	encrypt        func(document.File, string) *convert.Response
	compare        func(document.File, document.File) *convert.Response
	consolidate    func([]document.File) *convert.Response
	countRevisions func(document.File) *convert.Response
}

func (f *fakeConverter) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
}

func (f *fakeConverter) called(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func echo(file document.File) *convert.Response {
	return &convert.Response{StatusCode: 200, Body: file.Content}
}

func (f *fakeConverter) Preprocess(ctx context.Context, file document.File) (*convert.Response, error) {
	f.record("preprocess")
	if f.preprocess != nil {
		return f.preprocess(file), nil
	}
	return echo(file), nil
}

func (f *fakeConverter) Convert(ctx context.Context, file document.File, target document.FileType) (*convert.Response, error) {
	f.record("convert")
	return &convert.Response{StatusCode: 200, Body: append([]byte(string(target)+":"), file.Content...)}, nil
}

func (f *fakeConverter) Modify(ctx context.Context, file document.File, modifications json.RawMessage) (*convert.Response, error) {
	f.record("modify")
	if f.modify != nil {
		return f.modify(file, modifications), nil
	}
	return echo(file), nil
}

func (f *fakeConverter) PasswordEncrypt(ctx context.Context, file document.File, password string) (*convert.Response, error) {
	f.record("password_encrypt")
	if f.encrypt != nil {
		return f.encrypt(file, password), nil
	}
	return echo(file), nil
}

func (f *fakeConverter) PasswordDecrypt(ctx context.Context, file document.File, password string) (*convert.Response, error) {
	f.record("password_decrypt")
	return echo(file), nil
}

func (f *fakeConverter) RemoveMetadata(ctx context.Context, file document.File) (*convert.Response, error) {
	f.record("remove_metadata")
	return echo(file), nil
}

func (f *fakeConverter) SimpleCompare(ctx context.Context, original, revised document.File) (*convert.Response, error) {
	f.record("simple_compare")
	if f.compare != nil {
		return f.compare(original, revised), nil
	}
	return echo(original), nil
}

func (f *fakeConverter) Consolidate(ctx context.Context, files []document.File) (*convert.Response, error) {
	f.record("consolidate")
	if f.consolidate != nil {
		return f.consolidate(files), nil
	}
	return echo(files[0]), nil
}

func (f *fakeConverter) CountRevisions(ctx context.Context, file document.File) (*convert.Response, error) {
	f.record("count_revisions")
	if f.countRevisions != nil {
		return f.countRevisions(file), nil
	}
	return &convert.Response{StatusCode: 200, Body: []byte(`{"insertions":0,"deletions":0}`)}, nil
}

type memoryTracker struct {
	mu      sync.Mutex
	records map[string]*Record
}

func (m *memoryTracker) Upsert(ctx context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *record
	m.records[record.JobID] = &copied
	return nil
}

func (m *memoryTracker) MarkDone(ctx context.Context, jobID string, data any, cached bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.ensure(jobID)
	r.Status, r.Data, r.Cached = StatusSucceeded, data, cached
	return nil
}

func (m *memoryTracker) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.ensure(jobID)
	r.Status, r.Error = StatusFailed, errInfo
	return nil
}

func (m *memoryTracker) ensure(jobID string) *Record {
	r, ok := m.records[jobID]
	if !ok {
		r = &Record{JobID: jobID}
		m.records[jobID] = r
	}
	return r
}

func (m *memoryTracker) get(jobID string) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[jobID]
}

type harness struct {
	dispatcher *Dispatcher
	frames     *capturedFrames
	status     *capturedStatus
	meta       *fakeMeta
	store      *storage.MemoryStore
	converter  *fakeConverter
	invoker    *fakeInvoker
	db         *database.DB
	tracker    *memoryTracker
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newHarness(t *testing.T, mode string) *harness {
	t.Helper()
	db, err := database.Open(context.Background(), database.Config{Driver: "sqlite3", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := &harness{
		frames:    &capturedFrames{},
		status:    &capturedStatus{},
		meta:      newFakeMeta(),
		store:     storage.NewMemoryStore("http://files.test"),
		converter: &fakeConverter{},
		invoker:   &fakeInvoker{},
		db:        db,
		tracker:   &memoryTracker{records: make(map[string]*Record)},
	}
	logger := quietLogger()

	d, err := NewDispatcher(Deps{
		Meta:           h.meta,
		Store:          h.store,
		Assembler:      assembler.New(h.meta, h.store, h.converter, logger),
		Converter:      h.converter,
		Permissions:    permission.NewValidator(h.meta),
		Cache:          cache.NewResultCache(db, logger),
		Results:        db,
		Invoker:        h.invoker,
		Responses:      NewResponsePublisher(h.frames, h.status, logger),
		Tracker:        h.tracker,
		NewID:          func() string { return "fixed" },
		Logger:         logger,
		PreprocessMode: mode,
	})
	if err != nil {
		t.Fatalf("NewDispatcher returned error: %v", err)
	}
	h.dispatcher = d
	return h
}

func (h *harness) addPDF(t *testing.T, owner, documentID, versionID, name string, content []byte) {
	t.Helper()
	h.meta.docs[documentID] = &document.Metadata{
		DocumentID:        documentID,
		DocumentVersionID: versionID,
		DocumentName:      name,
		Owner:             owner,
		FileType:          document.FileTypePDF,
	}
	if err := h.store.Put(context.Background(), document.PDFKey(owner, documentID, versionID), content, "application/pdf"); err != nil {
		t.Fatalf("failed to seed pdf: %v", err)
	}
}

// addDocx は DOCX を分解して BOM とパーツを登録します。
func (h *harness) addDocx(t *testing.T, owner, documentID, versionID, name string, parts map[string]string) []byte {
	t.Helper()
	archive := buildDocx(t, parts)
	bom, contents, err := assembler.SplitArchive(archive)
	if err != nil {
		t.Fatalf("failed to split docx: %v", err)
	}
	for key, data := range contents {
		if err := h.store.Put(context.Background(), key, data, ""); err != nil {
			t.Fatalf("failed to seed part: %v", err)
		}
	}
	h.meta.docs[documentID] = &document.Metadata{
		DocumentID:        documentID,
		DocumentVersionID: versionID,
		DocumentName:      name,
		Owner:             owner,
		FileType:          document.FileTypeDOCX,
		BOM:               bom,
	}
	return archive
}

func (h *harness) grant(documentID, userID, level string) {
	h.meta.access[documentID+"/"+userID] = level
}

func buildDocx(t *testing.T, parts map[string]string) []byte {
	t.Helper()
	bom := make([]document.BOMEntry, 0, len(parts))
	contents := make(map[string][]byte, len(parts))
	for _, path := range sortedKeys(parts) {
		sha := fmt.Sprintf("sha-%s", path)
		bom = append(bom, document.BOMEntry{Path: path, Sha: sha})
		contents[document.PartKey(sha)] = []byte(parts[path])
	}
	archive, err := assembler.BuildArchive(bom, contents)
	if err != nil {
		t.Fatalf("failed to build docx: %v", err)
	}
	return archive
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func frame(event JobType, jobID, userID, email, data string) []string {
	return []string{string(event), jobID, userID, email, data}
}

func (h *harness) snapshot(t *testing.T) metrics.Snapshot {
	t.Helper()
	snap, err := h.dispatcher.Metrics().GetSnapshot(context.Background())
	if err != nil {
		t.Fatalf("GetSnapshot returned error: %v", err)
	}
	return snap
}
