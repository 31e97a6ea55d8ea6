// Package database はアップロードジョブと処理結果キャッシュを保存するリレーショナルストアです。
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Config はデータベース接続設定です。
type Config struct {
	Driver  string // postgres または sqlite3
	DSN     string
	MaxPool int
}

// ProcessResult は完了済みジョブの成果物レコードです。
type ProcessResult struct {
	ID         string
	DocumentID string
	JobType    string
	JobID      string
	ResultKey  string
	CreatedAt  time.Time
}

// UploadJob はアップロード起点で発生したジョブの記録です。
type UploadJob struct {
	JobID       string
	JobType     string
	UserID      string
	DocumentKey string
	FileName    string
	CreatedAt   time.Time

	// 登録が完了したアップロードのみ設定されます。
	DocumentID        string
	DocumentVersionID string
	Parts             int
}

// DB はジョブ用データベースです。
type DB struct {
	db     *sql.DB
	driver string
}

// Open は接続を開き、スキーマを初期化します。
func Open(ctx context.Context, cfg Config) (*DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == "sqlite3" {
		// :memory: は接続ごとに別DBになるため1本に絞る
		db.SetMaxOpenConns(1)
	} else if cfg.MaxPool > 0 {
		db.SetMaxOpenConns(cfg.MaxPool)
		db.SetMaxIdleConns(cfg.MaxPool / 2)
		db.SetConnMaxLifetime(time.Hour)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &DB{db: db, driver: cfg.Driver}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close は接続を閉じます。
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS upload_jobs (
			job_id TEXT PRIMARY KEY,
			job_type TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			document_key TEXT NOT NULL,
			file_name TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			document_id TEXT NOT NULL DEFAULT '',
			document_version_id TEXT NOT NULL DEFAULT '',
			parts INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS process_results (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			job_type TEXT NOT NULL,
			job_id TEXT NOT NULL,
			result_key TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_process_results_document ON process_results(document_id, job_type)`,
		`CREATE TABLE IF NOT EXISTS result_links (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			result_id TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_result_links_job ON result_links(job_id)`,
	}
	for _, stmt := range statements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// FindProcessResult は (documentID, jobType) の最新の成果物を返します。存在しない場合は nil を返します。
func (d *DB) FindProcessResult(ctx context.Context, documentID, jobType string) (*ProcessResult, error) {
	query := d.rebind(`
		SELECT id, document_id, job_type, job_id, result_key, created_at
		FROM process_results
		WHERE document_id = ? AND job_type = ?
		ORDER BY created_at DESC
		LIMIT 1
	`)
	result, err := scanProcessResult(d.db.QueryRowContext(ctx, query, documentID, jobType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find process result: %w", err)
	}
	return result, nil
}

// CreateProcessResult は成果物レコードを作成し、生成したジョブ自身へのリンクも作成します。
func (d *DB) CreateProcessResult(ctx context.Context, result *ProcessResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, d.rebind(`
		INSERT INTO process_results (id, document_id, job_type, job_id, result_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), result.ID, result.DocumentID, result.JobType, result.JobID, result.ResultKey, result.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to create process result: %w", err)
	}
	_, err = tx.ExecContext(ctx, d.rebind(`
		INSERT INTO result_links (id, job_id, result_id, created_at) VALUES (?, ?, ?, ?)
	`), uuid.NewString(), result.JobID, result.ID, result.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to create result link: %w", err)
	}
	return tx.Commit()
}

// CreateResultLink は新しい jobID を既存の成果物に関連付けます。
func (d *DB) CreateResultLink(ctx context.Context, jobID, resultID string) error {
	_, err := d.db.ExecContext(ctx, d.rebind(`
		INSERT INTO result_links (id, job_id, result_id, created_at) VALUES (?, ?, ?, ?)
	`), uuid.NewString(), jobID, resultID, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to create result link: %w", err)
	}
	return nil
}

// GetResultByJobID はリンク経由で jobID に対応する成果物を返します。存在しない場合は nil を返します。
func (d *DB) GetResultByJobID(ctx context.Context, jobID string) (*ProcessResult, error) {
	query := d.rebind(`
		SELECT r.id, r.document_id, r.job_type, r.job_id, r.result_key, r.created_at
		FROM result_links l
		JOIN process_results r ON r.id = l.result_id
		WHERE l.job_id = ?
		ORDER BY l.created_at DESC
		LIMIT 1
	`)
	result, err := scanProcessResult(d.db.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result by job: %w", err)
	}
	return result, nil
}

// CountResultLinks は成果物に紐づくリンク数を返します。
func (d *DB) CountResultLinks(ctx context.Context, resultID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, d.rebind(`SELECT COUNT(*) FROM result_links WHERE result_id = ?`), resultID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count result links: %w", err)
	}
	return count, nil
}

// CreateUploadJob はアップロードジョブを記録します。
// 同じ jobId が再配信された場合は既存の記録を残して成功扱いにします。
func (d *DB) CreateUploadJob(ctx context.Context, job *UploadJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := d.db.ExecContext(ctx, d.rebind(`
		INSERT INTO upload_jobs (job_id, job_type, user_id, document_key, file_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO NOTHING
	`), job.JobID, job.JobType, job.UserID, job.DocumentKey, job.FileName, job.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to create upload job: %w", err)
	}
	return nil
}

// CompleteUploadJob はアップロードから作成されたドキュメントを記録に結び付けます。
func (d *DB) CompleteUploadJob(ctx context.Context, jobID, documentID, documentVersionID string, parts int) error {
	res, err := d.db.ExecContext(ctx, d.rebind(`
		UPDATE upload_jobs SET document_id = ?, document_version_id = ?, parts = ?
		WHERE job_id = ?
	`), documentID, documentVersionID, parts, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete upload job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("upload job %s not found", jobID)
	}
	return nil
}

// GetUploadJob はアップロードジョブを返します。存在しない場合は nil を返します。
func (d *DB) GetUploadJob(ctx context.Context, jobID string) (*UploadJob, error) {
	var job UploadJob
	var createdAt int64
	err := d.db.QueryRowContext(ctx, d.rebind(`
		SELECT job_id, job_type, user_id, document_key, file_name, created_at,
			document_id, document_version_id, parts
		FROM upload_jobs WHERE job_id = ?
	`), jobID).Scan(&job.JobID, &job.JobType, &job.UserID, &job.DocumentKey, &job.FileName, &createdAt,
		&job.DocumentID, &job.DocumentVersionID, &job.Parts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload job: %w", err)
	}
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	return &job, nil
}

func scanProcessResult(row *sql.Row) (*ProcessResult, error) {
	var result ProcessResult
	var createdAt int64
	if err := row.Scan(&result.ID, &result.DocumentID, &result.JobType, &result.JobID, &result.ResultKey, &createdAt); err != nil {
		return nil, err
	}
	result.CreatedAt = time.Unix(0, createdAt).UTC()
	return &result, nil
}

// rebind は ? プレースホルダーを postgres の $n 形式に変換します。
func (d *DB) rebind(query string) string {
	if d.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
