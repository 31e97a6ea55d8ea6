package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/paper-forge-worker/internal/auth"
	"github.com/yourusername/paper-forge-worker/internal/database"
	"github.com/yourusername/paper-forge-worker/internal/jobs"
	"github.com/yourusername/paper-forge-worker/internal/metrics"
	"github.com/yourusername/paper-forge-worker/internal/storage"
)

const serviceName = "paper-forge-worker"

type statusReader interface {
	Get(ctx context.Context, jobID string) (*jobs.Record, error)
}

type resultReader interface {
	GetResultByJobID(ctx context.Context, jobID string) (*database.ProcessResult, error)
}

type fileReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type snapshotter interface {
	GetSnapshot(ctx context.Context) (metrics.Snapshot, error)
}

// serverDeps はヘルスチェックサーバーが参照する依存です。
type serverDeps struct {
	statuses statusReader
	results  resultReader
	metrics  snapshotter
	files    fileReader // プロセス内ストア使用時のみ
	guard    *auth.TokenGuard
	logger   logrus.FieldLogger
}

// newRouter はヘルスチェック・メトリクス・ジョブ照会のルーティングを構築します。
func newRouter(deps serverDeps) *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(deps.logger), gin.Recovery())

	router.GET("/health", handleHealth)
	if deps.files != nil {
		router.GET("/files/*key", fileHandler(deps.files))
	}

	protected := router.Group("")
	protected.Use(deps.guard.Require())
	{
		protected.GET("/metrics", metricsHandler(deps.metrics))
		protected.GET("/jobs/:id", jobStatusHandler(deps.statuses))
		protected.GET("/jobs/:id/result", jobResultHandler(deps.results))
	}
	return router
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": serviceName,
	})
}

// fileHandler は署名付きURLの代わりにプロセス内ストアのオブジェクトを返します。
func fileHandler(files fileReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimPrefix(c.Param("key"), "/")
		data, err := files.Get(c.Request.Context(), key)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "FILE_NOT_FOUND",
				"message": "指定されたファイルは存在しません。",
			})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ファイルの取得に失敗しました。",
			})
			return
		}
		c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
	}
}

func metricsHandler(source snapshotter) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := source.GetSnapshot(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "メトリクスの収集に失敗しました。",
			})
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

func jobStatusHandler(statuses statusReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		record, err := statuses.Get(c.Request.Context(), jobID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "指定されたジョブは存在しません。",
			})
			return
		}

		payload := gin.H{
			"jobId":     record.JobID,
			"jobType":   record.JobType,
			"status":    record.Status,
			"cached":    record.Cached,
			"updatedAt": record.UpdatedAt,
		}
		if record.Data != nil {
			payload["data"] = record.Data
		}
		if record.Error != nil {
			payload["error"] = record.Error
		}
		c.JSON(http.StatusOK, payload)
	}
}

// jobResultHandler はリンク経由でジョブに紐づく成果物を返します。
func jobResultHandler(results resultReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		result, err := results.GetResultByJobID(c.Request.Context(), jobID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "成果物の取得に失敗しました。",
			})
			return
		}
		if result == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_RESULT_NOT_FOUND",
				"message": "ジョブの成果物が見つかりませんでした。",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"jobId":       jobID,
			"resultId":    result.ID,
			"documentId":  result.DocumentID,
			"jobType":     result.JobType,
			"producedBy":  result.JobID,
			"resultKey":   result.ResultKey,
			"createdAt":   result.CreatedAt,
			"reusedCache": result.JobID != jobID,
		})
	}
}

func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"durationMs": time.Since(start).Milliseconds(),
		}).Debug("http request")
	}
}
