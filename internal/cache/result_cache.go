// Package cache は (documentId, jobType) 単位の処理結果キャッシュを提供します。
package cache

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/paper-forge-worker/internal/database"
)

// ResultStore はキャッシュが参照する永続化層です。
type ResultStore interface {
	FindProcessResult(ctx context.Context, documentID, jobType string) (*database.ProcessResult, error)
	CreateResultLink(ctx context.Context, jobID, resultID string) error
}

// ResultCache は過去の成果物を再利用します。
type ResultCache struct {
	store  ResultStore
	logger logrus.FieldLogger
}

// NewResultCache は ResultCache を作成します。
func NewResultCache(store ResultStore, logger logrus.FieldLogger) *ResultCache {
	return &ResultCache{store: store, logger: logger}
}

// CheckForCachedResult は既存の成果物があれば jobID をリンクし、その成果物と true を返します。
// 参照・リンク作成のエラーはキャッシュミスとして扱い、呼び出し側には伝播しません。
func (c *ResultCache) CheckForCachedResult(ctx context.Context, documentID, jobType, jobID string) (*database.ProcessResult, bool) {
	log := c.logger.WithFields(logrus.Fields{
		"documentId": documentID,
		"jobType":    jobType,
		"jobId":      jobID,
	})

	result, err := c.store.FindProcessResult(ctx, documentID, jobType)
	if err != nil {
		log.WithError(err).Warn("cache lookup failed, treating as miss")
		return nil, false
	}
	if result == nil {
		return nil, false
	}

	if err := c.store.CreateResultLink(ctx, jobID, result.ID); err != nil {
		log.WithError(err).Warn("failed to link cached result, treating as miss")
		return nil, false
	}
	log.WithField("resultId", result.ID).Info("reusing cached result")
	return result, true
}
