package invoke

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// CompletionHandler は前処理の完了通知を受け取ります。
type CompletionHandler interface {
	HandlePreprocessCompletion(ctx context.Context, done Completion) error
}

// Server は完了通知キューを消費します。
type Server struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler CompletionHandler
	logger  logrus.FieldLogger
}

// NewServer は Server を初期化します。
func NewServer(redisURL, queue string, handler CompletionHandler, logger logrus.FieldLogger) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("completion handler is nil")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				queue: 1,
			},
			Logger: logger,
		},
	)

	s := &Server{
		server:  server,
		mux:     asynq.NewServeMux(),
		handler: handler,
		logger:  logger,
	}
	s.mux.HandleFunc(TaskPreprocessDone, s.handleCompletion)
	return s, nil
}

// Start はバックグラウンドで消費を開始します。
func (s *Server) Start() error {
	if err := s.server.Start(s.mux); err != nil {
		return fmt.Errorf("failed to start completion consumer: %w", err)
	}
	return nil
}

// Shutdown は処理中のタスクを待ってから停止します。
func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) handleCompletion(ctx context.Context, task *asynq.Task) error {
	done, err := ParseCompletion(task)
	if err != nil {
		s.logger.WithError(err).Warn("dropping invalid completion")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return s.handler.HandlePreprocessCompletion(ctx, *done)
}
