package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/paper-forge-worker/internal/assembler"
	"github.com/yourusername/paper-forge-worker/internal/auth"
	"github.com/yourusername/paper-forge-worker/internal/cache"
	"github.com/yourusername/paper-forge-worker/internal/config"
	"github.com/yourusername/paper-forge-worker/internal/convert"
	"github.com/yourusername/paper-forge-worker/internal/database"
	"github.com/yourusername/paper-forge-worker/internal/docmeta"
	"github.com/yourusername/paper-forge-worker/internal/invoke"
	"github.com/yourusername/paper-forge-worker/internal/jobs"
	"github.com/yourusername/paper-forge-worker/internal/permission"
	"github.com/yourusername/paper-forge-worker/internal/storage"
	"github.com/yourusername/paper-forge-worker/internal/stream"
)

// memoryEndpoint を MINIO_ENDPOINT に指定するとプロセス内ストアを使います。
const memoryEndpoint = "memory"

const shutdownTimeout = 30 * time.Second

// worker はプロセス起動時に一度だけ構築される実行単位です。
type worker struct {
	logger *logrus.Logger

	rdb         *redis.Client
	db          *database.DB
	invoker     *invoke.Client
	completions *invoke.Server
	subscriber  *stream.Subscriber
	dispatcher  *jobs.Dispatcher
	http        *http.Server
}

func buildWorker(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*worker, error) {
	w := &worker{logger: logger}
	built := false
	defer func() {
		if !built {
			w.close()
		}
	}()

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	w.rdb = redis.NewClient(opt)
	if err := w.rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	w.db, err = database.Open(ctx, database.Config{Driver: cfg.DBDriver, DSN: cfg.DBDSN, MaxPool: cfg.DBMaxPool})
	if err != nil {
		return nil, err
	}

	w.invoker, err = invoke.NewClient(cfg.QueueRedisURL, cfg.InvokeQueue, cfg.CompletionQueue)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	meta := docmeta.NewClient(cfg.DocMetaURL, timeout)
	converter := convert.NewClient(cfg.PdfServiceURL, cfg.DocxServiceURL, timeout)
	statuses := jobs.NewStore(w.rdb, time.Duration(cfg.JobExpireMinutes)*time.Minute)

	w.dispatcher, err = jobs.NewDispatcher(jobs.Deps{
		Meta:            meta,
		Store:           store,
		Assembler:       assembler.New(meta, store, converter, logger),
		Converter:       converter,
		Permissions:     permission.NewValidator(meta),
		Cache:           cache.NewResultCache(w.db, logger),
		Results:         w.db,
		Invoker:         w.invoker,
		Responses:       jobs.NewResponsePublisher(stream.NewPublisher(w.rdb, cfg.ResponseChannel), w.invoker, logger),
		Tracker:         statuses,
		Logger:          logger,
		PreprocessMode:  cfg.PreprocessMode,
		SignedURLExpiry: time.Duration(cfg.SignedURLExpireMinutes) * time.Minute,
	})
	if err != nil {
		return nil, err
	}

	// 他の計装も同じ ManualReader に集める
	otel.SetMeterProvider(w.dispatcher.Metrics().MeterProvider())

	if cfg.PreprocessMode == config.PreprocessModeInvoke {
		w.completions, err = invoke.NewServer(cfg.QueueRedisURL, cfg.CompletionQueue, w.dispatcher, logger)
		if err != nil {
			return nil, err
		}
	}

	w.subscriber = stream.NewSubscriber(w.rdb, cfg.JobChannel, logger)

	deps := serverDeps{
		statuses: statuses,
		results:  w.db,
		metrics:  w.dispatcher.Metrics(),
		guard:    auth.NewTokenGuard(cfg.AdminTokenHash),
		logger:   logger,
	}
	// プロセス内ストアの署名付きURLはこのサーバーが配信する
	if mem, ok := store.(*storage.MemoryStore); ok {
		deps.files = mem
	}

	gin.SetMode(cfg.GinMode)
	w.http = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	built = true
	return w, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (storage.ContentStore, error) {
	if cfg.MinioEndpoint == memoryEndpoint {
		logger.Warn("using in-memory content store; contents are lost on exit")
		return storage.NewMemoryStore("http://localhost:" + cfg.Port + "/files"), nil
	}
	return storage.NewMinioStore(ctx, storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioUseSSL,
		Bucket:    cfg.ContentBucket,
	}, logger)
}

// run は ctx が終了するまでジョブを受信します。
// 終了時は受信を止めてから実行中のジョブを待ち、その後に接続を閉じます。
func (w *worker) run(ctx context.Context) error {
	if w.completions != nil {
		if err := w.completions.Start(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.logger.WithField("addr", w.http.Addr).Info("starting health server")
		if err := w.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := w.subscriber.Run(gctx, w.dispatcher.HandleFrames)
		if errors.Is(err, context.Canceled) {
			err = nil
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := w.http.Shutdown(shutdownCtx); shutdownErr != nil {
			w.logger.WithError(shutdownErr).Warn("failed to stop health server")
		}
		return err
	})
	err := g.Wait()

	w.logger.Info("waiting for in-flight jobs")
	w.dispatcher.Wait()
	if w.completions != nil {
		w.completions.Shutdown()
	}
	w.logger.Info("worker stopped")
	return err
}

func (w *worker) close() {
	if w.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.dispatcher.Metrics().Shutdown(ctx); err != nil {
			w.logger.WithError(err).Warn("failed to stop metrics")
		}
	}
	if w.invoker != nil {
		if err := w.invoker.Close(); err != nil {
			w.logger.WithError(err).Warn("failed to close invoke client")
		}
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			w.logger.WithError(err).Warn("failed to close database")
		}
	}
	if w.rdb != nil {
		if err := w.rdb.Close(); err != nil {
			w.logger.WithError(err).Warn("failed to close redis")
		}
	}
}
