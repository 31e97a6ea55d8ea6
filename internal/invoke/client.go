package invoke

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
)

// Client は前処理ファンクションの起動と状態通知の送信を担います。
type Client struct {
	client          *asynq.Client
	queue           string
	completionQueue string
}

// NewClient は Client を作成します。
func NewClient(redisURL, queue, completionQueue string) (*Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &Client{client: asynq.NewClient(opt), queue: queue, completionQueue: completionQueue}, nil
}

// InvokePreprocess は前処理を起動します。結果は待たず、完了は別経路で通知されます。
func (c *Client) InvokePreprocess(ctx context.Context, req PreprocessRequest) error {
	task, err := NewPreprocessTask(req)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("failed to invoke preprocess for job %s: %w", req.JobID, err)
	}
	return nil
}

// SendStatus は状態通知を送信します。
func (c *Client) SendStatus(ctx context.Context, n StatusNotification) error {
	task, err := NewStatusTask(n)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("failed to send status for job %s: %w", n.JobID, err)
	}
	return nil
}

// SendCompletion は完了通知を投入します。
func (c *Client) SendCompletion(ctx context.Context, done Completion) error {
	task, err := NewCompletionTask(done)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task, asynq.Queue(c.completionQueue), asynq.MaxRetry(1)); err != nil {
		return fmt.Errorf("failed to send completion for job %s: %w", done.JobID, err)
	}
	return nil
}

// Close はクライアントを閉じます。
func (c *Client) Close() error {
	return c.client.Close()
}
