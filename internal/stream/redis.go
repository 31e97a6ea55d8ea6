package stream

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// FrameHandler は受信したフレーム列を処理します。ブロックしてはいけません。
type FrameHandler func(frames []string)

// Subscriber は受信チャネルを購読します。
type Subscriber struct {
	rdb     *redis.Client
	channel string
	logger  logrus.FieldLogger
}

// NewSubscriber は Subscriber を作成します。
func NewSubscriber(rdb *redis.Client, channel string, logger logrus.FieldLogger) *Subscriber {
	return &Subscriber{rdb: rdb, channel: channel, logger: logger}
}

// Run は ctx が終了するまでメッセージを受信し handle に渡します。
// Pub/Sub には ACK がないため、受信したメッセージはその場で消費済みとなります。
func (s *Subscriber) Run(ctx context.Context, handle FrameHandler) error {
	sub := s.rdb.Subscribe(ctx, s.channel)
	defer sub.Close()

	// 購読の確立を待つ
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", s.channel, err)
	}
	s.logger.WithField("channel", s.channel).Info("subscribed to job stream")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("subscription to %s closed", s.channel)
			}
			frames, err := DecodeFrames(msg.Payload)
			if err != nil {
				s.logger.WithError(err).Warn("dropping malformed message")
				continue
			}
			handle(frames)
		}
	}
}

// Publisher は応答チャネルへフレームを送信します。
type Publisher struct {
	rdb     *redis.Client
	channel string
}

// NewPublisher は Publisher を作成します。
func NewPublisher(rdb *redis.Client, channel string) *Publisher {
	return &Publisher{rdb: rdb, channel: channel}
}

// Publish はフレーム列を1メッセージとして送信します。
func (p *Publisher) Publish(ctx context.Context, frames ...string) error {
	payload, err := EncodeFrames(frames...)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.channel, err)
	}
	return nil
}
