// Package stream はRedis Pub/Sub上のマルチパートメッセージ送受信を提供します。
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyMessage は空のメッセージを受信した場合のエラーです。
var ErrEmptyMessage = errors.New("stream: empty message")

// EncodeFrames はマルチパートのフレームを1つのPub/Subメッセージに変換します。
func EncodeFrames(frames ...string) (string, error) {
	if len(frames) == 0 {
		return "", ErrEmptyMessage
	}
	body, err := json.Marshal(frames)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// DecodeFrames はPub/Subメッセージをフレーム列に戻します。
func DecodeFrames(payload string) ([]string, error) {
	if payload == "" {
		return nil, ErrEmptyMessage
	}
	var frames []string
	if err := json.Unmarshal([]byte(payload), &frames); err != nil {
		return nil, fmt.Errorf("stream: malformed multipart message: %w", err)
	}
	if len(frames) == 0 {
		return nil, ErrEmptyMessage
	}
	return frames, nil
}
