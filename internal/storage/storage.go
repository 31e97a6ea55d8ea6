// Package storage はコンテンツアドレス型ストレージの抽象化レイヤーを提供します。
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound はキーに対応するオブジェクトが存在しない場合のエラーです。
var ErrNotFound = errors.New("storage: object not found")

// ContentStore はジョブが利用するストレージ操作です。
type ContentStore interface {
	// Get はオブジェクトを取得します。存在しない場合は ErrNotFound を返します。
	Get(ctx context.Context, key string) ([]byte, error)
	// Put はオブジェクトを保存します。contentType が空なら内容から推定します。
	Put(ctx context.Context, key string, content []byte, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	// SignedURL は短期間有効な取得用URLを返します。
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}
