// Package permission はジョブ実行前のドキュメント権限チェックを提供します。
package permission

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnauthorized は権限を確認できなかった場合のエラーです。
var ErrUnauthorized = errors.New("permission denied")

// AccessLookup はユーザーのアクセスレベルを返すメタデータサービスの操作です。
type AccessLookup interface {
	GetAccessLevel(ctx context.Context, documentID, userID string) (string, error)
}

// Validator はドキュメント単位の権限を検証します。
type Validator struct {
	lookup AccessLookup
}

// NewValidator は Validator を作成します。
func NewValidator(lookup AccessLookup) *Validator {
	return &Validator{lookup: lookup}
}

// ValidateDocumentPermission は userID が documentID に何らかのアクセス権を持つことを確認します。
// 読み取り専用でも処理は許可されます。
func (v *Validator) ValidateDocumentPermission(ctx context.Context, documentID, userID string) error {
	if documentID == "" {
		return fmt.Errorf("%w: documentId is required", ErrUnauthorized)
	}
	if userID == "" {
		return fmt.Errorf("%w: no user for document %s", ErrUnauthorized, documentID)
	}
	level, err := v.lookup.GetAccessLevel(ctx, documentID, userID)
	if err != nil {
		return fmt.Errorf("%w: document %s user %s: %v", ErrUnauthorized, documentID, userID, err)
	}
	if level == "" {
		return fmt.Errorf("%w: document %s user %s has no access", ErrUnauthorized, documentID, userID)
	}
	return nil
}
