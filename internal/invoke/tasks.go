// Package invoke は前処理の非同期呼び出しと状態通知を Asynq 経由で扱います。
package invoke

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	TaskPreprocess     = "pdf:preprocess"
	TaskPreprocessDone = "pdf:preprocess:done"
	TaskStatus         = "ws:status"
)

// PreprocessRequest は前処理ファンクションへの入力です。
type PreprocessRequest struct {
	JobID             string `json:"jobId"`
	DocumentID        string `json:"documentId"`
	DocumentVersionID string `json:"documentVersionId,omitempty"`
	DocumentKey       string `json:"documentKey"`
	Owner             string `json:"owner,omitempty"`
}

// StatusData は状態通知の本文です。
type StatusData struct {
	Message string `json:"message"`
}

// StatusNotification は WebSocket 側へ中継される軽量な状態通知です。
type StatusNotification struct {
	JobID  string     `json:"jobId"`
	Status string     `json:"status"`
	Data   StatusData `json:"data"`
}

// Completion は前処理ファンクションから返される完了通知です。
type Completion struct {
	JobID      string `json:"jobId"`
	DocumentID string `json:"documentId"`
	JobType    string `json:"jobType"`
	ResultKey  string `json:"resultKey,omitempty"`
	Error      bool   `json:"error,omitempty"`
	Message    string `json:"message,omitempty"`
}

// NewPreprocessTask は前処理タスクを作成します。
func NewPreprocessTask(req PreprocessRequest) (*asynq.Task, error) {
	if req.JobID == "" || req.DocumentID == "" {
		return nil, fmt.Errorf("jobId and documentId are required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPreprocess, body), nil
}

// NewStatusTask は状態通知タスクを作成します。
func NewStatusTask(n StatusNotification) (*asynq.Task, error) {
	if n.JobID == "" {
		return nil, fmt.Errorf("jobId is required")
	}
	body, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatus, body), nil
}

// NewCompletionTask は完了通知タスクを作成します。前処理ファンクション側と submit コマンドで使います。
func NewCompletionTask(c Completion) (*asynq.Task, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPreprocessDone, body), nil
}

// ParseCompletion は完了通知タスクを読み取ります。
func ParseCompletion(task *asynq.Task) (*Completion, error) {
	var c Completion
	if err := json.Unmarshal(task.Payload(), &c); err != nil {
		return nil, fmt.Errorf("invalid completion payload: %w", err)
	}
	if c.JobID == "" || c.DocumentID == "" {
		return nil, fmt.Errorf("completion is missing jobId or documentId")
	}
	return &c, nil
}
