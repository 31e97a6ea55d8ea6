// Package jobs はジョブストリームから届いたジョブの振り分けと処理を担います。
package jobs

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobType はジョブの種別を表します。
type JobType string

const (
	JobPing              JobType = "ping"
	JobPreprocess        JobType = "pdf_preprocess"
	JobExport            JobType = "pdf_export"
	JobPasswordEncrypt   JobType = "pdf_password_encrypt"
	JobDocxSimpleCompare JobType = "docx_simple_compare"
	JobDocxConsolidate   JobType = "docx_consolidate"
	JobDocxUpload        JobType = "docx_upload"
	JobCreateTempFile    JobType = "create_temp_file"
)

// AllJobTypes は受け付けるすべてのジョブ種別です。
var AllJobTypes = []JobType{
	JobPing,
	JobPreprocess,
	JobExport,
	JobPasswordEncrypt,
	JobDocxSimpleCompare,
	JobDocxConsolidate,
	JobDocxUpload,
	JobCreateTempFile,
}

// Job は受信チャネルから届いた1件のジョブです。
type Job struct {
	Event  JobType
	JobID  string
	UserID string
	Email  string
	Data   json.RawMessage
}

const inboundFrameCount = 5

// ParseFrames は [event, jobId, userId, email, data] を Job に変換します。
// userId と email の空文字は未指定として扱います。
func ParseFrames(frames []string) (*Job, error) {
	if len(frames) != inboundFrameCount {
		return nil, fmt.Errorf("expected %d frames, got %d", inboundFrameCount, len(frames))
	}
	if frames[0] == "" || frames[1] == "" {
		return nil, fmt.Errorf("event and jobId are required")
	}
	data := json.RawMessage(frames[4])
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return &Job{
		Event:  JobType(frames[0]),
		JobID:  frames[1],
		UserID: frames[2],
		Email:  frames[3],
		Data:   data,
	}, nil
}

// JobResponse は応答チャネルへ送信する結果です。
type JobResponse struct {
	JobID   string  `json:"jobId"`
	JobType JobType `json:"jobType"`
	Data    any     `json:"data,omitempty"`
	Error   bool    `json:"error,omitempty"`
	Message string  `json:"message,omitempty"`
}

// Result はハンドラーの処理結果です。
type Result struct {
	Data   any
	Cached bool
	// Deferred が真の場合、完了は別経路で通知されるためここでは応答しない
	Deferred bool
}

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "done"
	StatusFailed    Status = "error"
)

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はジョブの現在状態を表します。
type Record struct {
	JobID     string     `json:"jobId"`
	JobType   JobType    `json:"jobType"`
	UserID    string     `json:"userId,omitempty"`
	Status    Status     `json:"status"`
	Data      any        `json:"data,omitempty"`
	Cached    bool       `json:"cached,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
}
