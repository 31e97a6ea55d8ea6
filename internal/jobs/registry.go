package jobs

import (
	"context"
	"encoding/json"
	"fmt"
)

// route は1ジョブ種別分のペイロード解析とハンドラーの組です。
type route struct {
	parse  func(raw json.RawMessage) (any, error)
	handle func(ctx context.Context, job *Job, payload any) (*Result, error)
}

// bind は型付きの解析関数とハンドラーから route を作ります。
func bind[P any](parse func(json.RawMessage) (P, error), handle func(context.Context, *Job, P) (*Result, error)) route {
	return route{
		parse: func(raw json.RawMessage) (any, error) {
			return parse(raw)
		},
		handle: func(ctx context.Context, job *Job, payload any) (*Result, error) {
			p, ok := payload.(P)
			if !ok {
				return nil, fmt.Errorf("payload type %T does not match handler", payload)
			}
			return handle(ctx, job, p)
		},
	}
}

func ignorePayload(json.RawMessage) (PingPayload, error) {
	return PingPayload{}, nil
}

func (d *Dispatcher) buildRoutes() map[JobType]route {
	return map[JobType]route{
		JobPing:              bind(ignorePayload, d.handlePing),
		JobPreprocess:        bind(parsePayload[PreprocessPayload], d.handlePreprocess),
		JobExport:            bind(parsePayload[ExportPayload], d.handleExport),
		JobPasswordEncrypt:   bind(parsePayload[EncryptPayload], d.handlePasswordEncrypt),
		JobDocxSimpleCompare: bind(parsePayload[ComparePayload], d.handleSimpleCompare),
		JobDocxConsolidate:   bind(parsePayload[ConsolidatePayload], d.handleConsolidate),
		JobDocxUpload:        bind(parsePayload[DocxUploadPayload], d.handleDocxUpload),
		JobCreateTempFile:    bind(parsePayload[TempFilePayload], d.handleCreateTempFile),
	}
}

// checkRoutes は全ジョブ種別にハンドラーと応答スキーマが登録されていることを確認します。
func checkRoutes(routes map[JobType]route) error {
	for _, jt := range AllJobTypes {
		if _, ok := routes[jt]; !ok {
			return fmt.Errorf("no handler registered for %s", jt)
		}
		if _, ok := responseSchemas[jt]; !ok {
			return fmt.Errorf("no response schema registered for %s", jt)
		}
	}
	if len(routes) != len(AllJobTypes) {
		return fmt.Errorf("handlers registered for unknown job types")
	}
	return nil
}
