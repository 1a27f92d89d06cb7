package pipeline

import (
	"sync"

	"github.com/yourusername/pdf-toolkit/internal/storage"
)

// ResultKind は生成される成果物の種別を表します。
type ResultKind string

const (
	ResultKindPDF ResultKind = "pdf"
	ResultKindZIP ResultKind = "zip"
)

// Result はジョブ一覧に残らない一時成果物です。ダウンロード完了後に
// Cleanup で作業ディレクトリごと破棄します。
type Result struct {
	JobID          string     `json:"jobId"`
	OutputPath     string     `json:"outputPath"`
	OutputFilename string     `json:"outputFilename"`
	OutputSize     int64      `json:"outputSize"`
	ResultKind     ResultKind `json:"resultKind"`

	store       *storage.Local
	cleanupOnce sync.Once
	cleanupErr  error
}

// Cleanup は作業ディレクトリを削除します。複数回呼んでも安全です。
func (r *Result) Cleanup() error {
	if r == nil {
		return nil
	}
	r.cleanupOnce.Do(func() {
		if r.store != nil {
			r.cleanupErr = r.store.Remove(r.JobID)
		}
	})
	return r.cleanupErr
}
