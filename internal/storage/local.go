// Package storage はジョブ単位の作業ディレクトリを管理するローカルストレージです。
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Workspace は1ジョブ分の作業領域です。in に入力、out に成果物を置きます。
type Workspace struct {
	JobID  string
	Dir    string
	InDir  string
	OutDir string
}

// Local はベースディレクトリ配下にジョブごとの作業領域を作るストアです。
type Local struct {
	baseDir string
}

// NewLocal は Local を作成し、ベースディレクトリを用意します。
func NewLocal(baseDir string) (*Local, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "pdf-toolkit")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
	}
	return &Local{baseDir: baseDir}, nil
}

// Create は新しいジョブIDで作業領域を作成します。
func (l *Local) Create() (Workspace, error) {
	return l.CreateWithID(uuid.NewString())
}

// CreateWithID は指定IDで作業領域を作成します。
func (l *Local) CreateWithID(jobID string) (Workspace, error) {
	ws := l.For(jobID)
	for _, dir := range []string{ws.InDir, ws.OutDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			_ = os.RemoveAll(ws.Dir)
			return Workspace{}, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
		}
	}
	return ws, nil
}

// For は既存ジョブIDの作業領域パスを返します。ディレクトリは作成しません。
func (l *Local) For(jobID string) Workspace {
	dir := filepath.Join(l.baseDir, jobID)
	return Workspace{
		JobID:  jobID,
		Dir:    dir,
		InDir:  filepath.Join(dir, "in"),
		OutDir: filepath.Join(dir, "out"),
	}
}

// Remove はジョブの作業領域を丸ごと削除します。
func (l *Local) Remove(jobID string) error {
	if jobID == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(l.baseDir, jobID))
}
