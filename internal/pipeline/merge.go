package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yourusername/pdf-toolkit/internal/files"
)

const mergedFilename = "merged.pdf"

// runMerge は選択中の待機ジョブを表示順に1つのPDFへ畳み込みます。
// 各入力は取り込まれた時点で完了状態になり、結合結果は新しい完了済み
// ジョブとして一覧に加わります。対象が2件に満たない場合は何も変更せずに
// 中断します。
func (s *Service) runMerge(ctx context.Context, ids []string, reporter ProgressReporter) (files.File, error) {
	selected := s.reg.SnapshotWaiting(ids)
	if len(selected) < 2 {
		return files.File{}, newError(CodeInsufficientInputs, "結合には2つ以上のPDFが必要です。", nil)
	}
	for _, f := range selected {
		if f.MimeType != "application/pdf" {
			return files.File{}, newError(CodeInvalidInput,
				fmt.Sprintf("%s はPDFではないため結合できません。", f.OriginalName), nil)
		}
	}

	ws, err := s.store.Create()
	if err != nil {
		return files.File{}, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
	}
	outputPath := filepath.Join(ws.OutDir, mergedFilename)

	for i, f := range selected {
		if err := ctx.Err(); err != nil {
			_ = s.store.Remove(ws.JobID)
			return files.File{}, err
		}

		s.reg.SetProcessing(f.ID)
		s.reg.SetProgress(f.ID, 50)
		reportProgress(reporter, "merge", (100*i)/len(selected))

		if err := s.pdf.AppendTo(outputPath, f.SourcePath); err != nil {
			apiErr := newError(CodeEngineFailure,
				fmt.Sprintf("%s の結合に失敗しました。", f.OriginalName), err)
			s.reg.SetError(f.ID, apiErr.Code, apiErr.Message)
			_ = s.store.Remove(ws.JobID)
			return files.File{}, apiErr
		}

		// 取り込み済みの入力は自分自身を成果物として完了扱いにする
		s.reg.SetDone(f.ID, f.SourcePath, f.OriginalSize)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		_ = s.store.Remove(ws.JobID)
		return files.File{}, fmt.Errorf("結合後ファイルの確認に失敗しました: %w", err)
	}
	pageCount, err := s.pdf.PageCount(outputPath)
	if err != nil {
		s.logger.Printf("page count failed for merged output %s: %v", ws.JobID, err)
	}

	merged := files.File{
		ID:           ws.JobID,
		OriginalName: fmt.Sprintf("merged-%s.pdf", s.now().Format("20060102-150405")),
		MimeType:     "application/pdf",
		SourcePath:   outputPath,
		OriginalSize: info.Size(),
		Status:       files.StatusDone,
		Progress:     100,
		DerivedSize:  info.Size(),
		ArtifactPath: outputPath,
		PageCount:    pageCount,
	}
	s.reg.Add(merged)
	reportProgress(reporter, "completed", 100)

	stored, _ := s.reg.Get(ws.JobID)
	return stored, nil
}
