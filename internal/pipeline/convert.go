package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yourusername/pdf-toolkit/internal/files"
)

const convertedFilename = "converted.pdf"

// runConvert は選択中の待機ジョブのうち JPEG / PNG 画像を表示順に
// 1ページ1画像のPDFへまとめます。対応していない形式のジョブは状態を
// 変えずに読み飛ばします。変換結果は新しい完了済みジョブになります。
func (s *Service) runConvert(ctx context.Context, ids []string, reporter ProgressReporter) (files.File, error) {
	selected := s.reg.SnapshotWaiting(ids)

	accepted := make([]files.File, 0, len(selected))
	for _, f := range selected {
		switch f.MimeType {
		case "image/jpeg", "image/png":
			accepted = append(accepted, f)
		default:
			// PDFやその他の形式は対象外。待機状態のまま残す
			s.logger.Printf("convert skipped %s (%s)", f.OriginalName, f.MimeType)
		}
	}
	if len(accepted) == 0 {
		return files.File{}, newError(CodeInsufficientInputs, "変換できる画像がありません。", nil)
	}
	if err := ctx.Err(); err != nil {
		return files.File{}, err
	}

	ws, err := s.store.Create()
	if err != nil {
		return files.File{}, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
	}
	outputPath := filepath.Join(ws.OutDir, convertedFilename)

	imagePaths := make([]string, 0, len(accepted))
	for i, f := range accepted {
		s.reg.SetProcessing(f.ID)
		s.reg.SetProgress(f.ID, 50)
		imagePaths = append(imagePaths, f.SourcePath)
		reportProgress(reporter, "collect", (50*(i+1))/len(accepted))
	}

	if err := s.pdf.ImagesToPDF(imagePaths, outputPath); err != nil {
		apiErr := newError(CodeEngineFailure, "画像からのPDF生成に失敗しました。", err)
		for _, f := range accepted {
			s.reg.SetError(f.ID, apiErr.Code, apiErr.Message)
		}
		_ = s.store.Remove(ws.JobID)
		return files.File{}, apiErr
	}

	for _, f := range accepted {
		// 取り込み済みの入力は自分自身を成果物として完了扱いにする
		s.reg.SetDone(f.ID, f.SourcePath, f.OriginalSize)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		_ = s.store.Remove(ws.JobID)
		return files.File{}, fmt.Errorf("変換後ファイルの確認に失敗しました: %w", err)
	}

	converted := files.File{
		ID:           ws.JobID,
		OriginalName: fmt.Sprintf("converted-%s.pdf", s.now().Format("20060102-150405")),
		MimeType:     "application/pdf",
		SourcePath:   outputPath,
		OriginalSize: info.Size(),
		Status:       files.StatusDone,
		Progress:     100,
		DerivedSize:  info.Size(),
		ArtifactPath: outputPath,
		PageCount:    len(accepted),
	}
	s.reg.Add(converted)
	reportProgress(reporter, "completed", 100)

	stored, _ := s.reg.Get(ws.JobID)
	return stored, nil
}
