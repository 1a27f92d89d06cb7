package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yourusername/pdf-toolkit/internal/files"
	"github.com/yourusername/pdf-toolkit/internal/pagerange"
)

const extractedFilename = "extracted.pdf"

// executeExtract は保存済みのページ範囲式に従ってページを抜き出した
// PDFを生成します。範囲式は総ページ数に対して実行時に解釈されます。
func (s *Service) executeExtract(ctx context.Context, f files.File, progress ProgressReporter) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	pageCount := f.PageCount
	if pageCount == 0 {
		count, err := s.pdf.PageCount(f.SourcePath)
		if err != nil {
			return "", 0, newError(CodeEngineFailure, "ページ数の取得に失敗しました。", err)
		}
		pageCount = count
	}

	pages, err := pagerange.Parse(f.PageSelection, pageCount)
	if err != nil {
		if errors.Is(err, pagerange.ErrInvalidRange) {
			return "", 0, newError(CodeInvalidRange, "有効なページ範囲が指定されていません。", err)
		}
		return "", 0, err
	}

	reportProgress(progress, "process", 40)

	// レジストリは 0 始まり、エンジンは 1 始まり
	selection := make([]int, len(pages))
	for i, p := range pages {
		selection[i] = p + 1
	}

	ws := s.store.For(f.ID)
	outputPath := filepath.Join(ws.OutDir, extractedFilename)
	if err := s.pdf.CollectPages(f.SourcePath, outputPath, selection); err != nil {
		return "", 0, newError(CodeEngineFailure, "ページの抽出に失敗しました。", err)
	}

	reportProgress(progress, "write", 90)

	info, err := os.Stat(outputPath)
	if err != nil {
		return "", 0, fmt.Errorf("抽出後ファイルの確認に失敗しました: %w", err)
	}

	reportProgress(progress, "completed", 100)
	return outputPath, info.Size(), nil
}
