package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yourusername/pdf-toolkit/internal/files"
)

const compressedFilename = "compressed.pdf"

// executeCompress はPDF圧縮を実行し、成果物のパスとサイズを返します。
// light はロスレス最適化、それ以外はページをJPEG化して再構成します。
// どのレベルでも、出力が元より小さくならない場合は元のバイト列を
// そのまま成果物として採用します。
func (s *Service) executeCompress(ctx context.Context, f files.File, level CompressionLevel, progress ProgressReporter) (string, int64, error) {
	level, err := normalizeLevel(level)
	if err != nil {
		return "", 0, err
	}

	ws := s.store.For(f.ID)
	outputPath := filepath.Join(ws.OutDir, compressedFilename)

	if level == CompressionLight {
		reportProgress(progress, "process", 40)
		if err := s.pdf.Optimize(f.SourcePath, outputPath); err != nil {
			return "", 0, newError(CodeEngineFailure, "PDFの最適化に失敗しました。", err)
		}
	} else {
		if err := s.rasterizeToPDF(ctx, f.SourcePath, outputPath, ws.OutDir, compressionSettings[level], progress); err != nil {
			return "", 0, err
		}
	}

	reportProgress(progress, "write", 95)

	info, err := os.Stat(outputPath)
	if err != nil {
		return "", 0, fmt.Errorf("圧縮後ファイルの確認に失敗しました: %w", err)
	}
	size := info.Size()

	// 圧縮が逆効果だった場合は元ファイルを成果物にする
	if size >= f.OriginalSize {
		if err := copyFile(f.SourcePath, outputPath); err != nil {
			return "", 0, fmt.Errorf("元ファイルの複製に失敗しました: %w", err)
		}
		size = f.OriginalSize
	}

	reportProgress(progress, "completed", 100)
	return outputPath, size, nil
}

// rasterizeToPDF は全ページをJPEG画像にレンダリングし、1ページ1画像の
// PDFとして組み直します。中間画像は出力後に削除します。
func (s *Service) rasterizeToPDF(ctx context.Context, srcPath, outputPath, workDir string, setting compressionSetting, progress ProgressReporter) error {
	doc, err := s.raster.Open(srcPath)
	if err != nil {
		return newError(CodeEngineFailure, "PDFを開けませんでした。", err)
	}
	defer doc.Close()

	total := doc.PageCount()
	if total == 0 {
		return newError(CodeEngineFailure, "ページが存在しないPDFです。", nil)
	}
	if s.cfg.MaxPages > 0 && total > s.cfg.MaxPages {
		return newError(CodeLimitExceeded,
			fmt.Sprintf("ページ数が上限 (%d ページ) を超えています。", s.cfg.MaxPages), nil)
	}

	pagePaths := make([]string, 0, total)
	defer func() {
		for _, p := range pagePaths {
			_ = os.Remove(p)
		}
	}()

	reportProgress(progress, "render", 5)
	for i := 0; i < total; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, rerr := doc.RenderJPEG(i, setting.dpi, setting.quality)
		if rerr != nil {
			return newError(CodeEngineFailure, fmt.Sprintf("ページ %d の画像化に失敗しました。", i+1), rerr)
		}
		pagePath := filepath.Join(workDir, fmt.Sprintf("page-%04d.jpg", i+1))
		if werr := os.WriteFile(pagePath, data, 0o640); werr != nil {
			return fmt.Errorf("中間画像の保存に失敗しました: %w", werr)
		}
		pagePaths = append(pagePaths, pagePath)
		reportProgress(progress, "render", 5+(80*(i+1))/total)
	}

	reportProgress(progress, "assemble", 90)
	if err := s.pdf.ImagesToPDF(pagePaths, outputPath); err != nil {
		return newError(CodeEngineFailure, "圧縮後PDFの生成に失敗しました。", err)
	}
	return nil
}
