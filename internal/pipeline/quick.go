package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/pdf-toolkit/internal/files"
	"github.com/yourusername/pdf-toolkit/internal/pagerange"
)

// QuickExtract はジョブ状態を変更せずにページ範囲を抜き出した一時PDFを
// 作ります。完了済みの結合結果など、待機状態以外のジョブにも使えます。
func (s *Service) QuickExtract(ctx context.Context, jobID, rangeExpr string) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	f, ok := s.reg.Get(jobID)
	if !ok {
		return nil, newError(CodeJobNotFound, "指定されたファイルが見つかりません。", nil)
	}
	if f.MimeType != "application/pdf" {
		return nil, newError(CodeInvalidInput, "ページ抽出はPDFに対してのみ実行できます。", nil)
	}

	pageCount, err := s.pdf.PageCount(f.SourcePath)
	if err != nil {
		return nil, newError(CodeEngineFailure, "ページ数の取得に失敗しました。", err)
	}
	pages, err := pagerange.Parse(rangeExpr, pageCount)
	if err != nil {
		if errors.Is(err, pagerange.ErrInvalidRange) {
			return nil, newError(CodeInvalidRange, "有効なページ範囲が指定されていません。", err)
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ws, err := s.store.Create()
	if err != nil {
		return nil, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
	}

	selection := make([]int, len(pages))
	for i, p := range pages {
		selection[i] = p + 1
	}
	outputPath := filepath.Join(ws.OutDir, extractedFilename)
	if err := s.pdf.CollectPages(f.SourcePath, outputPath, selection); err != nil {
		_ = s.store.Remove(ws.JobID)
		return nil, newError(CodeEngineFailure, "ページの抽出に失敗しました。", err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		_ = s.store.Remove(ws.JobID)
		return nil, fmt.Errorf("抽出後ファイルの確認に失敗しました: %w", err)
	}

	base := strings.TrimSuffix(f.OriginalName, filepath.Ext(f.OriginalName))
	return &Result{
		JobID:          ws.JobID,
		OutputPath:     outputPath,
		OutputFilename: fmt.Sprintf("extracted_%s.pdf", base),
		OutputSize:     info.Size(),
		ResultKind:     ResultKindPDF,
		store:          s.store,
	}, nil
}

// ArchiveDone は完了済みジョブの成果物を1つのZIPにまとめます。
// 対象が1件もない場合はエラーになります。
func (s *Service) ArchiveDone(ctx context.Context) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var targets []files.File
	for _, f := range s.reg.List() {
		if f.Status == files.StatusDone && f.ArtifactPath != "" {
			targets = append(targets, f)
		}
	}
	if len(targets) == 0 {
		return nil, newError(CodeInsufficientInputs, "ダウンロードできる完了済みファイルがありません。", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ws, err := s.store.Create()
	if err != nil {
		return nil, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
	}
	zipPath := filepath.Join(ws.OutDir, "files.zip")
	if err := writeZip(zipPath, targets); err != nil {
		_ = s.store.Remove(ws.JobID)
		return nil, fmt.Errorf("ZIPの作成に失敗しました: %w", err)
	}

	info, err := os.Stat(zipPath)
	if err != nil {
		_ = s.store.Remove(ws.JobID)
		return nil, fmt.Errorf("ZIPの確認に失敗しました: %w", err)
	}

	return &Result{
		JobID:          ws.JobID,
		OutputPath:     zipPath,
		OutputFilename: fmt.Sprintf("files-%s.zip", s.now().Format("20060102-150405")),
		OutputSize:     info.Size(),
		ResultKind:     ResultKindZIP,
		store:          s.store,
	}, nil
}
