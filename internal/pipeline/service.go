// Package pipeline はアップロード済みファイルに対する変換処理の実行と
// 状態遷移を司ります。
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/yourusername/pdf-toolkit/internal/config"
	"github.com/yourusername/pdf-toolkit/internal/files"
	"github.com/yourusername/pdf-toolkit/internal/storage"
)

// Service は変換処理のオーケストレーターです。ファイル状態は registry、
// 実体は store の作業ディレクトリに保持します。
type Service struct {
	cfg    *config.Config
	reg    *files.Registry
	store  *storage.Local
	pdf    PDFEngine
	raster Rasterizer
	gen    GenerativeEngine
	logger *log.Logger
	now    func() time.Time
}

// NewService はサービスを作成します。logger が nil の場合は標準の
// ロガーを使用します。
func NewService(cfg *config.Config, store *storage.Local, pdf PDFEngine, raster Rasterizer, gen GenerativeEngine, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		cfg:    cfg,
		reg:    files.NewRegistry(),
		store:  store,
		pdf:    pdf,
		raster: raster,
		gen:    gen,
		logger: logger,
		now:    time.Now,
	}
}

// Registry はファイル状態レジストリを返します。
func (s *Service) Registry() *files.Registry {
	return s.reg
}

// AddUpload はアップロードされたファイルを受け付け、待機状態のジョブとして
// 登録します。PDFの場合はページ数を非同期に補います。
func (s *Service) AddUpload(ctx context.Context, fh *multipart.FileHeader) (files.File, error) {
	if fh == nil {
		return files.File{}, newError(CodeInvalidInput, "ファイルを選択してください。", nil)
	}
	if s.cfg.MaxFileSize > 0 && fh.Size > s.cfg.MaxFileSize {
		return files.File{}, newError(CodeLimitExceeded,
			fmt.Sprintf("ファイルサイズが上限 (%d バイト) を超えています。", s.cfg.MaxFileSize), nil)
	}
	if err := ctx.Err(); err != nil {
		return files.File{}, err
	}

	ws, err := s.store.Create()
	if err != nil {
		return files.File{}, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
	}

	name := sanitizeFilename(fh.Filename)
	dstPath := filepath.Join(ws.InDir, name)
	size, err := saveMultipartFile(fh, dstPath)
	if err != nil {
		_ = s.store.Remove(ws.JobID)
		return files.File{}, fmt.Errorf("ファイルの保存に失敗しました: %w", err)
	}

	mime := "application/octet-stream"
	if detected, derr := mimetype.DetectFile(dstPath); derr == nil {
		mime = detected.String()
	}

	record := files.File{
		ID:           ws.JobID,
		OriginalName: fh.Filename,
		MimeType:     mime,
		SourcePath:   dstPath,
		OriginalSize: size,
		Status:       files.StatusWaiting,
	}
	s.reg.Add(record)

	if strings.HasPrefix(mime, "application/pdf") {
		// ページ数は一覧表示の補助情報のため、応答をブロックしない
		go func(id, path string) {
			count, cerr := s.pdf.PageCount(path)
			if cerr != nil {
				s.logger.Printf("page count failed for %s: %v", id, cerr)
				return
			}
			s.reg.SetPageCount(id, count)
		}(ws.JobID, dstPath)
	}

	stored, _ := s.reg.Get(ws.JobID)
	return stored, nil
}

// RemoveFile はジョブを登録から外し、作業ディレクトリごと実体を解放します。
func (s *Service) RemoveFile(id string) bool {
	removed, ok := s.reg.Remove(id)
	if !ok {
		return false
	}
	if err := s.store.Remove(removed.ID); err != nil {
		s.logger.Printf("workspace cleanup failed for %s: %v", removed.ID, err)
	}
	return true
}

// ClearFiles は全ジョブを登録から外し、実体を解放します。
func (s *Service) ClearFiles() int {
	cleared := s.reg.Clear()
	for _, f := range cleared {
		if err := s.store.Remove(f.ID); err != nil {
			s.logger.Printf("workspace cleanup failed for %s: %v", f.ID, err)
		}
	}
	return len(cleared)
}

// SetPageSelection は抽出操作で使うページ範囲式を保存します。式の検証は
// 実行時に行うため、ここでは保存のみです。
func (s *Service) SetPageSelection(id, expr string) error {
	if !s.reg.SetPageSelection(id, expr) {
		return newError(CodeJobNotFound, "指定されたファイルが見つかりません。", nil)
	}
	return nil
}

// discardArtifact は、完了報告が受け付けられなかった成果物の実体を
// 片付けます。ジョブ削除と完了が競合した場合に呼ばれます。
func (s *Service) discardArtifact(jobID string) {
	if err := s.store.Remove(jobID); err != nil && !os.IsNotExist(err) {
		s.logger.Printf("orphan artifact cleanup failed for %s: %v", jobID, err)
	}
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "" || base == "." || base == ".." {
		return "upload.bin"
	}
	return base
}

func saveMultipartFile(fh *multipart.FileHeader, dstPath string) (int64, error) {
	src, err := fh.Open()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	return io.Copy(dst, src)
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return dst.Close()
}
