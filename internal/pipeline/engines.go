package pipeline

import (
	"context"

	"github.com/yourusername/pdf-toolkit/internal/genimage"
)

// PDFEngine はPDFの読み書きを担当する外部エンジンの契約です。
// ページ番号は 1 始まりで受け渡します。
type PDFEngine interface {
	PageCount(path string) (int, error)
	CollectPages(inPath, outPath string, pages []int) error
	AppendTo(outPath, inPath string) error
	ImagesToPDF(imagePaths []string, outPath string) error
	Optimize(inPath, outPath string) error
}

// RasterDocument は開かれた1つのPDF文書です。ページ番号は 0 始まりです。
type RasterDocument interface {
	PageCount() int
	RenderJPEG(page int, dpi float64, quality int) ([]byte, error)
	Close() error
}

// Rasterizer はPDFページを画像化するエンジンの契約です。
type Rasterizer interface {
	Open(path string) (RasterDocument, error)
}

// GenerativeEngine は生成 AI による画像補正エンジンの契約です。
// Ready が nil 以外を返す間は Generate を呼んではいけません。
type GenerativeEngine interface {
	Ready() error
	Generate(ctx context.Context, imageData []byte, mimeType, prompt string) (*genimage.Image, error)
}
