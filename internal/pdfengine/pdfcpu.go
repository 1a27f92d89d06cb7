// Package pdfengine は pdfcpu を利用したPDF操作エンジンです。
package pdfengine

import (
	"fmt"
	"strconv"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Engine は pdfcpu のファイルベース API を薄く包んだ構造体です。
// スキャン由来の崩れたPDFも受け付けられるよう、検証は緩和モードで行います。
type Engine struct {
	conf *model.Configuration
}

// New はエンジンを作成します。
func New() *Engine {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Engine{conf: conf}
}

// PageCount はPDFの総ページ数を返します。
func (e *Engine) PageCount(path string) (int, error) {
	count, err := pdfapi.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("ページ数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// CollectPages は 1 始まりのページ番号一覧を指定順で抜き出した
// 新しいPDFを outPath に書き出します。
func (e *Engine) CollectPages(inPath, outPath string, pages []int) error {
	selection := make([]string, 0, len(pages))
	for _, p := range pages {
		selection = append(selection, strconv.Itoa(p))
	}
	if err := pdfapi.CollectFile(inPath, outPath, selection, e.conf); err != nil {
		return fmt.Errorf("ページの抽出に失敗しました: %w", err)
	}
	return nil
}

// AppendTo は inPath のPDFを outPath の末尾に連結します。outPath が
// 存在しない場合は新規作成されます。
func (e *Engine) AppendTo(outPath, inPath string) error {
	if err := pdfapi.MergeAppendFile([]string{inPath}, outPath, false, e.conf); err != nil {
		return fmt.Errorf("PDFの結合に失敗しました: %w", err)
	}
	return nil
}

// ImagesToPDF は画像ファイル群を1ページ1画像のPDFにまとめます。
func (e *Engine) ImagesToPDF(imagePaths []string, outPath string) error {
	if err := pdfapi.ImportImagesFile(imagePaths, outPath, nil, e.conf); err != nil {
		return fmt.Errorf("画像からのPDF生成に失敗しました: %w", err)
	}
	return nil
}

// Optimize は冗長なオブジェクトの除去によるロスレス圧縮を行います。
func (e *Engine) Optimize(inPath, outPath string) error {
	if err := pdfapi.OptimizeFile(inPath, outPath, e.conf); err != nil {
		return fmt.Errorf("PDFの最適化に失敗しました: %w", err)
	}
	return nil
}
