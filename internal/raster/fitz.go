// Package raster は MuPDF (go-fitz) によるPDFページのラスタライズを提供します。
package raster

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
)

// Document は開かれた1つのPDF文書です。利用後は必ず Close を呼びます。
type Document struct {
	doc *fitz.Document
}

// Renderer は go-fitz ベースのラスタライザーです。
type Renderer struct{}

// New はラスタライザーを作成します。
func New() *Renderer {
	return &Renderer{}
}

// Open はPDFファイルを開きます。
func (r *Renderer) Open(path string) (*Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("PDFを開けませんでした: %w", err)
	}
	return &Document{doc: doc}, nil
}

// PageCount は総ページ数を返します。
func (d *Document) PageCount() int {
	return d.doc.NumPage()
}

// RenderJPEG は 0 始まりのページを指定DPIでレンダリングし、JPEG に
// エンコードしたバイト列を返します。
func (d *Document) RenderJPEG(page int, dpi float64, quality int) ([]byte, error) {
	img, err := d.doc.ImageDPI(page, dpi)
	if err != nil {
		return nil, fmt.Errorf("ページ %d のレンダリングに失敗しました: %w", page+1, err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("JPEGへの変換に失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}

// Close は文書を閉じます。
func (d *Document) Close() error {
	return d.doc.Close()
}
