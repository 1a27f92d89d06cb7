package pipeline

import (
	"fmt"
	"strings"

	"github.com/yourusername/pdf-toolkit/internal/files"
	"github.com/yourusername/pdf-toolkit/internal/users"
)

// Operation はファイルに対して実行できる処理の種別です。
type Operation string

const (
	OperationCompress Operation = "compress"
	OperationMerge    Operation = "merge"
	OperationConvert  Operation = "imageToPdf"
	OperationExtract  Operation = "extract"
	OperationEnhance  Operation = "enhanceImage"
)

// NormalizeOperation は入力文字列を Operation に変換します。
func NormalizeOperation(raw string) (Operation, error) {
	switch Operation(strings.TrimSpace(raw)) {
	case OperationCompress:
		return OperationCompress, nil
	case OperationMerge:
		return OperationMerge, nil
	case OperationConvert:
		return OperationConvert, nil
	case OperationExtract:
		return OperationExtract, nil
	case OperationEnhance:
		return OperationEnhance, nil
	default:
		return "", newError(CodeInvalidInput, fmt.Sprintf("未対応の操作です (received: %s)", raw), nil)
	}
}

// capabilityFor は各操作の実行に必要な権限フラグを返します。
func capabilityFor(op Operation) users.Capability {
	switch op {
	case OperationCompress:
		return users.CapabilityCompressBatch
	case OperationMerge:
		return users.CapabilityMerge
	case OperationConvert:
		return users.CapabilityConvertToPdf
	case OperationExtract:
		return users.CapabilityExtract
	case OperationEnhance:
		return users.CapabilityEnhanceImage
	default:
		return ""
	}
}

// CompressionLevel は圧縮の強さです。
type CompressionLevel string

const (
	CompressionLight       CompressionLevel = "light"
	CompressionRecommended CompressionLevel = "recommended"
	CompressionHigh        CompressionLevel = "high"
	CompressionExtreme     CompressionLevel = "extreme"
)

// compressionSetting はラスタライズ方式のレベル別パラメータです。
// light のみロスレス最適化で、この表には載りません。
type compressionSetting struct {
	quality int
	dpi     float64
}

var compressionSettings = map[CompressionLevel]compressionSetting{
	CompressionRecommended: {quality: 70, dpi: 120},
	CompressionHigh:        {quality: 60, dpi: 96},
	CompressionExtreme:     {quality: 40, dpi: 72},
}

func normalizeLevel(l CompressionLevel) (CompressionLevel, error) {
	switch CompressionLevel(strings.ToLower(string(l))) {
	case "", CompressionRecommended:
		return CompressionRecommended, nil
	case CompressionLight:
		return CompressionLight, nil
	case CompressionHigh:
		return CompressionHigh, nil
	case CompressionExtreme:
		return CompressionExtreme, nil
	default:
		return "", newError(CodeInvalidInput, fmt.Sprintf("levelには light / recommended / high / extreme を指定してください (received: %s)", l), nil)
	}
}

// Params は操作ごとの追加パラメータです。
type Params struct {
	Level  CompressionLevel `json:"level,omitempty"`
	Prompt string           `json:"prompt,omitempty"`
}

// BatchSummary は一括実行の集計結果です。
type BatchSummary struct {
	AttemptedCount     int      `json:"attemptedCount"`
	SuccessCount       int      `json:"successCount"`
	TotalOriginalBytes int64    `json:"totalOriginalBytes"`
	TotalDerivedBytes  int64    `json:"totalDerivedBytes"`
	SavedPercent       *float64 `json:"savedPercent,omitempty"`
}

// Summarize は一括実行後のジョブ状態から集計を作ります。集計は完了済み
// ジョブのみを数え、元サイズ合計が 0 の場合は削減率を出しません。
func Summarize(jobs []files.File, attempted int) BatchSummary {
	summary := BatchSummary{AttemptedCount: attempted}
	for _, f := range jobs {
		if f.Status != files.StatusDone {
			continue
		}
		summary.SuccessCount++
		summary.TotalOriginalBytes += f.OriginalSize
		summary.TotalDerivedBytes += f.DerivedSize
	}
	if summary.TotalOriginalBytes > 0 {
		percent := float64(summary.TotalOriginalBytes-summary.TotalDerivedBytes) / float64(summary.TotalOriginalBytes) * 100
		summary.SavedPercent = &percent
	}
	return summary
}
