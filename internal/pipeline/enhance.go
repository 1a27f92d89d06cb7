package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/yourusername/pdf-toolkit/internal/files"
	"github.com/yourusername/pdf-toolkit/internal/genimage"
)

// defaultEnhancePrompt は初回補正で使う指示文です。
const defaultEnhancePrompt = "この画像を高品質に補正してください。ノイズを除去し、明るさとコントラストを自然に整え、文字があれば読みやすくしてください。"

// initialEnhanceLabel は初回補正の履歴に記録するラベルです。
const initialEnhanceLabel = "初回補正"

// executeEnhance は生成 AI による画像補正を1回実行し、履歴エントリを
// 返します。2回目以降は直前の補正結果を入力として連鎖します。
func (s *Service) executeEnhance(ctx context.Context, f files.File, userPrompt string, progress ProgressReporter) (files.EnhancementStep, error) {
	userPrompt = strings.TrimSpace(userPrompt)

	inputPath := f.SourcePath
	label := initialEnhanceLabel
	prompt := defaultEnhancePrompt
	if userPrompt != "" {
		prompt = userPrompt
		label = userPrompt
		if latest := f.LatestArtifact(); latest != nil {
			inputPath = latest.ArtifactPath
		}
	}

	mime := "application/octet-stream"
	if detected, err := mimetype.DetectFile(inputPath); err == nil {
		mime = detected.String()
	}
	if !strings.HasPrefix(mime, "image/") {
		return files.EnhancementStep{}, newError(CodeInvalidInput, "画像ファイルのみ補正できます。", nil)
	}

	reportProgress(progress, "read", 10)
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return files.EnhancementStep{}, fmt.Errorf("入力画像の読み込みに失敗しました: %w", err)
	}

	reportProgress(progress, "generate", 40)
	generated, err := s.gen.Generate(ctx, data, mime, prompt)
	if err != nil {
		return files.EnhancementStep{}, mapGenerateError(err)
	}

	reportProgress(progress, "write", 80)
	ws := s.store.For(f.ID)
	name := fmt.Sprintf("enhanced-%02d%s", len(f.EnhancementTrail)+1, extensionFor(generated.MimeType))
	artifactPath := filepath.Join(ws.OutDir, name)
	if err := os.WriteFile(artifactPath, generated.Data, 0o640); err != nil {
		return files.EnhancementStep{}, fmt.Errorf("補正画像の保存に失敗しました: %w", err)
	}

	reportProgress(progress, "completed", 100)
	return files.EnhancementStep{
		Prompt:       label,
		ArtifactPath: artifactPath,
		ArtifactSize: int64(len(generated.Data)),
	}, nil
}

func mapGenerateError(err error) error {
	var blocked *genimage.BlockedError
	if errors.As(err, &blocked) {
		return newError(CodeGenerationBlocked, blocked.Error(), err)
	}
	var empty *genimage.EmptyError
	if errors.As(err, &empty) {
		return newError(CodeGenerationEmpty, empty.Error(), err)
	}
	if errors.Is(err, genimage.ErrNotConfigured) {
		return newError(CodeConfigMissing, genimage.ErrNotConfigured.Error(), err)
	}
	return newError(CodeEngineFailure, "画像補正に失敗しました。", err)
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
