package pipeline

import (
	"context"
	"errors"

	"github.com/yourusername/pdf-toolkit/internal/files"
)

// RunSingle は1ジョブに対して操作を実行します。ジョブは処理中に遷移し、
// 成功で完了、失敗でエラー状態になります。再実行時は進捗と前回の
// エラーがリセットされます。処理中に削除されたジョブは復活させず、
// 成果物は破棄します。
func (s *Service) RunSingle(ctx context.Context, jobID string, op Operation, params Params, reporter ProgressReporter) (files.File, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	f, ok := s.reg.Get(jobID)
	if !ok {
		return files.File{}, newError(CodeJobNotFound, "指定されたファイルが見つかりません。", nil)
	}

	switch op {
	case OperationCompress, OperationExtract:
		if f.Status == files.StatusProcessing {
			return f, newError(CodeInvalidInput, "このファイルは処理中です。", nil)
		}
	case OperationEnhance:
		if f.Status == files.StatusProcessing {
			return f, newError(CodeInvalidInput, "このファイルは処理中です。", nil)
		}
		// 設定不備は状態を一切変更せずに中断する
		if err := s.gen.Ready(); err != nil {
			return f, newError(CodeConfigMissing, err.Error(), err)
		}
	default:
		return f, newError(CodeInvalidInput, "この操作は単一ファイルに対して実行できません。", nil)
	}

	s.reg.SetProcessing(jobID)
	sink := func(stage string, percent int) {
		s.reg.SetProgress(jobID, percent)
		reportProgress(reporter, stage, percent)
	}

	if op == OperationEnhance {
		step, err := s.executeEnhance(ctx, f, params.Prompt, sink)
		if err != nil {
			return s.markFailed(jobID, err)
		}
		if !s.reg.AppendEnhancement(jobID, step) {
			s.discardArtifact(jobID)
			return files.File{}, newError(CodeJobNotFound, "ファイルは処理中に削除されました。", nil)
		}
		updated, _ := s.reg.Get(jobID)
		return updated, nil
	}

	var (
		artifactPath string
		derivedSize  int64
		runErr       error
	)
	switch op {
	case OperationCompress:
		artifactPath, derivedSize, runErr = s.executeCompress(ctx, f, params.Level, sink)
	case OperationExtract:
		artifactPath, derivedSize, runErr = s.executeExtract(ctx, f, sink)
	}
	if runErr != nil {
		return s.markFailed(jobID, runErr)
	}

	if !s.reg.SetDone(jobID, artifactPath, derivedSize) {
		s.discardArtifact(jobID)
		return files.File{}, newError(CodeJobNotFound, "ファイルは処理中に削除されました。", nil)
	}
	updated, _ := s.reg.Get(jobID)
	return updated, nil
}

// markFailed は実行エラーをジョブ状態へ反映します。削除済みジョブには
// 何も残しません。
func (s *Service) markFailed(jobID string, err error) (files.File, error) {
	apiErr := asError(err)
	s.logger.Printf("job %s failed: %v", jobID, err)
	s.reg.SetError(jobID, apiErr.Code, apiErr.Message)
	updated, _ := s.reg.Get(jobID)
	return updated, err
}

func asError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(CodeEngineFailure, "処理がキャンセルされました。", err)
	}
	return newError(CodeEngineFailure, "処理に失敗しました。", err)
}
