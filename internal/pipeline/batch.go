package pipeline

import (
	"context"
	"sync"

	"github.com/yourusername/pdf-toolkit/internal/files"
	"github.com/yourusername/pdf-toolkit/internal/users"
)

// BatchResult は一括実行の結果です。Jobs は対象ジョブの最終状態、
// NewJob は結合・変換で新たに生まれたジョブです。
type BatchResult struct {
	Jobs    []files.File  `json:"jobs"`
	NewJob  *files.File   `json:"newJob,omitempty"`
	Summary *BatchSummary `json:"summary,omitempty"`
}

// RunBatch は選択中のジョブ一覧に対して操作を一括実行します。
// 実行前に権限を確認し、不足している場合は一切の状態を変更せずに
// 中断します。対象は呼び出し時点で待機状態のジョブに固定され、
// 実行中の追加アップロードは巻き込まれません。
func (s *Service) RunBatch(ctx context.Context, perms users.Permissions, ids []string, op Operation, params Params) (*BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !perms.Allows(capabilityFor(op)) {
		return nil, newError(CodePermissionDenied, "この操作を実行する権限がありません。", nil)
	}
	if op == OperationEnhance {
		if err := s.gen.Ready(); err != nil {
			return nil, newError(CodeConfigMissing, err.Error(), err)
		}
	}

	switch op {
	case OperationMerge:
		merged, err := s.runMerge(ctx, ids, nil)
		if err != nil {
			return nil, err
		}
		return &BatchResult{Jobs: s.reg.SnapshotByIDs(ids), NewJob: &merged}, nil
	case OperationConvert:
		converted, err := s.runConvert(ctx, ids, nil)
		if err != nil {
			return nil, err
		}
		return &BatchResult{Jobs: s.reg.SnapshotByIDs(ids), NewJob: &converted}, nil
	}

	snapshot := s.reg.SnapshotWaiting(ids)
	if op == OperationExtract {
		withRange := snapshot[:0]
		for _, f := range snapshot {
			if f.PageSelection != "" {
				withRange = append(withRange, f)
			}
		}
		snapshot = withRange
	}
	if len(snapshot) == 0 {
		return &BatchResult{Jobs: []files.File{}}, nil
	}

	var wg sync.WaitGroup
	for _, f := range snapshot {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			// 各ジョブの失敗は自身の状態に記録済みのため、ここでは拾わない
			_, _ = s.RunSingle(ctx, id, op, params, nil)
		}(f.ID)
	}
	wg.Wait()

	targetIDs := make([]string, len(snapshot))
	for i, f := range snapshot {
		targetIDs[i] = f.ID
	}
	final := s.reg.SnapshotByIDs(targetIDs)
	summary := Summarize(final, len(snapshot))
	return &BatchResult{Jobs: final, Summary: &summary}, nil
}
