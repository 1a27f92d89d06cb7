package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const jobKeyPrefix = "pdftoolkit:run:"

// Store は非同期ジョブ状態を Redis に保存します。キーにはTTLが付き、
// 期限切れのジョブ状態は自動的に消えます。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Get はジョブ情報を取得します。存在しない場合は nil を返します。
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, errors.New("jobID is required")
	}
	record, err := s.load(ctx, s.rdb, jobID)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return record, err
}

// Upsert はジョブ情報を保存します。存在しない場合は作成します。
func (s *Store) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return errors.New("record is nil")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.ExpiresAt.IsZero() && s.ttl > 0 {
		record.ExpiresAt = record.CreatedAt.Add(s.ttl)
	}
	return s.save(ctx, s.rdb, record)
}

// UpdateProgress は進捗を更新し、状態を処理中へ進めます。
func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error {
	return s.mutate(ctx, jobID, func(record *Record) {
		record.Status = StatusProcessing
		record.Progress = progress
	})
}

// MarkDone はジョブを完了状態にし、ダウンロード先と成果情報を記録します。
func (s *Store) MarkDone(ctx context.Context, jobID string, downloadURL string, result *ResultInfo) error {
	return s.mutate(ctx, jobID, func(record *Record) {
		record.Status = StatusDone
		record.Progress = ProgressInfo{Percent: 100, Stage: "completed"}
		record.DownloadURL = downloadURL
		record.Result = result
		record.Error = nil
	})
}

// MarkFailed はジョブを失敗状態にします。
func (s *Store) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.mutate(ctx, jobID, func(record *Record) {
		record.Status = StatusFailed
		if errInfo != nil {
			record.Error = errInfo
		}
	})
}

// mutate は読み取り・適用・書き戻しを WATCH 付きで行います。
// ワーカーの進捗更新と完了処理が競合しても古い状態を書き戻しません。
func (s *Store) mutate(ctx context.Context, jobID string, apply func(*Record)) error {
	key := jobKey(jobID)
	update := func(tx *redis.Tx) error {
		record, err := s.load(ctx, tx, jobID)
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("job not found: %s", jobID)
		}
		if err != nil {
			return err
		}
		apply(record)
		record.UpdatedAt = time.Now().UTC()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			payload, merr := json.Marshal(record)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for {
		err := s.rdb.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
}

func (s *Store) load(ctx context.Context, c redis.Cmdable, jobID string) (*Record, error) {
	data, err := c.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode job record: %w", err)
	}
	return &record, nil
}

func (s *Store) save(ctx context.Context, c redis.Cmdable, record *Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.Set(ctx, jobKey(record.JobID), payload, s.ttl).Err()
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
