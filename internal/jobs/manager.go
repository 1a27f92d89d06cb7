package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/yourusername/pdf-toolkit/internal/config"
	"github.com/yourusername/pdf-toolkit/internal/files"
	"github.com/yourusername/pdf-toolkit/internal/pipeline"
)

const (
	taskTypeRun = "toolkit:run"
	queueName   = "toolkit"
)

// Manager はジョブの投入と状態管理を担います。pipeline.JobScheduler を
// 実装し、閾値を超えた処理を Asynq ワーカーへ逃がします。
type Manager struct {
	cfg    *config.Config
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	store  *Store
	svc    *pipeline.Service
	logger *log.Logger
}

// TaskPayload は変換ジョブのペイロードです。
type TaskPayload struct {
	JobID     string             `json:"jobId"`
	Operation pipeline.Operation `json:"operation"`
	Params    pipeline.Params    `json:"params"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, svc *pipeline.Service, store *Store, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if svc == nil {
		return nil, errors.New("pipeline service is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				queueName: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:    cfg,
		client: client,
		server: server,
		mux:    mux,
		store:  store,
		svc:    svc,
		logger: logger,
	}
	mux.HandleFunc(taskTypeRun, manager.handleRunTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			if m.logger != nil {
				m.logger.Printf("asynq server stopped with error: %v", err)
			} else {
				log.Printf("asynq server stopped with error: %v", err)
			}
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	m.client.Close()
	return nil
}

// Schedule はジョブをキューに投入します。pipeline.JobScheduler の実装です。
func (m *Manager) Schedule(ctx context.Context, jobID string, op pipeline.Operation, params pipeline.Params) error {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}

	record := &Record{
		JobID:     jobID,
		Operation: string(op),
		Status:    StatusQueued,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   "queued",
		},
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return err
	}

	body, err := json.Marshal(&TaskPayload{JobID: jobID, Operation: op, Params: params})
	if err != nil {
		return err
	}

	task := asynq.NewTask(taskTypeRun, body, asynq.Queue(queueName))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(1)); err != nil {
		return err
	}
	return nil
}

// GetRecord はジョブ情報を取得します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

func (m *Manager) handleRunTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload")
	}

	if err := m.store.Upsert(ctx, &Record{
		JobID:     payload.JobID,
		Operation: string(payload.Operation),
		Status:    StatusProcessing,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   "load",
		},
	}); err != nil {
		return err
	}

	state, err := m.svc.RunSingle(ctx, payload.JobID, payload.Operation, payload.Params,
		func(stage string, percent int) {
			_ = m.store.UpdateProgress(ctx, payload.JobID, ProgressInfo{
				Stage:   stage,
				Percent: percent,
			})
		})
	if err != nil {
		return m.failJobWithError(ctx, payload.JobID, state, err)
	}
	return m.finishJob(ctx, payload.JobID, state)
}

func (m *Manager) finishJob(ctx context.Context, jobID string, state files.File) error {
	downloadURL := fmt.Sprintf("/api/files/%s/download", jobID)
	return m.store.MarkDone(ctx, jobID, downloadURL, &ResultInfo{
		OriginalSize: state.OriginalSize,
		DerivedSize:  state.DerivedSize,
	})
}

func (m *Manager) failJobWithError(ctx context.Context, jobID string, state files.File, err error) error {
	code := state.ErrorCode
	message := state.ErrorMessage
	if code == "" {
		var apiErr *pipeline.Error
		if errors.As(err, &apiErr) {
			code = apiErr.Code
			message = apiErr.Message
		} else {
			code = "INTERNAL_ERROR"
			message = err.Error()
		}
	}
	return m.store.MarkFailed(ctx, jobID, &ErrorInfo{
		Code:    code,
		Message: message,
	})
}
