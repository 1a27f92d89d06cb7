package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/pdf-toolkit/internal/auth"
	"github.com/yourusername/pdf-toolkit/internal/files"
	"github.com/yourusername/pdf-toolkit/internal/users"
)

// JobScheduler はジョブを非同期キューに投入するためのインターフェースです。
type JobScheduler interface {
	Schedule(ctx context.Context, jobID string, op Operation, params Params) error
}

// HandlerOptions は同期/非同期切り替えのための設定です。
type HandlerOptions struct {
	Scheduler           JobScheduler
	AsyncThresholdBytes int64
	AsyncThresholdPages int
}

// UploadHandler は POST /api/files のハンドラーを返します。複数ファイルを
// 受け付け、登録されたジョブの一覧を返します。
func UploadHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidInput,
				"message": "multipart/form-data でファイルを送信してください。",
			})
			return
		}
		defer form.RemoveAll()

		uploads := form.File["files[]"]
		if len(uploads) == 0 {
			uploads = form.File["files"]
		}
		if len(uploads) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidInput,
				"message": "アップロードされたファイルが見つかりません。",
			})
			return
		}

		added := make([]files.File, 0, len(uploads))
		for _, fh := range uploads {
			record, err := svc.AddUpload(c.Request.Context(), fh)
			if err != nil {
				respondWithError(c, err)
				return
			}
			added = append(added, record)
		}
		c.JSON(http.StatusCreated, gin.H{"files": added})
	}
}

// ListFilesHandler は GET /api/files のハンドラーを返します。
func ListFilesHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"files": svc.Registry().List()})
	}
}

// RemoveFileHandler は DELETE /api/files/:id のハンドラーを返します。
func RemoveFileHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !svc.RemoveFile(c.Param("id")) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    CodeJobNotFound,
				"message": "指定されたファイルが見つかりません。",
			})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ClearFilesHandler は DELETE /api/files のハンドラーを返します。
func ClearFilesHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		cleared := svc.ClearFiles()
		c.JSON(http.StatusOK, gin.H{"cleared": cleared})
	}
}

type pageSelectionRequest struct {
	Range string `json:"range"`
}

// PageSelectionHandler は PUT /api/files/:id/range のハンドラーを返します。
func PageSelectionHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pageSelectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidInput,
				"message": "range を JSON で送ってください。",
			})
			return
		}
		if err := svc.SetPageSelection(c.Param("id"), req.Range); err != nil {
			respondWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type runRequest struct {
	JobID     string           `json:"jobId" binding:"required"`
	Operation string           `json:"operation" binding:"required"`
	Level     CompressionLevel `json:"level"`
	Prompt    string           `json:"prompt"`
}

// RunHandler は POST /api/run のハンドラーを返します。サイズやページ数が
// 閾値を超える圧縮はキューに退避し、それ以外は同期実行します。
func RunHandler(svc *Service, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req runRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidInput,
				"message": "jobId と operation を JSON で送ってください。",
			})
			return
		}

		op, err := NormalizeOperation(req.Operation)
		if err != nil {
			respondWithError(c, err)
			return
		}

		user, _ := auth.CurrentUser(c)
		if op == OperationEnhance && !user.Permissions.Allows(users.CapabilityEnhanceImage) {
			respondWithError(c, newError(CodePermissionDenied, "この操作を実行する権限がありません。", nil))
			return
		}

		params := Params{Level: req.Level, Prompt: req.Prompt}

		if opts.Scheduler != nil && shouldProcessAsync(svc, req.JobID, op, opts) {
			if err := opts.Scheduler.Schedule(c.Request.Context(), req.JobID, op, params); err != nil {
				respondWithError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"jobId": req.JobID})
			return
		}

		state, err := svc.RunSingle(c.Request.Context(), req.JobID, op, params, nil)
		if err != nil && state.Status != files.StatusError {
			// ジョブ状態に記録されない前提エラーのみ HTTP エラーで返す。
			// 実行中の失敗はジョブ自身がエラー状態として持ち帰る
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"file": state})
	}
}

type runBatchRequest struct {
	JobIDs    []string         `json:"jobIds" binding:"required"`
	Operation string           `json:"operation" binding:"required"`
	Level     CompressionLevel `json:"level"`
	Prompt    string           `json:"prompt"`
}

// RunBatchHandler は POST /api/run/batch のハンドラーを返します。
func RunBatchHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req runBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidInput,
				"message": "jobIds と operation を JSON で送ってください。",
			})
			return
		}

		op, err := NormalizeOperation(req.Operation)
		if err != nil {
			respondWithError(c, err)
			return
		}

		user, ok := auth.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です",
			})
			return
		}

		result, err := svc.RunBatch(c.Request.Context(), user.Permissions, req.JobIDs,
			op, Params{Level: req.Level, Prompt: req.Prompt})
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

type quickExtractRequest struct {
	Range string `json:"range" binding:"required"`
}

// QuickExtractHandler は POST /api/files/:id/extract のハンドラーを返します。
// ジョブ状態を変えずに抽出結果をその場でダウンロードさせます。
func QuickExtractHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req quickExtractRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidInput,
				"message": "range を JSON で送ってください。",
			})
			return
		}

		result, err := svc.QuickExtract(c.Request.Context(), c.Param("id"), req.Range)
		if err != nil {
			respondWithError(c, err)
			return
		}
		defer result.Cleanup()

		if err := streamResult(c, result, "抽出結果の読み込みに失敗しました"); err != nil {
			respondWithError(c, err)
		}
	}
}

// DownloadHandler は GET /api/files/:id/download のハンドラーを返します。
// 完了済みジョブの成果物を返します。
func DownloadHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, ok := svc.Registry().Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    CodeJobNotFound,
				"message": "指定されたファイルが見つかりません。",
			})
			return
		}
		if f.Status != files.StatusDone || f.ArtifactPath == "" {
			c.JSON(http.StatusConflict, gin.H{
				"code":    CodeInvalidInput,
				"message": "このファイルはまだ完了していません。",
			})
			return
		}

		file, err := os.Open(f.ArtifactPath)
		if err != nil {
			respondWithError(c, fmt.Errorf("成果物の読み込みに失敗しました: %w", err))
			return
		}
		defer file.Close()

		info, err := file.Stat()
		if err != nil {
			respondWithError(c, fmt.Errorf("成果物の確認に失敗しました: %w", err))
			return
		}

		contentType := f.MimeType
		if len(f.EnhancementTrail) > 0 {
			// 補正結果は元ファイルと形式が変わっていることがある
			if detected, derr := mimetype.DetectFile(f.ArtifactPath); derr == nil {
				contentType = detected.String()
			}
		}
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		name := downloadName(f)
		encodedName := url.PathEscape(name)
		c.Header("Content-Type", contentType)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", name, encodedName))
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", f.ID)
		c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
	}
}

// ArchiveHandler は GET /api/files/archive のハンドラーを返します。
// 完了済みの成果物をまとめたZIPを返します。
func ArchiveHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _ := auth.CurrentUser(c)
		if !user.Permissions.Allows(users.CapabilityDownloadBatch) {
			respondWithError(c, newError(CodePermissionDenied, "この操作を実行する権限がありません。", nil))
			return
		}

		result, err := svc.ArchiveDone(c.Request.Context())
		if err != nil {
			respondWithError(c, err)
			return
		}
		defer result.Cleanup()

		if err := streamResult(c, result, "ZIPの読み込みに失敗しました"); err != nil {
			respondWithError(c, err)
		}
	}
}

func shouldProcessAsync(svc *Service, jobID string, op Operation, opts HandlerOptions) bool {
	if op != OperationCompress {
		return false
	}
	f, ok := svc.Registry().Get(jobID)
	if !ok {
		return false
	}
	if opts.AsyncThresholdBytes > 0 && f.OriginalSize >= opts.AsyncThresholdBytes {
		return true
	}
	if opts.AsyncThresholdPages > 0 && f.PageCount >= opts.AsyncThresholdPages {
		return true
	}
	return false
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		switch apiErr.Code {
		case CodeLimitExceeded:
			status = http.StatusRequestEntityTooLarge
		case CodePermissionDenied:
			status = http.StatusForbidden
		case CodeJobNotFound:
			status = http.StatusNotFound
		case CodeConfigMissing:
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func streamResult(c *gin.Context, result *Result, readErrMsg string) error {
	file, err := os.Open(result.OutputPath)
	if err != nil {
		return fmt.Errorf("%s: %w", readErrMsg, err)
	}
	defer file.Close()

	contentType := "application/octet-stream"
	switch result.ResultKind {
	case ResultKindPDF:
		contentType = "application/pdf"
	case ResultKindZIP:
		contentType = "application/zip"
	}

	encodedName := url.PathEscape(result.OutputFilename)
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", result.OutputFilename, encodedName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", result.JobID)
	c.DataFromReader(http.StatusOK, result.OutputSize, contentType, file, nil)
	return nil
}

func downloadName(f files.File) string {
	if len(f.EnhancementTrail) > 0 {
		return fmt.Sprintf("enhanced_%s", f.OriginalName)
	}
	return f.OriginalName
}
