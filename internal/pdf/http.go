// Package pdf は PDF 圧縮ジョブの HTTP API を提供します。
package pdf

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yourusername/pdf-squeeze/internal/converter"
	"github.com/yourusername/pdf-squeeze/internal/jobs"
	"github.com/yourusername/pdf-squeeze/internal/storage"
)

// SessionCookieName はセッションクッキーの名前です。
const SessionCookieName = "pdfsqueeze_session"

const sessionKeyLastJob = "last_job_id"

// JobService はジョブの投入と照会を提供します。
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (string, error)
	Progress(ctx context.Context, id string) (jobs.Progress, error)
	FinalizeAndFetch(ctx context.Context, id string) (*jobs.Result, error)
	Cleanup(ctx context.Context, id string) error
	CleanupAll(ctx context.Context) error
}

// UploadStore はアップロードファイルの保存先です。
type UploadStore interface {
	SaveUpload(ctx context.Context, file *multipart.FileHeader) (*storage.StoredFile, error)
	Remove(path string) error
}

// PageCounter はページ数を返します。
type PageCounter interface {
	PageCount(path string) (int, error)
}

// ToolChecker は外部ツールの有無を確認します。
type ToolChecker interface {
	Available(ctx context.Context) error
}

// HandlerOptions は Handlers の設定です。
type HandlerOptions struct {
	Jobs     JobService
	Uploads  UploadStore
	Pages    PageCounter // MaxPages > 0 の場合のみ使用
	Tool     ToolChecker
	MaxPages int
	Logger   zerolog.Logger
}

// Handlers は圧縮 API のハンドラー群です。
type Handlers struct {
	jobs     JobService
	uploads  UploadStore
	pages    PageCounter
	tool     ToolChecker
	maxPages int
	logger   zerolog.Logger
}

// NewHandlers は Handlers を作成します。
func NewHandlers(opts HandlerOptions) *Handlers {
	return &Handlers{
		jobs:     opts.Jobs,
		uploads:  opts.Uploads,
		pages:    opts.Pages,
		tool:     opts.Tool,
		maxPages: opts.MaxPages,
		logger:   opts.Logger,
	}
}

// Register は /health と /api 配下のルートを登録します。
func (h *Handlers) Register(router gin.IRouter) {
	router.GET("/health", h.Health)

	api := router.Group("/api")
	{
		api.GET("/profiles", h.Profiles)
		api.POST("/compress", h.Compress)
		api.GET("/progress", h.SessionProgress)
		api.GET("/progress/:id", h.Progress)
		api.GET("/jobs/:id/result", h.Result)
		api.GET("/jobs/:id/download", h.Download)
		api.DELETE("/jobs/:id", h.Delete)
		api.POST("/cleanup", h.CleanupAll)
	}
}

// Health は GET /health のハンドラーです。Ghostscript の有無も返します。
func (h *Handlers) Health(c *gin.Context) {
	installed := false
	if h.tool != nil {
		installed = h.tool.Available(c.Request.Context()) == nil
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"service":     "pdf-squeeze-api",
		"ghostscript": installed,
	})
}

// Profiles は GET /api/profiles のハンドラーです。
func (h *Handlers) Profiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"profiles": converter.Profiles(),
		"default":  converter.DefaultProfile,
	})
}

// Compress は POST /api/compress のハンドラーです。
func (h *Handlers) Compress(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respondWithError(c, newError(codeInvalidInput, "multipart/form-data でPDFファイルを送信してください。", err))
		return
	}
	defer form.RemoveAll()

	file, err := extractSingleFile(form)
	if err != nil {
		respondWithError(c, newError(codeInvalidInput, err.Error(), nil))
		return
	}

	profile := strings.TrimSpace(c.PostForm("profile"))
	if _, err := converter.ParseProfile(profile); err != nil {
		respondWithError(c, fmt.Errorf("%w: %v", jobs.ErrInvalidProfile, err))
		return
	}

	ctx := c.Request.Context()
	stored, err := h.uploads.SaveUpload(ctx, file)
	if err != nil {
		respondWithError(c, err)
		return
	}

	if err := h.checkPageLimit(stored.Path); err != nil {
		h.discard(stored.Path)
		respondWithError(c, err)
		return
	}

	jobID, err := h.jobs.Submit(ctx, jobs.SubmitRequest{
		InputPath: stored.Path,
		InputName: stored.OriginalName,
		Profile:   profile,
	})
	if err != nil {
		h.discard(stored.Path)
		respondWithError(c, err)
		return
	}

	session := sessions.Default(c)
	session.Set(sessionKeyLastJob, jobID)
	if err := session.Save(); err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to save session")
	}

	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
}

// Progress は GET /api/progress/:id のハンドラーです。存在しないIDでも 200 を返します。
func (h *Handlers) Progress(c *gin.Context) {
	h.writeProgress(c, strings.TrimSpace(c.Param("id")))
}

// SessionProgress は GET /api/progress のハンドラーです。セッションに記録した直近のジョブを返します。
func (h *Handlers) SessionProgress(c *gin.Context) {
	jobID, _ := sessions.Default(c).Get(sessionKeyLastJob).(string)
	h.writeProgress(c, jobID)
}

func (h *Handlers) writeProgress(c *gin.Context, jobID string) {
	if jobID == "" {
		c.JSON(http.StatusOK, jobs.UnknownProgress())
		return
	}
	progress, err := h.jobs.Progress(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to read job progress")
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// Result は GET /api/jobs/:id/result のハンドラーです。
func (h *Handlers) Result(c *gin.Context) {
	jobID, ok := requireJobID(c)
	if !ok {
		return
	}
	result, err := h.jobs.FinalizeAndFetch(c.Request.Context(), jobID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobId":          jobID,
		"originalName":   result.InputName,
		"outputFileName": result.OutputName,
		"originalSize":   result.OriginalSize,
		"compressedSize": result.CompressedSize,
		"reduction":      result.Reduction,
		"pages":          result.Pages,
		"profile":        result.Profile,
		"downloadUrl":    "/api/jobs/" + url.PathEscape(jobID) + "/download",
	})
}

// Download は GET /api/jobs/:id/download のハンドラーです。
func (h *Handlers) Download(c *gin.Context) {
	jobID, ok := requireJobID(c)
	if !ok {
		return
	}
	result, err := h.jobs.FinalizeAndFetch(c.Request.Context(), jobID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	if err := streamResult(c, jobID, result); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			respondWithError(c, newError(codeJobNotFound, "ジョブの成果物が見つかりませんでした。", err))
			return
		}
		respondWithError(c, err)
	}
}

// Delete は DELETE /api/jobs/:id のハンドラーです。存在しないIDでも 204 を返します。
func (h *Handlers) Delete(c *gin.Context) {
	jobID, ok := requireJobID(c)
	if !ok {
		return
	}
	if err := h.jobs.Cleanup(c.Request.Context(), jobID); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to clean up job")
		respondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CleanupAll は POST /api/cleanup のハンドラーです。
func (h *Handlers) CleanupAll(c *gin.Context) {
	if err := h.jobs.CleanupAll(c.Request.Context()); err != nil {
		h.logger.Error().Err(err).Msg("cleanup finished with errors")
		respondWithError(c, newError(codeCleanupFailed, "一部のファイルを削除できませんでした: "+err.Error(), err))
		return
	}
	session := sessions.Default(c)
	session.Delete(sessionKeyLastJob)
	if err := session.Save(); err != nil {
		h.logger.Warn().Err(err).Msg("failed to save session")
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) checkPageLimit(path string) error {
	if h.maxPages <= 0 || h.pages == nil {
		return nil
	}
	pages, err := h.pages.PageCount(path)
	if err != nil {
		return newError(codeInvalidInput, "PDFファイルを読み込めませんでした。", err)
	}
	if pages > h.maxPages {
		return newError(codeLimitExceeded, fmt.Sprintf("ページ数が上限（%dページ）を超えています。", h.maxPages), nil)
	}
	return nil
}

func (h *Handlers) discard(path string) {
	if err := h.uploads.Remove(path); err != nil {
		h.logger.Warn().Err(err).Str("path", path).Msg("failed to remove rejected upload")
	}
}

func requireJobID(c *gin.Context) (string, bool) {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		respondWithError(c, newError(codeInvalidInput, "jobId を指定してください。", nil))
		return "", false
	}
	return jobID, true
}

func extractSingleFile(form *multipart.Form) (*multipart.FileHeader, error) {
	if form == nil {
		return nil, errors.New("PDFファイルを選択してください。")
	}
	for _, field := range []string{"pdf_file", "file", "file[]"} {
		if files := form.File[field]; len(files) > 0 {
			if files[0].Filename == "" {
				break
			}
			return files[0], nil
		}
	}
	return nil, errors.New("PDFファイルを選択してください。")
}

func streamResult(c *gin.Context, jobID string, result *jobs.Result) error {
	file, err := os.Open(result.OutputPath)
	if err != nil {
		return fmt.Errorf("圧縮結果の読み込みに失敗しました: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("圧縮結果の読み込みに失敗しました: %w", err)
	}

	const contentType = "application/pdf"
	encodedName := url.PathEscape(result.OutputName)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", asciiFilename(result.OutputName), encodedName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", jobID)
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
	return nil
}

// asciiFilename は filename* に対応しないクライアント向けの ASCII のみのファイル名を返します。
func asciiFilename(name string) string {
	ascii := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return -1
		}
		return r
	}, name)
	ascii = strings.TrimLeft(ascii, "._")
	if ascii == "" {
		return "compressed.pdf"
	}
	return ascii
}
