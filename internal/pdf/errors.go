package pdf

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/pdf-squeeze/internal/jobs"
	"github.com/yourusername/pdf-squeeze/internal/storage"
)

// Error は API 応答に変換されるエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

const (
	codeInvalidInput   = "INVALID_INPUT"
	codeInvalidProfile = "INVALID_PROFILE"
	codeLimitExceeded  = "LIMIT_EXCEEDED"
	codeJobNotFound    = "JOB_NOT_FOUND"
	codeJobNotReady    = "JOB_NOT_READY"
	codeJobFailed      = "JOB_FAILED"
	codeQueueFull      = "QUEUE_FULL"
	codeCleanupFailed  = "CLEANUP_FAILED"
	codeCanceled       = "REQUEST_CANCELED"
	codeInternal       = "INTERNAL_ERROR"
)

func respondWithError(c *gin.Context, err error) {
	var (
		apiErr *Error
		jobErr *jobs.JobError
	)
	switch {
	case errors.As(err, &jobErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":        codeJobFailed,
			"kind":        jobErr.Kind,
			"message":     jobErr.Message,
			"diagnostics": jobErr.Diagnostics,
		})
	case errors.As(err, &apiErr):
		c.JSON(statusForCode(apiErr.Code), gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, storage.ErrNotPDF):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    codeInvalidInput,
			"message": "PDFファイルのみアップロードできます。",
		})
	case errors.Is(err, storage.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"code":    codeLimitExceeded,
			"message": "ファイルサイズが上限を超えています。",
		})
	case errors.Is(err, jobs.ErrInvalidProfile):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    codeInvalidProfile,
			"message": "圧縮プロファイルは prepress / ebook / screen のいずれかを指定してください。",
		})
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    codeJobNotFound,
			"message": "指定されたジョブは存在しません。",
		})
	case errors.Is(err, jobs.ErrNotReady):
		c.JSON(http.StatusConflict, gin.H{
			"code":    codeJobNotReady,
			"message": "ジョブはまだ完了していません。",
		})
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrDispatcherClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    codeQueueFull,
			"message": "現在混み合っています。しばらくしてから再度お試しください。",
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    codeCanceled,
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    codeInternal,
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func statusForCode(code string) int {
	switch code {
	case codeJobNotFound:
		return http.StatusNotFound
	case codeJobNotReady:
		return http.StatusConflict
	case codeLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case codeQueueFull:
		return http.StatusServiceUnavailable
	case codeCanceled:
		return http.StatusRequestTimeout
	case codeInternal, codeCleanupFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
