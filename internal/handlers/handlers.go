package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/example/video-kyc/internal/artifact"
	"github.com/example/video-kyc/internal/facematch"
	"github.com/example/video-kyc/internal/session"
	"github.com/example/video-kyc/internal/usecase"
)

// Upload caps. The router's MaxMultipartMemory is set to the larger one.
const (
	MaxDocumentSize = 8 << 20
	MaxVideoSize    = 32 << 20
	MaxUploadSize   = MaxVideoSize
)

var documentContentTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

var videoContentTypes = map[string]string{
	"video/webm":      "webm",
	"video/mp4":       "mp4",
	"video/quicktime": "mov",
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.VerificationUseCase, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	if authMiddleware != nil {
		api.Use(authMiddleware)
	}

	api.POST("/upload-document", func(c *gin.Context) {
		documentType := c.PostForm("documentType")
		if documentType == "" {
			c.JSON(http.StatusBadRequest, errorBody("documentType is required"))
			return
		}

		data, ext, ok := readUpload(c, "document", MaxDocumentSize, documentContentTypes)
		if !ok {
			return
		}

		sess, err := uc.CreateSession(c.Request.Context(), documentType, data, ext)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"sessionId":   sess.ID,
			"documentRef": sess.DocumentRef,
			"message":     "document uploaded",
		})
	})

	api.POST("/upload-video", func(c *gin.Context) {
		sessionID := c.PostForm("sessionId")
		if sessionID == "" {
			c.JSON(http.StatusBadRequest, errorBody("sessionId is required"))
			return
		}

		data, ext, ok := readUpload(c, "video", MaxVideoSize, videoContentTypes)
		if !ok {
			return
		}

		ref, err := uc.AttachVideo(c.Request.Context(), sessionID, data, ext)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"videoRef": ref,
			"message":  "video uploaded",
		})
	})

	api.POST("/verify-face", func(c *gin.Context) {
		var req struct {
			SessionID string `json:"sessionId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody("sessionId is required"))
			return
		}

		outcome, err := uc.Verify(c.Request.Context(), req.SessionID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, outcome)
	})

	api.GET("/session/:id", func(c *gin.Context) {
		sess, err := uc.GetSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	api.GET("/result/:id", func(c *gin.Context) {
		record, err := uc.GetOutcome(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	})

	api.GET("/metrics", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorBody("metrics unavailable"))
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// readUpload pulls a single multipart file, enforcing the size cap and the
// content-type allow-list, and maps the content type to a declared
// extension. It writes the error response itself when validation fails.
func readUpload(c *gin.Context, field string, maxSize int64, contentTypes map[string]string) ([]byte, string, bool) {
	file, err := c.FormFile(field)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(field+" file is required"))
		return nil, "", false
	}
	if file.Size > maxSize {
		c.JSON(http.StatusRequestEntityTooLarge, errorBody(field+" exceeds the size limit"))
		return nil, "", false
	}
	ext, ok := contentTypes[contentTypeOf(file)]
	if !ok {
		c.JSON(http.StatusUnsupportedMediaType, errorBody("unsupported "+field+" content type"))
		return nil, "", false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("unable to open "+field))
		return nil, "", false
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxSize+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("failed to read "+field))
		return nil, "", false
	}
	if int64(len(data)) > maxSize {
		c.JSON(http.StatusRequestEntityTooLarge, errorBody(field+" exceeds the size limit"))
		return nil, "", false
	}
	return data, ext, true
}

func contentTypeOf(file *multipart.FileHeader) string {
	return file.Header.Get("Content-Type")
}

// respondError maps the error taxonomy onto HTTP statuses with messages
// safe for callers.
func respondError(c *gin.Context, err error) {
	var validation *usecase.ValidationError
	var storage *artifact.StorageError
	var procErr *facematch.ProcessError
	var malformed *facematch.MalformedOutputError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, errorBody(validation.Reason))
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody("session not found"))
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, errorBody("result not found"))
	case errors.Is(err, session.ErrDuplicateAttachment):
		c.JSON(http.StatusConflict, errorBody("artifact already attached to this session"))
	case errors.Is(err, session.ErrInvalidTransition):
		c.JSON(http.StatusConflict, errorBody("session has already been settled"))
	case errors.Is(err, usecase.ErrIncompleteSession):
		c.JSON(http.StatusBadRequest, errorBody("session is missing a document or video upload"))
	case errors.Is(err, facematch.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, errorBody("verification timed out"))
	case errors.As(err, &procErr):
		c.JSON(http.StatusBadGateway, errorBody("verification engine failed"))
	case errors.As(err, &malformed):
		c.JSON(http.StatusBadGateway, errorBody("verification engine returned an unreadable result"))
	case errors.As(err, &storage):
		c.JSON(http.StatusInternalServerError, errorBody("failed to store upload"))
	default:
		c.JSON(http.StatusInternalServerError, errorBody("verification could not be completed"))
	}
}

func errorBody(message string) gin.H {
	return gin.H{"success": false, "error": message}
}
