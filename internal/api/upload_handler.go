package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/darnellt0/family-archive-vault/internal/upload"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// chunksReceivedTotal 统计断点续传协议接受的分块数
var chunksReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vault_chunks_received_total",
	Help: "Total number of upload chunks accepted",
})

const sessionHeader = "X-Upload-Session-ID"

// UploadHandler 提供断点续传协议的 HTTP 端点。
type UploadHandler struct {
	manager   *upload.Manager
	chunkSize int64
}

func NewUploadHandler(manager *upload.Manager, chunkSize int64) *UploadHandler {
	return &UploadHandler{manager: manager, chunkSize: chunkSize}
}

func (h *UploadHandler) RegisterRoutes(r chi.Router) {
	r.Route("/upload", func(r chi.Router) {
		r.Post("/init", h.InitUpload)
		r.Put("/chunk", h.PutChunk)
	})
}

type initUploadRequest struct {
	ContributorToken string `json:"contributorToken"`
	Filename         string `json:"filename"`
	MimeType         string `json:"mimeType"`
	SizeBytes        int64  `json:"sizeBytes"`
}

type initUploadResponse struct {
	SessionID string `json:"sessionID"`
	ChunkSize int64  `json:"chunkSize"`
}

// InitUpload 开启一个上传会话。
func (h *UploadHandler) InitUpload(w http.ResponseWriter, r *http.Request) {
	var req initUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Filename) == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}

	sessionID, chunkSize, err := h.manager.InitUpload(r.Context(), req.ContributorToken, req.Filename, req.MimeType, req.SizeBytes)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrInvalidToken):
			writeError(w, http.StatusForbidden, "unknown contributor token")
		case errors.Is(err, upload.ErrFileTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "file exceeds size limit")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, envelope{Data: initUploadResponse{SessionID: sessionID, ChunkSize: chunkSize}})
}

type chunkResponse struct {
	OriginFileID string `json:"originFileID,omitempty"`
	NextOffset   *int64 `json:"nextOffset,omitempty"`
}

// PutChunk 接收一个分块。应答语义跟随续传协议：
// 200 分块入账（带 originFileID 表示上传完成），
// 308 位移不符、按 nextOffset 续传。
func (h *UploadHandler) PutChunk(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, sessionHeader+" header is required")
		return
	}

	start, end, _, err := parseContentRange(r.Header.Get("Content-Range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.chunkSize+1)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read chunk body")
		return
	}

	result, err := h.manager.PutChunk(r.Context(), sessionID, start, end, payload)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "unknown upload session")
		case errors.Is(err, upload.ErrInvalidRange):
			writeError(w, http.StatusBadRequest, "byte range does not match payload")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	switch {
	case result.Completed:
		chunksReceivedTotal.Inc()
		writeJSON(w, http.StatusOK, envelope{Data: chunkResponse{OriginFileID: result.OriginFileID}})
	case result.Resumed:
		writeJSON(w, http.StatusPermanentRedirect, envelope{Data: chunkResponse{NextOffset: &result.NextOffset}})
	default:
		// 中途块也回 200，客户端按 originFileID 是否出现判断完成
		chunksReceivedTotal.Inc()
		writeJSON(w, http.StatusOK, envelope{Data: chunkResponse{NextOffset: &result.NextOffset}})
	}
}

// parseContentRange 解析 "bytes start-end/total" 形式的头。
func parseContentRange(raw string) (start, end, total int64, err error) {
	const prefix = "bytes "
	if !strings.HasPrefix(raw, prefix) {
		return 0, 0, 0, fmt.Errorf("Content-Range header must be of the form %q", prefix+"start-end/total")
	}

	rangePart, totalPart, ok := strings.Cut(strings.TrimPrefix(raw, prefix), "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("Content-Range is missing the total length")
	}
	startPart, endPart, ok := strings.Cut(rangePart, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("Content-Range is missing the byte range")
	}

	if start, err = strconv.ParseInt(startPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid range start: %w", err)
	}
	if end, err = strconv.ParseInt(endPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid range end: %w", err)
	}
	if total, err = strconv.ParseInt(totalPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid total length: %w", err)
	}
	if start < 0 || end < start || end >= total {
		return 0, 0, 0, fmt.Errorf("byte range %d-%d/%d is out of order", start, end, total)
	}
	return start, end, total, nil
}
