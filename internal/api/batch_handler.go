package api

import (
	"errors"
	"net/http"

	"github.com/darnellt0/family-archive-vault/internal/batch"
	"github.com/darnellt0/family-archive-vault/internal/repository"

	"github.com/go-chi/chi/v5"
)

// BatchHandler 提供批次生命周期的 HTTP 端点。
type BatchHandler struct {
	batcher *batch.Batcher
}

func NewBatchHandler(batcher *batch.Batcher) *BatchHandler {
	return &BatchHandler{batcher: batcher}
}

func (h *BatchHandler) RegisterRoutes(r chi.Router) {
	r.Route("/batch", func(r chi.Router) {
		r.Post("/create", h.CreateBatch)
		r.Post("/finish", h.FinishBatch)
	})
}

type createBatchRequest struct {
	ContributorToken string `json:"contributorToken"`
}

type createBatchResponse struct {
	BatchID string `json:"batchID"`
}

// CreateBatch 开启一个新批次。
func (h *BatchHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	batchID, err := h.batcher.CreateBatch(r.Context(), req.ContributorToken)
	if err != nil {
		if errors.Is(err, batch.ErrInvalidToken) {
			writeError(w, http.StatusForbidden, "unknown contributor token")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, envelope{Data: createBatchResponse{BatchID: batchID}})
}

type batchFilePayload struct {
	OriginFileID string `json:"originFileID"`
	OriginalName string `json:"originalName"`
	SizeBytes    int64  `json:"sizeBytes"`
}

type finishBatchRequest struct {
	ContributorToken string             `json:"contributorToken"`
	BatchID          string             `json:"batchID"`
	Context          batch.Context      `json:"context"`
	Files            []batchFilePayload `json:"files"`
}

type finishBatchResponse struct {
	Ack                 bool `json:"ack"`
	TotalProcessedCount int  `json:"totalProcessedCount"`
}

// FinishBatch 收尾批次并确认收到的文件数。
func (h *BatchHandler) FinishBatch(w http.ResponseWriter, r *http.Request) {
	var req finishBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.BatchID == "" {
		writeError(w, http.StatusBadRequest, "batchID is required")
		return
	}

	files := make([]repository.BatchFile, 0, len(req.Files))
	for _, f := range req.Files {
		if f.OriginFileID == "" {
			writeError(w, http.StatusBadRequest, "every file needs an originFileID")
			return
		}
		files = append(files, repository.BatchFile{
			OriginFileID: f.OriginFileID,
			OriginalName: f.OriginalName,
			SizeBytes:    f.SizeBytes,
		})
	}

	count, err := h.batcher.FinishBatch(r.Context(), req.ContributorToken, req.BatchID, req.Context, files)
	if err != nil {
		switch {
		case errors.Is(err, batch.ErrInvalidToken):
			writeError(w, http.StatusForbidden, "unknown contributor token")
		case errors.Is(err, batch.ErrTooManyFiles):
			writeError(w, http.StatusBadRequest, "too many files in one batch")
		case errors.Is(err, batch.ErrBatchNotFound):
			writeError(w, http.StatusNotFound, "batch not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: finishBatchResponse{Ack: true, TotalProcessedCount: count}})
}
