package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/medrecord-gateway/internal/api/service"
	"github.com/xela07ax/medrecord-gateway/internal/domain"
	"github.com/xela07ax/medrecord-gateway/internal/infra/auth"
	"github.com/xela07ax/medrecord-gateway/internal/repository"
	"go.uber.org/zap"
)

type RecordManager interface {
	List(ctx context.Context, who domain.Identity) ([]domain.MedicalRecord, error)
	AuthorizeCreate(ctx context.Context, who domain.Identity) error
	Authorize(ctx context.Context, who domain.Identity, action domain.Action, id string) (*domain.MedicalRecord, error)
	Create(ctx context.Context, in domain.RecordInput) (*domain.MedicalRecord, error)
	Update(ctx context.Context, id string, in domain.RecordInput) (*domain.MedicalRecord, error)
	Delete(ctx context.Context, id string) error
}

type RecordHandler struct {
	service RecordManager
	logger  *zap.Logger
}

func NewRecordHandler(s RecordManager, logger *zap.Logger) *RecordHandler {
	return &RecordHandler{service: s, logger: logger.Named("records-api")}
}

type recordResponse struct {
	Record *domain.MedicalRecord `json:"record"`
}

type recordsResponse struct {
	Records []domain.MedicalRecord `json:"records"`
}

// List: 401 -> 200. Набор записей зависит от роли, 403 здесь не бывает.
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	who, _ := auth.IdentityFrom(r.Context())
	records, err := h.service.List(r.Context(), who)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordsResponse{Records: records})
}

// Create: 401 (RequireIdentity) -> 403 -> 400 -> 201.
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	who, _ := auth.IdentityFrom(r.Context())
	if err := h.service.AuthorizeCreate(r.Context(), who); err != nil {
		h.fail(w, r, err)
		return
	}

	var in domain.RecordInput
	if !decodeAndValidate(w, r, &in) {
		return
	}

	rec, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordResponse{Record: rec})
}

// Get: 401 -> 404 -> 403 -> 200.
func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.authorize(w, r, domain.ActionRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{Record: rec})
}

// Update: 401 -> 404 -> 403 -> 400 -> 200.
func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.authorize(w, r, domain.ActionUpdate)
	if !ok {
		return
	}

	var in domain.RecordInput
	if !decodeAndValidate(w, r, &in) {
		return
	}

	updated, err := h.service.Update(r.Context(), rec.ID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{Record: updated})
}

// Delete: 401 -> 404 -> 403 -> 204.
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.authorize(w, r, domain.ActionDelete)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), rec.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RecordHandler) authorize(w http.ResponseWriter, r *http.Request, action domain.Action) (*domain.MedicalRecord, bool) {
	who, _ := auth.IdentityFrom(r.Context())
	rec, err := h.service.Authorize(r.Context(), who, action, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return rec, true
}

// fail переводит ошибки сервиса в HTTP-статусы.
func (h *RecordHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "record not found")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "permission denied")
	default:
		h.logger.Error("record operation failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
