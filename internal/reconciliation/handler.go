package reconciliation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockrecon/internal/platform/httpx"
	"github.com/odyssey-erp/stockrecon/internal/shared"
	"github.com/odyssey-erp/stockrecon/jobs"
)

const (
	// HeaderTenantID carries the tenant every request is scoped to.
	HeaderTenantID = "X-Tenant-ID"
	// HeaderActorID optionally identifies the user performing the request.
	HeaderActorID = "X-Actor-ID"
	// HeaderIdempotencyKey de-duplicates apply submissions.
	HeaderIdempotencyKey = "Idempotency-Key"

	idempotencyModule = "reconciliation.apply"
)

// IdempotencyPort de-duplicates apply submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, tenantID uuid.UUID, key, module string) error
	Delete(ctx context.Context, tenantID uuid.UUID, key, module string) error
}

// ScanEnqueuer submits background scans. *jobs.Client satisfies it.
type ScanEnqueuer interface {
	EnqueueReconciliationScan(ctx context.Context, payload jobs.ReconciliationScanPayload) (*asynq.TaskInfo, error)
}

// Handler wires HTTP endpoints for reconciliation.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency IdempotencyPort
	scans       ScanEnqueuer
	applyLimit  int
	exporters   map[string]exporter
}

// exporter renders items for one export format.
type exporter struct {
	contentType string
	filename    string
	write       func(io.Writer, []Item) error
}

func defaultExporters() map[string]exporter {
	return map[string]exporter{
		"csv":  {contentType: "text/csv", filename: "reconciliation.csv", write: WriteCSV},
		"xlsx": {contentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", filename: "reconciliation.xlsx", write: WriteXLSX},
	}
}

// HandlerConfig groups optional handler dependencies.
type HandlerConfig struct {
	Idempotency IdempotencyPort
	Scans       ScanEnqueuer
	// ApplyPerMinute caps apply calls per tenant. Zero disables the limit.
	ApplyPerMinute int
}

// NewHandler constructs reconciliation handler.
func NewHandler(logger *slog.Logger, service *Service, cfg HandlerConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		idempotency: cfg.Idempotency,
		scans:       cfg.Scans,
		applyLimit:  cfg.ApplyPerMinute,
		exporters:   defaultExporters(),
	}
}

// MountRoutes registers reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(requirePrincipal)
	r.Post("/run", h.handleRun)
	r.Get("/export", h.handleExport)
	r.Post("/scan", h.handleScan)
	r.Group(func(r chi.Router) {
		if h.applyLimit > 0 {
			r.Use(httprate.Limit(h.applyLimit, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
				return r.Header.Get(HeaderTenantID), nil
			})))
		}
		r.Post("/apply", h.handleApply)
	})
}

func requirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := principalFromRequest(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
	})
}

func principalFromRequest(r *http.Request) (shared.Principal, error) {
	raw := r.Header.Get(HeaderTenantID)
	if raw == "" {
		return shared.Principal{}, fmt.Errorf("%w: %w", httpx.ErrValidation, shared.ErrTenantMissing)
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil || tenantID == uuid.Nil {
		return shared.Principal{}, fmt.Errorf("%w: %w", httpx.ErrValidation, shared.ErrTenantInvalid)
	}
	p := shared.Principal{TenantID: tenantID}
	if rawActor := r.Header.Get(HeaderActorID); rawActor != "" {
		actorID, err := uuid.Parse(rawActor)
		if err != nil {
			return shared.Principal{}, fmt.Errorf("%w: %w", httpx.ErrValidation, shared.ErrActorInvalid)
		}
		p.ActorID = actorID
	}
	return p, nil
}

func principal(r *http.Request) shared.Principal {
	p, _ := shared.PrincipalFromContext(r.Context())
	return p
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	var dto runRequestDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.RespondError(w, err)
		return
	}
	req, err := dto.toRequest()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp, err := h.service.Reconcile(r.Context(), principal(r).TenantID, req)
	if err != nil {
		h.respondServiceError(w, r, "reconciliation run", err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	exp, ok := h.exporters[format]
	if !ok {
		httpx.RespondError(w, &ValidationError{Field: "format", Message: "must be csv or xlsx"})
		return
	}
	dto, err := runRequestFromQuery(r.URL.Query())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := dto.toRequest()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp, err := h.service.Reconcile(r.Context(), principal(r).TenantID, req)
	if err != nil {
		h.respondServiceError(w, r, "reconciliation export", err)
		return
	}

	// Render fully before the status is sent so a failure still yields a problem response.
	var buf bytes.Buffer
	if err := exp.write(&buf, resp.Items); err != nil {
		h.respondServiceError(w, r, "reconciliation export "+format, err)
		return
	}
	w.Header().Set("Content-Type", exp.contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+exp.filename)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("write export", slog.String("format", format), slog.Any("error", err))
	}
}

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	var dto applyRequestDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req := dto.toRequest(p.ActorID)
	if err := h.service.ValidateApply(req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	key := r.Header.Get(HeaderIdempotencyKey)
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), p.TenantID, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrDuplicate, err))
				return
			}
			h.respondServiceError(w, r, "idempotency check", err)
			return
		}
	}
	release := func() {
		if key == "" || h.idempotency == nil {
			return
		}
		if err := h.idempotency.Delete(context.WithoutCancel(r.Context()), p.TenantID, key, idempotencyModule); err != nil {
			h.logger.Warn("idempotency release", slog.Any("error", err))
		}
	}

	result, err := h.service.Apply(r.Context(), p.TenantID, req)
	if err != nil {
		release()
		h.respondServiceError(w, r, "reconciliation apply", err)
		return
	}
	if !result.Success {
		release()
		httpx.JSON(w, http.StatusConflict, result)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type scanAccepted struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	if h.scans == nil {
		httpx.RespondError(w, fmt.Errorf("%w: background scans disabled", httpx.ErrUnavailable))
		return
	}
	var dto scanRequestDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.RespondError(w, err)
		return
	}
	if dto.Threshold != nil {
		if err := validateThreshold(*dto.Threshold); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	info, err := h.scans.EnqueueReconciliationScan(r.Context(), jobs.ReconciliationScanPayload{
		TenantID:     principal(r).TenantID,
		WarehouseID:  dto.WarehouseID,
		Threshold:    dto.Threshold,
		ScheduledFor: time.Now().UTC(),
	})
	if err != nil {
		h.respondServiceError(w, r, "enqueue reconciliation scan", err)
		return
	}
	out := scanAccepted{Queue: jobs.QueueDefault}
	if info != nil {
		out.TaskID = info.ID
		out.Queue = info.Queue
	}
	httpx.JSON(w, http.StatusAccepted, out)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := httpx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
