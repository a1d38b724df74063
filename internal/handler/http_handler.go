package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/middleware"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// HTTPHandler exposes the approval workflow engine over HTTP/JSON.
type HTTPHandler struct {
	engine    *service.WorkflowEngine
	registry  *service.TemplateRegistry
	evaluator service.ActivationEvaluator
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	engine *service.WorkflowEngine,
	registry *service.TemplateRegistry,
	evaluator service.ActivationEvaluator,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		engine:    engine,
		registry:  registry,
		evaluator: evaluator,
		log:       log,
	}
}

// Register mounts all routes on the router.
func (h *HTTPHandler) Register(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/workflows", h.CreateWorkflow).Methods(http.MethodPost)
	api.HandleFunc("/workflows", h.ListWorkflows).Methods(http.MethodGet)
	api.HandleFunc("/workflows/{id}", h.GetWorkflow).Methods(http.MethodGet)
	api.HandleFunc("/workflows/{id}/audit", h.GetAuditTrail).Methods(http.MethodGet)
	api.HandleFunc("/workflows/{id}/approve", h.ApproveStep).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{id}/reject", h.RejectWorkflow).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{id}/cancel", h.CancelWorkflow).Methods(http.MethodPost)
	api.HandleFunc("/approvals/pending", h.PendingApprovals).Methods(http.MethodGet)
	api.HandleFunc("/templates", h.ListTemplates).Methods(http.MethodGet)
	api.HandleFunc("/templates/check", h.CheckActivation).Methods(http.MethodGet)
	api.HandleFunc("/templates/{id}", h.GetTemplate).Methods(http.MethodGet)
}

// CreateWorkflow handles workflow creation requests.
func (h *HTTPHandler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		h.writeError(w, errors.Unauthorized("missing caller identity"))
		return
	}

	var req service.CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	req.CreatedBy = principal.UserID
	if req.CompanyID == "" {
		req.CompanyID = principal.CompanyID
	}

	wf, err := h.engine.CreateWorkflow(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, wf)
}

// GetWorkflow returns one workflow with its steps.
func (h *HTTPHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.engine.GetWorkflow(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wf)
}

// ListWorkflows returns all workflows for the caller's company.
func (h *HTTPHandler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		if principal, ok := middleware.PrincipalFrom(r.Context()); ok {
			companyID = principal.CompanyID
		}
	}
	if companyID == "" {
		h.writeError(w, errors.InvalidInput("company_id", "company id is required"))
		return
	}

	workflows, err := h.engine.GetWorkflowsByCompany(r.Context(), companyID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"workflows": workflows,
		"total":     len(workflows),
	})
}

// GetAuditTrail returns the audit log for a workflow.
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	trail, err := h.engine.GetAuditTrail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": trail})
}

type actionRequest struct {
	StepNumber int     `json:"step_number,omitempty"`
	Comments   *string `json:"comments,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// ApproveStep records an approval of the workflow's current step.
func (h *HTTPHandler) ApproveStep(w http.ResponseWriter, r *http.Request) {
	action, err := h.decodeAction(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	wf, err := h.engine.Approve(r.Context(), action)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wf)
}

// RejectWorkflow records a rejection, terminating the workflow.
func (h *HTTPHandler) RejectWorkflow(w http.ResponseWriter, r *http.Request) {
	action, err := h.decodeAction(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	wf, err := h.engine.Reject(r.Context(), action)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wf)
}

// CancelWorkflow lets the creator withdraw a pending workflow.
func (h *HTTPHandler) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		h.writeError(w, errors.Unauthorized("missing caller identity"))
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	wf, err := h.engine.Cancel(r.Context(), mux.Vars(r)["id"], principal.UserID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wf)
}

// PendingApprovals returns every workflow awaiting a decision from the caller.
func (h *HTTPHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		h.writeError(w, errors.Unauthorized("missing caller identity"))
		return
	}

	workflows, err := h.engine.GetPendingApprovalsForUser(r.Context(), principal.UserID, principal.Roles)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"workflows": workflows,
		"total":     len(workflows),
	})
}

// ListTemplates returns the template catalog, optionally filtered by entity type.
func (h *HTTPHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entity_type")
	var templates []*service.WorkflowTemplate
	if entityType != "" {
		templates = h.registry.GetTemplatesByEntityType(repository.EntityType(entityType))
	} else {
		templates = h.registry.Templates()
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

// GetTemplate returns one template by id.
func (h *HTTPHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl := h.registry.GetTemplateByID(mux.Vars(r)["id"])
	if tpl == nil {
		h.writeError(w, errors.NotFound("workflow_template", mux.Vars(r)["id"]))
		return
	}
	h.writeJSON(w, http.StatusOK, tpl)
}

// CheckActivation answers whether an operation needs an approval workflow.
func (h *HTTPHandler) CheckActivation(w http.ResponseWriter, r *http.Request) {
	entityType := repository.EntityType(r.URL.Query().Get("entity_type"))
	if !repository.ValidEntityType(entityType) {
		h.writeError(w, errors.InvalidInput("entity_type", "unknown entity type"))
		return
	}

	var amount *int64
	if raw := r.URL.Query().Get("amount"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, errors.InvalidInput("amount", "must be an integer amount in cents"))
			return
		}
		amount = &parsed
	}

	var roles []string
	if principal, ok := middleware.PrincipalFrom(r.Context()); ok {
		roles = principal.Roles
	}

	h.writeJSON(w, http.StatusOK, h.evaluator.IsWorkflowRequired(entityType, amount, roles))
}

// ── response helpers ─────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response body")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeValidation:
		status = http.StatusBadRequest
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeConflict:
		status = http.StatusConflict
	case errors.ErrCodeUnauthorized:
		status = http.StatusForbidden
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  string(code),
		"error": err.Error(),
	})
}

func (h *HTTPHandler) decodeAction(r *http.Request) (*service.ApprovalAction, error) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		return nil, errors.Unauthorized("missing caller identity")
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.InvalidInput("body", "invalid request body")
	}

	return &service.ApprovalAction{
		WorkflowID: mux.Vars(r)["id"],
		StepNumber: req.StepNumber,
		UserID:     principal.UserID,
		Roles:      principal.Roles,
		Comments:   req.Comments,
		Reason:     req.Reason,
	}, nil
}
