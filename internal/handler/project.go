package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/teamspace/internal/apperror"
	"github.com/sakif/teamspace/internal/model"
	"github.com/sakif/teamspace/internal/service"
)

// ProjectHandler serves projects, their members and their tasks.
//
// Every route here sits behind the authenticator. Authorization (member,
// admin or owner) is decided by the services, so a handler only parses
// path/query/body and forwards.
type ProjectHandler struct {
	projects *service.ProjectService
	tasks    *service.TaskService
	validate *Validator
	respond  *Responder
	logger   *slog.Logger
}

func NewProjectHandler(
	projects *service.ProjectService,
	tasks *service.TaskService,
	validate *Validator,
	respond *Responder,
	logger *slog.Logger,
) *ProjectHandler {
	return &ProjectHandler{
		projects: projects,
		tasks:    tasks,
		validate: validate,
		respond:  respond,
		logger:   logger,
	}
}

type projectRequest struct {
	Name        string `json:"name"        validate:"required,max=100"`
	Description string `json:"description" validate:"max=2000"`
}

type projectPatchRequest struct {
	Name        *string `json:"name"        validate:"omitempty,max=100"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

type memberRequest struct {
	UserID string `json:"userId" validate:"required"`
	Role   string `json:"role"   validate:"required,oneof=admin member guest viewer"`
}

type taskRequest struct {
	Title       string `json:"title"       validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
	AssigneeID  string `json:"assigneeId"`
}

type taskPatchRequest struct {
	Title      *string `json:"title"      validate:"omitempty,max=200"`
	Status     *string `json:"status"     validate:"omitempty,oneof=todo in_progress done"`
	AssigneeID *string `json:"assigneeId"`
}

// pagination reads ?limit=&offset=. Missing values are zero; the service
// applies defaults and caps.
func pagination(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			return 0, 0, apperror.ValidationFailed("limit", "limit must be a non-negative integer")
		}
	}
	if s := q.Get("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			return 0, 0, apperror.ValidationFailed("offset", "offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// =========================================================================
// PROJECTS
// =========================================================================

// HandleCreate creates a project owned by the caller.
//
// HTTP: POST /projects → 201 + project
func (h *ProjectHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := h.validate.decodeJSON(w, r, &req, false); err != nil {
		h.respond.Error(w, r, err)
		return
	}
	project, err := h.projects.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

// HandleList returns the caller's projects.
//
// HTTP: GET /projects?limit=20&offset=0
func (h *ProjectHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	projects, err := h.projects.List(r.Context(), limit, offset)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// HandleGet returns one project.
//
// HTTP: GET /projects/{id}
//
// URL PARAMETERS:
// chi.URLParam reads the {id} segment matched by the router.
func (h *ProjectHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	project, err := h.projects.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// HandleUpdate renames a project or changes its description. Absent fields
// are kept; "description": "" clears it.
//
// HTTP: PUT /projects/{id} (admin/owner)
func (h *ProjectHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req projectPatchRequest
	if err := h.validate.decodeJSON(w, r, &req, false); err != nil {
		h.respond.Error(w, r, err)
		return
	}
	patch := service.ProjectPatch{Name: req.Name, Description: req.Description}
	project, err := h.projects.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// HandleDelete removes a project with its members and tasks.
//
// HTTP: DELETE /projects/{id} (admin/owner) → 204
func (h *ProjectHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.projects.Delete(r.Context(), id); err != nil {
		h.respond.Error(w, r, err)
		return
	}
	h.logger.Info("project deleted", slog.String("projectID", id))
	w.WriteHeader(http.StatusNoContent)
}

// =========================================================================
// MEMBERS
// =========================================================================

// HandleListMembers returns the project's membership rows.
//
// HTTP: GET /projects/{id}/members
func (h *ProjectHandler) HandleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.projects.ListMembers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// HandleAddMember adds a user to the project or changes their role.
//
// HTTP: POST /projects/{id}/members (admin/owner)
func (h *ProjectHandler) HandleAddMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := h.validate.decodeJSON(w, r, &req, false); err != nil {
		h.respond.Error(w, r, err)
		return
	}
	member, err := h.projects.AddMember(r.Context(), chi.URLParam(r, "id"), req.UserID, model.ProjectRole(req.Role))
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

// HandleRemoveMember drops a membership.
//
// HTTP: DELETE /projects/{id}/members/{userId} (admin/owner) → 204
func (h *ProjectHandler) HandleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := h.projects.RemoveMember(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userId")); err != nil {
		h.respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =========================================================================
// TASKS
// =========================================================================

// HandleListTasks returns a page of the project's tasks.
//
// HTTP: GET /projects/{id}/tasks?limit=&offset=
func (h *ProjectHandler) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	tasks, err := h.tasks.List(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// HandleCreateTask adds a task to the project.
//
// HTTP: POST /projects/{id}/tasks (admin/owner) → 201
func (h *ProjectHandler) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := h.validate.decodeJSON(w, r, &req, false); err != nil {
		h.respond.Error(w, r, err)
		return
	}
	task, err := h.tasks.Create(r.Context(), chi.URLParam(r, "id"), req.Title, req.Description, req.AssigneeID)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// HandleUpdateTask changes a task's title, status or assignee.
//
// HTTP: PATCH /projects/{id}/tasks/{taskId} (admin/owner)
func (h *ProjectHandler) HandleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req taskPatchRequest
	if err := h.validate.decodeJSON(w, r, &req, false); err != nil {
		h.respond.Error(w, r, err)
		return
	}

	patch := service.TaskPatch{Title: req.Title, AssigneeID: req.AssigneeID}
	if req.Status != nil {
		status := model.TaskStatus(*req.Status)
		patch.Status = &status
	}

	task, err := h.tasks.Update(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "taskId"), patch)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
