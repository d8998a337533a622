package server

import (
	"net/http"

	"github.com/alfredjeanlab/panels/internal/model"
)

// handleListDashboards handles GET /api/dashboards. ?path= looks up a single
// dashboard by its path; ?owner=me restricts the list to the caller's own.
func (s *PanelsServer) handleListDashboards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if path := q.Get("path"); path != "" {
		d, err := s.store.GetDashboardByPath(r.Context(), path)
		if err != nil {
			writeFailure(w, r, err, "dashboard")
			return
		}
		writeJSON(w, http.StatusOK, d)
		return
	}

	owner := q.Get("owner")
	if owner == "me" {
		owner = actor(r)
		if owner == "" {
			writeJSON(w, http.StatusOK, []*model.Dashboard{})
			return
		}
	}
	list, err := s.store.ListDashboards(r.Context(), owner)
	if err != nil {
		writeFailure(w, r, err, "dashboard")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// handleCreateDashboard handles POST /api/dashboards.
func (s *PanelsServer) handleCreateDashboard(w http.ResponseWriter, r *http.Request) {
	var in dashboardInput
	if !decodeBody(w, r, &in) {
		return
	}
	d, err := s.createDashboard(r.Context(), in, actor(r))
	if err != nil {
		writeFailure(w, r, err, "dashboard")
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// handleGetDashboard handles GET /api/dashboards/{id}.
func (s *PanelsServer) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDashboard(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, err, "dashboard")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleUpdateDashboard handles PUT /api/dashboards/{id}.
func (s *PanelsServer) handleUpdateDashboard(w http.ResponseWriter, r *http.Request) {
	var in dashboardInput
	if !decodeBody(w, r, &in) {
		return
	}
	d, err := s.updateDashboard(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeFailure(w, r, err, "dashboard")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDashboard handles DELETE /api/dashboards/{id}.
func (s *PanelsServer) handleDeleteDashboard(w http.ResponseWriter, r *http.Request) {
	if err := s.deleteDashboard(r.Context(), r.PathValue("id")); err != nil {
		writeFailure(w, r, err, "dashboard")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAttachComponent handles POST /api/dashboards/{id}/components.
func (s *PanelsServer) handleAttachComponent(w http.ResponseWriter, r *http.Request) {
	var in attachInput
	if !decodeBody(w, r, &in) {
		return
	}
	d, err := s.attachComponent(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeFailure(w, r, err, "dashboard or component")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDetachComponent handles DELETE /api/dashboards/{id}/components/{componentId}.
func (s *PanelsServer) handleDetachComponent(w http.ResponseWriter, r *http.Request) {
	if err := s.detachComponent(r.Context(), r.PathValue("id"), r.PathValue("componentId")); err != nil {
		writeFailure(w, r, err, "dashboard component")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
