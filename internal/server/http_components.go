package server

import (
	"net/http"

	"github.com/alfredjeanlab/panels/internal/model"
)

// handleListTypes handles GET /api/types.
func (s *PanelsServer) handleListTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, model.Schemas())
}

// handleListComponents handles GET /api/{type}.
func (s *PanelsServer) handleListComponents(w http.ResponseWriter, r *http.Request) {
	kind, ok := componentKind(w, r)
	if !ok {
		return
	}
	list, err := s.store.ListComponents(r.Context(), kind)
	if err != nil {
		writeFailure(w, r, err, "component")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// handleCreateComponent handles POST /api/{type}.
func (s *PanelsServer) handleCreateComponent(w http.ResponseWriter, r *http.Request) {
	kind, ok := componentKind(w, r)
	if !ok {
		return
	}
	var in createComponentInput
	if !decodeBody(w, r, &in) {
		return
	}
	c, err := s.createComponent(r.Context(), kind, in, actor(r))
	if err != nil {
		writeFailure(w, r, err, "component")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// handleGetComponent handles GET /api/{type}/{id}.
func (s *PanelsServer) handleGetComponent(w http.ResponseWriter, r *http.Request) {
	kind, ok := componentKind(w, r)
	if !ok {
		return
	}
	c, err := s.store.GetComponent(r.Context(), kind, r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, err, "component")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleUpdateComponent handles PUT /api/{type}/{id}.
func (s *PanelsServer) handleUpdateComponent(w http.ResponseWriter, r *http.Request) {
	kind, ok := componentKind(w, r)
	if !ok {
		return
	}
	var in updateComponentInput
	if !decodeBody(w, r, &in) {
		return
	}
	c, err := s.updateComponent(r.Context(), kind, r.PathValue("id"), in)
	if err != nil {
		writeFailure(w, r, err, "component")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleDeleteComponent handles DELETE /api/{type}/{id}.
func (s *PanelsServer) handleDeleteComponent(w http.ResponseWriter, r *http.Request) {
	kind, ok := componentKind(w, r)
	if !ok {
		return
	}
	if err := s.deleteComponent(r.Context(), kind, r.PathValue("id")); err != nil {
		writeFailure(w, r, err, "component")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetPosition handles PUT /api/attributes/{type}/{id}/position.
func (s *PanelsServer) handleSetPosition(w http.ResponseWriter, r *http.Request) {
	kind, ok := componentKind(w, r)
	if !ok {
		return
	}
	var in positionInput
	if !decodeBody(w, r, &in) {
		return
	}
	c, err := s.setPosition(r.Context(), kind, r.PathValue("id"), in)
	if err != nil {
		writeFailure(w, r, err, "component")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleSetSize handles PUT /api/attributes/{type}/{id}/size.
func (s *PanelsServer) handleSetSize(w http.ResponseWriter, r *http.Request) {
	kind, ok := componentKind(w, r)
	if !ok {
		return
	}
	var in sizeInput
	if !decodeBody(w, r, &in) {
		return
	}
	c, err := s.setSize(r.Context(), kind, r.PathValue("id"), in)
	if err != nil {
		writeFailure(w, r, err, "component")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleAddMapIcon handles POST /api/maps/{mapId}/icons.
func (s *PanelsServer) handleAddMapIcon(w http.ResponseWriter, r *http.Request) {
	var in mapIconInput
	if !decodeBody(w, r, &in) {
		return
	}
	c, err := s.addMapIcon(r.Context(), r.PathValue("mapId"), in)
	if err != nil {
		writeFailure(w, r, err, "map")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// handleRemoveMapIcon handles DELETE /api/maps/{mapId}/icons. The icon id is
// taken from ?id= or from a {"id": ...} body.
func (s *PanelsServer) handleRemoveMapIcon(w http.ResponseWriter, r *http.Request) {
	iconID := r.URL.Query().Get("id")
	if iconID == "" && r.ContentLength != 0 {
		var in struct {
			ID string `json:"id"`
		}
		if !decodeBody(w, r, &in) {
			return
		}
		iconID = in.ID
	}
	c, err := s.removeMapIcon(r.Context(), r.PathValue("mapId"), iconID)
	if err != nil {
		writeFailure(w, r, err, "icon")
		return
	}
	writeJSON(w, http.StatusOK, c)
}
