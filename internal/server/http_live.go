package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/panels/internal/model"
	"github.com/alfredjeanlab/panels/internal/presence"
)

func liveType(w http.ResponseWriter, r *http.Request) (model.LiveType, bool) {
	t := model.LiveType(r.PathValue("type"))
	if !t.IsValid() {
		writeError(w, http.StatusNotFound, "unknown live type")
		return "", false
	}
	return t, true
}

// handleLivePresence handles GET /api/live/presence. ?stale_secs= hides
// senders quiet for longer than that many seconds; ?target= keeps only
// senders that recently addressed that widget.
func (s *PanelsServer) handleLivePresence(w http.ResponseWriter, r *http.Request) {
	var stale time.Duration
	if v := r.URL.Query().Get("stale_secs"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "stale_secs must be a non-negative integer")
			return
		}
		stale = time.Duration(n) * time.Second
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sockets": s.live.count(),
		"senders": s.Presence.Roster(presence.Query{Stale: stale, Target: r.URL.Query().Get("target")}),
	})
}

// handleLiveSenders handles GET /api/live/{type}.
func (s *PanelsServer) handleLiveSenders(w http.ResponseWriter, r *http.Request) {
	t, ok := liveType(w, r)
	if !ok {
		return
	}
	senders, err := s.history.Senders(r.Context(), t)
	if err != nil {
		writeFailure(w, r, err, "live history")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(senders))
}

// handleLiveHistory handles GET /api/live/{type}/{sender}.
func (s *PanelsServer) handleLiveHistory(w http.ResponseWriter, r *http.Request) {
	t, ok := liveType(w, r)
	if !ok {
		return
	}
	evs, err := s.history.Recent(r.Context(), t, r.PathValue("sender"))
	if err != nil {
		writeFailure(w, r, err, "live history")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(evs))
}

// handleLiveClear handles DELETE /api/live/{type}.
func (s *PanelsServer) handleLiveClear(w http.ResponseWriter, r *http.Request) {
	t, ok := liveType(w, r)
	if !ok {
		return
	}
	if err := s.ClearLive(r.Context(), t); err != nil {
		writeFailure(w, r, err, "live history")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
