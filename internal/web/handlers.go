package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/vmelnik/intraday_position_engine/internal/domain"
	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.engine.Stats())
}

func (s *Server) handleActivePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.engine.ActivePositions())
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid position id", http.StatusBadRequest)
		return
	}

	pos, err := s.positions.GetPosition(r.Context(), domain.PositionID(id))
	if err != nil {
		if errors.Is(err, domain.ErrPositionNotFound) {
			http.Error(w, "position not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to load position", zap.Int64("id", id), zap.Error(err))
		http.Error(w, "failed to load position", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, pos)
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.groups.ListGroups(r.Context())
	if err != nil {
		s.logger.Error("failed to list groups", zap.Error(err))
		http.Error(w, "failed to list groups", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, groups)
}

func (s *Server) handleGroupPositions(w http.ResponseWriter, r *http.Request) {
	no, err := strconv.Atoi(mux.Vars(r)["no"])
	if err != nil {
		http.Error(w, "invalid group number", http.StatusBadRequest)
		return
	}

	group, err := s.groups.GetGroupByNo(r.Context(), domain.GroupNo(no))
	if err != nil {
		if errors.Is(err, domain.ErrGroupNotFound) {
			http.Error(w, "group not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to load group", zap.Int("group_no", no), zap.Error(err))
		http.Error(w, "failed to load group", http.StatusInternalServerError)
		return
	}

	positions, err := s.positions.ListPositionsByGroup(r.Context(), group.RowID)
	if err != nil {
		s.logger.Error("failed to list group positions", zap.Int("group_no", no), zap.Error(err))
		http.Error(w, "failed to list positions", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, positions)
}
