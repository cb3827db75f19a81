package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"cubechat/internal/app"
	"cubechat/pkg/domain"
	"cubechat/pkg/store"
)

func (s *Server) handleCubes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cubes, err := s.app.ActiveCubes(r.Context())
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cubes)
	case http.MethodPost:
		var input app.CubeInput
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		user, ok := s.resolveIdentity(w, r)
		if !ok {
			return
		}
		cube, err := s.app.CreateCube(r.Context(), user, input)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, cube)
	default:
		methodNotAllowed(w)
	}
}

// /api/cubes/{id}, /api/cubes/{id}/stats, /api/cubes/{id}/layout
func (s *Server) handleCubeSubpath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/cubes/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		switch parts[1] {
		case "stats":
			writeJSON(w, http.StatusOK, s.app.CubeStatsOf(r.Context(), id))
		case "layout":
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			positioned, err := s.app.CubeLayout(r.Context(), id, limit)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, positioned)
		default:
			notFound(w, "not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		cube, err := s.app.CubeByID(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cube)
	case http.MethodPatch:
		var update struct {
			Name        *string  `json:"name"`
			Description *string  `json:"description"`
			Color       *string  `json:"color"`
			Opacity     *float64 `json:"opacity"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&update); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		cube, err := s.app.UpdateCube(r.Context(), id, store.CubeUpdate{
			Name:        update.Name,
			Description: update.Description,
			Color:       update.Color,
			Opacity:     update.Opacity,
		})
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cube)
	case http.MethodDelete:
		if err := s.app.RemoveCube(r.Context(), id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// handleImport turns selected GitHub repositories into cubes. The repository
// payload comes from the client's selection out of GET /api/github/repos.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, session domain.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	owner, ok := s.resolveIdentity(w, r)
	if !ok {
		return
	}
	var req struct {
		Repos []importRepo `json:"repos"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Repos) == 0 {
		writeError(w, http.StatusBadRequest, "repos are required")
		return
	}
	cubes, err := s.app.ImportRepositories(r.Context(), owner, toGithubRepos(req.Repos))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cubes)
}
