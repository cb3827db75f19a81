package server

import (
	"net/http"
	"strconv"
	"strings"

	"cubechat/pkg/domain"
	"cubechat/pkg/github"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, err := s.app.LoginURL(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sign-in unavailable")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	token, err := s.app.HandleCallback(r.Context(), code, r.URL.Query().Get("state"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(r.Context(), token); err != nil {
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRepos(w http.ResponseWriter, r *http.Request, session domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	repos, err := s.app.Repositories(r.Context(), session)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

// /api/github/repos/{owner}/{repo}/commits
func (s *Server) handleRepoSubpath(w http.ResponseWriter, r *http.Request, session domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/github/repos/")
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[2] != "commits" || parts[0] == "" || parts[1] == "" {
		notFound(w, "not found")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	commits, err := s.app.RepositoryCommits(r.Context(), session, parts[0], parts[1], page, perPage)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commits)
}

// importRepo is the subset of repository fields the import endpoint accepts
// from the client, mirroring the GitHub listing payload.
type importRepo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	HTMLURL     string `json:"html_url"`
	Language    string `json:"language"`
	Owner       struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func toGithubRepos(in []importRepo) []github.Repo {
	out := make([]github.Repo, 0, len(in))
	for _, r := range in {
		out = append(out, github.Repo{
			ID:          r.ID,
			Name:        r.Name,
			FullName:    r.FullName,
			Description: r.Description,
			HTMLURL:     r.HTMLURL,
			Language:    r.Language,
			Owner:       github.Owner{Login: r.Owner.Login},
		})
	}
	return out
}
