// Package app is the core application service: it wires the persistence
// layer, realtime feed, activity recorder and GitHub integration behind the
// operations the HTTP surface exposes.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"

	"cubechat/internal/util"
	"cubechat/pkg/activity"
	"cubechat/pkg/domain"
	"cubechat/pkg/github"
	"cubechat/pkg/layout"
	"cubechat/pkg/realtime"
	"cubechat/pkg/store"
)

const (
	defaultMessageLimit = 50
	onlineWindow        = 5 * time.Minute
	oauthStatePrefix    = "cubechat:oauth:state:"
	oauthStateTTL       = 10 * time.Minute

	defaultCubeColor   = "#ffffff"
	defaultCubeOpacity = 0.3
)

// languageColors maps a repository's primary language to a cube color.
// Unknown languages fall back to the default.
var languageColors = map[string]string{
	"Go":         "#00add8",
	"TypeScript": "#3178c6",
	"JavaScript": "#f1e05a",
	"Python":     "#3572a5",
	"Rust":       "#dea584",
	"Ruby":       "#701516",
	"Java":       "#b07219",
	"C":          "#555555",
	"C++":        "#f34b7d",
}

// Config holds runtime configuration for the core application.
type Config struct {
	Store    store.Store
	Feed     *realtime.Feed
	Activity activity.Recorder
	Sessions *store.SessionStore
	GitHub   *github.Client
	Redis    *redis.Client
	Layout   *layout.Engine

	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string
}

// App is the core application service.
type App struct {
	store    store.Store
	feed     *realtime.Feed
	activity activity.Recorder
	sessions *store.SessionStore
	github   *github.Client
	redis    *redis.Client
	layout   *layout.Engine
	oauth    *oauth2.Config
}

// New constructs the application from pre-built collaborators.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Activity == nil {
		cfg.Activity = activity.NewStoreRecorder(cfg.Store)
	}
	if cfg.Layout == nil {
		cfg.Layout = layout.New(layout.DefaultConfig())
	}
	var oauthCfg *oauth2.Config
	if cfg.GitHubClientID != "" {
		oauthCfg = &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.GitHubRedirectURL,
			Scopes:       []string{"read:user", "repo"},
			Endpoint:     oauthgithub.Endpoint,
		}
	}
	return &App{
		store:    cfg.Store,
		feed:     cfg.Feed,
		activity: cfg.Activity,
		sessions: cfg.Sessions,
		github:   cfg.GitHub,
		redis:    cfg.Redis,
		layout:   cfg.Layout,
		oauth:    oauthCfg,
	}, nil
}

// SendMessage stores a message for the given user and returns the row joined
// with author nickname and cube metadata. Cube resolution order: the explicit
// cube, else the parent message's cube, else the default cube.
func (a *App) SendMessage(ctx context.Context, user domain.User, content, parentID, cubeID string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, ErrEmptyContent
	}
	if parentID != "" {
		parent, found, err := a.store.MessageByID(ctx, parentID)
		if err != nil {
			return domain.Message{}, fmt.Errorf("load parent message: %w", err)
		}
		if !found || parent.Deleted {
			return domain.Message{}, ErrMessageNotFound
		}
		if cubeID == "" {
			cubeID = parent.CubeID
		}
	}
	if cubeID == "" {
		cube, err := a.DefaultCube(ctx)
		if err != nil {
			return domain.Message{}, err
		}
		cubeID = cube.ID
	} else if _, err := a.CubeByID(ctx, cubeID); err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		CubeID:    cubeID,
		ParentID:  parentID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.InsertMessage(ctx, msg); err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	stored, found, err := a.store.MessageByID(ctx, msg.ID)
	if err != nil || !found {
		// Inserted but the joined read failed; serve the bare row.
		stored = msg
	}

	logger := util.LoggerFromContext(ctx)
	if a.feed != nil {
		if err := a.feed.PublishMessage(ctx, stored); err != nil {
			logger.Warn("publish message event", "error", err, "message_id", stored.ID)
		}
	}
	if err := a.activity.Record(ctx, user.ID); err != nil {
		logger.Warn("record activity", "error", err, "user_id", user.ID)
	}
	return stored, nil
}

// RecentMessages lists non-deleted messages, newest first, optionally scoped
// to one cube.
func (a *App) RecentMessages(ctx context.Context, limit int, cubeID string) ([]domain.Message, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	return a.store.RecentMessages(ctx, limit, cubeID)
}

// MessagesForUser lists the user's own non-deleted messages, newest first.
func (a *App) MessagesForUser(ctx context.Context, user domain.User, cubeID string) ([]domain.Message, error) {
	return a.store.MessagesByUser(ctx, user.ID, cubeID)
}

// MessageReplies lists the direct children of a message, oldest first.
func (a *App) MessageReplies(ctx context.Context, messageID string) ([]domain.Message, error) {
	return a.store.Replies(ctx, messageID)
}

// RemoveMessage soft-deletes a message. The author guard sits in the update
// predicate; someone else's message id is a silent no-op.
func (a *App) RemoveMessage(ctx context.Context, user domain.User, messageID string) error {
	return a.store.SoftDeleteMessage(ctx, messageID, user.ID)
}

// SetNickname updates the user's display nickname.
func (a *App) SetNickname(ctx context.Context, user domain.User, nickname string) error {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return ErrEmptyNickname
	}
	return a.store.UpdateNickname(ctx, user.ID, nickname)
}

// OnlineUserCount counts users seen within the last five minutes. Failures
// degrade to zero.
func (a *App) OnlineUserCount(ctx context.Context) int {
	n, err := a.store.CountUsersActiveSince(ctx, time.Now().UTC().Add(-onlineWindow))
	if err != nil {
		util.LoggerFromContext(ctx).Warn("count online users", "error", err)
		return 0
	}
	return n
}

// CubeInput carries the caller-supplied fields for a new cube.
type CubeInput struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Color       string  `json:"color"`
	Opacity     float64 `json:"opacity"`
}

// ActiveCubes lists all active cubes ordered by position.
func (a *App) ActiveCubes(ctx context.Context) ([]domain.Cube, error) {
	return a.store.ActiveCubes(ctx)
}

// CubeByID returns one active cube.
func (a *App) CubeByID(ctx context.Context, id string) (domain.Cube, error) {
	cube, found, err := a.store.CubeByID(ctx, id)
	if err != nil {
		return domain.Cube{}, fmt.Errorf("load cube: %w", err)
	}
	if !found {
		return domain.Cube{}, ErrCubeNotFound
	}
	return cube, nil
}

// DefaultCube returns the cube at position zero, which catches messages sent
// without an explicit cube.
func (a *App) DefaultCube(ctx context.Context) (domain.Cube, error) {
	cube, found, err := a.store.CubeByPosition(ctx, 0)
	if err != nil {
		return domain.Cube{}, fmt.Errorf("load default cube: %w", err)
	}
	if !found {
		return domain.Cube{}, ErrNoDefaultCube
	}
	return cube, nil
}

// CreateCube stores a new cube at the next free position.
func (a *App) CreateCube(ctx context.Context, user domain.User, input CubeInput) (domain.Cube, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return domain.Cube{}, fmt.Errorf("name required")
	}
	color := input.Color
	if color == "" {
		color = defaultCubeColor
	}
	opacity := input.Opacity
	if opacity <= 0 {
		opacity = defaultCubeOpacity
	}
	position, err := a.nextPosition(ctx)
	if err != nil {
		return domain.Cube{}, err
	}
	now := time.Now().UTC()
	cube := domain.Cube{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Color:       color,
		Opacity:     opacity,
		Position:    position,
		Active:      true,
		OwnerUserID: user.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateCube(ctx, cube); err != nil {
		return domain.Cube{}, fmt.Errorf("create cube: %w", err)
	}
	a.publishCube(ctx, cube)
	return cube, nil
}

// UpdateCube applies a partial update to one cube.
func (a *App) UpdateCube(ctx context.Context, id string, update store.CubeUpdate) (domain.Cube, error) {
	if _, err := a.CubeByID(ctx, id); err != nil {
		return domain.Cube{}, err
	}
	cube, err := a.store.UpdateCube(ctx, id, update)
	if err != nil {
		return domain.Cube{}, fmt.Errorf("update cube: %w", err)
	}
	a.publishCube(ctx, cube)
	return cube, nil
}

// RemoveCube marks a cube inactive. Its messages stay in place but stop being
// listed through cube-scoped reads.
func (a *App) RemoveCube(ctx context.Context, id string) error {
	if _, err := a.CubeByID(ctx, id); err != nil {
		return err
	}
	return a.store.DeactivateCube(ctx, id)
}

// CubeStatsOf aggregates message and author counts for one cube. Failures
// degrade to zeros.
func (a *App) CubeStatsOf(ctx context.Context, id string) domain.CubeStats {
	stats, err := a.store.CubeStats(ctx, id)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("cube stats", "error", err, "cube_id", id)
		return domain.CubeStats{}
	}
	return stats
}

// ImportRepositories creates one cube per GitHub repository, colored by
// primary language, at sequential positions after the current maximum.
func (a *App) ImportRepositories(ctx context.Context, user domain.User, repos []github.Repo) ([]domain.Cube, error) {
	if len(repos) == 0 {
		return nil, nil
	}
	position, err := a.nextPosition(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	cubes := make([]domain.Cube, 0, len(repos))
	for i, repo := range repos {
		color, ok := languageColors[repo.Language]
		if !ok {
			color = defaultCubeColor
		}
		cube := domain.Cube{
			ID:          uuid.NewString(),
			Name:        repo.Name,
			Description: repo.Description,
			Color:       color,
			Opacity:     defaultCubeOpacity,
			Position:    position + i,
			Active:      true,
			OwnerUserID: user.ID,
			RepoID:      repo.ID,
			RepoOwner:   repo.Owner.Login,
			Language:    repo.Language,
			HTMLURL:     repo.HTMLURL,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := a.store.CreateCube(ctx, cube); err != nil {
			return cubes, fmt.Errorf("import repository %s: %w", repo.FullName, err)
		}
		a.publishCube(ctx, cube)
		cubes = append(cubes, cube)
	}
	return cubes, nil
}

// CubeLayout positions the cube's recent messages in space, oldest first so
// indexes stay stable as new messages arrive.
func (a *App) CubeLayout(ctx context.Context, cubeID string, limit int) ([]layout.Positioned, error) {
	if _, err := a.CubeByID(ctx, cubeID); err != nil {
		return nil, err
	}
	messages, err := a.RecentMessages(ctx, limit, cubeID)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return a.layout.PositionAll(messages), nil
}

func (a *App) nextPosition(ctx context.Context) (int, error) {
	max, ok, err := a.store.MaxCubePosition(ctx)
	if err != nil {
		return 0, fmt.Errorf("next cube position: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return max + 1, nil
}

func (a *App) publishCube(ctx context.Context, cube domain.Cube) {
	if a.feed == nil {
		return
	}
	if err := a.feed.PublishCube(ctx, cube); err != nil {
		util.LoggerFromContext(ctx).Warn("publish cube event", "error", err, "cube_id", cube.ID)
	}
}

// LoginURL starts the GitHub OAuth flow: it mints a state nonce, parks it in
// Redis, and returns the authorization URL to redirect to.
func (a *App) LoginURL(ctx context.Context) (string, error) {
	if a.oauth == nil {
		return "", fmt.Errorf("github oauth not configured")
	}
	state := util.NewID()
	if err := a.redis.Set(ctx, oauthStatePrefix+state, "1", oauthStateTTL).Err(); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	return a.oauth.AuthCodeURL(state), nil
}

// HandleCallback finishes the OAuth flow: it consumes the state nonce,
// exchanges the code, loads the GitHub profile and issues a session token.
func (a *App) HandleCallback(ctx context.Context, code, state string) (string, error) {
	if a.oauth == nil {
		return "", fmt.Errorf("github oauth not configured")
	}
	if state == "" {
		return "", ErrInvalidState
	}
	if err := a.redis.GetDel(ctx, oauthStatePrefix+state).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrInvalidState
		}
		return "", fmt.Errorf("check oauth state: %w", err)
	}
	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange oauth code: %w", err)
	}
	profile, err := a.github.UserProfile(ctx, token.AccessToken)
	if err != nil {
		return "", fmt.Errorf("load github profile: %w", err)
	}
	session, err := a.sessions.CreateSession(ctx, strconv.FormatInt(profile.ID, 10), profile.Login, token.AccessToken)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// SessionFromToken resolves a bearer token to its session.
func (a *App) SessionFromToken(ctx context.Context, token string) (domain.Session, bool, error) {
	if a.sessions == nil {
		return domain.Session{}, false, nil
	}
	return a.sessions.SessionFromToken(ctx, token)
}

// Logout revokes a session token.
func (a *App) Logout(ctx context.Context, token string) error {
	if a.sessions == nil {
		return nil
	}
	return a.sessions.DeleteSession(ctx, token)
}

// Repositories lists the session owner's GitHub repositories.
func (a *App) Repositories(ctx context.Context, session domain.Session) ([]github.Repo, error) {
	return a.github.ListRepositories(ctx, session.AccessToken)
}

// RepositoryCommits lists commits for one repository.
func (a *App) RepositoryCommits(ctx context.Context, session domain.Session, owner, repo string, page, perPage int) ([]github.Commit, error) {
	return a.github.ListCommits(ctx, session.AccessToken, owner, repo, page, perPage)
}
