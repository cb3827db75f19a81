package domain

import "time"

// User is an anonymous browser identity. It is looked up by fingerprint first,
// then by any of its backup identifiers; exactly one record exists per resolved
// identity.
type User struct {
	ID           string            `json:"id"`
	Fingerprint  string            `json:"-"`
	BackupIDs    map[string]string `json:"-"`
	Nickname     string            `json:"nickname,omitempty"`
	MessageCount int               `json:"messageCount"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastSeen     time.Time         `json:"lastSeen"`
}

// Cube is a named, colored container scoping a set of messages. A cube may be
// bound to a GitHub repository, in which case the Repo fields are set.
type Cube struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color"`
	Opacity     float64   `json:"opacity"`
	Position    int       `json:"positionIndex"`
	Active      bool      `json:"active"`
	OwnerUserID string    `json:"ownerUserId,omitempty"`
	RepoID      int64     `json:"repoId,omitempty"`
	RepoOwner   string    `json:"repoOwner,omitempty"`
	Language    string    `json:"language,omitempty"`
	HTMLURL     string    `json:"htmlUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Message is a content record scoped to exactly one cube, optionally a reply
// to exactly one other message. Content is immutable once created; deletion
// only flags the row.
type Message struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	CubeID         string    `json:"cubeId"`
	ParentID       string    `json:"parentMessageId,omitempty"`
	Content        string    `json:"content"`
	Deleted        bool      `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	AuthorNickname string    `json:"authorNickname,omitempty"`
	CubeName       string    `json:"cubeName,omitempty"`
	CubeColor      string    `json:"cubeColor,omitempty"`
}

// IsRoot reports whether the message starts a reply chain.
func (m Message) IsRoot() bool { return m.ParentID == "" }

// CubeStats aggregates activity inside one cube.
type CubeStats struct {
	MessageCount int `json:"messageCount"`
	UserCount    int `json:"userCount"`
}

// Session is the state issued after a GitHub sign-in.
type Session struct {
	UserID      string `json:"userId"`
	Login       string `json:"login"`
	AccessToken string `json:"-"`
}
