// Package layout places messages in 3D space. Root messages get a
// deterministic pseudo-random position derived from their list index; replies
// orbit the root of their chain at a radius that grows with depth. Positions
// are a pure function of the current message set and are never persisted.
package layout

import (
	"math"
	"sort"

	"cubechat/pkg/domain"
)

// Config holds the placement constants.
type Config struct {
	// Range scales root coordinates, which are generated in [-1, 1].
	Range float64
	// MaxDepth bounds the parent walk so cyclic parent pointers cannot
	// loop forever.
	MaxDepth int
	// BaseDistance is the orbit radius at depth 1.
	BaseDistance float64
	// DepthStep is the extra radius per additional depth level.
	DepthStep float64
	// VerticalScale compresses the orbit on the Y axis.
	VerticalScale float64
	// DepthScale compresses the orbit on the Z axis.
	DepthScale float64
	// PhaseShift offsets the Z-axis cosine relative to the X-axis one.
	PhaseShift float64
}

// DefaultConfig returns the placement constants used by the cube view.
func DefaultConfig() Config {
	return Config{
		Range:         8,
		MaxDepth:      10,
		BaseDistance:  0.6,
		DepthStep:     0.3,
		VerticalScale: 0.5,
		DepthScale:    0.3,
		PhaseShift:    math.Pi / 4,
	}
}

// Vec3 is a point in the cube's local space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Positioned pairs a message with its computed position.
type Positioned struct {
	domain.Message
	Position Vec3 `json:"position"`
}

// Engine computes positions with a fixed Config.
type Engine struct {
	cfg Config
}

// New returns an engine with the given config; zero fields fall back to the
// defaults.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Range == 0 {
		cfg.Range = def.Range
	}
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.BaseDistance == 0 {
		cfg.BaseDistance = def.BaseDistance
	}
	if cfg.DepthStep == 0 {
		cfg.DepthStep = def.DepthStep
	}
	if cfg.VerticalScale == 0 {
		cfg.VerticalScale = def.VerticalScale
	}
	if cfg.DepthScale == 0 {
		cfg.DepthScale = def.DepthScale
	}
	if cfg.PhaseShift == 0 {
		cfg.PhaseShift = def.PhaseShift
	}
	return &Engine{cfg: cfg}
}

// PositionOf returns the position for the message at index within all.
// Root messages depend only on their index; replies also depend on their
// reply chain and siblings.
func (e *Engine) PositionOf(index int, msg domain.Message, all []domain.Message) Vec3 {
	if msg.ParentID == "" {
		return e.rootPosition(index)
	}

	byID := make(map[string]domain.Message, len(all))
	for _, m := range all {
		byID[m.ID] = m
	}

	// Walk up the parent chain to the root; the hop count is the depth. The
	// walk is bounded so a cyclic chain terminates.
	current := msg
	depth := 0
	for current.ParentID != "" && depth < e.cfg.MaxDepth {
		parent, ok := byID[current.ParentID]
		if !ok {
			break
		}
		current = parent
		depth++
	}

	rootIndex := 0
	for i, m := range all {
		if m.ID == current.ID {
			rootIndex = i
			break
		}
	}
	rootPos := e.rootPosition(rootIndex)

	// Direct siblings of the immediate parent, oldest first.
	siblings := make([]domain.Message, 0)
	for _, m := range all {
		if m.ParentID == msg.ParentID {
			siblings = append(siblings, m)
		}
	}
	sort.SliceStable(siblings, func(i, j int) bool {
		return siblings[i].CreatedAt.Before(siblings[j].CreatedAt)
	})
	replyIndex := 0
	for i, m := range siblings {
		if m.ID == msg.ID {
			replyIndex = i
			break
		}
	}

	count := len(siblings)
	if count < 1 {
		count = 1
	}
	angle := 2 * math.Pi * float64(replyIndex) / float64(count)
	distance := e.cfg.BaseDistance + e.cfg.DepthStep*float64(depth)

	return Vec3{
		X: rootPos.X + math.Cos(angle)*distance,
		Y: rootPos.Y + math.Sin(angle)*distance*e.cfg.VerticalScale,
		Z: rootPos.Z + math.Cos(angle+e.cfg.PhaseShift)*distance*e.cfg.DepthScale,
	}
}

// PositionAll computes one position per message, in input order.
func (e *Engine) PositionAll(all []domain.Message) []Positioned {
	res := make([]Positioned, 0, len(all))
	for i, m := range all {
		res = append(res, Positioned{Message: m, Position: e.PositionOf(i, m, all)})
	}
	return res
}

// rootPosition derives a reproducible pseudo-random position from the index.
func (e *Engine) rootPosition(index int) Vec3 {
	seed := float64(index * 12345)
	random := func(offset float64) float64 {
		x := math.Sin(seed+offset) * 10000
		return (x-math.Floor(x))*2 - 1
	}
	return Vec3{
		X: random(1) * e.cfg.Range,
		Y: random(2) * e.cfg.Range,
		Z: random(3) * e.cfg.Range,
	}
}
