package layout

import (
	"math"
	"testing"
	"time"

	"cubechat/pkg/domain"
)

func msg(id, parentID string, createdAt time.Time) domain.Message {
	return domain.Message{ID: id, ParentID: parentID, CubeID: "cube-1", CreatedAt: createdAt}
}

func dist(a, b Vec3) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func TestRootPositionDeterministic(t *testing.T) {
	e := New(Config{})
	base := time.Now()
	all := []domain.Message{msg("a", "", base), msg("b", "", base)}

	for i := range all {
		first := e.PositionOf(i, all[i], all)
		second := e.PositionOf(i, all[i], all)
		if first != second {
			t.Fatalf("position for index %d not deterministic: %+v vs %+v", i, first, second)
		}
	}
}

func TestRootPositionsWithinRange(t *testing.T) {
	e := New(Config{Range: 8})
	for i := 0; i < 200; i++ {
		p := e.PositionOf(i, msg("root", "", time.Now()), nil)
		for _, coord := range []float64{p.X, p.Y, p.Z} {
			if coord < -8 || coord > 8 {
				t.Fatalf("index %d coordinate %f outside scaled range", i, coord)
			}
		}
	}
}

func TestReplyOrbitsRootAtDepthDistance(t *testing.T) {
	e := New(Config{})
	base := time.Now()
	all := []domain.Message{
		msg("root", "", base),
		msg("r1", "root", base.Add(time.Second)),
		msg("r2", "r1", base.Add(2*time.Second)),
	}

	rootPos := e.PositionOf(0, all[0], all)

	// One hop from the root is depth 1, so the radius is 0.6 + 0.3 = 0.9.
	// Single sibling means angle 0 and the full radius lands on X (before
	// vertical/depth compression on the other axes).
	p1 := e.PositionOf(1, all[1], all)
	if got := p1.X - rootPos.X; math.Abs(got-0.9) > 1e-9 {
		t.Fatalf("depth-1 X offset = %f, want 0.9", got)
	}
	if got := p1.Y - rootPos.Y; math.Abs(got) > 1e-9 {
		t.Fatalf("depth-1 Y offset = %f, want 0", got)
	}

	// Two hops orbit the same root, radius 0.6 + 0.3*2 = 1.2 on X.
	p2 := e.PositionOf(2, all[2], all)
	if got := p2.X - rootPos.X; math.Abs(got-1.2) > 1e-9 {
		t.Fatalf("depth-2 X offset = %f, want 1.2", got)
	}
}

func TestSiblingsSpreadByAngle(t *testing.T) {
	e := New(Config{})
	base := time.Now()
	all := []domain.Message{
		msg("root", "", base),
		msg("r1", "root", base.Add(1*time.Second)),
		msg("r2", "root", base.Add(2*time.Second)),
		msg("r3", "root", base.Add(3*time.Second)),
	}
	rootPos := e.PositionOf(0, all[0], all)

	// Three siblings at angles 0, 2π/3, 4π/3; all one hop deep, so radius
	// 0.9 from root in the uncompressed plane.
	seen := make(map[Vec3]bool)
	for i := 1; i <= 3; i++ {
		p := e.PositionOf(i, all[i], all)
		if seen[p] {
			t.Fatalf("siblings %d share a position: %+v", i, p)
		}
		seen[p] = true
		planar := math.Hypot(p.X-rootPos.X, (p.Y-rootPos.Y)/0.5)
		if math.Abs(planar-0.9) > 1e-9 {
			t.Fatalf("sibling %d planar radius = %f, want 0.9", i, planar)
		}
	}
}

func TestCyclicParentChainTerminates(t *testing.T) {
	e := New(Config{MaxDepth: 10})
	base := time.Now()
	// a -> b -> a cycle; neither is a true root.
	all := []domain.Message{
		msg("a", "b", base),
		msg("b", "a", base.Add(time.Second)),
	}

	done := make(chan Vec3, 1)
	go func() { done <- e.PositionOf(0, all[0], all) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle in parent chain did not terminate")
	}
}

func TestOrphanReplyFallsBackToSelfAsRoot(t *testing.T) {
	e := New(Config{})
	base := time.Now()
	// Parent missing from the set: the walk stops immediately and the reply
	// still obtains exactly one position.
	all := []domain.Message{msg("orphan", "gone", base)}
	p := e.PositionOf(0, all[0], all)
	if p == (Vec3{}) {
		// The origin is a legal position, but rootPosition(0) plus a 0.6
		// offset never lands exactly there with the default constants.
		t.Fatal("orphan reply produced the zero position")
	}
}

func TestPositionAllAssignsEveryMessage(t *testing.T) {
	e := New(Config{})
	base := time.Now()
	all := []domain.Message{
		msg("root", "", base),
		msg("r1", "root", base.Add(time.Second)),
		msg("other", "", base.Add(2*time.Second)),
	}
	placed := e.PositionAll(all)
	if len(placed) != len(all) {
		t.Fatalf("expected %d positions, got %d", len(all), len(placed))
	}
	for i, p := range placed {
		if p.ID != all[i].ID {
			t.Fatalf("position %d attached to %q, want %q", i, p.ID, all[i].ID)
		}
	}
}

func TestReplyDistanceFromRoot(t *testing.T) {
	// One root, one reply at depth 1: radius 0.9, angle 0, so X carries the
	// full radius and Z carries cos(π/4)*0.3 of it after compression.
	e := New(Config{})
	base := time.Now()
	all := []domain.Message{
		msg("hello", "", base),
		msg("reply", "hello", base.Add(time.Second)),
	}
	rootPos := e.PositionOf(0, all[0], all)
	replyPos := e.PositionOf(1, all[1], all)

	expected := math.Sqrt(0.9*0.9 + math.Pow(math.Cos(math.Pi/4)*0.9*0.3, 2))
	if got := dist(rootPos, replyPos); math.Abs(got-expected) > 1e-9 {
		t.Fatalf("reply distance = %f, want %f", got, expected)
	}
}
