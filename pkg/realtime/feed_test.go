package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"cubechat/pkg/domain"
	"cubechat/pkg/store"
)

type failingFetcher struct{}

func (failingFetcher) MessageByID(context.Context, string) (domain.Message, bool, error) {
	return domain.Message{}, false, errors.New("backend unreachable")
}

func newTestFeed(t *testing.T) (*Feed, *store.MemoryStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mem := store.NewMemoryStore()
	feed, err := NewFeed(client, mem, mem)
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	return feed, mem
}

func seedMessage(t *testing.T, mem *store.MemoryStore, id, cubeID string) domain.Message {
	t.Helper()
	m := domain.Message{ID: id, UserID: "u1", CubeID: cubeID, Content: "hi", CreatedAt: time.Now().UTC()}
	if err := mem.InsertMessage(context.Background(), m); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	return m
}

func waitMessage(t *testing.T, ch <-chan domain.Message) domain.Message {
	t.Helper()
	select {
	case m, ok := <-ch:
		if !ok {
			t.Fatal("subscription channel closed unexpectedly")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for realtime message")
	}
	return domain.Message{}
}

func TestSubscribeReceivesRefetchedRow(t *testing.T) {
	feed, mem := newTestFeed(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mem.CreateCube(ctx, domain.Cube{ID: "c1", Name: "Base", Color: "#fff", Active: true}); err != nil {
		t.Fatalf("create cube: %v", err)
	}
	sub, err := feed.SubscribeMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	m := seedMessage(t, mem, "m1", "c1")
	if err := feed.PublishMessage(ctx, m); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := waitMessage(t, sub.C())
	if got.ID != "m1" {
		t.Fatalf("unexpected message id %q", got.ID)
	}
	if got.CubeName != "Base" {
		t.Fatalf("expected joined cube metadata, got %+v", got)
	}
}

func TestSubscribeFiltersByCube(t *testing.T) {
	feed, mem := newTestFeed(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := feed.SubscribeMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	other := seedMessage(t, mem, "other", "c2")
	if err := feed.PublishMessage(ctx, other); err != nil {
		t.Fatalf("publish: %v", err)
	}
	mine := seedMessage(t, mem, "mine", "c1")
	if err := feed.PublishMessage(ctx, mine); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := waitMessage(t, sub.C())
	if got.ID != "mine" {
		t.Fatalf("cube filter leaked message %q", got.ID)
	}
}

func TestSubscribeAllCubes(t *testing.T) {
	feed, mem := newTestFeed(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := feed.SubscribeMessages(ctx, "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	m := seedMessage(t, mem, "m1", "c9")
	if err := feed.PublishMessage(ctx, m); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := waitMessage(t, sub.C()); got.ID != "m1" {
		t.Fatalf("unexpected message id %q", got.ID)
	}
}

func TestRefetchFailureDropsEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mem := store.NewMemoryStore()
	feed, err := NewFeed(client, failingFetcher{}, mem)
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := feed.SubscribeMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := feed.PublishMessage(ctx, domain.Message{ID: "m1", CubeID: "c1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case m := <-sub.C():
		t.Fatalf("event should have been dropped, got %+v", m)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDeletedRowsAreNeverPublished(t *testing.T) {
	feed, _ := newTestFeed(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := feed.SubscribeMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := feed.PublishMessage(ctx, domain.Message{ID: "m1", CubeID: "c1", Deleted: true}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case m := <-sub.C():
		t.Fatalf("deleted row should not fan out, got %+v", m)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCloseEndsStream(t *testing.T) {
	feed, _ := newTestFeed(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := feed.SubscribeMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub.Close()
	sub.Close() // second close is safe

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected closed channel after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after Close")
	}
}

func TestCubeSubscription(t *testing.T) {
	feed, mem := newTestFeed(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := feed.SubscribeCubes(ctx)
	if err != nil {
		t.Fatalf("subscribe cubes: %v", err)
	}
	defer sub.Close()

	cube := domain.Cube{ID: "c1", Name: "Base", Color: "#fff", Active: true}
	if err := mem.CreateCube(ctx, cube); err != nil {
		t.Fatalf("create cube: %v", err)
	}
	if err := feed.PublishCube(ctx, cube); err != nil {
		t.Fatalf("publish cube: %v", err)
	}

	select {
	case got := <-sub.C():
		if got.ID != "c1" || got.Name != "Base" {
			t.Fatalf("unexpected cube %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cube event")
	}
}

func TestDeduperKeepsEachIDOnce(t *testing.T) {
	d := NewDeduper("existing")
	events := []string{"existing", "a", "b", "a", "existing", "c", "b"}
	kept := make([]string, 0)
	for _, id := range events {
		if d.Observe(id) {
			kept = append(kept, id)
		}
	}
	want := []string{"a", "b", "c"}
	if len(kept) != len(want) {
		t.Fatalf("kept %v, want %v", kept, want)
	}
	for i := range want {
		if kept[i] != want[i] {
			t.Fatalf("kept %v, want %v", kept, want)
		}
	}
}
