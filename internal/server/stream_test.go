package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"cubechat/pkg/domain"
)

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	name string
	data string
}

// openStream connects to the realtime endpoint and returns a reader for its
// events. The response has arrived once headers are flushed, which happens
// after the feed subscriptions are established.
func openStream(t *testing.T, env *testEnv, query string) (*bufio.Scanner, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/api/messages/stream"+query, nil)
	if err != nil {
		cancel()
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("open stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		t.Fatalf("stream status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		resp.Body.Close()
		cancel()
		t.Fatalf("content type = %q", ct)
	}
	return bufio.NewScanner(resp.Body), func() {
		resp.Body.Close()
		cancel()
	}
}

// nextEvent reads the stream until a full named event arrives, skipping ping
// comments.
func nextEvent(t *testing.T, scanner *bufio.Scanner) sseEvent {
	t.Helper()
	var ev sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		case line == "" && ev.name != "":
			return ev
		}
	}
	t.Fatalf("stream ended early: %v", scanner.Err())
	return sseEvent{}
}

func TestStreamDeliversMessages(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.seedDefaultCube(t)
	scanner, closeStream := openStream(t, env, "")
	defer closeStream()

	resp := env.do(t, http.MethodPost, "/api/messages", map[string]string{"content": "hello"},
		map[string]string{"X-Fingerprint": "fp-1"})
	sent := decodeBody[domain.Message](t, resp)

	ev := nextEvent(t, scanner)
	if ev.name != "message" {
		t.Fatalf("event = %q, want message", ev.name)
	}
	var got domain.Message
	if err := json.Unmarshal([]byte(ev.data), &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.ID != sent.ID || got.Content != "hello" {
		t.Fatalf("event payload = %+v, want %s", got, sent.ID)
	}
	if got.CubeName == "" {
		t.Fatalf("event lacks joined cube metadata")
	}
}

func TestStreamScopedToCube(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	def := env.seedDefaultCube(t)
	other := domain.Cube{ID: "cube-other", Name: "other", Color: "#000000", Opacity: 0.3, Position: 1, Active: true}
	if err := env.store.CreateCube(context.Background(), other); err != nil {
		t.Fatalf("CreateCube: %v", err)
	}

	scanner, closeStream := openStream(t, env, "?cube="+other.ID)
	defer closeStream()
	fp := map[string]string{"X-Fingerprint": "fp-1"}

	env.do(t, http.MethodPost, "/api/messages",
		map[string]string{"content": "elsewhere", "cubeId": def.ID}, fp).Body.Close()
	resp := env.do(t, http.MethodPost, "/api/messages",
		map[string]string{"content": "in scope", "cubeId": other.ID}, fp)
	sent := decodeBody[domain.Message](t, resp)

	ev := nextEvent(t, scanner)
	var got domain.Message
	if err := json.Unmarshal([]byte(ev.data), &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.ID != sent.ID {
		t.Fatalf("got event for %s, want scoped message %s", got.ID, sent.ID)
	}
}

func TestStreamSeenFilterSkipsKnownIDs(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cube := env.seedDefaultCube(t)
	ctx := context.Background()

	known := domain.Message{ID: "m-known", UserID: "u1", CubeID: cube.ID, Content: "known", CreatedAt: time.Now()}
	fresh := domain.Message{ID: "m-fresh", UserID: "u1", CubeID: cube.ID, Content: "fresh", CreatedAt: time.Now()}
	for _, m := range []domain.Message{known, fresh} {
		if err := env.store.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}

	scanner, closeStream := openStream(t, env, "?seen=m-known")
	defer closeStream()

	if err := env.feed.PublishMessage(ctx, known); err != nil {
		t.Fatalf("publish known: %v", err)
	}
	if err := env.feed.PublishMessage(ctx, fresh); err != nil {
		t.Fatalf("publish fresh: %v", err)
	}

	ev := nextEvent(t, scanner)
	var got domain.Message
	if err := json.Unmarshal([]byte(ev.data), &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.ID != "m-fresh" {
		t.Fatalf("first event = %s, want m-fresh (m-known filtered)", got.ID)
	}
}

func TestStreamCarriesCubeEvents(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	scanner, closeStream := openStream(t, env, "")
	defer closeStream()

	resp := env.do(t, http.MethodPost, "/api/cubes", map[string]any{"name": "alpha"},
		map[string]string{"X-Fingerprint": "fp-1"})
	created := decodeBody[domain.Cube](t, resp)

	ev := nextEvent(t, scanner)
	if ev.name != "cube" {
		t.Fatalf("event = %q, want cube", ev.name)
	}
	var got domain.Cube
	if err := json.Unmarshal([]byte(ev.data), &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.ID != created.ID || got.Name != "alpha" {
		t.Fatalf("cube event = %+v", got)
	}
}
