package realtime

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/jobhub/internal/auth"
	"github.com/hitoshi/jobhub/internal/model"
)

var (
	identityA = model.Identity{UserID: "user-a", Email: "a@example.com"}
	identityB = model.Identity{UserID: "user-b", Email: "b@example.com"}
	identityZ = model.Identity{UserID: "admin-z", Email: "z@example.com", IsAdmin: true}
)

// fakeVerifier はトークン文字列をそのままIdentityに対応付ける。
type fakeVerifier struct {
	identities map[string]model.Identity
}

func (f *fakeVerifier) Verify(token string) (model.Identity, error) {
	if token == "expired" {
		return model.Identity{}, auth.ErrTokenExpired
	}
	id, ok := f.identities[token]
	if !ok {
		return model.Identity{}, auth.ErrTokenInvalid
	}
	return id, nil
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{identities: map[string]model.Identity{
		"token-a": identityA,
		"token-b": identityB,
		"token-z": identityZ,
	}}
}

type fakeRecorder struct {
	mu        sync.Mutex
	opened    int
	closed    int
	routed    map[string]int
	delivered map[string]int
	failures  map[string]int
	auth      map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		routed:    map[string]int{},
		delivered: map[string]int{},
		failures:  map[string]int{},
		auth:      map[string]int{},
	}
}

func (f *fakeRecorder) ConnectionOpened() {
	f.mu.Lock()
	f.opened++
	f.mu.Unlock()
}

func (f *fakeRecorder) ConnectionClosed() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func (f *fakeRecorder) EventRouted(family string) {
	f.mu.Lock()
	f.routed[family]++
	f.mu.Unlock()
}

func (f *fakeRecorder) EventsDelivered(strategy string, n int) {
	f.mu.Lock()
	f.delivered[strategy] += n
	f.mu.Unlock()
}

func (f *fakeRecorder) DeliveryFailed(reason string) {
	f.mu.Lock()
	f.failures[reason]++
	f.mu.Unlock()
}

func (f *fakeRecorder) AuthFailed(reason string) {
	f.mu.Lock()
	f.auth[reason]++
	f.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, buffer int, rec Recorder) *Registry {
	t.Helper()
	return NewRegistry(newFakeVerifier(), RegistryConfig{
		SendBuffer: buffer,
		Logger:     discardLogger(),
		Recorder:   rec,
	})
}

// recv は接続の送信キューから1件取り出す。
func recv(t *testing.T, c *Connection) Message {
	t.Helper()
	select {
	case msg := <-c.Outbound():
		return msg
	case <-time.After(time.Second):
		t.Fatalf("connection %s: no message received", c.ID())
		return Message{}
	}
}

// assertEmpty は送信キューが空であることを確認する。
func assertEmpty(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case msg := <-c.Outbound():
		t.Errorf("connection %s (%s): unexpected message %q", c.ID(), c.Identity().UserID, msg.Event)
	default:
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
