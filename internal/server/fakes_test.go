package server

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/driftmoor/gameserver/internal/game/character"
	"github.com/driftmoor/gameserver/internal/protocol"
	"github.com/driftmoor/gameserver/internal/storage/postgres"
)

// fakeTransport is an in-memory frameTransport. Requests are pushed into
// the in channel; responses are decoded and collected for assertions.
type fakeTransport struct {
	in chan []byte

	mu  sync.Mutex
	out []protocol.Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

// push enqueues one request frame in the nested {"action","data"} shape.
func (f *fakeTransport) push(t *testing.T, action string, data map[string]any) {
	t.Helper()
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(map[string]any{"action": action, "data": data})
	if err != nil {
		t.Fatalf("marshalling request: %v", err)
	}
	f.in <- append(raw, protocol.Delimiter)
}

func (f *fakeTransport) pushRaw(frame []byte) {
	f.in <- frame
}

func (f *fakeTransport) ReadFrame() ([]byte, error) {
	select {
	case frame := <-f.in:
		return frame, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeTransport) WriteFrame(frame []byte) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}
	env, err := protocol.Decode(frame)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, env)
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "fake:0" }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// sent returns a snapshot of the responses written so far.
func (f *fakeTransport) sent() []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Envelope(nil), f.out...)
}

// waitSent blocks until at least n responses have been written.
func (f *fakeTransport) waitSent(t *testing.T, n int) []protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if out := f.sent(); len(out) >= n {
			return out
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d responses, got %d", n, len(f.sent()))
	return nil
}

type fakeUser struct {
	user     postgres.User
	password string
}

// fakeUserStore is an in-memory UserStore.
type fakeUserStore struct {
	mu          sync.Mutex
	users       map[string]fakeUser
	nextID      int64
	createCalls int
	err         error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]fakeUser)}
}

// seed adds a user directly, bypassing validation.
func (s *fakeUserStore) seed(username, password string) postgres.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u := postgres.User{
		ID:        s.nextID,
		Username:  username,
		Email:     username + "@example.com",
		CreatedAt: time.Now(),
	}
	s.users[username] = fakeUser{user: u, password: password}
	return u
}

func (s *fakeUserStore) Create(_ context.Context, username, email, password string) (postgres.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.err != nil {
		return postgres.User{}, s.err
	}
	if _, ok := s.users[username]; ok {
		return postgres.User{}, postgres.ErrUserExists
	}
	s.nextID++
	u := postgres.User{ID: s.nextID, Username: username, Email: email, CreatedAt: time.Now()}
	s.users[username] = fakeUser{user: u, password: password}
	return u, nil
}

func (s *fakeUserStore) Authenticate(_ context.Context, username, password string) (postgres.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return postgres.User{}, s.err
	}
	fu, ok := s.users[username]
	if !ok {
		return postgres.User{}, postgres.ErrUserNotFound
	}
	if fu.password != password {
		return postgres.User{}, postgres.ErrInvalidCredentials
	}
	return fu.user, nil
}

// fakeCharacterStore is an in-memory CharacterStore with globally unique
// names, mirroring the real schema.
type fakeCharacterStore struct {
	mu     sync.Mutex
	chars  map[int64]*character.Character
	nextID int64
	err    error
}

func newFakeCharacterStore() *fakeCharacterStore {
	return &fakeCharacterStore{chars: make(map[int64]*character.Character)}
}

func (s *fakeCharacterStore) Create(_ context.Context, c *character.Character) (*character.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, existing := range s.chars {
		if existing.Name == c.Name {
			return nil, postgres.ErrNameTaken
		}
	}
	s.nextID++
	out := *c
	out.ID = s.nextID
	out.CreatedAt = time.Now()
	out.UpdatedAt = out.CreatedAt
	s.chars[out.ID] = &out
	return &out, nil
}

func (s *fakeCharacterStore) GetByID(_ context.Context, id int64) (*character.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.chars[id]
	if !ok {
		return nil, postgres.ErrCharacterNotFound
	}
	out := *c
	return &out, nil
}

func (s *fakeCharacterStore) ListByUser(_ context.Context, userID int64) ([]*character.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []*character.Character
	for id := int64(1); id <= s.nextID; id++ {
		if c, ok := s.chars[id]; ok && c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeCharacterStore) Delete(_ context.Context, userID, charID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	c, ok := s.chars[charID]
	if !ok || c.UserID != userID {
		return false, nil
	}
	delete(s.chars, charID)
	return true, nil
}

func (s *fakeCharacterStore) SavePosition(_ context.Context, id int64, x, y, mapID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	c, ok := s.chars[id]
	if !ok {
		return postgres.ErrCharacterNotFound
	}
	c.X, c.Y, c.MapID = x, y, mapID
	c.UpdatedAt = time.Now()
	return nil
}

func (s *fakeCharacterStore) NameExists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	for _, c := range s.chars {
		if c.Name == name {
			return true, nil
		}
	}
	return false, nil
}
