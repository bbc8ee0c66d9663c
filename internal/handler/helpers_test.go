package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/eventboard/internal/authsession"
	"github.com/hitoshi/eventboard/internal/clientsession"
	"github.com/hitoshi/eventboard/internal/identity"
	"github.com/hitoshi/eventboard/internal/middleware"
	"github.com/hitoshi/eventboard/internal/model"
	"github.com/hitoshi/eventboard/internal/recordstore"
	"github.com/hitoshi/eventboard/internal/repository"
)

// --- インメモリのリポジトリ ---

type memProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]*model.UserProfile
}

func newMemProfileRepo(seed ...*model.UserProfile) *memProfileRepo {
	r := &memProfileRepo{profiles: make(map[string]*model.UserProfile)}
	for _, p := range seed {
		r.profiles[p.FirebaseUID] = p
	}
	return r
}

func (r *memProfileRepo) Get(ctx context.Context, uid string) (*model.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[uid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memProfileRepo) Create(ctx context.Context, np *model.NewProfile) (*model.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[np.FirebaseUID]; ok {
		return nil, &recordstore.Error{Code: recordstore.CodeUniqueViolation, Message: "duplicate key"}
	}
	p := &model.UserProfile{
		FirebaseUID: np.FirebaseUID,
		Email:       np.Email,
		Username:    np.Username,
		AvatarURL:   np.AvatarURL,
		FirstName:   np.FirstName,
		LastName:    np.LastName,
		Admin:       np.Admin,
	}
	r.profiles[p.FirebaseUID] = p
	cp := *p
	return &cp, nil
}

func (r *memProfileRepo) Update(ctx context.Context, uid string, u *model.ProfileUpdate) (*model.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[uid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if u.Username != nil {
		p.Username = u.Username
	}
	if u.FirstName != nil {
		p.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		p.LastName = *u.LastName
	}
	cp := *p
	return &cp, nil
}

type memEventRepo struct {
	mu     sync.Mutex
	events map[string]*model.Event

	listFn func(ctx context.Context) error
}

func newMemEventRepo(seed ...*model.Event) *memEventRepo {
	r := &memEventRepo{events: make(map[string]*model.Event)}
	for _, e := range seed {
		r.events[e.EventID] = e
	}
	return r
}

func (r *memEventRepo) matching(filter repository.EventFilter) []*model.Event {
	var out []*model.Event
	for _, e := range r.events {
		if filter.Search != "" && !strings.Contains(strings.ToLower(e.EventName), strings.ToLower(filter.Search)) {
			continue
		}
		if filter.City != "" && e.Location() != filter.City {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventName < out[j].EventName })
	return out
}

func (r *memEventRepo) Get(ctx context.Context, eventID string) (*model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[eventID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *memEventRepo) List(ctx context.Context, filter repository.EventFilter, rng *recordstore.Range) ([]*model.Event, error) {
	if r.listFn != nil {
		if err := r.listFn(ctx); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.matching(filter)
	if rng == nil {
		return all, nil
	}
	if rng.From >= len(all) {
		return []*model.Event{}, nil
	}
	to := rng.To + 1
	if to > len(all) {
		to = len(all)
	}
	return all[rng.From:to], nil
}

func (r *memEventRepo) Count(ctx context.Context, filter repository.EventFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matching(filter)), nil
}

func (r *memEventRepo) ListCities(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var cities []string
	for _, e := range r.events {
		if c := e.Location(); c != "" && !seen[c] {
			seen[c] = true
			cities = append(cities, c)
		}
	}
	sort.Strings(cities)
	return cities, nil
}

func (r *memEventRepo) Create(ctx context.Context, e *model.Event) (*model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.events[e.EventID] = &cp
	return e, nil
}

func (r *memEventRepo) Update(ctx context.Context, eventID string, patch *model.EventPatch) (*model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[eventID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if patch.EventName != nil {
		e.EventName = *patch.EventName
	}
	if patch.EventDate != nil {
		e.EventDate = *patch.EventDate
	}
	if patch.EventLocation != nil {
		e.EventLocation = patch.EventLocation
	}
	cp := *e
	return &cp, nil
}

func (r *memEventRepo) Delete(ctx context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[eventID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.events, eventID)
	return nil
}

type memSignupRepo struct {
	mu      sync.Mutex
	signups map[string]*model.Signup
}

func newMemSignupRepo() *memSignupRepo {
	return &memSignupRepo{signups: make(map[string]*model.Signup)}
}

func (r *memSignupRepo) Get(ctx context.Context, signupID string) (*model.Signup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.signups[signupID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}

func (r *memSignupRepo) ListByEvent(ctx context.Context, eventID string) ([]*model.Signup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Signup
	for _, s := range r.signups {
		if s.EventID == eventID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memSignupRepo) Create(ctx context.Context, s *model.Signup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.signups[s.SignupID]; ok {
		return &recordstore.Error{Code: recordstore.CodeUniqueViolation, Message: "duplicate key"}
	}
	r.signups[s.SignupID] = s
	return nil
}

func (r *memSignupRepo) Delete(ctx context.Context, signupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.signups, signupID)
	return nil
}

func (r *memSignupRepo) DeleteByEvent(ctx context.Context, eventID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.signups {
		if s.EventID == eventID {
			delete(r.signups, id)
			n++
		}
	}
	return n, nil
}

func (r *memSignupRepo) DeleteOrphans(ctx context.Context) (int64, error) {
	return 0, nil
}

func (r *memSignupRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signups)
}

// --- テスト環境 ---

type testEnv struct {
	provider *identity.LocalProvider
	profiles *memProfileRepo
	events   *memEventRepo
	signups  *memSignupRepo
	registry *clientsession.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		provider: identity.NewLocalProvider(bcrypt.MinCost),
		profiles: newMemProfileRepo(),
		events:   newMemEventRepo(),
		signups:  newMemSignupRepo(),
	}
	env.registry = clientsession.NewRegistry(clientsession.Deps{
		Provider: env.provider,
		Profiles: env.profiles,
		Events:   env.events,
		Signups:  env.signups,
	}, clientsession.Config{
		IdleTimeout: time.Minute,
		PageSize:    12,
		Auth:        authsession.Config{FetchTimeout: time.Second},
	}, nil, discardLogger())
	t.Cleanup(env.registry.Stop)
	return env
}

// newSession はクライアントセッションを作成し、初期化の完了を待つ。
func (env *testEnv) newSession(t *testing.T) *clientsession.Session {
	t.Helper()
	s := env.registry.Create()
	waitReady(t, s)
	return s
}

// signIn はプロフィールを登録してセッションをサインイン状態にする。
func (env *testEnv) signIn(t *testing.T, s *clientsession.Session, uid string, admin bool) {
	t.Helper()
	env.profiles.Create(context.Background(), &model.NewProfile{
		FirebaseUID: uid,
		Email:       uid + "@example.com",
		FirstName:   "Taro",
		LastName:    "Yamada",
		Admin:       admin,
	})
	s.Store.Establish(&identity.Identity{UID: uid, Email: uid + "@example.com", Provider: identity.ProviderPassword})
	waitReady(t, s)
}

func waitReady(t *testing.T, s *clientsession.Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Auth.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newRequest はクライアントセッションを注入したリクエストを作る。
func newRequest(method, target string, body any, s *clientsession.Session) *http.Request {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	if s != nil {
		req = req.WithContext(middleware.ContextWithClientSession(req.Context(), s))
	}
	return req
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func strPtr(s string) *string { return &s }

// recordingCollector は記録されたメトリクスを保持するMetricsCollector。
type recordingCollector struct {
	mu         sync.Mutex
	auth       []string
	toggles    []bool
	mutations  []string
	listings   int
	superseded int
	statuses   []int
}

func (c *recordingCollector) RecordHTTPStatus(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, code)
}

func (c *recordingCollector) RecordAuthAttempt(op string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := "failure"
	if success {
		result = "success"
	}
	c.auth = append(c.auth, op+":"+result)
}

func (c *recordingCollector) RecordAttendanceToggle(attending bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toggles = append(c.toggles, attending)
}

func (c *recordingCollector) RecordEventMutation(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mutations = append(c.mutations, op)
}

func (c *recordingCollector) RecordListingQuery(d time.Duration, superseded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listings++
	if superseded {
		c.superseded++
	}
}

func (c *recordingCollector) SetActiveClientSessions(int)    {}
func (c *recordingCollector) RecordOrphanSignupsDeleted(int) {}
