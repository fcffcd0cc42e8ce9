package members_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-app/covenant/internal/auth"
	"github.com/covenant-app/covenant/internal/locks"
	"github.com/covenant-app/covenant/internal/members"
	"github.com/covenant-app/covenant/internal/platform/httpx"
	"github.com/covenant-app/covenant/internal/rbac"
	"github.com/covenant-app/covenant/internal/shared"
	_ "github.com/covenant-app/covenant/testing"
)

type stubRepo struct {
	members map[string]members.Member
}

func (s *stubRepo) List(ctx context.Context, filter members.ListFilter) ([]members.Member, error) {
	var out []members.Member
	for _, m := range s.members {
		if filter.OwnerID != "" && m.ID != filter.OwnerID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *stubRepo) Get(ctx context.Context, id string) (members.Member, error) {
	m, ok := s.members[id]
	if !ok {
		return members.Member{}, shared.ErrNotFound
	}
	return m, nil
}

func (s *stubRepo) Update(ctx context.Context, id string, patch members.Patch) (members.Member, error) {
	m, ok := s.members[id]
	if !ok {
		return members.Member{}, shared.ErrNotFound
	}
	if patch.Phone != nil {
		m.Phone = *patch.Phone
	}
	s.members[id] = m
	return m, nil
}

type fixture struct {
	router  http.Handler
	tokens  *auth.TokenManager
	manager *locks.Manager
	repo    *stubRepo
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tokens, err := auth.NewTokenManager(auth.TokenConfig{Secret: "members-secret"})
	require.NoError(t, err)
	table, err := rbac.DefaultRoles()
	require.NoError(t, err)
	guard := rbac.Guard{Verifier: tokens, Resolver: rbac.NewResolver(table)}
	manager := locks.NewManager(locks.NewRedisStore(client), nil, nil, nil, locks.Config{TTL: time.Minute})
	repo := &stubRepo{members: map[string]members.Member{
		"m1": {ID: "m1", FirstName: "Mary", LastName: "Magdalene"},
		"m2": {ID: "m2", FirstName: "Martha", LastName: "Bethany"},
		"m3": {ID: "m3", FirstName: "Lazarus", LastName: "Bethany"},
	}}

	r := chi.NewRouter()
	r.Route("/members", members.NewHandler(nil, repo, manager, guard).MountRoutes)
	return fixture{router: r, tokens: tokens, manager: manager, repo: repo}
}

func (f fixture) request(t *testing.T, method, path, body string, p auth.Principal) *httptest.ResponseRecorder {
	t.Helper()
	token, _, err := f.tokens.IssueAccess(p)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

var (
	viewer = auth.Principal{ID: "u9", DisplayName: "Mary", Role: "viewer", LinkedResourceID: "m1"}
	staffA = auth.Principal{ID: "uA", DisplayName: "A", Role: "staff"}
	staffB = auth.Principal{ID: "uB", DisplayName: "B", Role: "staff"}
)

func TestViewerReadingAnotherMemberIsForbidden(t *testing.T) {
	f := newFixture(t)

	rr := f.request(t, http.MethodGet, "/members/m2", "", viewer)
	require.Equal(t, http.StatusForbidden, rr.Code)
	var body httpx.ErrorPayload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "FORBIDDEN", body.Code)
	assert.Equal(t, "members:read", body.Required)
	assert.Equal(t, "viewer", body.Role)

	rr = f.request(t, http.MethodGet, "/members/m1", "", viewer)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestViewerListIsFilteredToLinkedMember(t *testing.T) {
	f := newFixture(t)

	rr := f.request(t, http.MethodGet, "/members/", "", viewer)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Members []members.Member `json:"members"`
		Scoped  bool             `json:"scoped"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body.Scoped)
	require.Len(t, body.Members, 1)
	for _, m := range body.Members {
		assert.Equal(t, "m1", m.ID)
	}

	rr = f.request(t, http.MethodGet, "/members/", "", staffA)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.False(t, body.Scoped)
	assert.Len(t, body.Members, 3)
}

func TestUpdateRequiresHoldingTheLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patch := `{"phone":"555-0101"}`

	rr := f.request(t, http.MethodPatch, "/members/m2", patch, staffA)
	require.Equal(t, http.StatusConflict, rr.Code)

	res, err := f.manager.Acquire(ctx, members.ResourceType, "m2", locks.Holder{ID: staffA.ID, DisplayName: staffA.DisplayName})
	require.NoError(t, err)
	require.True(t, res.Success)

	rr = f.request(t, http.MethodPatch, "/members/m2", patch, staffB)
	require.Equal(t, http.StatusConflict, rr.Code)
	var body httpx.ErrorPayload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "LOCK_DENIED", body.Code)
	assert.Equal(t, "A", body.LockedBy)

	rr = f.request(t, http.MethodPatch, "/members/m2", patch, staffA)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "555-0101", f.repo.members["m2"].Phone)

	rr = f.request(t, http.MethodPatch, "/members/m2", `{"email":"nope"}`, staffA)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.request(t, http.MethodPatch, "/members/m1", patch, viewer)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
