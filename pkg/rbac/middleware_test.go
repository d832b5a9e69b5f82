package rbac

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/arbor/pkg/storage"
)

func TestHeaderUserID(t *testing.T) {
	tests := []struct {
		header string
		want   int64
		ok     bool
	}{
		{"100", 100, true},
		{"", 0, false},
		{"abc", 0, false},
		{"-3", 0, false},
		{"0", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(UserIDHeader, tt.header)
			id, ok := HeaderUserID(req)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestGuard_RequirePage(t *testing.T) {
	e, _ := setupTestEngine(t)
	seedFixture(t, e)
	guard := NewGuard(e.Resolver, nil, nullLogger())

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ResourceFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name     string
		user     string
		resource string
		ops      []string
		want     int
	}{
		{"allowed", strconv.FormatInt(fixtureUser, 10), "user/create", []string{"view"}, http.StatusOK},
		{"wrong operation", strconv.FormatInt(fixtureUser, 10), "user/create", []string{"delete"}, http.StatusForbidden},
		{"wrong page", strconv.FormatInt(fixtureUser, 10), "other/list", []string{"view"}, http.StatusForbidden},
		{"no roles", "7", "user/create", []string{"view"}, http.StatusForbidden},
		{"unauthenticated", "", "user/create", []string{"view"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/page", nil)
			if tt.user != "" {
				req.Header.Set(UserIDHeader, tt.user)
			}
			w := httptest.NewRecorder()
			guard.RequirePage(tt.resource, tt.ops...)(next).ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, tt.resource, seen)
			} else {
				assert.Empty(t, seen)
			}
		})
	}
}

func TestGuard_CustomUserID(t *testing.T) {
	e, _ := setupTestEngine(t)
	seedFixture(t, e)
	guard := NewGuard(e.Resolver, func(*http.Request) (int64, bool) { return fixtureUser, true }, nullLogger())

	w := httptest.NewRecorder()
	guard.RequirePage("user/create", "view")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestGuard_CheckFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e, err := NewEngine(db, storage.SQLite{}, Options{Logger: nullLogger()})
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT "role_id"`).WillReturnError(assert.AnError)

	guard := NewGuard(e.Resolver, nil, nullLogger())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserIDHeader, "1")
	w := httptest.NewRecorder()
	guard.RequirePage("reports", "view")(http.NotFoundHandler()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuard_RequestScopeMemoizesRoles(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e, err := NewEngine(db, storage.SQLite{}, Options{Logger: nullLogger()})
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT "role_id"`).WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow(4))

	guard := NewGuard(e.Resolver, nil, nullLogger())
	handler := guard.RequestScope(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 3; i++ {
			ok, err := e.Resolver.HasRole(r.Context(), 9, 4)
			require.NoError(t, err)
			assert.True(t, ok)
		}
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
