package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArgsPostgres(t *testing.T) {
	a := NewArgs(Postgres{})

	assert.Equal(t, "$1", a.Add(100))
	assert.Equal(t, "$2, $3, $4", a.AddIn(InList([]int64{1, 2, 3})...))
	assert.Equal(t, "$5", a.Add("view"))
	assert.Equal(t, []any{100, int64(1), int64(2), int64(3), "view"}, a.Values())
}

func TestArgsSQLite(t *testing.T) {
	a := NewArgs(SQLite{})

	assert.Equal(t, "?", a.Add("page"))
	assert.Equal(t, "?, ?", a.AddIn("a", "b"))
	assert.Len(t, a.Values(), 3)
}

func TestArgsEmptyInList(t *testing.T) {
	a := NewArgs(Postgres{})

	assert.Equal(t, "NULL", a.AddIn())
	assert.Empty(t, a.Values())
	assert.Equal(t, "$1", a.Add(1))
}
