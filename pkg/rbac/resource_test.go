package rbac

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResource(t *testing.T) {
	var unset *Resource
	_, err := unset.ID()
	assert.ErrorIs(t, err, ErrResourceUnset)

	r := NewResource("")
	_, err = r.ID()
	assert.ErrorIs(t, err, ErrResourceUnset)

	r.Set("user/create")
	id, err := r.ID()
	require.NoError(t, err)
	assert.Equal(t, "user/create", id)
}

func TestResource_ConcurrentAccess(t *testing.T) {
	r := NewResource("a")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Set("b")
		}()
		go func() {
			defer wg.Done()
			_, _ = r.ID()
		}()
	}
	wg.Wait()

	id, err := r.ID()
	require.NoError(t, err)
	assert.Equal(t, "b", id)
}

func TestResourceFromContext(t *testing.T) {
	_, err := ResourceFromContext(context.Background())
	assert.ErrorIs(t, err, ErrResourceUnset)

	ctx := WithResource(context.Background(), "reports")
	id, err := ResourceFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reports", id)
}
