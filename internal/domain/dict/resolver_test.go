package dict

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	fields []Field
	err    error
	calls  atomic.Int32
	delay  time.Duration
}

func (f *fakeSource) DictFields(context.Context) ([]Field, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.fields, f.err
}

func statusFields() []Field {
	return []Field{
		{Field: "orderType", Items: []Item{{Value: "purchase", Name: "Purchase"}}},
		{Field: "InstockStatus", Items: []Item{
			{Value: "1", Name: "Pending"},
			{Value: "Done", Name: "Completed"},
			{Value: "DONE", Name: "Duplicate"},
			{Value: "partial", Name: ""},
			{Value: " ", Name: "blank"},
		}},
	}
}

func TestLoadCaseInsensitiveFirstWins(t *testing.T) {
	r := NewResolver(&fakeSource{fields: statusFields()}, nil)

	m, err := r.Load(context.Background(), "instockstatus")
	require.NoError(t, err)
	assert.Len(t, m, 3)

	name, ok := m.Lookup("done")
	require.True(t, ok)
	assert.Equal(t, "Completed", name)

	name, _ = m.Lookup("PARTIAL")
	assert.Equal(t, "partial", name)
}

func TestLoadReturnsCopy(t *testing.T) {
	src := &fakeSource{fields: statusFields()}
	r := NewResolver(src, nil)
	ctx := context.Background()

	m, err := r.Load(ctx, "InstockStatus")
	require.NoError(t, err)
	m["1"] = "Tampered"
	delete(m, "done")

	assert.Equal(t, "Pending", r.Name(ctx, "InstockStatus", "1"))
	assert.Equal(t, "Completed", r.Name(ctx, "InstockStatus", "DONE"))

	again, err := r.Load(ctx, "instockstatus")
	require.NoError(t, err)
	assert.Len(t, again, 3)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestLoadMemoized(t *testing.T) {
	src := &fakeSource{fields: statusFields()}
	r := NewResolver(src, nil)
	ctx := context.Background()

	_, err := r.Load(ctx, "orderType")
	require.NoError(t, err)
	_, err = r.Load(ctx, "ORDERTYPE")
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())

	r.Reset()
	_, err = r.Load(ctx, "orderType")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestConcurrentLoadsShareOneCall(t *testing.T) {
	src := &fakeSource{fields: statusFields(), delay: 20 * time.Millisecond}
	r := NewResolver(src, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Load(context.Background(), "instockStatus")
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestLoadErrorNotMemoized(t *testing.T) {
	src := &fakeSource{err: errors.New("unreachable")}
	r := NewResolver(src, nil)

	_, err := r.Load(context.Background(), "orderType")
	require.Error(t, err)
	assert.Equal(t, "X1", r.Name(context.Background(), "orderType", "X1"))
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestNameFallsBackToCode(t *testing.T) {
	r := NewResolver(&fakeSource{fields: statusFields()}, nil)
	ctx := context.Background()

	assert.Equal(t, "Purchase", r.Name(ctx, "orderType", "PURCHASE"))
	assert.Equal(t, "return", r.Name(ctx, "orderType", "return"))
	assert.Equal(t, "x", r.Name(ctx, "unknownField", "x"))
}
