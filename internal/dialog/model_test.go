package dialog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetString(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(`{"order_no":"RK-1","qty":3}`), &p))

	no, ok := GetString(p, KeyOrderNo)
	assert.True(t, ok)
	assert.Equal(t, "RK-1", no)

	_, ok = GetString(p, "qty")
	assert.False(t, ok)
	_, ok = GetString(p, KeyKind)
	assert.False(t, ok)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	it, err := m.Get(ctx, "pda-1")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, it.State)

	p := Payload{KeyKind: "material_in", KeyOrderNo: "RK-1"}
	require.NoError(t, m.Set(ctx, "pda-1", StateOrder, p))
	p[KeyOrderNo] = "changed"

	it, err = m.Get(ctx, "pda-1")
	require.NoError(t, err)
	assert.Equal(t, StateOrder, it.State)
	no, _ := GetString(it.Payload, KeyOrderNo)
	assert.Equal(t, "RK-1", no)

	require.NoError(t, m.Reset(ctx, "pda-1"))
	it, err = m.Get(ctx, "pda-1")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, it.State)
}
