package delivery

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupCheckAndRecord(t *testing.T) {
	d := NewDedup(10)

	require.True(t, d.CheckAndRecord("a"), "первый раз id должен быть новым")
	assert.False(t, d.CheckAndRecord("a"), "повтор того же id должен подавляться")
	assert.True(t, d.Seen("a"))
	assert.False(t, d.Seen("b"))
}

func TestDedupRecordIdempotent(t *testing.T) {
	d := NewDedup(10)

	d.Record("x")
	d.Record("x")
	d.Record("x")

	assert.Equal(t, 1, d.Len(), "повторные Record не плодят записи")
}

func TestDedupFIFOEviction(t *testing.T) {
	const capacity = 100
	d := NewDedup(capacity)

	for i := 0; i < capacity+20; i++ {
		d.Record(fmt.Sprintf("msg-%d", i))
	}

	assert.Equal(t, capacity, d.Len(), "кеш не растёт выше ёмкости")
	// Вытеснены ровно 20 самых старых, остальные на месте.
	for i := 0; i < 20; i++ {
		assert.False(t, d.Seen(fmt.Sprintf("msg-%d", i)), "msg-%d должен быть вытеснен", i)
	}
	for i := 20; i < capacity+20; i++ {
		assert.True(t, d.Seen(fmt.Sprintf("msg-%d", i)), "msg-%d должен остаться", i)
	}
}

func TestDedupDefaultCapacity(t *testing.T) {
	d := NewDedup(0)
	for i := 0; i < DefaultDedupCapacity+1; i++ {
		d.Record(fmt.Sprintf("m%d", i))
	}
	assert.Equal(t, DefaultDedupCapacity, d.Len())
	assert.False(t, d.Seen("m0"))
}
