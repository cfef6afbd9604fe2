package typing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testShow    = 40 * time.Millisecond
	testHide    = 60 * time.Millisecond
	testCeiling = 250 * time.Millisecond
)

func TestDisplayShowAfterDelay(t *testing.T) {
	rec := &recorder{}
	d := NewDisplayTimings(rec.emit, testShow, testHide, testCeiling)
	defer d.Close()

	d.Signal(true)
	assert.Empty(t, rec.snapshot(), "показ отложен на showDelay")

	require.Eventually(t, func() bool {
		ev := rec.snapshot()
		return len(ev) == 1 && ev[0] == true
	}, time.Second, 5*time.Millisecond)
}

func TestDisplayFalseBeforeShowCancels(t *testing.T) {
	rec := &recorder{}
	d := NewDisplayTimings(rec.emit, testShow, testHide, testCeiling)
	defer d.Close()

	// Короткий всплеск: true, затем false до истечения showDelay — индикатор
	// вообще не показывается.
	d.Signal(true)
	time.Sleep(testShow / 2)
	d.Signal(false)

	time.Sleep(testShow * 3)
	assert.Empty(t, rec.snapshot())
}

func TestDisplayHideDelayed(t *testing.T) {
	rec := &recorder{}
	d := NewDisplayTimings(rec.emit, testShow, testHide, testCeiling)
	defer d.Close()

	d.Signal(true)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	d.Signal(false)
	// Скрытие тоже отложено.
	assert.Equal(t, []bool{true}, rec.snapshot())
	require.Eventually(t, func() bool {
		ev := rec.snapshot()
		return len(ev) == 2 && ev[1] == false
	}, time.Second, 5*time.Millisecond)
}

func TestDisplayFlickerSuppressed(t *testing.T) {
	rec := &recorder{}
	d := NewDisplayTimings(rec.emit, testShow, testHide, testCeiling)
	defer d.Close()

	d.Signal(true)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	// false и сразу снова true внутри hideDelay: индикатор не мерцает.
	d.Signal(false)
	time.Sleep(testHide / 3)
	d.Signal(true)

	time.Sleep(testHide * 2)
	assert.Equal(t, []bool{true}, rec.snapshot(), "рваный набор не должен вызывать мерцание")
}

func TestDisplayMessageArrivedHidesImmediately(t *testing.T) {
	rec := &recorder{}
	d := NewDisplayTimings(rec.emit, testShow, testHide, testCeiling)
	defer d.Close()

	d.Signal(true)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	d.MessageArrived()
	assert.Equal(t, []bool{true, false}, rec.snapshot(), "приход сообщения гасит индикатор сразу")
}

func TestDisplayCeiling(t *testing.T) {
	rec := &recorder{}
	d := NewDisplayTimings(rec.emit, testShow, testHide, testCeiling)
	defer d.Close()

	// typing=false потерян: индикатор всё равно гаснет по потолку.
	d.Signal(true)
	require.Eventually(t, func() bool {
		ev := rec.snapshot()
		return len(ev) == 2 && ev[0] == true && ev[1] == false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDisplayRepeatedTrueNoDuplicates(t *testing.T) {
	rec := &recorder{}
	d := NewDisplayTimings(rec.emit, testShow, testHide, testCeiling)
	defer d.Close()

	d.Signal(true)
	d.Signal(true)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	d.Signal(true)
	time.Sleep(testShow * 2)
	assert.Equal(t, []bool{true}, rec.snapshot(), "повторные typing=true не дублируют показ")
}

func TestDisplayCloseStopsEmissions(t *testing.T) {
	rec := &recorder{}
	d := NewDisplayTimings(rec.emit, testShow, testHide, testCeiling)

	d.Signal(true)
	d.Close()

	time.Sleep(testShow * 3)
	assert.Empty(t, rec.snapshot())
}
