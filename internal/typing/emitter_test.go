package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder копит эмиссии автомата с таймштампами.
type recorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *recorder) emit(v bool) {
	r.mu.Lock()
	r.events = append(r.events, v)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.events))
	copy(out, r.events)
	return out
}

const (
	testAnnounce = 40 * time.Millisecond
	testAutoStop = 80 * time.Millisecond
)

func TestEmitterAnnounceAfterDelay(t *testing.T) {
	rec := &recorder{}
	e := NewEmitterTimings(rec.emit, testAnnounce, testAutoStop)
	defer e.Close()

	e.Keystroke()
	assert.Empty(t, rec.snapshot(), "до паузы анонса эмиссий нет")

	require.Eventually(t, func() bool {
		ev := rec.snapshot()
		return len(ev) == 1 && ev[0] == true
	}, time.Second, 5*time.Millisecond, "после паузы должен прозвучать typing=true")
}

func TestEmitterContinuousTypingAnnouncesOnce(t *testing.T) {
	rec := &recorder{}
	e := NewEmitterTimings(rec.emit, testAnnounce, testAutoStop)
	defer e.Close()

	// Непрерывный набор: нажатия чаще паузы анонса не должны откладывать анонс.
	stop := time.After(testAnnounce * 2)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-tick.C:
			e.Keystroke()
		}
	}

	ev := rec.snapshot()
	require.NotEmpty(t, ev, "непрерывный набор обязан анонсироваться")
	assert.Equal(t, []bool{true}, ev, "ровно один анонс, без повторов")
}

func TestEmitterAutoStop(t *testing.T) {
	rec := &recorder{}
	e := NewEmitterTimings(rec.emit, testAnnounce, testAutoStop)
	defer e.Close()

	e.Keystroke()
	require.Eventually(t, func() bool {
		ev := rec.snapshot()
		return len(ev) == 2 && ev[0] == true && ev[1] == false
	}, time.Second, 5*time.Millisecond, "без новых нажатий typing=false приходит сам")
}

func TestEmitterKeystrokeExtendsAutoStop(t *testing.T) {
	rec := &recorder{}
	e := NewEmitterTimings(rec.emit, testAnnounce, testAutoStop)
	defer e.Close()

	e.Keystroke()
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	// Нажатия после анонса отодвигают авто-стоп.
	for i := 0; i < 4; i++ {
		time.Sleep(testAutoStop / 2)
		e.Keystroke()
	}
	assert.Equal(t, []bool{true}, rec.snapshot(), "пока набор продолжается, typing=false не шлётся")

	require.Eventually(t, func() bool {
		ev := rec.snapshot()
		return len(ev) == 2 && ev[1] == false
	}, time.Second, 5*time.Millisecond)
}

func TestEmitterMessageSentBeforeAnnounce(t *testing.T) {
	rec := &recorder{}
	e := NewEmitterTimings(rec.emit, testAnnounce, testAutoStop)
	defer e.Close()

	// Сообщение отправлено до анонса: ни true, ни false не звучат.
	e.Keystroke()
	e.MessageSent()

	time.Sleep(testAnnounce * 3)
	assert.Empty(t, rec.snapshot())
}

func TestEmitterMessageSentAfterAnnounce(t *testing.T) {
	rec := &recorder{}
	e := NewEmitterTimings(rec.emit, testAnnounce, testAutoStop)
	defer e.Close()

	e.Keystroke()
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	e.MessageSent()
	assert.Equal(t, []bool{true, false}, rec.snapshot(), "отправка гасит индикатор немедленно")

	// Следующая сессия набора начинается с чистого Idle.
	e.Keystroke()
	require.Eventually(t, func() bool {
		ev := rec.snapshot()
		return len(ev) == 3 && ev[2] == true
	}, time.Second, 5*time.Millisecond)
}

func TestEmitterCloseStopsEmissions(t *testing.T) {
	rec := &recorder{}
	e := NewEmitterTimings(rec.emit, testAnnounce, testAutoStop)

	e.Keystroke()
	e.Close()

	time.Sleep(testAnnounce * 3)
	assert.Empty(t, rec.snapshot(), "после Close эмиссий нет")
}
