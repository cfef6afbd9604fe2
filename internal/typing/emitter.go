// Package typing — дебаунс typing-индикатора с двух сторон переписки.
// Emitter (сторона набирающего) превращает сырые нажатия клавиш в редкие
// сигналы typing=true/false; Display (сторона наблюдателя) сглаживает
// показ индикатора. Это два независимых автомата с разными константами —
// их нельзя объединять в один.
package typing

import (
	"sync"
	"time"
)

// Тайминги стороны отправителя.
const (
	// announceDelay — пауза между первым нажатием и сигналом typing=true:
	// одиночное нажатие не должно дёргать собеседника.
	announceDelay = 1500 * time.Millisecond
	// autoStop — сколько держится typing=true без новых нажатий.
	autoStop = 3 * time.Second
)

type emitterState int

const (
	stateIdle emitterState = iota
	statePendingAnnounce
	stateAnnounced
)

// Emitter — автомат Idle → PendingAnnounce → Announced → Idle для одной
// исходящей переписки. emit вызывается вне внутренней блокировки.
type Emitter struct {
	mu            sync.Mutex
	state         emitterState
	announceDelay time.Duration
	autoStop      time.Duration
	emit          func(typing bool)
	timer         *time.Timer
	closed        bool
}

// NewEmitter создаёт Emitter со штатными таймингами.
func NewEmitter(emit func(typing bool)) *Emitter {
	return NewEmitterTimings(emit, announceDelay, autoStop)
}

// NewEmitterTimings — вариант с явными таймингами (тесты).
func NewEmitterTimings(emit func(typing bool), announce, stop time.Duration) *Emitter {
	return &Emitter{state: stateIdle, announceDelay: announce, autoStop: stop, emit: emit}
}

// Keystroke регистрирует нажатие клавиши.
// Из Idle запускается таймер анонса; пока анонс не случился, новые нажатия
// его не откладывают — непрерывный набор анонсируется через announceDelay
// после первого нажатия. После анонса каждое нажатие отодвигает авто-стоп.
func (e *Emitter) Keystroke() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	switch e.state {
	case stateIdle:
		e.state = statePendingAnnounce
		e.timer = time.AfterFunc(e.announceDelay, e.announce)
	case statePendingAnnounce:
		// Анонс уже назначен; ждём его, не откладывая.
	case stateAnnounced:
		e.timer.Reset(e.autoStop)
	}
}

func (e *Emitter) announce() {
	e.mu.Lock()
	if e.closed || e.state != statePendingAnnounce {
		e.mu.Unlock()
		return
	}
	e.state = stateAnnounced
	e.timer = time.AfterFunc(e.autoStop, e.autoStopFire)
	emit := e.emit
	e.mu.Unlock()
	emit(true)
}

func (e *Emitter) autoStopFire() {
	e.mu.Lock()
	if e.closed || e.state != stateAnnounced {
		e.mu.Unlock()
		return
	}
	e.state = stateIdle
	emit := e.emit
	e.mu.Unlock()
	emit(false)
}

// MessageSent гасит индикатор немедленно: отправка сообщения завершает
// сессию набора. Если анонс ещё не прозвучал, false не шлётся.
func (e *Emitter) MessageSent() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	wasAnnounced := e.state == stateAnnounced
	e.state = stateIdle
	emit := e.emit
	e.mu.Unlock()
	if wasAnnounced {
		emit(false)
	}
}

// Close отменяет таймеры; после Close ни одного emit не будет.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.state = stateIdle
	if e.timer != nil {
		e.timer.Stop()
	}
}
