package typing

import (
	"sync"
	"time"
)

// Тайминги стороны наблюдателя.
const (
	// showDelay — пауза перед показом индикатора после typing=true:
	// гасит дребезг сигнала и джиттер транспорта.
	showDelay = 1500 * time.Millisecond
	// hideDelay — пауза перед скрытием после typing=false: собеседник,
	// набирающий рывками, не должен вызывать мерцание.
	hideDelay = 2 * time.Second
	// maxVisible — жёсткий потолок видимости: индикатор гаснет даже если
	// typing=false так и не пришёл (потерян на best-effort канале).
	maxVisible = 10 * time.Second
)

// Display — приёмная сторона typing-индикатора. onChange(true/false)
// вызывается при каждом изменении видимости, вне внутренней блокировки.
// Инвариант: индикатор не показывается без полученного typing=true и
// всегда в итоге гаснет.
type Display struct {
	mu         sync.Mutex
	visible    bool
	showDelay  time.Duration
	hideDelay  time.Duration
	maxVisible time.Duration
	onChange   func(visible bool)

	showTimer    *time.Timer
	hideTimer    *time.Timer
	ceilingTimer *time.Timer
	closed       bool
}

// NewDisplay создаёт Display со штатными таймингами.
func NewDisplay(onChange func(visible bool)) *Display {
	return NewDisplayTimings(onChange, showDelay, hideDelay, maxVisible)
}

// NewDisplayTimings — вариант с явными таймингами (тесты).
func NewDisplayTimings(onChange func(visible bool), show, hide, ceiling time.Duration) *Display {
	return &Display{showDelay: show, hideDelay: hide, maxVisible: ceiling, onChange: onChange}
}

// Signal обрабатывает входящий typing-сигнал собеседника.
func (d *Display) Signal(isTyping bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if isTyping {
		// Отложенное скрытие отменяется: собеседник продолжает набирать.
		if d.hideTimer != nil {
			d.hideTimer.Stop()
			d.hideTimer = nil
		}
		if d.visible || d.showTimer != nil {
			return
		}
		d.showTimer = time.AfterFunc(d.showDelay, d.show)
		return
	}
	// typing=false: несостоявшийся показ отменяется, показанный — гаснет с паузой.
	if d.showTimer != nil {
		d.showTimer.Stop()
		d.showTimer = nil
	}
	if d.visible && d.hideTimer == nil {
		d.hideTimer = time.AfterFunc(d.hideDelay, d.hide)
	}
}

// MessageArrived гасит индикатор сразу: раз сообщение пришло, набор окончен.
func (d *Display) MessageArrived() {
	d.hide()
}

func (d *Display) show() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.showTimer = nil
	if d.visible {
		d.mu.Unlock()
		return
	}
	d.visible = true
	d.ceilingTimer = time.AfterFunc(d.maxVisible, d.hide)
	onChange := d.onChange
	d.mu.Unlock()
	onChange(true)
}

func (d *Display) hide() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.stopTimersLocked()
	if !d.visible {
		d.mu.Unlock()
		return
	}
	d.visible = false
	onChange := d.onChange
	d.mu.Unlock()
	onChange(false)
}

// Close отменяет таймеры; после Close ни одного onChange не будет.
func (d *Display) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.visible = false
	d.stopTimersLocked()
}

func (d *Display) stopTimersLocked() {
	if d.showTimer != nil {
		d.showTimer.Stop()
		d.showTimer = nil
	}
	if d.hideTimer != nil {
		d.hideTimer.Stop()
		d.hideTimer = nil
	}
	if d.ceilingTimer != nil {
		d.ceilingTimer.Stop()
		d.ceilingTimer = nil
	}
}
