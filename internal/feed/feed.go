// Package feed — лента изменений таблицы messages: события insert/update
// из durable-хранилища. Доставка at-least-once, возможны дубликаты и
// задержка в секунды; подписчики обязаны быть идемпотентными (дедупликацию
// делает транспорт доставки). Реализации: Listener (Postgres LISTEN/NOTIFY)
// и Memory (для тестов).
package feed

import "github.com/snaplink/internal/model"

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

// Event — одно изменение строки messages.
type Event struct {
	Op      Op            `json:"op"`
	Message model.Message `json:"record"`
}

// Feed раздаёт события изменений всем подписчикам.
type Feed interface {
	// Subscribe регистрирует fn для всех последующих событий. fn вызывается
	// из горутины ленты; фильтрация по паре собеседников — на стороне fn.
	Subscribe(fn func(Event)) Subscription
}

// Subscription — активная подписка на ленту. Close идемпотентен.
type Subscription interface {
	Close()
}
