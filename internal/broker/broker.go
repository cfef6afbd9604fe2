// Package broker — быстрый best-effort pub/sub по именованным топикам.
// Доставка не гарантируется и не переживает разрыв соединения: надёжность
// обеспечивает durable-канал (лента изменений БД), broker отвечает только
// за низкую задержку. Реализации: redis.Client (pub/sub), memory.Client
// (для -dev и тестов).
package broker

import "context"

// Broker публикует и принимает сообщения по топикам.
type Broker interface {
	// Publish отправляет payload всем текущим подписчикам топика. Ошибка
	// публикации не означает, что сообщение потеряно для системы в целом —
	// вызывающий обязан считать этот путь необязательным.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe вызывает fn для каждого сообщения топика до закрытия подписки.
	// fn вызывается из горутины брокера; долгие операции внутри fn блокируют
	// доставку остальных сообщений этой подписки.
	Subscribe(ctx context.Context, topic string, fn func(payload []byte)) (Subscription, error)
	Close() error
}

// Subscription — открытая подписка. Close идемпотентен.
type Subscription interface {
	Close()
}

// InstantTopic — топик мгновенной доставки сообщений от sender к receiver.
func InstantTopic(senderID, receiverID string) string {
	return "instant:" + senderID + ":" + receiverID
}

// TypingTopic — топик typing-сигналов от sender к receiver.
func TypingTopic(senderID, receiverID string) string {
	return "typing:" + senderID + ":" + receiverID
}
