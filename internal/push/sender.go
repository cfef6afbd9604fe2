// Package push — отправка Web Push уведомлений (VAPID) по подпискам из базы.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/snaplink/internal/logger"
	"github.com/snaplink/internal/model"
	"github.com/snaplink/internal/repository"
)

const sendTimeout = 10 * time.Second

// Sender шлёт уведомления всем подпискам пользователя. Если VAPID-ключи
// не заданы — все методы no-op (подписки сохраняются, отправка не выполняется).
type Sender struct {
	subs  *repository.PushSubscriptionRepository
	vapid *webpush.Options
}

func NewSender(subs *repository.PushSubscriptionRepository, publicKey, privateKey, subject string) *Sender {
	s := &Sender{subs: subs}
	if publicKey != "" && privateKey != "" {
		if subject == "" {
			subject = "snaplink-push"
		}
		s.vapid = &webpush.Options{
			Subscriber:      subject,
			VAPIDPublicKey:  publicKey,
			VAPIDPrivateKey: privateKey,
			TTL:             30,
		}
	}
	return s
}

// Enabled сообщает, настроены ли VAPID-ключи.
func (s *Sender) Enabled() bool { return s.vapid != nil }

type payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify отправляет пуш на все подписки userID. Ошибки доставки логируются,
// мёртвые подписки (404/410) удаляются из базы. Вызывать из горутины.
func (s *Sender) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if s.vapid == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	list, err := s.subs.GetByUser(ctx, userID)
	if err != nil {
		logger.Errorf("push notify: subscriptions for user: %v", err)
		return
	}
	if len(list) == 0 {
		return
	}
	raw, err := json.Marshal(payload{Title: title, Body: body, Data: data})
	if err != nil {
		logger.Errorf("push notify: encode payload: %v", err)
		return
	}
	for i := range list {
		s.sendOne(ctx, &list[i], raw)
	}
}

func (s *Sender) sendOne(ctx context.Context, sub *model.PushSubscription, raw []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, raw, wpSub, s.vapid)
	if err != nil {
		logger.Errorf("push send %s: %v", truncate(sub.Endpoint, 50), err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		// Подписка мертва, чистим.
		if err := s.subs.DeleteByEndpoint(context.WithoutCancel(ctx), sub.Endpoint); err != nil {
			logger.Errorf("push: delete dead subscription: %v", err)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
