package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotice(t *testing.T) {
	n, err := parseNotice(`{"op":"insert","id":"m1"}`)
	require.NoError(t, err)
	assert.Equal(t, OpInsert, n.Op)
	assert.Equal(t, "m1", n.ID)

	n, err = parseNotice(`{"op":"update","id":"m2"}`)
	require.NoError(t, err)
	assert.Equal(t, OpUpdate, n.Op)
}

func TestParseNoticeRejectsBadPayload(t *testing.T) {
	_, err := parseNotice(`не json`)
	assert.Error(t, err)

	_, err = parseNotice(`{"op":"insert"}`)
	assert.Error(t, err, "без id событие бесполезно")

	_, err = parseNotice(`{"op":"delete","id":"m1"}`)
	assert.Error(t, err, "неизвестная операция отбрасывается")
}

func TestRetryDelayDoublesToCeiling(t *testing.T) {
	d := retryDelay(0, false)
	assert.Equal(t, 2*time.Second, d, "первый повтор — с минимальной паузой")

	d = retryDelay(d, false)
	assert.Equal(t, 4*time.Second, d)
	d = retryDelay(d, false)
	assert.Equal(t, 8*time.Second, d)
	d = retryDelay(d, false)
	assert.Equal(t, 16*time.Second, d)
	d = retryDelay(d, false)
	assert.Equal(t, 30*time.Second, d, "пауза упирается в потолок")
	d = retryDelay(d, false)
	assert.Equal(t, 30*time.Second, d)
}

func TestRetryDelayResetsAfterLiveSession(t *testing.T) {
	d := 30 * time.Second
	d = retryDelay(d, true)
	assert.Equal(t, 2*time.Second, d, "после живой сессии отсчёт начинается заново")

	d = retryDelay(d, false)
	assert.Equal(t, 4*time.Second, d)
}
