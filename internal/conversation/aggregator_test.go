package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplink/internal/model"
)

type fakeFriends struct {
	friends []model.UserPublic
	calls   int
	err     error
}

func (f *fakeFriends) GetFriends(context.Context, string) ([]model.UserPublic, error) {
	f.calls++
	return f.friends, f.err
}

type fakeMessages struct {
	last   map[string]*model.Message
	unread map[string]int
}

func (f *fakeMessages) LastMessages(context.Context, string, []string) (map[string]*model.Message, error) {
	return f.last, nil
}

func (f *fakeMessages) UnreadCounts(context.Context, string) (map[string]int, error) {
	return f.unread, nil
}

func friend(id string) model.UserPublic {
	return model.UserPublic{ID: id, Username: "user-" + id}
}

func msgAt(id string, at time.Time) *model.Message {
	return &model.Message{ID: "m-" + id, SenderID: id, CreatedAt: at}
}

func TestAggregatorSortsByLastMessage(t *testing.T) {
	base := time.Now().UTC()
	friends := &fakeFriends{friends: []model.UserPublic{friend("a"), friend("b"), friend("c"), friend("d")}}
	messages := &fakeMessages{
		last: map[string]*model.Message{
			"a": msgAt("a", base.Add(-time.Hour)),
			"b": msgAt("b", base),
			// c и d без сообщений.
		},
		unread: map[string]int{"b": 3},
	}
	agg := NewAggregator(friends, messages, time.Minute)

	list, err := agg.List(context.Background(), "me", false)
	require.NoError(t, err)
	require.Len(t, list, 4)

	// Свежие переписки первыми, пустые диалоги в хвосте в исходном порядке.
	assert.Equal(t, "b", list[0].FriendID)
	assert.Equal(t, "a", list[1].FriendID)
	assert.Equal(t, "c", list[2].FriendID)
	assert.Equal(t, "d", list[3].FriendID)

	assert.Equal(t, 3, list[0].UnreadCount)
	assert.Zero(t, list[1].UnreadCount)
	assert.Nil(t, list[2].LastMessage)
}

func TestAggregatorNoFriends(t *testing.T) {
	agg := NewAggregator(&fakeFriends{}, &fakeMessages{}, time.Minute)
	list, err := agg.List(context.Background(), "me", false)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAggregatorCacheHitWithinTTL(t *testing.T) {
	friends := &fakeFriends{friends: []model.UserPublic{friend("a")}}
	agg := NewAggregator(friends, &fakeMessages{}, time.Minute)

	_, err := agg.List(context.Background(), "me", false)
	require.NoError(t, err)
	_, err = agg.List(context.Background(), "me", false)
	require.NoError(t, err)

	assert.Equal(t, 1, friends.calls, "внутри TTL список берётся из кеша")
}

func TestAggregatorCacheExpires(t *testing.T) {
	friends := &fakeFriends{friends: []model.UserPublic{friend("a")}}
	agg := NewAggregator(friends, &fakeMessages{}, 30*time.Second)

	current := time.Now()
	agg.now = func() time.Time { return current }

	_, err := agg.List(context.Background(), "me", false)
	require.NoError(t, err)

	current = current.Add(31 * time.Second)
	_, err = agg.List(context.Background(), "me", false)
	require.NoError(t, err)

	assert.Equal(t, 2, friends.calls, "после TTL список пересобирается")
}

func TestAggregatorForceRefresh(t *testing.T) {
	friends := &fakeFriends{friends: []model.UserPublic{friend("a")}}
	agg := NewAggregator(friends, &fakeMessages{}, time.Minute)

	_, err := agg.List(context.Background(), "me", false)
	require.NoError(t, err)
	_, err = agg.List(context.Background(), "me", true)
	require.NoError(t, err)

	assert.Equal(t, 2, friends.calls, "force идёт мимо кеша")
}

func TestAggregatorInvalidate(t *testing.T) {
	friends := &fakeFriends{friends: []model.UserPublic{friend("a")}}
	agg := NewAggregator(friends, &fakeMessages{}, time.Minute)

	_, err := agg.List(context.Background(), "me", false)
	require.NoError(t, err)

	agg.Invalidate("me")
	_, err = agg.List(context.Background(), "me", false)
	require.NoError(t, err)

	assert.Equal(t, 2, friends.calls, "инвалидация сбрасывает кеш пользователя")
}

func TestAggregatorInvalidateOtherUserKeepsCache(t *testing.T) {
	friends := &fakeFriends{friends: []model.UserPublic{friend("a")}}
	agg := NewAggregator(friends, &fakeMessages{}, time.Minute)

	_, err := agg.List(context.Background(), "me", false)
	require.NoError(t, err)

	agg.Invalidate("someone-else")
	_, err = agg.List(context.Background(), "me", false)
	require.NoError(t, err)

	assert.Equal(t, 1, friends.calls)
}

func TestAggregatorPropagatesErrors(t *testing.T) {
	friends := &fakeFriends{err: errors.New("db down")}
	agg := NewAggregator(friends, &fakeMessages{}, time.Minute)

	_, err := agg.List(context.Background(), "me", false)
	require.Error(t, err)
}
