package app

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mystline/advisory/internal/core"
	"github.com/mystline/advisory/internal/domain"
)

func chatMsg(content string) *domain.ChatMessage {
	return &domain.ChatMessage{
		SessionID:  1,
		SenderID:   1,
		ReceiverID: 2,
		Content:    content,
	}
}

func TestSendMessageDeliveredWhenConnected(t *testing.T) {
	_, reg, _, _, delivery, _ := newTestStack()
	receiver := &fakeConn{}
	reg.Connect(2, receiver, nil)

	res := delivery.SendMessage(context.Background(), chatMsg("hello"))

	assert.True(t, res.Success)
	assert.True(t, res.Delivered)
	assert.True(t, res.Persisted)
	assert.False(t, res.Queued)
	assert.NotEmpty(t, res.MessageID)
	require.Len(t, receiver.sent(), 1)
}

func TestSendMessageQueuedWhenOffline(t *testing.T) {
	_, reg, _, _, delivery, _ := newTestStack()

	res := delivery.SendMessage(context.Background(), chatMsg("hello"))

	assert.True(t, res.Success)
	assert.False(t, res.Delivered)
	assert.True(t, res.Queued)
	assert.True(t, res.Persisted)
	assert.Equal(t, 1, delivery.QueuedCount(2))

	receiver := &fakeConn{}
	reg.Connect(2, receiver, nil)
	assert.Equal(t, 1, delivery.DeliverQueuedMessages(2))
	assert.Equal(t, 0, delivery.QueuedCount(2))
	assert.Len(t, receiver.sent(), 1)
}

func TestSendMessagePersistenceIndependentOfDelivery(t *testing.T) {
	st, reg, _, _, delivery, _ := newTestStack()
	receiver := &fakeConn{}
	reg.Connect(2, receiver, nil)
	st.failCreateMessage = true

	res := delivery.SendMessage(context.Background(), chatMsg("hello"))

	// The user saw it even though it will not survive a restart.
	assert.True(t, res.Success)
	assert.True(t, res.Delivered)
	assert.False(t, res.Persisted)
	assert.NotEmpty(t, res.Err)
	assert.False(t, res.Queued)
}

func TestSendMessageDeliversBeforePersisting(t *testing.T) {
	st, reg, _, _, delivery, _ := newTestStack()
	receiver := &fakeConn{}
	reg.Connect(2, receiver, nil)

	release := make(chan struct{})
	st.blockCreateMessage = release

	done := make(chan core.SendResult, 1)
	go func() {
		done <- delivery.SendMessage(context.Background(), chatMsg("hello"))
	}()

	// The receiver sees the message while the store write is still hanging.
	require.Eventually(t, func() bool {
		return len(receiver.sent()) == 1
	}, time.Second, 5*time.Millisecond)

	close(release)
	res := <-done
	assert.True(t, res.Delivered)
	assert.True(t, res.Persisted)
}

func TestOfflineQueueFIFOOrder(t *testing.T) {
	_, reg, _, _, delivery, _ := newTestStack()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		delivery.SendMessage(ctx, chatMsg(fmt.Sprintf("msg-%d", i)))
	}

	receiver := &fakeConn{}
	reg.Connect(2, receiver, nil)
	delivery.DeliverQueuedMessages(2)

	frames := receiver.sent()
	require.Len(t, frames, 5)
	for i, frame := range frames {
		var env chatEnvelope
		require.NoError(t, json.Unmarshal(frame, &env))
		assert.Equal(t, fmt.Sprintf("msg-%d", i), env.Payload.Content)
	}
}

func TestOfflineQueueCapDropsOldest(t *testing.T) {
	st := newFakeStore()
	reg := NewRegistry()
	delivery := NewMessageDelivery(st, reg, 100)
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		res := delivery.SendMessage(ctx, chatMsg(fmt.Sprintf("msg-%d", i)))
		assert.True(t, res.Success, "message %d", i)
	}
	assert.Equal(t, 100, delivery.QueuedCount(2))

	receiver := &fakeConn{}
	reg.Connect(2, receiver, nil)
	delivery.DeliverQueuedMessages(2)

	frames := receiver.sent()
	require.Len(t, frames, 100)
	var first chatEnvelope
	require.NoError(t, json.Unmarshal(frames[0], &first))
	assert.Equal(t, "msg-50", first.Payload.Content, "oldest fifty were dropped")
}

func TestTypingIndicatorRelaysToOtherMembers(t *testing.T) {
	_, reg, _, _, delivery, _ := newTestStack()
	sender := &fakeConn{}
	other := &fakeConn{}
	reg.Connect(1, sender, nil)
	reg.Connect(2, other, nil)
	reg.AddToSession(1, 10)
	reg.AddToSession(2, 10)

	delivery.HandleTypingIndicator(10, 1, true)

	assert.Empty(t, sender.sent(), "sender never hears their own indicator")
	require.Len(t, other.sent(), 1)
	var env struct {
		Type     string `json:"type"`
		IsTyping bool   `json:"isTyping"`
	}
	require.NoError(t, json.Unmarshal(other.sent()[0], &env))
	assert.Equal(t, "typing_indicator", env.Type)
	assert.True(t, env.IsTyping)
}

func TestTypingIndicatorOfflineRecipientIsHarmless(t *testing.T) {
	_, reg, _, _, delivery, _ := newTestStack()
	reg.AddToSession(1, 10)
	reg.AddToSession(2, 10)

	delivery.HandleTypingIndicator(10, 1, true) // nobody connected, no panic
}

func TestConfirmDeliveryAndMarkRead(t *testing.T) {
	_, reg, _, _, delivery, _ := newTestStack()
	sender := &fakeConn{}
	reg.Connect(1, sender, nil)

	res := delivery.SendMessage(context.Background(), chatMsg("hi"))
	require.True(t, res.Persisted)

	delivery.ConfirmDelivery(res.MessageID, 1)
	delivery.MarkRead(context.Background(), res.MessageID, 1)

	frames := sender.sent()
	require.Len(t, frames, 2)
	var first, second struct {
		Type      string `json:"type"`
		MessageID string `json:"messageId"`
	}
	require.NoError(t, json.Unmarshal(frames[0], &first))
	require.NoError(t, json.Unmarshal(frames[1], &second))
	assert.Equal(t, "message_delivered", first.Type)
	assert.Equal(t, "message_read", second.Type)
	assert.Equal(t, res.MessageID, first.MessageID)
}

func TestHistoryPassthrough(t *testing.T) {
	_, _, _, _, delivery, _ := newTestStack()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		delivery.SendMessage(ctx, chatMsg(fmt.Sprintf("m%d", i)))
	}
	history, err := delivery.History(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, "m2", history[1].Content)
}
