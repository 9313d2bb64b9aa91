package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePacket(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		engine  byte
		socket  byte
		event   string
		payload string
	}{
		{"ping", "2", eioPing, 0, "", ""},
		{"close", "1", eioClose, 0, "", ""},
		{"connect ack", `40{"sid":"abc"}`, eioMessage, sioConnect, "", `{"sid":"abc"}`},
		{"event", `42["notification",{"unreadCount":3}]`, eioMessage, sioEvent, "notification", `{"unreadCount":3}`},
		{"event without args", `42["notifications-cleared"]`, eioMessage, sioEvent, "notifications-cleared", ""},
		{"event with ack id", `4217["joinChat","c1"]`, eioMessage, sioEvent, "joinChat", `"c1"`},
		{"namespaced event", `42/chat,["receiveMessage",{"_id":"m1"}]`, eioMessage, sioEvent, "receiveMessage", `{"_id":"m1"}`},
		{"bare count", `42["bootstrap-unread-count",5]`, eioMessage, sioEvent, "bootstrap-unread-count", `5`},
		{"disconnect", `41`, eioMessage, sioDisconnect, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := decodePacket([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.engine, p.engine)
			assert.Equal(t, tt.socket, p.socket)
			assert.Equal(t, tt.event, p.event)
			assert.Equal(t, tt.payload, string(p.payload))
		})
	}
}

func TestDecodeOpenPacket(t *testing.T) {
	p, err := decodePacket([]byte(`0{"sid":"s1","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`))
	require.NoError(t, err)
	require.NotNil(t, p.open)
	assert.Equal(t, "s1", p.open.SID)
	assert.Equal(t, 45*time.Second, p.open.liveness())
	assert.Equal(t, int64(1000000), p.open.MaxPayload)
}

func TestDecodeMalformed(t *testing.T) {
	for _, frame := range []string{"", "4", "9", `42{"not":"array"}`, `42[]`, `42[7]`, `0{`} {
		_, err := decodePacket([]byte(frame))
		assert.Error(t, err, frame)
	}
}

func TestEncode(t *testing.T) {
	b, err := encodeConnect("tok")
	require.NoError(t, err)
	assert.Equal(t, `40{"token":"tok"}`, string(b))

	b, err = encodeEvent(EventSendMessage, map[string]any{"chatId": "c1"})
	require.NoError(t, err)
	assert.Equal(t, `42["sendMessage",{"chatId":"c1"}]`, string(b))

	b, err = encodeEvent(EventJoinChat, "c1")
	require.NoError(t, err)
	assert.Equal(t, `42["joinChat","c1"]`, string(b))
}

func TestSocketURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:5000":      "ws://localhost:5000/socket.io/?EIO=4&transport=websocket",
		"https://api.example.com/":   "wss://api.example.com/socket.io/?EIO=4&transport=websocket",
		"wss://api.example.com/base": "wss://api.example.com/base/socket.io/?EIO=4&transport=websocket",
	}
	for in, want := range tests {
		got, err := socketURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := socketURL("ftp://x")
	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	now := time.Now()
	b := &backoff{base: 100 * time.Millisecond, max: time.Second, maxAttempts: 3, stableAfter: time.Minute}

	d1 := b.next(now)
	d2 := b.next(now)
	d3 := b.next(now)
	assert.GreaterOrEqual(t, d1, 100*time.Millisecond)
	assert.Less(t, d1, 150*time.Millisecond)
	assert.GreaterOrEqual(t, d2, 200*time.Millisecond)
	assert.LessOrEqual(t, d3, time.Second)
	assert.True(t, b.exhausted())

	b.markConnected(now)
	b.next(now.Add(2 * time.Minute))
	assert.Equal(t, 1, b.attempt)
}
