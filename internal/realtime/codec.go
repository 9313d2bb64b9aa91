package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Engine.IO v4 packet types.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioNoop    = '6'
)

// Socket.IO v4 packet types, carried inside an Engine.IO message.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioAck          = '3'
	sioConnectError = '4'
)

var (
	errEmptyPacket = errors.New("empty packet")

	pongFrame       = []byte{eioPong}
	disconnectFrame = []byte{eioMessage, sioDisconnect}
)

// openInfo is the Engine.IO handshake sent by the server on connect.
type openInfo struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"` // ms
	PingTimeout  int    `json:"pingTimeout"`  // ms
	MaxPayload   int64  `json:"maxPayload"`
}

// liveness is how long the connection may stay silent before it is
// considered dead: the server pings every interval and allows timeout.
func (o openInfo) liveness() time.Duration {
	d := time.Duration(o.PingInterval+o.PingTimeout) * time.Millisecond
	if d <= 0 {
		return 45 * time.Second
	}
	return d
}

// packet is one decoded frame.
type packet struct {
	engine byte
	socket byte // zero unless engine == eioMessage

	open    *openInfo
	event   string
	payload json.RawMessage // first event argument, or the connect/error body
}

func decodePacket(data []byte) (packet, error) {
	if len(data) == 0 {
		return packet{}, errEmptyPacket
	}
	p := packet{engine: data[0]}
	body := data[1:]

	switch p.engine {
	case eioOpen:
		var info openInfo
		if err := json.Unmarshal(body, &info); err != nil {
			return p, fmt.Errorf("decode open packet: %w", err)
		}
		p.open = &info
	case eioClose, eioPing, eioPong, eioNoop:
	case eioMessage:
		if len(body) == 0 {
			return p, errEmptyPacket
		}
		p.socket = body[0]
		body = skipNamespace(body[1:])
		switch p.socket {
		case sioEvent:
			name, arg, err := decodeEvent(skipAckID(body))
			if err != nil {
				return p, err
			}
			p.event, p.payload = name, arg
		case sioConnect, sioConnectError:
			p.payload = json.RawMessage(bytes.Clone(body))
		}
	default:
		return p, fmt.Errorf("unknown packet type %q", p.engine)
	}
	return p, nil
}

// skipNamespace drops a "/nsp," prefix; only the default namespace is used.
func skipNamespace(b []byte) []byte {
	if len(b) > 0 && b[0] == '/' {
		if i := bytes.IndexByte(b, ','); i >= 0 {
			return b[i+1:]
		}
		return nil
	}
	return b
}

func skipAckID(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	return b[i:]
}

func decodeEvent(b []byte) (string, json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(b, &args); err != nil {
		return "", nil, fmt.Errorf("decode event: %w", err)
	}
	if len(args) == 0 {
		return "", nil, errors.New("decode event: missing name")
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, fmt.Errorf("decode event name: %w", err)
	}
	if len(args) == 1 {
		return name, nil, nil
	}
	return name, args[1], nil
}

func encodeConnect(token string) ([]byte, error) {
	auth, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, err
	}
	return append([]byte{eioMessage, sioConnect}, auth...), nil
}

func encodeEvent(name string, args ...any) ([]byte, error) {
	arr := make([]any, 0, len(args)+1)
	arr = append(arr, name)
	arr = append(arr, args...)
	b, err := json.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return append([]byte{eioMessage, sioEvent}, b...), nil
}

// connectError extracts the message of a CONNECT_ERROR packet.
func connectError(p packet) error {
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(p.payload, &body) == nil && body.Message != "" {
		return fmt.Errorf("connect rejected: %s", body.Message)
	}
	return errors.New("connect rejected")
}
