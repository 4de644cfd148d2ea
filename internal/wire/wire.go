// Package wire encodes the four peer-to-peer messages of the lobby protocol.
//
// Frame layout: [1 byte tag][payload]. Integers are little-endian int32;
// strings are a uvarint byte length followed by UTF-8 bytes.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/DoyleJ11/lobby-sync/internal/types"
)

type Tag byte

const (
	TagPlayerInfo    Tag = 1
	TagMatchStart    Tag = 2
	TagMatchStartAck Tag = 3
	TagSceneReady    Tag = 4
)

func (t Tag) String() string {
	switch t {
	case TagPlayerInfo:
		return "PlayerInfo"
	case TagMatchStart:
		return "MatchStart"
	case TagMatchStartAck:
		return "MatchStartAck"
	case TagSceneReady:
		return "SceneReady"
	default:
		return fmt.Sprintf("Tag(%d)", byte(t))
	}
}

const maxStringLen = 4 << 10

var (
	ErrEmptyFrame    = errors.New("empty frame")
	ErrUnknownTag    = errors.New("unknown message tag")
	ErrShortBuffer   = errors.New("short buffer")
	ErrTrailingBytes = errors.New("trailing bytes after payload")
	ErrStringTooLong = errors.New("string too long")
)

type Message interface {
	Tag() Tag
}

// PlayerInfo carries one peer's full display record.
type PlayerInfo struct {
	Peer   types.PeerID
	Record types.PlayerRecord
}

type MatchStart struct {
	SceneIndex int32
}

type MatchStartAck struct{}

type SceneReady struct{}

func (PlayerInfo) Tag() Tag    { return TagPlayerInfo }
func (MatchStart) Tag() Tag    { return TagMatchStart }
func (MatchStartAck) Tag() Tag { return TagMatchStartAck }
func (SceneReady) Tag() Tag    { return TagSceneReady }

func Encode(m Message) ([]byte, error) {
	buf := []byte{byte(m.Tag())}
	switch msg := m.(type) {
	case PlayerInfo:
		r := msg.Record
		buf = appendInt32(buf, int32(msg.Peer))
		for _, s := range []string{r.DisplayName, r.FrameID, r.IconID} {
			if len(s) > maxStringLen {
				return nil, fmt.Errorf("encode %s: %w", msg.Tag(), ErrStringTooLong)
			}
			buf = binary.AppendUvarint(buf, uint64(len(s)))
			buf = append(buf, s...)
		}
		buf = appendInt32(buf, r.CharacterID)
		buf = appendInt32(buf, r.SkinIndex)
		buf = appendInt32(buf, r.MasteryLevel)
	case MatchStart:
		buf = appendInt32(buf, msg.SceneIndex)
	case MatchStartAck, SceneReady:
	default:
		return nil, fmt.Errorf("encode %T: %w", m, ErrUnknownTag)
	}
	return buf, nil
}

func Decode(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	tag := Tag(frame[0])
	r := reader{buf: frame[1:]}

	var m Message
	switch tag {
	case TagPlayerInfo:
		var pi PlayerInfo
		pi.Peer = types.PeerID(r.int32())
		pi.Record.DisplayName = r.string()
		pi.Record.FrameID = r.string()
		pi.Record.IconID = r.string()
		pi.Record.CharacterID = r.int32()
		pi.Record.SkinIndex = r.int32()
		pi.Record.MasteryLevel = r.int32()
		m = pi
	case TagMatchStart:
		m = MatchStart{SceneIndex: r.int32()}
	case TagMatchStartAck:
		m = MatchStartAck{}
	case TagSceneReady:
		m = SceneReady{}
	default:
		return nil, fmt.Errorf("decode tag %d: %w", byte(tag), ErrUnknownTag)
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode %s: %w", tag, r.err)
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("decode %s: %w", tag, ErrTrailingBytes)
	}
	return m, nil
}

func appendInt32(b []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(b, uint32(v))
}

// reader consumes a payload and remembers the first error.
type reader struct {
	buf []byte
	err error
}

func (r *reader) int32() int32 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 4 {
		r.err = ErrShortBuffer
		return 0
	}
	v := int32(binary.LittleEndian.Uint32(r.buf))
	r.buf = r.buf[4:]
	return v
}

func (r *reader) string() string {
	if r.err != nil {
		return ""
	}
	n, used := binary.Uvarint(r.buf)
	if used <= 0 {
		r.err = ErrShortBuffer
		return ""
	}
	if n > maxStringLen {
		r.err = ErrStringTooLong
		return ""
	}
	r.buf = r.buf[used:]
	if uint64(len(r.buf)) < n {
		r.err = ErrShortBuffer
		return ""
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s
}
