package types

import "strconv"

// PeerID identifies a connected participant inside one session. Ids are
// assigned by the relay in join order and ordered by their integer value.
type PeerID int32

// NoPeer is the zero PeerID; no participant ever holds it.
const NoPeer PeerID = 0

func (p PeerID) String() string { return "p" + strconv.Itoa(int(p)) }

// PlayerRecord is a participant's display identity as seen by every peer.
type PlayerRecord struct {
	DisplayName  string `json:"display_name"`
	FrameID      string `json:"frame_id"`
	IconID       string `json:"icon_id"`
	CharacterID  int32  `json:"character_id"`
	SkinIndex    int32  `json:"skin_index"`
	MasteryLevel int32  `json:"mastery_level"`
}

// HasInfo reports whether the real payload has arrived (stubs have no name).
func (r PlayerRecord) HasInfo() bool { return r.DisplayName != "" }

// Property bag keys used for discovery and matchmaking filters.
const (
	PropMap  = "map"
	PropPvP  = "pvp"
	PropMode = "mode"
	PropCap  = "cap"
)

type ValueKind string

const (
	KindInt    ValueKind = "int"
	KindString ValueKind = "string"
)

// Value is one typed entry of a session property bag.
type Value struct {
	Kind ValueKind `json:"kind"`
	Int  int       `json:"int,omitempty"`
	Str  string    `json:"str,omitempty"`
}

func IntValue(v int) Value       { return Value{Kind: KindInt, Int: v} }
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

type Properties map[string]Value

// Int returns the int stored under key. A string value never matches.
func (p Properties) Int(key string) (int, bool) {
	v, ok := p[key]
	if !ok || v.Kind != KindInt {
		return 0, false
	}
	return v.Int, true
}

func (p Properties) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}

func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// SessionInfo is the directory entry for one session.
type SessionInfo struct {
	Name        string     `json:"name"`
	Capacity    int        `json:"capacity"`
	PlayerCount int        `json:"player_count"`
	Open        bool       `json:"open"`
	Visible     bool       `json:"visible"`
	Props       Properties `json:"props,omitempty"`
}

// HasRoom reports whether another participant could join right now.
func (s SessionInfo) HasRoom() bool {
	return s.Open && s.PlayerCount < s.Capacity
}

type OpenMode string

const (
	OpenCreate       OpenMode = "create"
	OpenJoin         OpenMode = "join"
	OpenCreateOrJoin OpenMode = "create_or_join"
)

// OpenRequest asks the relay to create and/or join a session.
type OpenRequest struct {
	Mode     OpenMode   `json:"mode"`
	Name     string     `json:"name"`
	Capacity int        `json:"capacity,omitempty"`
	Props    Properties `json:"props,omitempty"`
}

// ClientMessage is a frame sent by a peer to the relay.
type ClientMessage struct {
	Type    string       `json:"type"` // "open" | "send" | "marker" | "set_open"
	Open    *OpenRequest `json:"open,omitempty"`
	To      PeerID       `json:"to,omitempty"`
	Key     uint64       `json:"key,omitempty"`
	Payload []byte       `json:"payload,omitempty"`
	IsOpen  bool         `json:"is_open,omitempty"`
}

// ServerMessage is a frame sent by the relay to a peer.
type ServerMessage struct {
	Type      string       `json:"type"` // "opened" | "joined" | "left" | "message" | "error"
	Session   *SessionInfo `json:"session,omitempty"`
	Self      PeerID       `json:"self,omitempty"`
	Peer      PeerID       `json:"peer,omitempty"`
	Peers     []PeerID     `json:"peers,omitempty"`
	Authority PeerID       `json:"authority,omitempty"`
	From      PeerID       `json:"from,omitempty"`
	Key       uint64       `json:"key,omitempty"`
	Payload   []byte       `json:"payload,omitempty"`
	Error     string       `json:"error,omitempty"`
}

const (
	MsgOpen    = "open"
	MsgSend    = "send"
	MsgMarker  = "marker"
	MsgSetOpen = "set_open"

	MsgOpened  = "opened"
	MsgJoined  = "joined"
	MsgLeft    = "left"
	MsgMessage = "message"
	MsgError   = "error"
)
