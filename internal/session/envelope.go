package session

import "encoding/json"

// Message type discriminators shared with the client.
const (
	TypeScreenUpdate  = "screen-update"
	TypeAudioChunk    = "audio-chunk"
	TypeMouseEvent    = "mouse-event"
	TypeKeyboardEvent = "keyboard-event"
	TypeQualityUpdate = "quality-update"
	TypeError         = "error"
	TypeChatResponse  = "chatResponse"
)

// Dimensions of an encoded frame as sent on the wire.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ScreenUpdate is the outbound frame envelope.
type ScreenUpdate struct {
	Type       string     `json:"type"`
	Image      string     `json:"image"` // base64 JPEG
	Dimensions Dimensions `json:"dimensions"`
}

// AudioChunk is the outbound desktop-audio envelope.
type AudioChunk struct {
	Type       string `json:"type"`
	Data       string `json:"data"` // base64 Opus
	DurationMs int    `json:"durationMs"`
}

// MouseEvent carries client-normalized pointer coordinates plus the
// client viewport they are relative to.
type MouseEvent struct {
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	EventType    string  `json:"eventType"` // "down", "up" or "move"
	ScreenWidth  int     `json:"screenWidth"`
	ScreenHeight int     `json:"screenHeight"`
}

// KeyboardEvent carries a key tap with an optional modifier.
type KeyboardEvent struct {
	Key      string `json:"key"`
	Modifier string `json:"modifier,omitempty"`
}

// ErrorNotice is the outbound error envelope.
type ErrorNotice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ChatResponse is the outbound chat answer envelope.
type ChatResponse struct {
	Type     string `json:"type"`
	Response string `json:"response"`
}

// envelopeKind is the result of classifying an inbound payload.
type envelopeKind int

const (
	// kindUnclassified covers parse failures and unknown type tags; the
	// dispatcher sends these down the command/file/chat fallback chain.
	kindUnclassified envelopeKind = iota
	kindMouse
	kindKeyboard
	kindQuality
)

// envelope is the tagged union of everything a client can send.
type envelope struct {
	kind     envelopeKind
	mouse    MouseEvent
	keyboard KeyboardEvent
	quality  qualityUpdatePayload
}

type qualityUpdatePayload struct {
	Width       *int `json:"width,omitempty"`
	JPEGQuality *int `json:"jpegQuality,omitempty"`
	FPS         *int `json:"fps,omitempty"`
}

// decodeEnvelope validates an inbound payload at the boundary. Anything
// that does not parse as a known shape comes back unclassified, which is
// not an error, just the start of the fallback chain.
func decodeEnvelope(data []byte) envelope {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return envelope{kind: kindUnclassified}
	}

	switch probe.Type {
	case TypeMouseEvent:
		var ev MouseEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return envelope{kind: kindUnclassified}
		}
		return envelope{kind: kindMouse, mouse: ev}
	case TypeKeyboardEvent:
		var ev KeyboardEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return envelope{kind: kindUnclassified}
		}
		return envelope{kind: kindKeyboard, keyboard: ev}
	case TypeQualityUpdate:
		var u qualityUpdatePayload
		if err := json.Unmarshal(data, &u); err != nil {
			return envelope{kind: kindUnclassified}
		}
		return envelope{kind: kindQuality, quality: u}
	default:
		return envelope{kind: kindUnclassified}
	}
}
