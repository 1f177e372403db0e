package types

import "context"

// Frame is a raw captured screen frame. Pixel data is tightly packed
// rows of Stride bytes each.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Stride int
	PixFmt int // 0 = BGRA (default), 1 = RGBA
}

const (
	PixFmtBGRA = 0
	PixFmtRGBA = 1
)

// EncodedFrame is a compressed (JPEG) frame ready for fan-out. Once
// published it is immutable and may be shared across subscribers.
type EncodedFrame struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp int64 // publish time, Unix milliseconds
}

// ResizeMode selects the scaling filter used before encoding.
type ResizeMode int

const (
	ResizeQuality ResizeMode = iota // slower, better output
	ResizeFast                      // cheap bilinear under load
)

// AudioPacket is an Opus-encoded chunk of desktop audio.
type AudioPacket struct {
	Data       []byte
	DurationMs int
}

// FrameSource pulls raw frames from the OS on demand.
type FrameSource interface {
	Width() int
	Height() int
	Capture() (*Frame, error)
	Close()
}

// FrameEncoder scales a raw frame to the target dimensions and encodes
// it to a compressed buffer.
type FrameEncoder interface {
	Encode(frame *Frame, width, height, quality int, mode ResizeMode) ([]byte, error)
}

// InputInjector translates mapped host coordinates and key names into
// OS-level pointer and keyboard actions.
type InputInjector interface {
	MoveTo(x, y int)
	ToggleButton(down bool, button string)
	KeyTap(key, modifier string)
	Close()
}

// CommandExecutor runs a recognized command against the host editor.
// Execution is external to the streaming core; the dispatcher only
// classifies and forwards.
type CommandExecutor interface {
	Execute(ctx context.Context, commandText string, t Transport) error
}

// ChatBackend answers free-text prompts.
type ChatBackend interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// FileSink persists uploaded bytes.
type FileSink interface {
	Store(ctx context.Context, data []byte, t Transport) error
}

// AudioSource captures desktop audio as Opus packets until stop closes.
type AudioSource interface {
	Run(packets chan<- *AudioPacket, stop <-chan struct{})
	Close()
}

// Transport is an established bidirectional message channel to one
// client (WebSocket or WebRTC data channel). Writes after Close must
// return an error, never panic.
type Transport interface {
	SendText(data []byte) error
	SendBinary(data []byte) error
	Close() error
}
