// Package session dispatches one client's message traffic. Each session
// subscribes to the shared broadcaster for outbound frames and classifies
// inbound payloads into input injection, quality updates, command
// execution, file uploads and chat.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"deskcast/internal/command"
	"deskcast/internal/quality"
	"deskcast/internal/stream"
	"deskcast/internal/types"
)

// Config carries the shared collaborators a session dispatches to.
type Config struct {
	Broadcaster *stream.Broadcaster
	Injector    types.InputInjector
	Executor    types.CommandExecutor
	Chat        types.ChatBackend
	Files       types.FileSink
	Commands    *command.Registry
	Logger      zerolog.Logger
}

// Session is a per-client dispatcher. Beyond the subscription handle and
// the client's reported viewport it holds no protocol state.
type Session struct {
	ID  string
	cfg Config

	transport   types.Transport
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	logger      zerolog.Logger

	mu       sync.Mutex
	closed   bool
	viewport Dimensions // client screen size from the last mouse event
}

// New creates a session over an established transport and subscribes it
// to frame publication.
func New(id string, transport types.Transport, cfg Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        id,
		cfg:       cfg,
		transport: transport,
		ctx:       ctx,
		cancel:    cancel,
		logger:    cfg.Logger.With().Str("session", id).Logger(),
	}
	s.unsubscribe = cfg.Broadcaster.Subscribe(s.publishFrame)
	s.logger.Info().Msg("session opened")
	return s
}

// Close releases the subscription synchronously; no frame is delivered
// through this session afterwards. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.unsubscribe()
	s.cancel()
	s.logger.Info().Msg("session closed")
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// publishFrame serializes an encoded frame for this transport.
func (s *Session) publishFrame(frame *types.EncodedFrame) {
	if s.isClosed() {
		return
	}
	payload, err := json.Marshal(ScreenUpdate{
		Type:  TypeScreenUpdate,
		Image: base64.StdEncoding.EncodeToString(frame.Data),
		Dimensions: Dimensions{
			Width:  frame.Width,
			Height: frame.Height,
		},
	})
	if err != nil {
		return
	}
	if err := s.transport.SendText(payload); err != nil {
		s.logger.Debug().Err(err).Msg("frame write failed")
	}
}

// PublishAudio serializes an Opus packet for this transport.
func (s *Session) PublishAudio(pkt *types.AudioPacket) {
	if s.isClosed() {
		return
	}
	payload, err := json.Marshal(AudioChunk{
		Type:       TypeAudioChunk,
		Data:       base64.StdEncoding.EncodeToString(pkt.Data),
		DurationMs: pkt.DurationMs,
	})
	if err != nil {
		return
	}
	if err := s.transport.SendText(payload); err != nil {
		s.logger.Debug().Err(err).Msg("audio write failed")
	}
}

// HandleBinary classifies a binary payload: structured input and quality
// messages first, then known commands, then file upload as the final
// fallback.
func (s *Session) HandleBinary(data []byte) {
	env := decodeEnvelope(data)
	switch env.kind {
	case kindMouse:
		s.handleMouse(env.mouse)
	case kindKeyboard:
		s.cfg.Injector.KeyTap(env.keyboard.Key, env.keyboard.Modifier)
	case kindQuality:
		s.applyQuality(env.quality)
	case kindUnclassified:
		text := string(data)
		if s.cfg.Commands.IsCommand(text) {
			if err := s.cfg.Executor.Execute(s.ctx, text, s.transport); err != nil {
				s.logger.Warn().Err(err).Msg("command execution failed")
			}
			return
		}
		if err := s.cfg.Files.Store(s.ctx, data, s.transport); err != nil {
			s.logger.Warn().Err(err).Msg("file store failed")
		}
	}
}

// HandleText routes structured quality updates; everything else is a
// chat prompt. Chat failure surfaces as an error notice on this
// transport, never as a dropped connection.
func (s *Session) HandleText(data []byte) {
	env := decodeEnvelope(data)
	if env.kind == kindQuality {
		s.applyQuality(env.quality)
		return
	}

	prompt := string(data)
	response, err := s.cfg.Chat.Complete(s.ctx, prompt)
	if err != nil {
		s.logger.Warn().Err(err).Msg("chat backend failed")
		s.sendJSON(ErrorNotice{Type: TypeError, Message: "chat request failed"})
		return
	}
	s.sendJSON(ChatResponse{Type: TypeChatResponse, Response: response})
}

func (s *Session) applyQuality(u qualityUpdatePayload) {
	s.cfg.Broadcaster.ApplyQualityUpdate(quality.Update{
		Width:       u.Width,
		JPEGQuality: u.JPEGQuality,
		FPS:         u.FPS,
	})
}

// handleMouse maps normalized client coordinates onto the host screen by
// linear scaling, then injects a move and, for down/up, a left-button
// toggle. Events carrying a viewport update the remembered one; events
// without fall back to it, and are dropped if none is known yet.
func (s *Session) handleMouse(ev MouseEvent) {
	s.mu.Lock()
	if ev.ScreenWidth > 0 && ev.ScreenHeight > 0 {
		s.viewport = Dimensions{Width: ev.ScreenWidth, Height: ev.ScreenHeight}
	} else {
		ev.ScreenWidth = s.viewport.Width
		ev.ScreenHeight = s.viewport.Height
	}
	s.mu.Unlock()
	if ev.ScreenWidth <= 0 || ev.ScreenHeight <= 0 {
		return
	}

	hostW, hostH := s.cfg.Broadcaster.Controller().ScreenSize()
	x := int(math.Floor(ev.X / float64(ev.ScreenWidth) * float64(hostW)))
	y := int(math.Floor(ev.Y / float64(ev.ScreenHeight) * float64(hostH)))

	s.cfg.Injector.MoveTo(x, y)
	switch ev.EventType {
	case "down":
		s.cfg.Injector.ToggleButton(true, "left")
	case "up":
		s.cfg.Injector.ToggleButton(false, "left")
	}
}

func (s *Session) sendJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.transport.SendText(payload); err != nil {
		s.logger.Debug().Err(err).Msg("write failed")
	}
}
