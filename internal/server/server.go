// Package server exposes the stream over two transports: a WebSocket
// endpoint for browser clients and a WHEP-style WebRTC signaling surface
// whose data channel carries the same message protocol. Both hand their
// connection to a session for dispatch.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"deskcast/internal/logging"
	"deskcast/internal/session"
	selftls "deskcast/internal/tls"
	"deskcast/internal/types"
)

// Config holds the server's listen options and the collaborators shared
// by every session it opens.
type Config struct {
	Addr  string
	Token string
	TLS   bool

	Session session.Config
}

type rtcPeer struct {
	pc   *webrtc.PeerConnection
	sess *session.Session // nil until the data channel opens
	mu   sync.Mutex
}

type Server struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
	peers    map[string]*rtcPeer

	httpSrv *http.Server
}

func New(cfg Config) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logging.GetLogger("server"),
		sessions: make(map[string]*session.Session),
		peers:    make(map[string]*rtcPeer),
	}
}

func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /session", s.handleOffer)
	mux.HandleFunc("PATCH /session/{id}", s.handlePatch)
	mux.HandleFunc("DELETE /session/{id}", s.handleDelete)
	mux.HandleFunc("OPTIONS /session", s.handleOptions)
	mux.HandleFunc("OPTIONS /session/{id}", s.handleOptions)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpSrv = &http.Server{Addr: s.cfg.Addr, Handler: mux}

	if s.cfg.TLS {
		tlsCfg, err := selftls.SelfSigned()
		if err != nil {
			return fmt.Errorf("tls setup: %w", err)
		}
		s.httpSrv.TLSConfig = tlsCfg
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("listening with TLS")
		return s.httpSrv.ListenAndServeTLS("", "")
	}

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops the listener and tears down every open session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for id, sess := range s.sessions {
		sess.Close()
		delete(s.sessions, id)
	}
	for id, peer := range s.peers {
		peer.pc.Close()
		delete(s.peers, id)
	}
	s.mu.Unlock()

	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// FanOutAudio delivers Opus packets to every open session until the
// packet channel closes.
func (s *Server) FanOutAudio(packets <-chan *types.AudioPacket) {
	for pkt := range packets {
		s.mu.Lock()
		targets := make([]*session.Session, 0, len(s.sessions))
		for _, sess := range s.sessions {
			targets = append(targets, sess)
		}
		s.mu.Unlock()

		for _, sess := range targets {
			sess.PublishAudio(pkt)
		}
	}
}

func (s *Server) checkAuth(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	if r.Header.Get("Authorization") == "Bearer "+s.cfg.Token {
		return true
	}
	// Browsers cannot set headers on WebSocket upgrades.
	return r.URL.Query().Get("token") == s.cfg.Token
}

func (s *Server) addSession(sess *session.Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
}

func (s *Server) removeSession(id string) {
	s.mu.Lock()
	sess := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

// handleWS upgrades the connection and pumps inbound messages into a
// session until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	conn.SetReadLimit(32 << 20) // file uploads arrive as single frames

	ctx := r.Context()
	id := uuid.New().String()
	sess := session.New(id, newWSTransport(ctx, conn), s.cfg.Session)
	s.addSession(sess)
	defer s.removeSession(id)
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				s.logger.Debug().Err(err).Str("session", id).Msg("websocket read ended")
			}
			return
		}
		switch typ {
		case websocket.MessageText:
			sess.HandleText(data)
		case websocket.MessageBinary:
			sess.HandleBinary(data)
		}
	}
}

// handleOffer answers an SDP offer and wires the peer's data channel
// into a session once it opens.
func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Expose-Headers", "Location")

	if !s.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		s.logger.Error().Err(err).Msg("peer connection create failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	id := uuid.New().String()
	peer := &rtcPeer{pc: pc}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			sess := session.New(id, newDataChannelTransport(dc), s.cfg.Session)
			peer.mu.Lock()
			peer.sess = sess
			peer.mu.Unlock()
			s.addSession(sess)
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			peer.mu.Lock()
			sess := peer.sess
			peer.mu.Unlock()
			if sess == nil {
				return
			}
			if msg.IsString {
				sess.HandleText(msg.Data)
			} else {
				sess.HandleBinary(msg.Data)
			}
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			s.teardownPeer(id)
		}
	})

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: string(body)}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "bad SDP offer", http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		s.logger.Error().Err(err).Msg("create answer failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		s.logger.Error().Err(err).Msg("set local description failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	<-webrtc.GatheringCompletePromise(pc)

	s.mu.Lock()
	s.peers[id] = peer
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("Location", "/session/"+id)
	w.WriteHeader(http.StatusCreated)
	w.Write([]byte(pc.LocalDescription().SDP))
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if !s.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := r.PathValue("id")
	s.mu.Lock()
	peer := s.peers[id]
	s.mu.Unlock()
	if peer == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	for _, line := range strings.Split(string(body), "\r\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "a=candidate:") {
			c := strings.TrimPrefix(line, "a=")
			if err := peer.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: c}); err != nil {
				s.logger.Warn().Err(err).Msg("add ice candidate failed")
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if !s.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := r.PathValue("id")
	s.mu.Lock()
	_, ok := s.peers[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	s.teardownPeer(id)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Expose-Headers", "Location")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) teardownPeer(id string) {
	s.mu.Lock()
	peer := s.peers[id]
	delete(s.peers, id)
	s.mu.Unlock()
	if peer == nil {
		return
	}

	s.removeSession(id)
	peer.pc.Close()
}
