package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"speech-preroll/internal/audio"
	"speech-preroll/internal/preroll"
	"speech-preroll/internal/storage"
)

// Transcriber turns delivered preroll into text. *asr.Client satisfies it.
type Transcriber interface {
	TranscribePCM16(ctx context.Context, pcm []int16, sampleRate int, language string) (string, error)
}

// Archiver keeps a copy of delivered preroll. *storage.MinioClient satisfies it.
type Archiver interface {
	ArchiveClip(ctx context.Context, captureID string, pcm []int16, sampleRate int, at time.Time) (string, error)
}

type Config struct {
	Window time.Duration
	MaxAge time.Duration
}

// Server handles /ws/audio connections. Every connection feeds and reads the
// same Store; there is one buffer per process.
type Server struct {
	cfg      Config
	store    *preroll.Store
	asr      Transcriber
	archive  Archiver
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

type Deps struct {
	Store       *preroll.Store
	Transcriber Transcriber
	Archiver    Archiver
	Upgrader    websocket.Upgrader
	Logger      *zap.Logger
}

func NewServer(cfg Config, deps Deps) *Server {
	if cfg.Window <= 0 {
		cfg.Window = preroll.DefaultWindow
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = preroll.DefaultMaxAge
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		store:    deps.Store,
		asr:      deps.Transcriber,
		archive:  deps.Archiver,
		upgrader: deps.Upgrader,
		logger:   logger,
	}
}

type controlMsg struct {
	Type     string `json:"type"`
	WindowMs *int   `json:"windowMs,omitempty"`
	MaxAgeMs *int   `json:"maxAgeMs,omitempty"`
	Language string `json:"language,omitempty"`
}

type wsEvent struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Samples *int   `json:"samples,omitempty"`
	Armed   *bool  `json:"armed,omitempty"`
	Text    string `json:"text,omitempty"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("audio websocket upgrade failed", zap.Error(err))
		return
	}
	s.HandleConn(r.Context(), conn)
}

// HandleConn runs the read loop: binary frames are PCM16LE chunks for the
// ring, text frames are JSON control messages.
func (s *Server) HandleConn(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("audio session panic", zap.Any("panic", r))
		}
		cancel()
		wg.Wait()
		conn.Close()
	}()

	var writeMu sync.Mutex
	sendJSON := func(v any) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(v); err != nil {
			s.logger.Debug("audio session write failed", zap.Error(err))
		}
	}
	sendPCM := func(pcm []int16) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteMessage(websocket.BinaryMessage, audio.EncodePCM16LE(pcm)); err != nil {
			s.logger.Debug("audio session write failed", zap.Error(err))
		}
	}

	sendJSON(wsEvent{Type: "info", Text: "connected"})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("audio session closed", zap.Error(err))
			}
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			samples, err := audio.DecodePCM16LE(data)
			if err != nil {
				s.logger.Warn("dropping audio frame", zap.Error(err))
				continue
			}
			s.store.Append(samples, len(samples))

		case websocket.TextMessage:
			var msg controlMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				sendJSON(wsEvent{Type: "info", Text: "invalid control message"})
				continue
			}
			s.handleControl(ctx, msg, sendJSON, sendPCM, &wg)
		}
	}
}

func (s *Server) handleControl(ctx context.Context, msg controlMsg, sendJSON func(any), sendPCM func([]int16), wg *sync.WaitGroup) {
	switch msg.Type {
	case "trigger":
		window := s.cfg.Window
		if msg.WindowMs != nil {
			window = audio.Millis(int64(*msg.WindowMs))
		}
		info := s.store.Capture(window)
		sendJSON(wsEvent{Type: "captured", ID: info.ID, Samples: &info.Samples})

	case "arm":
		armed := s.store.Arm()
		sendJSON(wsEvent{Type: "armed", Armed: &armed})

	case "consume":
		maxAge := s.cfg.MaxAge
		if msg.MaxAgeMs != nil {
			maxAge = audio.Millis(int64(*msg.MaxAgeMs))
		}
		clip, ok := s.store.ConsumeClip(maxAge)
		n := len(clip.Samples)
		sendJSON(wsEvent{Type: "preroll", ID: clip.ID, Samples: &n})
		if !ok {
			return
		}
		sendPCM(clip.Samples)

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.deliver(ctx, clip, msg.Language, sendJSON)
		}()

	case "clear":
		s.store.Clear()
		sendJSON(wsEvent{Type: "info", Text: "cleared"})

	default:
		sendJSON(wsEvent{Type: "info", Text: "unknown message type"})
	}
}

// deliver runs the optional downstream steps for a consumed clip.
func (s *Server) deliver(ctx context.Context, clip preroll.Clip, language string, sendJSON func(any)) {
	rate := s.store.SampleRate()

	if s.archive != nil {
		key, err := s.archive.ArchiveClip(ctx, clip.ID, clip.Samples, rate, clip.CapturedAt)
		switch {
		case errors.Is(err, storage.ErrDisabled):
		case err != nil:
			s.logger.Warn("archive preroll failed", zap.String("capture_id", clip.ID), zap.Error(err))
		default:
			s.logger.Info("archived preroll", zap.String("capture_id", clip.ID), zap.String("key", key))
		}
	}

	if s.asr != nil {
		text, err := s.asr.TranscribePCM16(ctx, clip.Samples, rate, language)
		if err != nil {
			s.logger.Warn("transcribe preroll failed", zap.String("capture_id", clip.ID), zap.Error(err))
			sendJSON(wsEvent{Type: "info", Text: "ASR error: " + err.Error()})
			return
		}
		sendJSON(wsEvent{Type: "transcript", ID: clip.ID, Text: text})
	}
}
