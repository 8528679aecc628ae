package ws

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playbridge/internal/app/notification"
	"github.com/osa030/playbridge/internal/app/session"
	"github.com/osa030/playbridge/internal/domain/track"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 << 10
	commandTimeout = 30 * time.Second
)

// Controller is the session API exposed over HTTP.
type Controller interface {
	Play() error
	Pause() error
	TogglePlay() error
	Next() error
	Previous() error
	Seek(position time.Duration) error
	SetPlayMode(name string) error
	Enqueue(ctx context.Context, ids []string) ([]session.EnqueueResult, error)
	ClearQueue()
	Queue() []track.QueuedTrack
	Status() *notification.Status
	Subscribe(stream notification.Stream) string
	Unsubscribe(id string)
	Done() <-chan struct{}
}

// Command is a control message sent by clients.
type Command struct {
	ID         string   `json:"id,omitempty"`
	Command    string   `json:"command"`
	PositionMs int64    `json:"position_ms,omitempty"`
	Mode       string   `json:"mode,omitempty"`
	TrackIDs   []string `json:"track_ids,omitempty"`
}

// EnqueueResult is the per-track outcome of an enqueue command.
type EnqueueResult struct {
	TrackID  string `json:"track_id"`
	Accepted bool   `json:"accepted"`
	Code     string `json:"code,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Reply answers a Command.
type Reply struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Results []EnqueueResult `json:"results,omitempty"`
}

// StatusMessage wraps a status pushed over the websocket.
type StatusMessage struct {
	Type   string               `json:"type"`
	Status *notification.Status `json:"status"`
}

// QueueEntry is one entry of the queue listing.
type QueueEntry struct {
	TrackID    string `json:"track_id"`
	Title      string `json:"title"`
	Artist     string `json:"artist,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Origin     string `json:"origin"`
}

var errUnknownCommand = errors.New("unknown command")

// Handler serves the control API.
type Handler struct {
	ctrl     Controller
	upgrader websocket.Upgrader
}

// NewHandler creates a new Handler.
func NewHandler(ctrl Controller) *Handler {
	return &Handler{
		ctrl: ctrl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Routes returns the API mux wrapped with token authentication.
// Without a token, websocket upgrades are limited to same-origin (or
// non-browser) clients.
func (h *Handler) Routes(token string) http.Handler {
	if token != "" {
		h.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	} else {
		h.upgrader.CheckOrigin = nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.serveWebsocket)
	mux.HandleFunc("GET /status", h.serveStatus)
	mux.HandleFunc("GET /queue", h.serveQueue)
	mux.HandleFunc("POST /commands", h.serveCommand)

	auth := NewAuthMiddleware(token)
	root := http.NewServeMux()
	root.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	root.Handle("/", auth(mux))
	return root
}

func (h *Handler) serveStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

func (h *Handler) serveQueue(w http.ResponseWriter, r *http.Request) {
	items := h.ctrl.Queue()
	entries := make([]QueueEntry, 0, len(items))
	for _, qt := range items {
		entries = append(entries, QueueEntry{
			TrackID:    qt.Track.ID,
			Title:      qt.Track.DisplayTitle(),
			Artist:     qt.Track.Artist,
			DurationMs: qt.Track.Duration.Milliseconds(),
			Origin:     string(qt.Origin),
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) serveCommand(w http.ResponseWriter, r *http.Request) {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		writeJSON(w, http.StatusUnsupportedMediaType, Reply{Type: "reply", Error: "content type must be application/json"})
		return
	}
	var cmd Command
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, Reply{Type: "reply", Error: "invalid command"})
		return
	}
	reply := h.execute(r.Context(), cmd)
	status := http.StatusOK
	if !reply.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, reply)
}

func (h *Handler) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Debug().Msgf("ws: upgrade failed: remote=%s err=%v", r.RemoteAddr, err)
		return
	}
	c := &client{conn: conn}
	defer c.close()

	subID := h.ctrl.Subscribe(c)
	defer h.ctrl.Unsubscribe(subID)
	zlog.Info().Msgf("ws: client connected: remote=%s id=%s", r.RemoteAddr, subID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go c.pingLoop(ctx, h.ctrl.Done())

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zlog.Debug().Msgf("ws: read error: id=%s err=%v", subID, err)
			}
			break
		}
		reply := h.execute(ctx, cmd)
		if err := c.write(reply); err != nil {
			zlog.Debug().Msgf("ws: write error: id=%s err=%v", subID, err)
			break
		}
	}
	zlog.Info().Msgf("ws: client disconnected: id=%s", subID)
}

// execute runs a command against the controller.
func (h *Handler) execute(ctx context.Context, cmd Command) Reply {
	reply := Reply{Type: "reply", ID: cmd.ID}
	var err error

	switch cmd.Command {
	case "play":
		err = h.ctrl.Play()
	case "pause":
		err = h.ctrl.Pause()
	case "toggle":
		err = h.ctrl.TogglePlay()
	case "next":
		err = h.ctrl.Next()
	case "previous":
		err = h.ctrl.Previous()
	case "seek":
		if cmd.PositionMs < 0 {
			err = errors.New("position_ms must not be negative")
			break
		}
		err = h.ctrl.Seek(time.Duration(cmd.PositionMs) * time.Millisecond)
	case "mode":
		err = h.ctrl.SetPlayMode(cmd.Mode)
	case "clear":
		h.ctrl.ClearQueue()
	case "enqueue":
		if len(cmd.TrackIDs) == 0 {
			err = errors.New("track_ids is required")
			break
		}
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		var results []session.EnqueueResult
		results, err = h.ctrl.Enqueue(ctx, cmd.TrackIDs)
		for _, r := range results {
			er := EnqueueResult{TrackID: r.TrackID, Accepted: r.Accepted, Code: r.Code}
			if r.Track != nil {
				er.Title = r.Track.DisplayTitle()
			}
			reply.Results = append(reply.Results, er)
		}
	default:
		err = errors.Wrapf(errUnknownCommand, "%q", cmd.Command)
	}

	if err != nil {
		zlog.Debug().Msgf("ws: command failed: command=%s err=%v", cmd.Command, err)
		reply.Error = err.Error()
		return reply
	}
	reply.OK = true
	return reply
}

// client adapts a websocket connection to notification.Stream.
// Writes are serialized; gorilla connections support one concurrent writer.
type client struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (c *client) Send(status *notification.Status) error {
	return c.write(StatusMessage{Type: "status", Status: status})
}

func (c *client) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *client) pingLoop(ctx context.Context, sessionDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sessionDone:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
				time.Now().Add(writeWait))
			c.close()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Debug().Msgf("ws: failed to write response: %v", err)
	}
}
