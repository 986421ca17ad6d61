// Package speech accepts transcribed utterances over a websocket and feeds
// them to the command surface.
package speech

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/robopong/slingbot/pkg/logger"
	"github.com/robopong/slingbot/pkg/metrics"
)

const (
	// defaultReadLimit bounds a single utterance frame. Transcript segments
	// are short; anything larger is a misbehaving client.
	defaultReadLimit = 4 << 10
)

// Handler consumes one utterance. The return value reports whether the text
// parsed as a command.
type Handler interface {
	HandleUtterance(ctx context.Context, text string) bool
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, text string) bool

// HandleUtterance calls f(ctx, text).
func (f HandlerFunc) HandleUtterance(ctx context.Context, text string) bool {
	return f(ctx, text)
}

// utterance is the wire format pushed by the speech recognizer.
type utterance struct {
	Text string `json:"text"`
}

// Option applies a configuration option to the Feed.
type Option func(*Feed)

// WithLogger sets a custom logger for the feed.
func WithLogger(log logger.Logger) Option {
	return func(f *Feed) {
		if log != nil {
			f.logger = log
		}
	}
}

// WithReadLimit bounds the size of a single utterance frame.
func WithReadLimit(limit int64) Option {
	return func(f *Feed) {
		if limit > 0 {
			f.readLimit = limit
		}
	}
}

// Feed upgrades /speech connections and forwards utterance frames to the
// handler. Frames that do not decode are dropped without closing the
// connection; the recognizer keeps streaming.
type Feed struct {
	handler   Handler
	upgrader  websocket.Upgrader
	readLimit int64
	logger    logger.Logger
}

// NewFeed creates a speech feed delivering utterances to the handler.
func NewFeed(handler Handler, opts ...Option) *Feed {
	f := &Feed{
		handler:   handler,
		readLimit: defaultReadLimit,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.logger == nil {
		f.logger = logger.Get().Named("speech")
	}

	return f
}

// Register wires the feed endpoint into the mux.
func (f *Feed) Register(mux *http.ServeMux) {
	mux.HandleFunc("/speech", f.serve)
}

func (f *Feed) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		f.logger.Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(f.readLimit)
	f.logger.Info(r.Context(), "speech feed connected",
		logger.String("remote", conn.RemoteAddr().String()),
	)

	ctx := r.Context()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.logger.Warn(ctx, "speech feed read error", logger.Error(err))
			} else {
				f.logger.Info(ctx, "speech feed disconnected")
			}
			return
		}

		var u utterance
		if err := json.Unmarshal(msg, &u); err != nil {
			f.logger.Warn(ctx, "dropping malformed utterance frame", logger.Error(err))
			continue
		}
		if u.Text == "" {
			continue
		}

		parsed := f.handler.HandleUtterance(ctx, u.Text)
		metrics.RecordUtterance(parsed)
	}
}
