// Package web provides the HTTP status page and command API for the
// medicine-tracker daemon.
package web

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sweeney/medicine-tracker/internal/medicine"
	"github.com/sweeney/medicine-tracker/internal/status"
)

const (
	maxBodyBytes   = 64 << 10
	defaultTimeout = 5 * time.Second
)

// Options configures the command API. A nil Commands channel disables it.
type Options struct {
	Commands chan<- medicine.Command
	// Location interprets naive time_taken values.
	Location   *time.Location
	RatePerSec int
	// Timeout bounds how long a request waits for the run loop.
	Timeout time.Duration
	Log     zerolog.Logger
}

// Server serves the status page and command API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	opts       Options
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker, opts Options) *Server {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	s := &Server{
		tracker: tracker,
		opts:    opts,
		log:     opts.Log.With().Str("component", "web").Logger(),
	}
	if opts.RatePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/api/take", s.handleCommand(medicine.ActionTake))
	mux.HandleFunc("/api/reset", s.handleCommand(medicine.ActionReset))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap, s.opts.Commands != nil); err != nil {
		s.log.Error().Err(err).Msg("render index")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleCommand(action medicine.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.opts.Commands == nil {
			writeError(w, http.StatusServiceUnavailable, "commands disabled")
			return
		}
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		cmd, err := medicine.ParseRequest(action, body, s.opts.Location)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cmd.Source = "http"

		res, err := s.dispatch(r.Context(), cmd)
		switch {
		case errors.Is(err, errBusy):
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		case err != nil:
			writeError(w, http.StatusGatewayTimeout, err.Error())
			return
		case res.Err != nil:
			writeError(w, http.StatusInternalServerError, res.Err.Error())
			return
		}

		s.log.Info().Str("action", string(action)).Strs("targets", cmd.Targets).Int("matched", len(res.States)).Msg("command applied")
		writeResult(w, res.States)
	}
}

var (
	errBusy    = errors.New("run loop busy")
	errTimeout = errors.New("timed out waiting for result")
)

// dispatch hands the command to the run loop and waits for its reply.
func (s *Server) dispatch(ctx context.Context, cmd medicine.Command) (medicine.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	reply := make(chan medicine.Result, 1)
	cmd.Reply = reply
	select {
	case s.opts.Commands <- cmd:
	case <-ctx.Done():
		return medicine.Result{}, errBusy
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return medicine.Result{}, errTimeout
	}
}
