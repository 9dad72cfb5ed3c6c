// Package telegram exposes /status, /take and /reset as Telegram bot commands.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sweeney/medicine-tracker/internal/logic"
	"github.com/sweeney/medicine-tracker/internal/medicine"
	"github.com/sweeney/medicine-tracker/internal/status"
)

const helpText = `Commands:
/status - list medicines and when they are due
/take <medicine>[,<medicine>] [time] - mark as taken (time: HH:MM or ISO-8601)
/reset <medicine>[,<medicine>] - clear history`

// Handler turns chat text into commands for the run loop.
// It does not depend on the Telegram API so it can be tested directly.
type Handler struct {
	commands chan<- medicine.Command
	tracker  *status.Tracker
	allowed  map[int64]bool
	limiter  *rate.Limiter
	loc      *time.Location
	timeout  time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Commands chan<- medicine.Command
	Tracker  *status.Tracker
	// AllowedChats restricts who may talk to the bot. Empty allows everyone.
	AllowedChats []int64
	RatePerSec   int
	Location     *time.Location
	Timeout      time.Duration
	Log          zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(opts HandlerOptions) *Handler {
	h := &Handler{
		commands: opts.Commands,
		tracker:  opts.Tracker,
		allowed:  make(map[int64]bool, len(opts.AllowedChats)),
		loc:      opts.Location,
		timeout:  opts.Timeout,
		now:      time.Now,
		log:      opts.Log.With().Str("component", "telegram").Logger(),
	}
	for _, id := range opts.AllowedChats {
		h.allowed[id] = true
	}
	if h.loc == nil {
		h.loc = time.Local
	}
	if h.timeout <= 0 {
		h.timeout = 5 * time.Second
	}
	if opts.RatePerSec > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec)
	}
	return h
}

// Handle processes one message and returns the reply. An empty reply
// means the message is ignored.
func (h *Handler) Handle(ctx context.Context, chatID int64, text string) string {
	if len(h.allowed) > 0 && !h.allowed[chatID] {
		h.log.Warn().Int64("chat_id", chatID).Msg("message from unauthorized chat")
		return ""
	}
	verb, args := splitCommand(text)
	if verb == "" {
		return ""
	}
	if h.limiter != nil && !h.limiter.Allow() {
		return "Too many requests, try again shortly."
	}

	switch verb {
	case "start", "help":
		return helpText
	case "status":
		return h.status()
	case "take":
		return h.command(ctx, medicine.ActionTake, args)
	case "reset":
		return h.command(ctx, medicine.ActionReset, args)
	default:
		return "Unknown command.\n" + helpText
	}
}

// splitCommand returns the lowercased verb without its slash or @botname,
// and the remaining text.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	verb, args, _ := strings.Cut(text[1:], " ")
	verb, _, _ = strings.Cut(verb, "@")
	return strings.ToLower(verb), strings.TrimSpace(args)
}

func (h *Handler) status() string {
	snap := h.tracker.Snapshot()
	if !snap.Ready {
		return "Starting up, no state yet."
	}
	if len(snap.Medicines) == 0 {
		return "No medicines configured."
	}
	var b strings.Builder
	for _, st := range snap.Medicines {
		b.WriteString(describe(st))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func describe(st medicine.State) string {
	label := st.Due.Label
	if label == "" {
		label = logic.UnknownState().Label
	}
	line := fmt.Sprintf("%s: %s", st.Name, label)
	if last, ok := st.LastTaken(); ok {
		line += " (last taken " + last.Format("Mon 15:04") + ")"
	}
	return line
}

func (h *Handler) command(ctx context.Context, action medicine.Action, args string) string {
	if h.commands == nil {
		return "Commands are disabled."
	}
	targetArg, rest, _ := strings.Cut(args, " ")
	targets := medicine.Targets{}
	for _, t := range strings.Split(targetArg, ",") {
		if t = strings.TrimSpace(t); t != "" {
			targets = append(targets, t)
		}
	}
	if len(targets) == 0 {
		return fmt.Sprintf("Usage: /%s <medicine>", action)
	}

	cmd := medicine.Command{Action: action, Targets: targets, Source: "telegram"}
	if action == medicine.ActionTake && strings.TrimSpace(rest) != "" {
		at, err := h.parseTime(rest)
		if err != nil {
			return "Could not read the time: " + strings.TrimSpace(rest)
		}
		cmd.At = at
	}

	res, err := h.dispatch(ctx, cmd)
	if err != nil {
		h.log.Error().Err(err).Str("action", string(action)).Msg("dispatch failed")
		return "The tracker is busy, try again."
	}
	if res.Err != nil {
		return "Failed: " + res.Err.Error()
	}
	if len(res.States) == 0 {
		return "No medicine matches " + targetArg + "."
	}

	var b strings.Builder
	verb := "Marked taken"
	if action == medicine.ActionReset {
		verb = "History cleared"
	}
	for _, st := range res.States {
		fmt.Fprintf(&b, "%s: %s\n", verb, describe(st))
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseTime accepts HH:MM (today in the default zone) or an ISO-8601 instant.
func (h *Handler) parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if tod, err := logic.ParseTimeOfDay(s); err == nil {
		y, m, d := h.now().In(h.loc).Date()
		return time.Date(y, m, d, tod.Hour, tod.Minute, 0, 0, h.loc), nil
	}
	return logic.ParseInstant(s, h.loc)
}

var errBusy = errors.New("run loop busy")

func (h *Handler) dispatch(ctx context.Context, cmd medicine.Command) (medicine.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	reply := make(chan medicine.Result, 1)
	cmd.Reply = reply
	select {
	case h.commands <- cmd:
	case <-ctx.Done():
		return medicine.Result{}, errBusy
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return medicine.Result{}, ctx.Err()
	}
}
