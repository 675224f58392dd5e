// Package commands translates incoming chat messages into spam service
// calls and formats the replies. All broadcast semantics live in
// internal/spam; this layer is parsing and presentation only.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"blastbot/internal/report"
	"blastbot/internal/schedule"
	"blastbot/internal/spam"
	"blastbot/internal/storage"
	"blastbot/internal/transport"
	"blastbot/pkg/logx"
)

// notImminentAfter is the threshold past which a freshly created task's
// first send is called out explicitly in the confirmation, since "started"
// would be misleading for a send scheduled days ahead.
const notImminentAfter = 5 * time.Minute

const helpText = `🤖 Broadcast commands

📤 !spam <delay> <count> [at=HH:MM] [on=mon,wed] <text>
   Repeats <text> <count> times, spaced by <delay>.
   at=  pins every send to a time of day
   on=  restricts sends to weekdays (names or 0=mon..6=sun)

   Delay units: s, m, h, d — combinable: 30s, 5m, 1h30m, 2d12h

⛔️ !stop [id|all]   stop broadcasts (no argument: this chat)
⏸ !pause [id|all]   pause without losing progress
▶️ !resume [id|all]  continue a paused broadcast
📊 !status           list all broadcasts
🆔 !chatid           show this chat's id
⚙️ !setlog           send reports to this chat`

type Router struct {
	svc       *spam.Service
	store     storage.Store
	messenger spam.Messenger
	reporter  *report.Reporter
	log       logx.Logger
	owners    map[int64]struct{}
}

func NewRouter(svc *spam.Service, store storage.Store, m spam.Messenger,
	rep *report.Reporter, owners []int64, log logx.Logger) *Router {
	set := make(map[int64]struct{}, len(owners))
	for _, id := range owners {
		set[id] = struct{}{}
	}
	return &Router{svc: svc, store: store, messenger: m, reporter: rep, log: log, owners: set}
}

// Handle dispatches one incoming message. Non-commands and messages from
// non-owners are ignored.
func (r *Router) Handle(ctx context.Context, msg transport.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" || (text[0] != '!' && text[0] != '/') {
		return
	}
	if len(r.owners) > 0 {
		if _, ok := r.owners[msg.FromID]; !ok {
			return
		}
	}

	verb, rest := nextToken(text)
	verb = strings.ToLower(verb[1:])
	if i := strings.IndexByte(verb, '@'); i >= 0 {
		verb = verb[:i] // "/spam@botname"
	}

	switch verb {
	case "spam", "broadcast", "bc":
		r.handleSpam(ctx, msg.ChatID, rest)
	case "stop":
		r.handleStop(ctx, msg.ChatID, strings.TrimSpace(rest))
	case "pause":
		r.handlePause(ctx, msg.ChatID, strings.TrimSpace(rest))
	case "resume":
		r.handleResume(ctx, msg.ChatID, strings.TrimSpace(rest))
	case "status":
		r.handleStatus(ctx, msg.ChatID)
	case "help":
		r.reply(ctx, msg.ChatID, helpText)
	case "chatid":
		r.reply(ctx, msg.ChatID, fmt.Sprintf("🆔 Chat ID: %d", msg.ChatID))
	case "setlog":
		r.handleSetLog(ctx, msg.ChatID)
	}
}

func (r *Router) handleSpam(ctx context.Context, chatID int64, args string) {
	req, err := parseSpamArgs(chatID, args)
	if err != nil {
		r.reply(ctx, chatID, "❌ "+err.Error()+"\n\nUsage: !spam <delay> <count> [at=HH:MM] [on=mon,wed] <text>")
		return
	}

	t, err := r.svc.Create(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, spam.ErrInvalidCount):
			r.reply(ctx, chatID, "❌ Count must be a positive number")
		case errors.Is(err, spam.ErrInvalidDelay):
			r.reply(ctx, chatID, "❌ Delay must be positive")
		case errors.Is(err, spam.ErrEmptyMessage):
			r.reply(ctx, chatID, "❌ Message text is missing")
		default:
			r.log.Error("create broadcast failed", logx.Err(err))
			r.reply(ctx, chatID, "❌ Could not start the broadcast, try again")
		}
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🚀 Broadcast %s started!\n⏱ Delay: %s\n🔢 Count: %d",
		t.TaskID, schedule.FormatDelay(t.Delay), t.TotalCount)
	if t.ScheduledMinute != nil {
		fmt.Fprintf(&b, "\n🕐 At: %s", schedule.FormatClock(*t.ScheduledMinute))
	}
	if !t.Weekdays.IsZero() {
		fmt.Fprintf(&b, "\n📅 Days: %s", t.Weekdays)
	}
	now := time.Now()
	if due := schedule.FirstDue(t.ScheduledMinute, t.Weekdays, now); due.Sub(now) > notImminentAfter {
		fmt.Fprintf(&b, "\n⏳ First send: %s", due.Format("Mon 15:04"))
	}
	b.WriteString("\n\nStop with !stop " + t.TaskID)
	r.reply(ctx, chatID, b.String())

	r.reporter.Report(fmt.Sprintf("🚀 Broadcast %s started\n👤 Chat: %s\n💬 Text: %s\n⏱ Delay: %s\n🔢 Count: %d",
		t.TaskID, r.chatName(ctx, chatID), t.Message, schedule.FormatDelay(t.Delay), t.TotalCount))
}

func (r *Router) handleStop(ctx context.Context, chatID int64, arg string) {
	switch arg {
	case "":
		n, err := r.svc.StopChat(ctx, chatID)
		if err != nil {
			r.replyOpFailed(ctx, chatID, "stop", err)
			return
		}
		if n == 0 {
			r.reply(ctx, chatID, "ℹ️ No broadcasts in this chat")
			return
		}
		r.reply(ctx, chatID, fmt.Sprintf("⛔️ Stopped %d broadcast(s) in this chat", n))
	case "all":
		n, err := r.svc.StopAll(ctx)
		if err != nil {
			r.replyOpFailed(ctx, chatID, "stop", err)
			return
		}
		r.reply(ctx, chatID, fmt.Sprintf("⛔️ Stopped %d broadcast(s)", n))
	default:
		t, err := r.svc.StopTask(ctx, arg)
		if err != nil {
			r.replyOpFailed(ctx, chatID, "stop", err)
			return
		}
		r.reply(ctx, chatID, fmt.Sprintf("⛔️ Broadcast %s stopped (%d/%d sent)",
			t.TaskID, t.SentCount, t.TotalCount))
	}
}

func (r *Router) handlePause(ctx context.Context, chatID int64, arg string) {
	if arg == "" || arg == "all" {
		n, err := r.svc.PauseAll(ctx)
		if err != nil {
			r.replyOpFailed(ctx, chatID, "pause", err)
			return
		}
		r.reply(ctx, chatID, fmt.Sprintf("⏸ Paused %d broadcast(s)", n))
		return
	}
	t, err := r.svc.Pause(ctx, arg)
	if err != nil {
		r.replyOpFailed(ctx, chatID, "pause", err)
		return
	}
	r.reply(ctx, chatID, fmt.Sprintf("⏸ Broadcast %s paused (%d/%d sent)",
		t.TaskID, t.SentCount, t.TotalCount))
}

func (r *Router) handleResume(ctx context.Context, chatID int64, arg string) {
	if arg == "" || arg == "all" {
		n, err := r.svc.ResumeAll(ctx)
		if err != nil {
			r.replyOpFailed(ctx, chatID, "resume", err)
			return
		}
		r.reply(ctx, chatID, fmt.Sprintf("▶️ Resumed %d broadcast(s)", n))
		return
	}
	t, err := r.svc.Resume(ctx, arg)
	if err != nil {
		r.replyOpFailed(ctx, chatID, "resume", err)
		return
	}
	r.reply(ctx, chatID, fmt.Sprintf("▶️ Broadcast %s resumed (%d/%d sent)",
		t.TaskID, t.SentCount, t.TotalCount))
}

func (r *Router) handleStatus(ctx context.Context, chatID int64) {
	list, err := r.svc.Status(ctx)
	if err != nil {
		r.replyOpFailed(ctx, chatID, "status", err)
		return
	}
	if len(list) == 0 {
		r.reply(ctx, chatID, "ℹ️ No broadcasts")
		return
	}

	now := time.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Broadcasts: %d\n", len(list))
	for _, st := range list {
		fmt.Fprintf(&b, "\n• %s — %s (%d/%d) %s",
			st.TaskID, r.chatName(ctx, st.ChatID), st.SentCount, st.TotalCount, st.Status)
		if st.Status == string(storage.StatusActive) && !st.NextDue.IsZero() {
			if d := st.NextDue.Sub(now); d > 0 {
				fmt.Fprintf(&b, ", next in %s", schedule.FormatDelay(d))
			} else {
				b.WriteString(", due now")
			}
		}
	}
	r.reply(ctx, chatID, b.String())
}

func (r *Router) handleSetLog(ctx context.Context, chatID int64) {
	if err := r.store.SetConfig(ctx, report.ConfigKeyLogChat, strconv.FormatInt(chatID, 10)); err != nil {
		r.replyOpFailed(ctx, chatID, "setlog", err)
		return
	}
	r.reporter.SetTarget(chatID)
	r.reply(ctx, chatID, fmt.Sprintf("✅ Reports now go to %s (ID %d)", r.chatName(ctx, chatID), chatID))
}

func (r *Router) replyOpFailed(ctx context.Context, chatID int64, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		r.reply(ctx, chatID, "ℹ️ No such broadcast")
	case errors.Is(err, spam.ErrNotPaused):
		r.reply(ctx, chatID, "ℹ️ That broadcast is not paused")
	case errors.Is(err, spam.ErrAlreadyRunning):
		r.reply(ctx, chatID, "ℹ️ That broadcast is already running")
	default:
		r.log.Error("command failed", logx.String("op", op), logx.Err(err))
		r.reply(ctx, chatID, "❌ Operation failed, try again")
	}
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	if err := r.messenger.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func (r *Router) chatName(ctx context.Context, chatID int64) string {
	name, err := r.messenger.ChatName(ctx, chatID)
	if err != nil || name == "" {
		return fmt.Sprintf("Chat %d", chatID)
	}
	return name
}

// parseSpamArgs parses "<delay> <count> [at=HH:MM] [on=days] <text>".
// The message text keeps its internal whitespace (it may span lines).
func parseSpamArgs(chatID int64, args string) (spam.CreateRequest, error) {
	delayTok, rest := nextToken(args)
	if delayTok == "" {
		return spam.CreateRequest{}, fmt.Errorf("missing delay")
	}
	delay, err := schedule.ParseDelay(delayTok)
	if err != nil {
		return spam.CreateRequest{}, err
	}

	countTok, rest := nextToken(rest)
	if countTok == "" {
		return spam.CreateRequest{}, fmt.Errorf("missing count")
	}
	count, err := strconv.Atoi(countTok)
	if err != nil {
		return spam.CreateRequest{}, fmt.Errorf("invalid count %q", countTok)
	}

	req := spam.CreateRequest{ChatID: chatID, Delay: delay, TotalCount: count}
	for {
		tok, after := nextToken(rest)
		if v, ok := strings.CutPrefix(tok, "at="); ok {
			minute, err := schedule.ParseClock(v)
			if err != nil {
				return spam.CreateRequest{}, err
			}
			req.ScheduledMinute = &minute
			rest = after
			continue
		}
		if v, ok := strings.CutPrefix(tok, "on="); ok {
			days, err := schedule.ParseWeekdays(v)
			if err != nil {
				return spam.CreateRequest{}, err
			}
			req.Weekdays = days
			rest = after
			continue
		}
		break
	}

	req.Message = strings.TrimSpace(rest)
	if req.Message == "" {
		return spam.CreateRequest{}, fmt.Errorf("missing message text")
	}
	return req, nil
}

// nextToken cuts the first whitespace-delimited token off s, returning it
// and the remainder (with leading whitespace intact on the remainder's
// body so multi-line messages survive).
func nextToken(s string) (string, string) {
	s = strings.TrimLeft(s, " \t\n")
	if s == "" {
		return "", ""
	}
	i := strings.IndexAny(s, " \t\n")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}
