package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Aliisa-yt/twitchbot/internal/transcript"
	"github.com/Aliisa-yt/twitchbot/internal/tts"
	"github.com/Aliisa-yt/twitchbot/internal/voice"
)

type commandKind string

const (
	cmdSkip   commandKind = "skip"
	cmdClear  commandKind = "clear"
	cmdEngine commandKind = "engine"
	cmdUsage  commandKind = "usage"
)

type command struct {
	kind commandKind
	arg  string
}

// parseCommand recognizes the pipeline command set. Any other "!" message
// belongs to some other bot and falls through to the ignore rules.
func parseCommand(text string) (command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return command{}, false
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	switch strings.ToLower(fields[0]) {
	case "!tskip":
		return command{kind: cmdSkip}, true
	case "!tclear":
		return command{kind: cmdClear}, true
	case "!tengine":
		return command{kind: cmdEngine, arg: arg}, true
	case "!tusage":
		return command{kind: cmdUsage}, true
	default:
		return command{}, false
	}
}

// authorized gates commands by role. Usage exposes account quota and
// stays with the streamer; the rest are moderation tools.
func authorized(role voice.Role, kind commandKind) bool {
	if kind == cmdUsage {
		return role == voice.RoleStreamer
	}
	return role == voice.RoleStreamer || role == voice.RoleModerator
}

func (c *Coordinator) dispatchCommand(ctx context.Context, ev Event, cmd command) {
	if !authorized(ev.Role, cmd.kind) {
		c.logger.Debug("command not authorized",
			zap.String("command", string(cmd.kind)),
			zap.String("user", ev.UserName),
			zap.String("role", string(ev.Role)))
		c.observeEvent("unauthorized")
		return
	}
	c.logger.Info("command received",
		zap.String("command", string(cmd.kind)), zap.String("user", ev.UserName))
	c.observeEvent("command")

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch cmd.kind {
	case cmdSkip:
		c.commandSkip(ctx, ev)
	case cmdClear:
		c.commandClear(ev)
	case cmdEngine:
		c.commandEngine(ev, cmd.arg)
	case cmdUsage:
		c.commandUsage(ctx, ev)
	}
}

func (c *Coordinator) commandSkip(ctx context.Context, ev Event) {
	if !c.Skip(ctx) {
		return
	}
	c.log.Append(transcript.Entry{
		Kind: transcript.KindCommand,
		User: ev.UserName,
		Role: string(ev.Role),
		Text: "Current playback cancelled.",
	})
}

// commandClear removes the issuer's own pending work. The item playing
// right now and other users' items stay untouched.
func (c *Coordinator) commandClear(ev Event) {
	n := len(c.ingest.RemoveMatching(func(e Event) bool { return e.UserID == ev.UserID }))
	n += c.synth.Clear(func(j tts.Job) bool { return j.UserID == ev.UserID })
	n += c.player.ClearPending(func(a *tts.Artifact) bool { return a.UserID == ev.UserID })
	c.observeIngestDepth()
	c.log.Append(transcript.Entry{
		Kind: transcript.KindCommand,
		User: ev.UserName,
		Role: string(ev.Role),
		Text: fmt.Sprintf("Cleared %d pending items.", n),
	})
}

// commandEngine shows the active translation engine, or hot-swaps it when
// a name is given. The swap applies from the next routed message on.
func (c *Coordinator) commandEngine(ev Event, arg string) {
	names := c.router.EngineNames()
	if arg == "" {
		text := "No translation engine is configured."
		if len(names) > 0 {
			text = fmt.Sprintf("The current translation engine is '%s'.", names[0])
		}
		c.log.Append(transcript.Entry{
			Kind: transcript.KindCommand,
			User: ev.UserName,
			Role: string(ev.Role),
			Text: text,
		})
		return
	}

	name := strings.ToLower(arg)
	if err := c.router.SetActiveEngine(name); err != nil {
		c.log.Append(transcript.Entry{
			Kind: transcript.KindCommand,
			User: ev.UserName,
			Role: string(ev.Role),
			Text: fmt.Sprintf("Usage: !tengine [%s]", strings.Join(names, "|")),
		})
		return
	}
	c.logger.Info("translation engine switched",
		zap.String("engine", name), zap.String("user", ev.UserName))
	c.log.Append(transcript.Entry{
		Kind:   transcript.KindEngine,
		User:   ev.UserName,
		Role:   string(ev.Role),
		Text:   fmt.Sprintf("Translation engine switched to '%s'.", name),
		Engine: name,
	})
}

// usagePrinter renders quota numbers with thousands separators.
var usagePrinter = message.NewPrinter(language.English)

func (c *Coordinator) commandUsage(ctx context.Context, ev Event) {
	engine, quota, err := c.router.Usage(ctx)
	var text string
	switch {
	case err != nil:
		c.logger.Warn("usage query failed", zap.String("engine", engine), zap.Error(err))
		text = "The current translation engine is unable to use information about character usage."
	case !quota.Valid:
		text = "The current translation engine is unable to use information about character usage."
	case quota.Limit > 0:
		pct := float64(quota.Count) / float64(quota.Limit) * 100
		text = usagePrinter.Sprintf("Character usage: %d/%d (%.2f%%)", quota.Count, quota.Limit, pct)
	default:
		text = usagePrinter.Sprintf("Character usage: %d/%d (---%%)", quota.Count, quota.Limit)
	}
	c.log.Append(transcript.Entry{
		Kind:   transcript.KindCommand,
		User:   ev.UserName,
		Role:   string(ev.Role),
		Text:   text,
		Engine: engine,
	})
}

// forwardRemoteSkip reaches engines that play audio on a remote
// application, outside the local playback queue.
func (c *Coordinator) forwardRemoteSkip(ctx context.Context) {
	for _, name := range c.engines.Names() {
		eng, ok := c.engines.Get(name)
		if !ok {
			continue
		}
		if ctl, ok := eng.(tts.Controller); ok {
			if err := ctl.Skip(ctx); err != nil {
				c.logger.Debug("remote skip not delivered",
					zap.String("engine", name), zap.Error(err))
			}
		}
	}
}

func (c *Coordinator) forwardRemoteClear(ctx context.Context) {
	for _, name := range c.engines.Names() {
		eng, ok := c.engines.Get(name)
		if !ok {
			continue
		}
		if ctl, ok := eng.(tts.Controller); ok {
			if err := ctl.Clear(ctx); err != nil {
				c.logger.Debug("remote clear not delivered",
					zap.String("engine", name), zap.Error(err))
			}
		}
	}
}
