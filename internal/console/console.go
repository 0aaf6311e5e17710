// Package console implements the admin console served over the telnet and
// ssh listeners. It is the operational surface for the player state
// service: inspect sessions, read diagnostics, force saves, kick players.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/pixil98/go-playerdata/internal/display"
	"github.com/pixil98/go-playerdata/internal/player"
	"github.com/pixil98/go-playerdata/internal/record"
)

const helpText = `Commands:
  sessions             list connected sessions
  diag                 show diagnostic counters
  save <identity>      snapshot and save a connected player
  kick <identity>      disconnect a player (saves first)
  recover <identity>   force emergency recovery for a session
  validate <identity>  run a consistency check on a session
  phase <identity>     show a session's combat-logout phase
  help                 show this help
  quit                 close the console`

var sessionsTmpl = template.Must(template.New("sessions").Funcs(sprig.TxtFuncMap()).Parse(
	`{{ printf "%-36s %-8s %-11s %s" "IDENTITY" "STATE" "PHASE" "CONNECTED" }}
{{- range . }}
{{ printf "%-36s %-8s %-11s %s" (.Identity | toString) (.State | toString) (.Phase | toString) (date "2006-01-02 15:04:05" .StartedAt) }}
{{- end }}
{{ len . }} session(s)`))

var diagTmpl = template.Must(template.New("diag").Funcs(sprig.TxtFuncMap()).Parse(
	`{{- range $name, $count := . }}
{{ printf "%-24s %d" $name $count }}
{{- end }}`))

type Console struct {
	mgr *player.Manager
}

func New(mgr *player.Manager) *Console {
	return &Console{mgr: mgr}
}

// Run drives one console connection until quit, EOF, or context
// cancellation.
func (c *Console) Run(ctx context.Context, rw io.ReadWriter) error {
	c.writeLine(rw, display.Wrap("playerd admin console. Type 'help' for commands."))

	scanner := bufio.NewScanner(rw)
	c.prompt(rw)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.prompt(rw)
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if cmd == "quit" || cmd == "exit" {
			c.writeLine(rw, "Goodbye.")
			return nil
		}

		if out, err := c.exec(ctx, cmd, args); err != nil {
			c.writeLine(rw, fmt.Sprintf("error: %s", err))
		} else if out != "" {
			c.writeLine(rw, out)
		}

		c.prompt(rw)
	}

	return scanner.Err()
}

func (c *Console) exec(ctx context.Context, cmd string, args []string) (string, error) {
	switch cmd {
	case "help":
		return helpText, nil

	case "sessions":
		var buf strings.Builder
		if err := sessionsTmpl.Execute(&buf, c.mgr.Registry().List()); err != nil {
			return "", fmt.Errorf("rendering sessions: %w", err)
		}
		return buf.String(), nil

	case "diag":
		var buf strings.Builder
		if err := diagTmpl.Execute(&buf, c.mgr.Counters().Snapshot()); err != nil {
			return "", fmt.Errorf("rendering diagnostics: %w", err)
		}
		return strings.TrimPrefix(buf.String(), "\n"), nil

	case "save":
		id, err := identityArg(args)
		if err != nil {
			return "", err
		}
		if err := c.mgr.SnapshotAndSave(ctx, id); err != nil {
			return "", err
		}
		return fmt.Sprintf("saved %s", id), nil

	case "kick":
		id, err := identityArg(args)
		if err != nil {
			return "", err
		}
		if err := c.mgr.Disconnect(ctx, id); err != nil {
			return "", err
		}
		return fmt.Sprintf("kicked %s", id), nil

	case "recover":
		id, err := identityArg(args)
		if err != nil {
			return "", err
		}
		if err := c.mgr.EmergencyRecover(ctx, id); err != nil {
			return "", err
		}
		return fmt.Sprintf("recovered %s", id), nil

	case "validate":
		id, err := identityArg(args)
		if err != nil {
			return "", err
		}
		if err := c.mgr.Validate(ctx, id); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s is consistent", id), nil

	case "phase":
		id, err := identityArg(args)
		if err != nil {
			return "", err
		}
		for _, info := range c.mgr.Registry().List() {
			if info.Identity == id {
				return fmt.Sprintf("%s: %s", id, info.Phase), nil
			}
		}
		return "", fmt.Errorf("%s is not connected", id)

	default:
		return "", fmt.Errorf("unknown command %q, try 'help'", cmd)
	}
}

func identityArg(args []string) (record.Identity, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("expected exactly one identity argument")
	}
	return record.Identity(args[0]), nil
}

func (c *Console) prompt(rw io.Writer) {
	if _, err := rw.Write([]byte("> ")); err != nil {
		slog.Warn("writing console prompt", "error", err)
	}
}

func (c *Console) writeLine(rw io.Writer, msg string) {
	if _, err := rw.Write([]byte(msg + "\n")); err != nil {
		slog.Warn("writing console output", "error", err)
	}
}
