package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"maps-harvester/stats"

	"github.com/rodaine/table"
	"github.com/sirupsen/logrus"
)

// CommandKind is an operator command
type CommandKind int

const (
	CmdUnknown CommandKind = iota
	CmdQuit
	CmdPause
	CmdResume
	CmdStats
	CmdSkip
	CmdDebug
	CmdHelp
)

// Banner is the command reference shown at startup and on help
const Banner = `
+----------------------------------------------------+
|              MAPS HARVESTER                        |
+----------------------------------------------------+
| Commands:                                          |
| q: quit        p: pause     r: resume              |
| s: stats       n: next locality                    |
| d: debug state h: help                             |
+----------------------------------------------------+
`

var commandNames = map[string]CommandKind{
	"q": CmdQuit, "quit": CmdQuit,
	"p": CmdPause, "pause": CmdPause,
	"r": CmdResume, "resume": CmdResume,
	"s": CmdStats, "stats": CmdStats,
	"n": CmdSkip, "next": CmdSkip, "skip": CmdSkip,
	"d": CmdDebug, "debug": CmdDebug,
	"h": CmdHelp, "help": CmdHelp,
}

// ParseCommand maps one input token to a command, ignoring case and a leading slash
func ParseCommand(token string) CommandKind {
	token = strings.ToLower(strings.TrimSpace(token))
	token = strings.TrimPrefix(token, "/")
	if kind, ok := commandNames[token]; ok {
		return kind
	}
	return CmdUnknown
}

// Command is one operator request. Reply sends text back to where it came from.
type Command struct {
	Kind  CommandKind
	Raw   string
	Reply func(text string)
}

// NewCommand parses raw input into a command
func NewCommand(raw string, reply func(string)) Command {
	return Command{Kind: ParseCommand(raw), Raw: raw, Reply: reply}
}

// ControlPlane applies operator commands to the run state.
// It never waits on the harvest worker.
type ControlPlane struct {
	state *RunState
	stats *stats.Stats
	runID string
	log   *logrus.Entry
}

// NewControlPlane creates a control plane over the shared run state
func NewControlPlane(state *RunState, st *stats.Stats, runID string, log *logrus.Entry) *ControlPlane {
	return &ControlPlane{state: state, stats: st, runID: runID, log: log}
}

// Run handles commands until ctx ends or the channel is closed
func (cp *ControlPlane) Run(ctx context.Context, commands <-chan Command) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			cp.Handle(cmd)
		}
	}
}

// Handle applies a single command
func (cp *ControlPlane) Handle(cmd Command) {
	reply := cmd.Reply
	if reply == nil {
		reply = func(string) {}
	}

	switch cmd.Kind {
	case CmdQuit:
		cp.log.Info("Quit requested")
		cp.state.Quit()
		reply("Stopping...")
	case CmdPause:
		cp.state.SetRunning(false)
		cp.log.Info("Paused by operator")
		reply("Paused")
	case CmdResume:
		if cp.state.SetRunning(true) {
			cp.log.Info("Resumed by operator")
			reply("Resumed")
		} else {
			reply("Nothing to resume")
		}
	case CmdStats:
		reply(cp.StatsReport())
	case CmdSkip:
		if next, ok := cp.state.Advance(); ok {
			cp.log.WithField("locality", next).Info("Skipped to next locality")
			reply(fmt.Sprintf("Moving to next locality: %s", next))
		} else {
			cp.log.Info("Skipped last locality")
			reply("All localities have been processed")
		}
	case CmdDebug:
		reply(cp.DebugReport())
	case CmdHelp:
		reply(Banner)
	default:
		reply(fmt.Sprintf("Unknown command %q, type h for help", strings.TrimSpace(cmd.Raw)))
	}
}

// StatsReport renders the counters together with queue progress
func (cp *ControlPlane) StatsReport() string {
	current, _, _ := cp.state.Current()
	var buf bytes.Buffer
	cp.stats.Snapshot().Render(&buf,
		[2]string{"Current locality", current},
		[2]string{"Localities remaining", fmt.Sprint(len(cp.state.Remaining()))},
	)
	return buf.String()
}

// DebugReport renders the full run state
func (cp *ControlPlane) DebugReport() string {
	snap := cp.stats.Snapshot()
	current, gen, _ := cp.state.Current()

	var buf bytes.Buffer
	tbl := table.New("Field", "Value").WithWriter(&buf)
	tbl.AddRow("run_id", cp.runID)
	tbl.AddRow("locality", current)
	tbl.AddRow("generation", gen)
	tbl.AddRow("running", cp.state.Running())
	tbl.AddRow("quitting", cp.state.Quitting())
	tbl.AddRow("queue", strings.Join(cp.state.Remaining(), ", "))
	tbl.AddRow("preloaded", snap.Preloaded)
	tbl.AddRow("total", snap.TotalKnown)
	tbl.AddRow("new", snap.NewlySaved)
	tbl.AddRow("duplicates", snap.DuplicatesThisLocality)
	tbl.AddRow("errors", snap.Errors)
	tbl.AddRow("retries", snap.Retries)
	tbl.Print()
	return buf.String()
}
