package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/agentreplay/internal/replay"
	"github.com/capitalize-ai/agentreplay/internal/viewer"
)

const replayHelp = `commands:
  n, next        show the next event
  p, prev, back  show the previous event
  j N            jump to event N (1-based)
  s QUERY        list events matching QUERY
  r, reset       go back before the first event
  q, quit        leave`

func newReplayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "replay FILE",
		Short: "Step through a trace interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := replay.Open(args[0])
			if err != nil {
				return err
			}
			s := &session{engine: e, view: viewer.New(cmd.OutOrStdout()), out: cmd.OutOrStdout()}
			return s.run(cmd.InOrStdin())
		},
	}
}

// session is one interactive replay over an engine.
type session struct {
	engine *replay.Engine
	view   *viewer.Viewer
	out    io.Writer
}

func (s *session) run(in io.Reader) error {
	s.view.Info(s.engine.Trace())
	fmt.Fprintln(s.out, replayHelp)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(s.out, "replay [%d/%d]> ", s.engine.Position(), s.engine.Len())
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		if !s.exec(strings.TrimSpace(scanner.Text())) {
			return nil
		}
	}
}

// exec runs one command line and reports whether the session continues.
func (s *session) exec(line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "", "n", "next":
		step, err := s.engine.Step()
		if err != nil {
			s.report(err)
			return true
		}
		s.view.StepAt(s.engine.Position()-1, s.engine.Len(), step)
	case "p", "prev", "back":
		step, err := s.engine.StepBack()
		if err != nil {
			s.report(err)
			return true
		}
		s.view.StepAt(s.engine.Position(), s.engine.Len(), step)
	case "j", "jump":
		n, err := strconv.Atoi(arg)
		if err != nil {
			fmt.Fprintf(s.out, "jump needs an event number, got %q\n", arg)
			return true
		}
		step, err := s.engine.Jump(n - 1)
		if err != nil {
			s.report(err)
			return true
		}
		s.view.StepAt(n-1, s.engine.Len(), step)
	case "s", "search":
		if arg == "" {
			fmt.Fprintln(s.out, "search needs a query")
			return true
		}
		s.view.SearchResults(s.engine, arg, s.engine.Search(arg))
	case "r", "reset":
		s.engine.Reset()
		fmt.Fprintln(s.out, "cursor reset")
	case "h", "help", "?":
		fmt.Fprintln(s.out, replayHelp)
	case "q", "quit", "exit":
		return false
	default:
		fmt.Fprintf(s.out, "unknown command %q, type h for help\n", cmd)
	}
	return true
}

func (s *session) report(err error) {
	var rerr *replay.RangeError
	if !errors.As(err, &rerr) {
		fmt.Fprintln(s.out, err)
		return
	}
	switch {
	case rerr.Op == "step":
		fmt.Fprintln(s.out, "end of trace")
	case rerr.Op == "step_back":
		fmt.Fprintln(s.out, "already at the start")
	default:
		fmt.Fprintf(s.out, "no event %d (trace has %d)\n", rerr.Target+1, rerr.Len)
	}
}
