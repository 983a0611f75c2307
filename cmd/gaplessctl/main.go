// Command gaplessctl drives a running gapless daemon. With arguments it runs
// one command and exits; without it opens an interactive prompt.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"github.com/MrWong99/gapless/internal/control"
)

const requestTimeout = 10 * time.Second

var commandNames = []string{
	"play", "pause", "toggle", "next", "prev", "stop",
	"seek", "queue", "continue", "volume",
	"status", "list", "find", "events", "help", "quit",
}

func main() {
	addr := flag.String("addr", "http://localhost:8420", "base URL of the gapless daemon")
	flag.Parse()

	c := control.NewClient(*addr)
	if flag.NArg() > 0 {
		if err := execute(context.Background(), c, os.Stdout, flag.Args()); err != nil {
			fmt.Fprintf(os.Stderr, "gaplessctl: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := repl(c); err != nil {
		fmt.Fprintf(os.Stderr, "gaplessctl: %v\n", err)
		os.Exit(1)
	}
}

func repl(c *control.Client) error {
	items := make([]readline.PrefixCompleterInterface, len(commandNames))
	for i, name := range commandNames {
		items[i] = readline.PcItem(name)
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gapless> ",
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" {
			return nil
		}
		if err := execute(context.Background(), c, rl.Stdout(), args); err != nil {
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		}
	}
}

// execute runs one command line against c.
func execute(ctx context.Context, c *control.Client, w io.Writer, args []string) error {
	cmd, rest := args[0], args[1:]
	if cmd == "events" {
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		err := c.Events(ctx, func(ev control.Event) error {
			printEvent(w, ev)
			return nil
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var (
		st  control.Status
		err error
	)
	switch cmd {
	case "play":
		st, err = c.Play(ctx)
	case "pause":
		st, err = c.Pause(ctx)
	case "toggle":
		st, err = c.Toggle(ctx)
	case "next":
		st, err = c.Next(ctx)
	case "prev", "previous":
		st, err = c.Previous(ctx)
	case "stop":
		st, err = c.Stop(ctx)
	case "status":
		st, err = c.Status(ctx)
	case "seek":
		req, perr := parseSeek(rest)
		if perr != nil {
			return perr
		}
		st, err = c.Seek(ctx, req)
	case "queue":
		req, perr := parseQueue(rest)
		if perr != nil {
			return perr
		}
		st, err = c.ReplaceQueue(ctx, req)
	case "continue":
		st, err = c.Continue(ctx, rest)
	case "volume":
		if len(rest) != 1 {
			return errors.New("usage: volume <0..1>")
		}
		v, perr := strconv.ParseFloat(rest[0], 64)
		if perr != nil {
			return fmt.Errorf("volume: %w", perr)
		}
		st, err = c.SetVolume(ctx, v)
	case "list":
		q, err := c.Queue(ctx)
		if err != nil {
			return err
		}
		for i, t := range q.Tracks {
			marker := "  "
			if i == q.Index {
				marker = "> "
			}
			fmt.Fprintf(w, "%s%3d  %s\n", marker, i, describe(t))
		}
		return nil
	case "find":
		res, err := c.Find(ctx, strings.Join(rest, " "), 20)
		if err != nil {
			return err
		}
		for _, h := range res.Results {
			fmt.Fprintf(w, "%.2f  %s  (%s)\n", h.Score, describe(h.Track), h.Track.Path)
		}
		return nil
	case "help":
		printHelp(w)
		return nil
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	if err != nil {
		return err
	}
	printStatus(w, st)
	return nil
}

// parseSeek accepts "<seconds>", "<pct>%" or "#<index>".
func parseSeek(args []string) (control.SeekRequest, error) {
	if len(args) != 1 {
		return control.SeekRequest{}, errors.New("usage: seek <seconds> | <percent>% | #<index>")
	}
	arg := args[0]
	switch {
	case strings.HasPrefix(arg, "#"):
		i, err := strconv.Atoi(arg[1:])
		if err != nil {
			return control.SeekRequest{}, fmt.Errorf("seek index: %w", err)
		}
		return control.SeekRequest{Index: &i}, nil
	case strings.HasSuffix(arg, "%"):
		p, err := strconv.ParseFloat(strings.TrimSuffix(arg, "%"), 64)
		if err != nil {
			return control.SeekRequest{}, fmt.Errorf("seek percentage: %w", err)
		}
		p /= 100
		return control.SeekRequest{Percentage: &p}, nil
	default:
		s, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return control.SeekRequest{}, fmt.Errorf("seek offset: %w", err)
		}
		return control.SeekRequest{OffsetSeconds: &s}, nil
	}
}

// parseQueue accepts "[@<from>] [+<seconds>] <path>...".
func parseQueue(args []string) (control.QueueRequest, error) {
	var req control.QueueRequest
	for _, a := range args {
		switch {
		case strings.HasPrefix(a, "@"):
			i, err := strconv.Atoi(a[1:])
			if err != nil {
				return req, fmt.Errorf("queue start index: %w", err)
			}
			req.FromIndex = i
		case strings.HasPrefix(a, "+"):
			s, err := strconv.ParseFloat(a[1:], 64)
			if err != nil {
				return req, fmt.Errorf("queue offset: %w", err)
			}
			req.OffsetSeconds = s
		default:
			req.Paths = append(req.Paths, a)
		}
	}
	return req, nil
}

func describe(t control.Track) string {
	if t.Artist == "" {
		return t.Title
	}
	return t.Artist + " - " + t.Title
}

func clock(secs float64) string {
	d := time.Duration(secs * float64(time.Second)).Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func printStatus(w io.Writer, st control.Status) {
	if st.Track == nil {
		fmt.Fprintf(w, "[%s] nothing queued  vol %.0f%%\n", st.State, st.Volume*100)
		return
	}
	fmt.Fprintf(w, "[%s] %d/%d %s  %s / %s  vol %.0f%%\n",
		st.State, st.Index+1, st.PlaylistLen, describe(*st.Track),
		clock(st.Position), clock(st.Duration), st.Volume*100)
}

func printEvent(w io.Writer, ev control.Event) {
	switch {
	case ev.Status != nil:
		printStatus(w, *ev.Status)
	case ev.Track != nil:
		fmt.Fprintf(w, "now playing #%d %s\n", *ev.Index, describe(*ev.Track))
	case ev.Index != nil:
		fmt.Fprintln(w, "queue finished")
	case ev.Playing != nil:
		fmt.Fprintf(w, "playing: %t\n", *ev.Playing)
	case ev.Seconds != nil:
		fmt.Fprintf(w, "\r%s (%.0f%%)", clock(*ev.Seconds), *ev.Percentage*100)
	}
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, `commands:
  play | pause | toggle | next | prev | stop
  seek <seconds> | <percent>% | #<index>
  queue [@<from>] [+<seconds>] <path>...
  continue <path>...
  volume <0..1>
  status | list | find <query> | events
  quit
`)
}
