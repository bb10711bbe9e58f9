package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/handduel/go/internal/duel/reporter"
	"github.com/mcdev12/handduel/go/internal/duel/session"
	"github.com/mcdev12/handduel/go/internal/models"
)

// errQuit ends the console loop.
var errQuit = errors.New("quit")

// Controller is the slice of the session the console drives.
type Controller interface {
	Join(ctx context.Context) error
	Ready(ctx context.Context) error
	Unready(ctx context.Context) error
	PlayAgain(ctx context.Context) error
	Teardown(ctx context.Context) error
	Snapshot(ctx context.Context) (session.Snapshot, error)
}

type console struct {
	ctl      Controller
	out      io.Writer
	commands map[string]func(ctx context.Context) error
}

func newConsole(ctl Controller, out io.Writer) *console {
	c := &console{ctl: ctl, out: out}
	c.commands = map[string]func(ctx context.Context) error{
		"join":    ctl.Join,
		"ready":   ctl.Ready,
		"unready": ctl.Unready,
		"again":   ctl.PlayAgain,
		"leave":   ctl.Teardown,
		"state":   c.printState,
		"quit":    func(context.Context) error { return errQuit },
	}
	return c
}

// Serve reads one command per line until ctx is done, in hits EOF, or quit.
func (c *console) Serve(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if err := c.Exec(ctx, line); errors.Is(err, errQuit) {
				return nil
			}
		}
	}
}

// Exec runs one command line. Command errors are logged, not returned,
// except errQuit.
func (c *console) Exec(ctx context.Context, line string) error {
	name := strings.ToLower(strings.TrimSpace(line))
	if name == "" {
		return nil
	}
	cmd, ok := c.commands[name]
	if !ok {
		log.Warn().Str("command", name).Msg("unknown command")
		return nil
	}
	err := cmd(ctx)
	switch {
	case errors.Is(err, errQuit):
		return err
	case err != nil:
		log.Warn().Err(err).Str("command", name).Msg("command failed")
	}
	return nil
}

func (c *console) printState(ctx context.Context) error {
	snap, err := c.ctl.Snapshot(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	log.Info().RawJSON("snapshot", data).Msg("session state")
	_, err = fmt.Fprintln(c.out, string(data))
	return err
}

// logObserver narrates the duel through the logger.
type logObserver struct{}

func (logObserver) OnStateChange(from, to session.State) {}

func (logObserver) OnStatus(message string) {
	log.Info().Str("status", message).Msg("server notice")
}

func (logObserver) OnMatchFound(match models.Match, isReporter bool) {
	log.Info().
		Str("match_id", match.ID.String()).
		Str("player1", match.Players[0].String()).
		Str("player2", match.Players[1].String()).
		Bool("reporter", isReporter).
		Msg("match found, type 'ready' when set")
}

func (logObserver) OnCountdown(remaining int) {
	log.Info().Int("remaining", remaining).Msg("countdown")
}

func (logObserver) OnDetection(sample models.DetectionSample) {
	ev := log.Debug().Str("gesture", sample.Gesture.String())
	if sample.Box != nil {
		ev = ev.Ints("box", []int{sample.Box.X1, sample.Box.Y1, sample.Box.X2, sample.Box.Y2})
	}
	ev.Msg("detection")
}

func (logObserver) OnBlackout(active bool) {
	log.Info().Bool("active", active).Msg("opponent video blackout")
}

func (logObserver) OnGestureSubmitted(gesture models.Gesture) {
	log.Info().Str("gesture", gesture.String()).Msg("gesture locked in")
}

func (logObserver) OnOutcome(outcome models.MatchOutcome) {
	log.Info().
		Str("match_id", outcome.MatchID().String()).
		Str("result", string(outcome.Result())).
		Str("winner", outcome.WinnerLabel()).
		Msg("battle over, type 'again' for a rematch")
}

func (logObserver) OnSubmission(sub reporter.Submission) {
	log.Info().
		Str("match_id", sub.Outcome.MatchID().String()).
		Str("game_id", sub.GameID).
		Msg("outcome recorded")
}

func (logObserver) OnFailure(f session.Failure) {
	log.Warn().Err(f.Err).Str("kind", f.Kind.String()).Msg("duel failure")
}
