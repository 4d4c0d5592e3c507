package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Seednode/worldrace/race"
	"github.com/spf13/cobra"
)

func newPlayCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:           "play",
		Short:         "Play a local pass-and-play race in the terminal.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.apiKey == "" {
				return errors.New("a trivia provider API key is required (--api-key / WORLDRACE_API_KEY)")
			}
			return playLocal(cmd.Context(), cfg)
		},
	}
}

// terminalPresenter prints session notices straight to stdout.
type terminalPresenter struct{}

func (terminalPresenter) Notice(message string) {
	fmt.Println(message)
}

type prompter struct {
	scanner *bufio.Scanner
	eof     bool
}

func (p *prompter) line(prompt, fallback string) string {
	if p.eof {
		return fallback
	}
	fmt.Print(prompt)
	if !p.scanner.Scan() {
		p.eof = true
		return fallback
	}
	text := strings.TrimSpace(p.scanner.Text())
	if text == "" {
		return fallback
	}
	return text
}

func (p *prompter) pick(prompt string, max int) int {
	for {
		text := p.line(prompt, "")
		n, err := strconv.Atoi(text)
		if err == nil && n >= 1 && n <= max {
			return n
		}
		if p.eof {
			return 1
		}
		fmt.Printf("Enter a number between 1 and %d.\n", max)
	}
}

func playLocal(ctx context.Context, cfg *Config) error {
	in := &prompter{scanner: bufio.NewScanner(os.Stdin)}

	session := race.NewSession(race.SessionConfig{
		Provider:  race.NewGeminiProvider(cfg.apiKey),
		Presenter: terminalPresenter{},
		Host:      true,
		Countdown: cfg.countdown,
	})

	p1 := in.line("Player 1 name [Player 1]: ", "Player 1")
	p2 := in.line("Player 2 name [Player 2]: ", "Player 2")

	for {
		fmt.Println("\nStops on the route:")
		for i, loc := range race.Locations {
			fmt.Printf("  %2d. %s\n", i+1, loc.Name)
		}

		start := race.Locations[in.pick("Start: ", len(race.Locations))-1]
		end := race.Locations[in.pick("Destination: ", len(race.Locations))-1]
		if start.Name == end.Name {
			fmt.Println("Start and destination must differ.")
			continue
		}

		fmt.Println("Fetching questions...")
		if err := session.Start(ctx, start.Name, end.Name, p1, p2, "male1", "female1"); err != nil {
			return err
		}

		if err := runRace(ctx, session, in); err != nil {
			return err
		}

		if !strings.EqualFold(in.line("Play again? [y/N]: ", "n"), "y") {
			return nil
		}
		session.Reset()
	}
}

func runRace(ctx context.Context, session *race.Session, in *prompter) error {
	for {
		if in.eof {
			return nil
		}

		snap := session.Snapshot()

		switch snap.Phase {
		case race.PhaseFinished:
			fmt.Printf("\n%s wins the race!\n", snap.Winner)
			return nil
		case race.PhasePlaying:
		default:
			return nil
		}

		name, position := snap.Player1Name, snap.Player1Position
		if snap.CurrentPlayer == 2 {
			name, position = snap.Player2Name, snap.Player2Position
		}
		stop := snap.RacePath[position]
		fmt.Printf("\n%s is at %s (stop %d of %d). Press enter for a question.",
			name, stop.Name, position+1, len(snap.RacePath))
		in.line("", "")

		session.ReadyForQuestion(ctx)

		snap = session.Snapshot()
		question := snap.CurrentQuestion
		if question == nil {
			// provider came up empty; the turn was already forfeited
			continue
		}

		fmt.Printf("\n%s\n", question.Question)
		for i, opt := range question.Options {
			fmt.Printf("  %d. %s\n", i+1, opt)
		}

		selected := question.Options[in.pick("Answer: ", len(question.Options))-1]
		correct := selected == question.CorrectAnswer

		session.SetReveal(race.RevealState{
			QuestionID:     question.Question,
			SelectedAnswer: selected,
			ShowResult:     true,
		})

		if correct {
			fmt.Println("Correct!")
		} else {
			fmt.Printf("Wrong. The answer was: %s\n", question.CorrectAnswer)
		}

		if strings.EqualFold(in.line("More info? [y/N]: ", "n"), "y") {
			session.RequestMoreInfo(ctx, question.Question, question.CorrectAnswer)
			fmt.Println(session.Snapshot().MoreInfo)
		}

		session.Answer(ctx, correct)
	}
}
