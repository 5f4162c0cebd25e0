// Command player is a terminal quiz player: it joins a room, renders the
// host's broadcasts, and submits answers typed as option numbers.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bcvb95/tipsklub-quiz/internal/client"
)

func main() {
	_ = godotenv.Load()
	cobra.CheckErr(newCmd().Execute())
}

func newCmd() *cobra.Command {
	var server, room, name string

	cmd := &cobra.Command{
		Use:           "player",
		Short:         "Join a tipsklub quiz room from the terminal.",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if room == "" || name == "" {
				return fmt.Errorf("--room and --name are required")
			}
			return play(cmd.Context(), server, strings.ToUpper(room), name)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&server, "server", "ws://localhost:8080", "server base URL")
	fs.StringVar(&room, "room", "", "4-letter room code")
	fs.StringVar(&name, "name", "", "display name")
	return cmd
}

func play(ctx context.Context, server, room, name string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := zap.NewNop()

	c := client.New(client.Config{
		URL:  server + "/ws?" + url.Values{"code": {room}}.Encode(),
		Name: name,
	}, logger)

	// Answers are read as typed option numbers, one per line.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			n, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
			if err != nil {
				continue
			}
			if err := c.SubmitAnswer(ctx, n-1); err != nil {
				fmt.Println(err)
			}
		}
	}()

	go render(c.Events())

	return c.Run(ctx)
}

func render(events <-chan client.Event) {
	for ev := range events {
		switch e := ev.(type) {
		case client.Joined:
			fmt.Printf("Joined as %s — waiting for the host.\n", e.Name)
		case client.QuestionPosted:
			fmt.Printf("\nSpørgsmål %d af %d: %s\n", e.Index+1, e.Total, e.Prompt)
			for i, opt := range e.Options {
				fmt.Printf("  %d) %s\n", i+1, opt)
			}
			if e.Timer > 0 {
				fmt.Printf("(%d seconds)\n", e.Timer)
			}
		case client.AnswerMarked:
			fmt.Printf("Your answer: %d\n", e.Option+1)
		case client.RevealShown:
			if e.Right {
				fmt.Printf("Rigtigt! +%d points (total %d)\n", e.Earned, e.Score)
			} else if e.Picked < 0 {
				fmt.Printf("Ikke svaret! Correct: %s (total %d)\n", e.CorrectText, e.Score)
			} else {
				fmt.Printf("Forkert! Correct: %s (total %d)\n", e.CorrectText, e.Score)
			}
		case client.HalftimeShown:
			fmt.Println("\n— Halftime standings —")
			printRows(e.Scores)
		case client.FinalShown:
			fmt.Printf("\n%s vinder!\n", e.Winner)
			printRows(e.Scores)
		case client.RosterUpdated:
			fmt.Printf("In the room: %s", strings.Join(e.Players, ", "))
			if len(e.Disconnected) > 0 {
				fmt.Printf(" (frakoblet: %s)", strings.Join(e.Disconnected, ", "))
			}
			fmt.Println()
		case client.Reconnecting:
			fmt.Printf("Connection lost, reconnect attempt %d...\n", e.Attempt)
		case client.Failed:
			fmt.Printf("Connection failed: %v\n", e.Err)
		}
	}
}

func printRows(rows []client.StandingRow) {
	for i, r := range rows {
		fmt.Printf("  %d. %-12s %d pts (%d correct)\n", i+1, r.Name, r.Score, r.Correct)
	}
}
