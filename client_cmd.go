package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/dgnsrekt/streamtts/internal/api"
	"github.com/dgnsrekt/streamtts/internal/audio"
	"github.com/dgnsrekt/streamtts/internal/client"
	"github.com/dgnsrekt/streamtts/internal/message"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const requestTimeout = 10 * time.Second

var (
	enqueueLane      string
	enqueueSender    string
	enqueueBits      int64
	enqueueClipboard bool
	playLocal        bool

	enqueueCmd = &cobra.Command{
		Use:   "enqueue [TEXT|-]",
		Short: "Add a message to a queue",
		Long: paragraph(fmt.Sprintf("\n%s a chat message for synthesis. Use - to read the text from stdin or --clipboard to take it from the clipboard.", keyword("Queue"))),
		Example: paragraph(`streamtts enqueue "hello chat" --sender alice
streamtts enqueue --lane bits --bits 500 --sender bob "thanks for the stream"
echo "hi" | streamtts enqueue -`),
		Args: cobra.MaximumNArgs(1),
		RunE: runEnqueue,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show counts for the active queue",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}

	playCmd = &cobra.Command{
		Use:   "play",
		Short: "Start the next ready message",
		Long: paragraph(fmt.Sprintf("\n%s the oldest ready message of the active queue. With --local the audio is played here and marked played when it ends.", keyword("Start"))),
		Args: cobra.NoArgs,
		RunE: runPlay,
	}

	playedCmd = &cobra.Command{
		Use:   "played ID",
		Short: "Mark a playing message as played",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid message id %q", args[0])
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.MarkPlayed(ctx, id); err != nil {
					return err
				}
				fmt.Printf("Message %s marked as played.\n", keyword(args[0]))
				return nil
			})
		},
	}

	switchCmd = &cobra.Command{
		Use:       "switch mentions|bits",
		Short:     "Make a queue active",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(message.LaneMentions), string(message.LaneBits)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				res, err := c.Switch(ctx, args[0])
				if err != nil {
					return err
				}
				if res.Switched {
					fmt.Println(res.Message)
				} else {
					fmt.Println(faint(res.Message))
				}
				return nil
			})
		},
	}

	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete pending and ready messages of the active queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				res, err := c.Clear(ctx)
				if err != nil {
					return err
				}
				fmt.Println(res.Message)
				return nil
			})
		},
	}

	autoplayCmd = &cobra.Command{
		Use:       "autoplay on|off",
		Short:     "Start or stop autoplay",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch strings.ToLower(args[0]) {
			case "on", "start", "true":
				enabled = true
			case "off", "stop", "false":
			default:
				return fmt.Errorf("expected on or off, got %q", args[0])
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				res, err := c.SetAutoplay(ctx, enabled)
				if err != nil {
					return err
				}
				fmt.Println(res.Message)
				return nil
			})
		},
	}
)

func init() {
	enqueueCmd.Flags().StringVarP(&enqueueLane, "lane", "l", string(message.LaneMentions), "queue: mentions or bits")
	enqueueCmd.Flags().StringVarP(&enqueueSender, "sender", "s", "", "name of the chatter")
	enqueueCmd.Flags().Int64Var(&enqueueBits, "bits", 0, "bits attached to the message")
	enqueueCmd.Flags().BoolVar(&enqueueClipboard, "clipboard", false, "read the text from the clipboard")

	playCmd.Flags().BoolVar(&playLocal, "local", false, "play the audio on this machine and mark it played")
}

// withClient runs fn with a client and a request-scoped context.
func withClient(cmd *cobra.Command, fn func(context.Context, *client.Client) error) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	return fn(ctx, c)
}

func enqueueText(args []string) (string, error) {
	switch {
	case enqueueClipboard:
		if len(args) > 0 {
			return "", errors.New("cannot use --clipboard with a text argument")
		}
		s, err := clipboard.ReadAll()
		if err != nil {
			return "", fmt.Errorf("unable to read clipboard: %w", err)
		}
		return s, nil
	case len(args) == 0 && term.IsTerminal(int(os.Stdin.Fd())): //nolint:gosec
		return "", errors.New("missing message text: pass it as an argument or pipe it to -")
	case len(args) == 0 || args[0] == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("unable to read from stdin: %w", err)
		}
		return string(b), nil
	default:
		return args[0], nil
	}
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	text, err := enqueueText(args)
	if err != nil {
		return err
	}
	req := api.AddMessageRequest{
		SentBy:      enqueueSender,
		Text:        strings.TrimSpace(text),
		MessageType: enqueueLane,
	}
	if cmd.Flags().Changed("bits") {
		req.BitsAmount = &enqueueBits
	}

	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		res, err := c.AddMessage(ctx, req)
		if err != nil {
			return err
		}
		fmt.Printf("%s (id %s)\n", res.Message, keyword(strconv.FormatInt(res.MessageID, 10)))
		return nil
	})
}

func runStats(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		st, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		autoplay := faint("off")
		if st.AutoplayEnabled {
			autoplay = keyword("on")
		}
		fmt.Printf("Active queue:  %s\n", keyword(string(st.ActiveLane)))
		fmt.Printf("Pending:       %d\n", st.PendingCount)
		fmt.Printf("Processing:    %d\n", st.ProcessingCount)
		fmt.Printf("Ready:         %d\n", st.ReadyCount)
		fmt.Printf("Errors:        %d\n", st.ErrorCount)
		fmt.Printf("Mentions size: %s\n", humanize.IBytes(uint64(st.MentionsReadyBytes))) //nolint:gosec
		fmt.Printf("Autoplay:      %s\n", autoplay)

		sum, err := c.Config(ctx)
		if err != nil {
			return err
		}
		fmt.Println(faint(fmt.Sprintf("\n%s · voice %s · speed %.2f · lang %s · cooldown %ds",
			sum.Engine, sum.VoiceConfig, sum.TTSSpeed, sum.LangCode, sum.AutoplayCooldown)))
		return nil
	})
}

func runPlay(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	next, err := c.PlayNext(ctx)
	cancel()
	if err != nil {
		return err
	}
	if next == nil {
		fmt.Println(faint("Nothing ready to play."))
		return nil
	}
	fmt.Printf("%s %s: %s\n", keyword(strconv.FormatInt(next.MessageID, 10)), next.SentBy, next.Text)
	if !playLocal {
		fmt.Println(faint("Audio: " + c.URL(next.AudioFilePath)))
		return nil
	}

	if err := playAudio(cmd.Context(), c, next.AudioFilePath); err != nil {
		// The message stays PLAYING; report so it can be marked by hand.
		return fmt.Errorf("unable to play message %d: %w", next.MessageID, err)
	}

	ctx, cancel = context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	return c.MarkPlayed(ctx, next.MessageID)
}

func playAudio(ctx context.Context, c *client.Client, path string) error {
	dctx, cancel := context.WithTimeout(ctx, requestTimeout)
	wav, err := c.Audio(dctx, path)
	cancel()
	if err != nil {
		return err
	}

	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return err
	}
	speaker, err := audio.NewSpeaker(format)
	if err != nil {
		return err
	}
	defer func() { _ = speaker.Close() }()
	return speaker.Play(ctx, pcm)
}
