package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/qm4/kbchat/internal/chat"
	"github.com/qm4/kbchat/internal/config"
	"github.com/qm4/kbchat/internal/sse"
	"github.com/qm4/kbchat/internal/stream"
)

var (
	askSession     int64
	askResume      bool
	askNoRAG       bool
	askAttachments []int64
	askTimeout     time.Duration
	askRaw         bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question in a chat session and stream the answer",
	Long: `Send a message to a chat session and print the answer as it streams.

A session id is required, either with --session or with --resume to reuse the
last session used against the same server. Press Ctrl-C to stop the stream.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().Int64VarP(&askSession, "session", "s", 0, "Chat session id")
	askCmd.Flags().BoolVarP(&askResume, "resume", "r", false, "Resume the last chat session")
	askCmd.Flags().BoolVar(&askNoRAG, "no-rag", false, "Disable knowledge-base retrieval for this message")
	askCmd.Flags().Int64SliceVar(&askAttachments, "attachment", nil, "Attachment id to include (repeatable)")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 0, "Cancel the stream after this long (0 = no limit)")
	askCmd.Flags().BoolVar(&askRaw, "raw", false, "Print every message as a JSON line")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	sessionID := askSession
	state := config.LoadState()
	if sessionID == 0 && askResume {
		if last := state.GetSession(globalCfg.BaseURL); last != nil {
			sessionID = last.SessionID
		} else {
			return fmt.Errorf("no previous chat session found for %s", globalCfg.BaseURL)
		}
	}
	if sessionID <= 0 {
		return errors.New("a chat session id is required (use --session or --resume)")
	}

	sc, err := newStreamClient()
	if err != nil {
		return err
	}

	req := chat.SendRequest{
		Message:       question,
		EnableRAG:     globalCfg.Chat.EnableRAG && !askNoRAG,
		AttachmentIDs: askAttachments,
	}

	var wrote bool
	h := stream.Handlers{}
	if askRaw {
		h.OnMessage = printRaw(out)
	} else {
		h.OnMessage = chat.TextHandler(func(text string) {
			wrote = true
			fmt.Fprint(out, text)
		})
	}

	ctx, stop := sessionContext(cmd.Context(), askTimeout)
	defer stop()

	s := chat.New(sc).SendStream(ctx, sessionID, req, h)
	err = awaitSession(ctx, s, askTimeout)

	if wrote {
		fmt.Fprintln(out)
	}
	if err != nil {
		return err
	}

	state.SetSession(globalCfg.BaseURL, &config.SessionState{
		SessionID: sessionID,
		RequestID: s.ID(),
		UpdatedAt: time.Now(),
	})
	if err := config.SaveState(state); err != nil {
		log.Warn("saving state", "error", err)
	}

	if !askRaw && s.State() == stream.StateCompleted {
		fmt.Fprintf(errOut, "\nSession: %d\n", sessionID)
		fmt.Fprintf(errOut, "  kbchat ask -r \"follow up\"\n")
	}
	return nil
}

// sessionContext returns a context cancelled by SIGINT and, when timeout is
// positive, by the deadline.
func sessionContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stopSignals := signal.NotifyContext(parent, os.Interrupt)
	if timeout <= 0 {
		return ctx, stopSignals
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stopSignals()
	}
}

// awaitSession blocks until s ends. A user interrupt is not an error; a
// transport failure or an expired timeout is.
func awaitSession(ctx context.Context, s *stream.Session, timeout time.Duration) error {
	switch s.Wait() {
	case stream.StateErrored:
		return s.Err()
	case stream.StateCancelled:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("stream timed out after %s", timeout)
		}
		log.Debug("stream interrupted", "session", s.ID())
	case stream.StateCompleted:
		if !s.Completed() {
			log.Warn("stream ended before the server signalled completion", "session", s.ID())
		}
	}
	return nil
}

func printRaw(w io.Writer) func(sse.Message) {
	return func(m sse.Message) {
		fmt.Fprintln(w, m.String())
	}
}
