package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qm4/kbchat/internal/stream"
)

var streamTimeout time.Duration

var streamCmd = &cobra.Command{
	Use:   "stream <endpoint> [json-payload]",
	Short: "POST a JSON payload to any SSE endpoint and print the messages",
	Long: `POST a JSON payload to an endpoint under the API prefix and print every
streamed message as one JSON line. The payload defaults to {}.

Example:
  kbchat stream /chat/12/send/stream '{"message":"hi","enableRag":true,"attachmentIds":[]}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runStream,
}

func init() {
	streamCmd.Flags().DurationVar(&streamTimeout, "timeout", 0, "Cancel the stream after this long (0 = no limit)")
	rootCmd.AddCommand(streamCmd)
}

func runStream(cmd *cobra.Command, args []string) error {
	payload := json.RawMessage(`{}`)
	if len(args) == 2 {
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("payload is not valid JSON: %s", args[1])
		}
		payload = json.RawMessage(args[1])
	}

	sc, err := newStreamClient()
	if err != nil {
		return err
	}

	ctx, stop := sessionContext(cmd.Context(), streamTimeout)
	defer stop()

	s := sc.Stream(ctx, args[0], payload, stream.Handlers{
		OnMessage: printRaw(cmd.OutOrStdout()),
	})
	return awaitSession(ctx, s, streamTimeout)
}
