package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/p2pboard/internal/channel"
	"go.klb.dev/p2pboard/internal/message"
)

func newCopyCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Send stdin to every connected clipboard (like pbcopy)",
		Long: `Reads stdin and sends it to the relay as one clipboard update.
Empty input is not sent. Input larger than 1 MiB is rejected.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runCopy(cmd.Context(), v, os.Stdin) },
	}

	f := cmd.Flags()
	f.String("server", "ws://localhost:8080", "relay URL (ws:// or wss://)")
	f.String("user-agent", channel.DefaultUserAgent, "User-Agent sent during the handshake")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runCopy(ctx context.Context, v *viper.Viper, in io.Reader) error {
	setupLogging(v)
	if ctx == nil {
		ctx = context.Background()
	}

	data, err := io.ReadAll(io.LimitReader(in, message.MaxSize+1))
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := message.Validate(data); err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	ch := channel.New(channel.Options{UserAgent: v.GetString("user-agent")})
	if err := ch.Connect(ctx, v.GetString("server")); err != nil {
		return err
	}
	defer ch.Disconnect()

	if err := ch.Send(data); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}
