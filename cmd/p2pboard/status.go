package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.klb.dev/p2pboard/internal/grpcservice"
)

const statusTimeout = 5 * time.Second

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show relay status",
		Long: `Queries the gRPC status service on the relay port and prints the
number of connected sessions and the features the relay runs with.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runStatus(v, os.Stdout) },
	}

	f := cmd.Flags()
	f.String("server", fmt.Sprintf("localhost:%d", defaultPort), "relay address (host:port)")
	f.Bool("json", false, "output JSON")
	addConfigFlag(cmd)

	return cmd
}

func runStatus(v *viper.Viper, out io.Writer) error {
	serverAddr := v.GetString("server")

	conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	info, err := grpcservice.NewClient(conn).Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	if v.GetBool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	printStatus(out, serverAddr, info)
	return nil
}

func printStatus(out io.Writer, serverAddr string, info grpcservice.StatusInfo) {
	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Relay:\t%s\n", serverAddr)
	_, _ = fmt.Fprintf(w, "Instance:\t%s\n", info.Instance)
	_, _ = fmt.Fprintf(w, "Sessions:\t%d\n", info.Sessions)
	if !info.StartedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "Started:\t%s (%s)\n", info.StartedAt.UTC().Format(time.RFC3339), fmtAge(info.StartedAt))
	}
	_, _ = fmt.Fprintf(w, "Federated:\t%s\n", yesNo(info.Federated))
	_, _ = fmt.Fprintf(w, "Local clipboard:\t%s\n", yesNo(info.LocalClipboard))
	_ = w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func fmtAge(t time.Time) string {
	age := time.Since(t).Round(time.Second)
	if age < time.Minute {
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	}
	if age < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	}
	return t.Format("2006-01-02 15:04")
}
