package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/ProgressDrop/internal/client"
	"github.com/dharsanguruparan/ProgressDrop/internal/model"
)

var serverAddr string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "progressdrop: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progressdrop",
		Short: "ProgressDrop client and development CLI",
		Long: `progressdrop uploads files to a ProgressDrop server while following their
progress, inspects upload sessions, and runs the binaries for local development.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&serverAddr, "addr", "a", envOr("PROGRESSDROP_URL", "http://localhost:8080"), "Base URL of the ProgressDrop server")
	cmd.AddCommand(
		newUploadCmd(),
		newProgressCmd(),
		newTestCmd(),
		newRunCmd(),
	)
	return cmd
}

func newUploadCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload files and print persistence progress",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, nil, interval)
			out := cmd.OutOrStdout()
			for _, path := range args {
				result, err := c.Upload(cmd.Context(), path, func(s *model.UploadSession) {
					printProgress(out, s)
				})
				if err != nil {
					fmt.Fprintln(out)
					return err
				}
				fmt.Fprintf(out, "\nuploaded %s (session %s)\n", result.Filename, result.SessionID)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 200*time.Millisecond, "Progress polling interval")
	return cmd
}

func newProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress SESSION_ID",
		Short: "Show the state of an upload session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := client.New(serverAddr, nil, 0).Progress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printProgress(out, sess)
			fmt.Fprintln(out)
			if sess.Error != "" {
				fmt.Fprintf(out, "error: %s\n", sess.Error)
			}
			return nil
		},
	}
}

func printProgress(w io.Writer, s *model.UploadSession) {
	pct := 100.0
	if s.Total > 0 {
		pct = float64(s.Received) / float64(s.Total) * 100
	}
	fmt.Fprintf(w, "\r%s %6.2f%% (%d/%d bytes) %s", s.Filename, pct, s.Received, s.Total, s.Status)
}

func newTestCmd() *cobra.Command {
	var race bool
	var cover bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs := args
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			if cover {
				goArgs = append(goArgs, "-cover")
			}
			goArgs = append(goArgs, pkgs...)
			return runCommand(cmd.Context(), "go", goArgs...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the server or worker binaries directly",
	}
	cmd.AddCommand(
		newServiceRunner("server", "./cmd/server"),
		newServiceRunner("worker", "./cmd/worker"),
	)
	return cmd
}

func newServiceRunner(name, path string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("go run %s", path),
		RunE: func(cmd *cobra.Command, args []string) error {
			goArgs := append([]string{"run", path}, args...)
			return runCommand(cmd.Context(), "go", goArgs...)
		},
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
