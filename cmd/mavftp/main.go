package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/skyward-gcs/go-mavftp/mavftp"
)

var (
	addr        string
	sysID       uint8
	compID      uint8
	targetSys   uint8
	targetComp  uint8
	timeout     time.Duration
	logPath     string
	lossTX      float64
	lossRX      float64
	annotate    bool
	withDefault bool
)

func main() {
	root := &cobra.Command{
		Use:   "mavftp",
		Short: "MAVLink FTP client",
		Long:  "Transfer files and parameter tables to and from a MAVLink FTP server (flight controller).",
	}

	pf := root.PersistentFlags()
	pf.StringVar(&addr, "addr", "127.0.0.1:14550", "MAVLink UDP endpoint")
	pf.Uint8Var(&sysID, "sysid", 255, "local system id")
	pf.Uint8Var(&compID, "compid", 190, "local component id")
	pf.Uint8Var(&targetSys, "target-sysid", 1, "remote system id")
	pf.Uint8Var(&targetComp, "target-compid", 1, "remote component id")
	pf.DurationVar(&timeout, "timeout", 30*time.Second, "overall operation timeout")
	pf.StringVar(&logPath, "log", "", "protocol trace log file")
	pf.Float64Var(&lossTX, "loss-tx", 0, "inject outgoing packet loss (0..1)")
	pf.Float64Var(&lossRX, "loss-rx", 0, "inject incoming packet loss (0..1)")

	root.AddCommand(
		listCmd(),
		getCmd(),
		putCmd(),
		rmCmd(),
		rmdirCmd(),
		mkdirCmd(),
		renameCmd(),
		crcCmd(),
		getparamsCmd(),
		statusCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mavftp: %v\n", err)
		os.Exit(1)
	}
}

// connect builds a session over UDP with the global flags applied.
func connect() (*mavftp.Session, func(), error) {
	transport, err := mavftp.DialUDP(addr, sysID, compID)
	if err != nil {
		return nil, nil, err
	}

	config := mavftp.DefaultConfig()
	config.SystemID = sysID
	config.ComponentID = compID
	config.TargetSystem = targetSys
	config.TargetComponent = targetComp
	config.OperationTimeout = timeout

	opts := []mavftp.Option{
		mavftp.WithConfig(config),
		mavftp.WithCallbacks(&mavftp.Callbacks{OnProgress: printProgress}),
	}

	cleanup := func() { transport.Close() }

	if logPath != "" {
		logger, err := mavftp.NewFileLogger(logPath)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opts = append(opts, mavftp.WithLogger(logger))
		prev := cleanup
		cleanup = func() { logger.Close(); prev() }
	}
	if lossTX > 0 || lossRX > 0 {
		opts = append(opts, mavftp.WithLossPolicy(&mavftp.RandomLoss{TX: lossTX, RX: lossRX}))
	}

	session, err := mavftp.NewSession(transport, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return session, cleanup, nil
}

// printProgress redraws a progress line when stderr is a terminal and falls
// back to plain lines otherwise.
func printProgress(name string, transferred, total int64, rate float64) {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		if total > 0 {
			pct := float64(transferred) / float64(total) * 100
			fmt.Fprintf(os.Stderr, "\r%s: %.1f%% (%.0f B/s)   ", name, pct, rate)
		} else {
			fmt.Fprintf(os.Stderr, "\r%s: %d bytes (%.0f B/s)   ", name, transferred, rate)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %d/%d bytes\n", name, transferred, total)
}

func endProgress() {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		fmt.Fprintln(os.Stderr)
	}
}

// opContext cancels the operation on SIGINT/SIGTERM.
func opContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [path]",
		Short: "List a remote directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/"
			if len(args) == 1 {
				path = args[0]
			}
			session, cleanup, err := connect()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := opContext()
			defer cancel()

			entries, err := session.List(ctx, path)
			if err != nil {
				return err
			}
			var total int64
			for _, e := range entries {
				if e.IsDir {
					fmt.Printf("%10s  %s/\n", "<dir>", e.Name)
				} else {
					fmt.Printf("%10d  %s\n", e.Size, e.Name)
					total += e.Size
				}
			}
			fmt.Printf("%d entries, %d bytes\n", len(entries), total)
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get remote [local]",
		Short: "Download a remote file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := args[0]
			local := remoteBase(remote)
			if len(args) == 2 {
				local = args[1]
			}
			session, cleanup, err := connect()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := opContext()
			defer cancel()

			n, err := session.GetFile(ctx, remote, local)
			endProgress()
			if err != nil {
				return err
			}
			fmt.Printf("received %s (%d bytes)\n", local, n)
			return nil
		},
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put local [remote]",
		Short: "Upload a local file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local := args[0]
			remote := remoteBase(local)
			if len(args) == 2 {
				remote = args[1]
			}
			session, cleanup, err := connect()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := opContext()
			defer cancel()

			err = session.PutFile(ctx, local, remote)
			endProgress()
			if err != nil {
				return err
			}
			fmt.Printf("sent %s\n", remote)
			return nil
		},
	}
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm path",
		Short: "Remove a remote file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return simpleOp(func(ctx context.Context, s *mavftp.Session) error {
				return s.Remove(ctx, args[0])
			})
		},
	}
}

func rmdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rmdir path",
		Short: "Remove a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return simpleOp(func(ctx context.Context, s *mavftp.Session) error {
				return s.RemoveDirectory(ctx, args[0])
			})
		},
	}
}

func mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir path",
		Short: "Create a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return simpleOp(func(ctx context.Context, s *mavftp.Session) error {
				return s.MakeDirectory(ctx, args[0])
			})
		},
	}
}

func renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename old new",
		Short: "Rename a remote file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return simpleOp(func(ctx context.Context, s *mavftp.Session) error {
				return s.Rename(ctx, args[0], args[1])
			})
		},
	}
}

func crcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crc path",
		Short: "Checksum a remote file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, cleanup, err := connect()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := opContext()
			defer cancel()

			crc, err := session.CalcFileCRC32(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%08x  %s\n", crc, args[0])
			return nil
		},
	}
}

func getparamsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "getparams out [defaults_out]",
		Short: "Fetch the parameter table to a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, cleanup, err := connect()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := opContext()
			defer cancel()

			wantDefaults := withDefault || len(args) == 2
			params, err := session.GetParameters(ctx, wantDefaults)
			endProgress()
			if err != nil {
				return err
			}
			mavftp.SortParams(params, true)

			out, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer out.Close()
			if err := mavftp.WriteParams(out, params, annotate); err != nil {
				return err
			}

			if len(args) == 2 {
				defOut, err := os.Create(args[1])
				if err != nil {
					return err
				}
				defer defOut.Close()
				if err := mavftp.WriteParamDefaults(defOut, params, annotate); err != nil {
					return err
				}
			}

			fmt.Printf("saved %d parameters to %s\n", len(params), args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&annotate, "annotate", false, "add datatype and timestamp comments")
	cmd.Flags().BoolVar(&withDefault, "defaults", false, "request default values as well")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe the link and print session counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, cleanup, err := connect()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := opContext()
			defer cancel()

			if _, err := session.List(ctx, "/"); err != nil {
				return err
			}
			st := session.Stats()
			fmt.Printf("rtt estimate:    %v\n", st.RTTEstimate)
			fmt.Printf("frames sent:     %d\n", st.FramesSent)
			fmt.Printf("frames received: %d\n", st.FramesReceived)
			fmt.Printf("tx drops:        %d\n", st.FramesDroppedTX)
			fmt.Printf("rx drops:        %d\n", st.FramesDroppedRX)
			return nil
		},
	}
}

func simpleOp(fn func(context.Context, *mavftp.Session) error) error {
	session, cleanup, err := connect()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := opContext()
	defer cancel()
	return fn(ctx, session)
}

// remoteBase strips the directory part of a remote path.
func remoteBase(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
