// Package main is the desktop simulator for the scrolling text firmware.
// It runs the same firmware core against an in-memory flash device, a
// simulated radio and a terminal rendering of the LED matrix.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "scrollsim",
		Short:   "Simulate the BLE scrolling text display",
		Version: version,
	}

	root.AddCommand(
		runCmd(),
		initCmd(),
	)

	return root
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			noTUI, _ := cmd.Flags().GetBool("no-tui")
			msg, _ := cmd.Flags().GetString("message")

			cfg, err := LoadConfig(path)
			if err != nil {
				return err
			}
			if msg != "" {
				cfg.Sim.InitialMessage = msg
			}
			return execute(cfg, noTUI, cmd.InOrStdin(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().String("config", "", "path to scrollsim.toml (default ./scrollsim.toml if present)")
	cmd.Flags().Bool("no-tui", false, "read commands from stdin and log to stderr")
	cmd.Flags().String("message", "", "stored message to boot with")
	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default scrollsim.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			path, err := InitConfig(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}

func execute(cfg *SimConfig, noTUI bool, in io.Reader, errOut io.Writer) error {
	ctx, cancel := signalContext()
	defer cancel()

	logOut := errOut
	if !noTUI {
		f, err := os.OpenFile(cfg.Sim.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug}))

	sim, err := NewSim(cfg, logger)
	if err != nil {
		return err
	}
	defer sim.Close()

	simErr := make(chan error, 1)
	go func() { simErr <- sim.Run(ctx) }()

	if noTUI {
		go func() {
			runScript(sim, in, errOut)
			cancel()
		}()
	} else {
		program := tea.NewProgram(NewModel(sim), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			cancel()
			<-simErr
			return fmt.Errorf("tui: %w", err)
		}
		cancel()
	}

	if err := <-simErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigs)
	}()
	return ctx, cancel
}
