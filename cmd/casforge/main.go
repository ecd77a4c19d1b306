// Command casforge is a thin operational harness over the engine: it wires
// a handful of demo executors and exposes execute/peek/forget/graph as CLI
// subcommands. It is not a reimplementation of the out-of-scope HTTP/JSON
// management surface — just enough to exercise the engine end to end.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"casforge/internal/config"
	"casforge/internal/engine"
)

var (
	rootDir    string
	demoConfig string
	verbose    bool
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "casforge",
		Short: "content-addressed filesystem execution/cache engine",
	}
	cmd.PersistentFlags().StringVar(&rootDir, "root", "./casforge-data", "store root directory")
	cmd.PersistentFlags().StringVar(&demoConfig, "demo-config", "", "optional YAML file of demo executors to register")
	cmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	cmd.AddCommand(newExecuteCommand())
	cmd.AddCommand(newPeekCommand())
	cmd.AddCommand(newForgetCommand())
	cmd.AddCommand(newGraphCommand())
	return cmd
}

func buildEngine() (*engine.Engine, error) {
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg := config.Default(rootDir)
	e, err := engine.New(cfg.Root)
	if err != nil {
		return nil, err
	}
	e.SetCleanupScratchOnFailure(cfg.CleanupScratchOnFailure)

	if err := registerBuiltinDemoExecutor(e); err != nil {
		return nil, err
	}

	if demoConfig != "" {
		demo, err := config.LoadDemoConfig(demoConfig)
		if err != nil {
			return nil, err
		}
		for _, d := range demo.Executors {
			if err := registerDemoExecutor(e, d); err != nil {
				return nil, err
			}
		}
	}

	return e, nil
}

// registerBuiltinDemoExecutor registers "echo", matching scenario S1:
// fn({text}, dir) writes out.txt containing text and returns {entry:
// "out.txt"}.
func registerBuiltinDemoExecutor(e *engine.Engine) error {
	return e.RegisterExecutor("echo", nil, func(ctx context.Context, input any, workspacePath string) (string, map[string]any, error) {
		text := ""
		if m, ok := input.(map[string]any); ok {
			if t, ok := m["text"].(string); ok {
				text = t
			}
		}
		if err := os.WriteFile(filepath.Join(workspacePath, "out.txt"), []byte(text), 0644); err != nil {
			return "", nil, err
		}
		return "out.txt", map[string]any{"text": text}, nil
	})
}

func registerDemoExecutor(e *engine.Engine, d config.DemoExecutor) error {
	return e.RegisterExecutor(d.Kind, nil, func(ctx context.Context, input any, workspacePath string) (string, map[string]any, error) {
		if err := os.WriteFile(filepath.Join(workspacePath, "out.txt"), []byte(d.Text), 0644); err != nil {
			return "", nil, err
		}
		return "out.txt", nil, nil
	})
}

func parseInputArg(raw string) (any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("parsing input JSON: %w", err)
	}
	return v, nil
}

func newExecuteCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "execute <kind> [inputJSON]",
		Short: "execute an executor, returning the resolved artifact path",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine()
			if err != nil {
				return err
			}
			raw := ""
			if len(args) == 2 {
				raw = args[1]
			}
			input, err := parseInputArg(raw)
			if err != nil {
				return err
			}
			path, err := e.Execute(cmd.Context(), args[0], input, force)
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "force recomputation even on a cache hit")
	return cmd
}

func newPeekCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peek <kind> [inputJSON]",
		Short: "probe for an artifact without executing",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine()
			if err != nil {
				return err
			}
			raw := ""
			if len(args) == 2 {
				raw = args[1]
			}
			input, err := parseInputArg(raw)
			if err != nil {
				return err
			}
			path, found, err := e.Peek(args[0], input)
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("(miss)")
				return nil
			}
			fmt.Println(path)
			return nil
		},
	}
	return cmd
}

func newForgetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget <kind> [inputJSON]",
		Short: "idempotently delete an artifact",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine()
			if err != nil {
				return err
			}
			raw := ""
			if len(args) == 2 {
				raw = args[1]
			}
			input, err := parseInputArg(raw)
			if err != nil {
				return err
			}
			return e.Forget(args[0], input)
		},
	}
	return cmd
}

func newGraphCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "print the discovered artifact DAG as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine()
			if err != nil {
				return err
			}
			g, err := e.ListArtifacts(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(g)
		},
	}
	return cmd
}
