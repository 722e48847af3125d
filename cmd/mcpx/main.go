// Command mcpx talks to a server over the streamable HTTP transport: it lists and searches tools,
// calls them, and follows the server's push stream.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/smiffy-online/mcp-browser-client"
)

type rootFlags struct {
	configPath string
	endpoint   string
	timeout    time.Duration
	headers    []string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "mcpx",
		Short:         "Client for servers speaking the streamable HTTP transport",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVarP(&flags.endpoint, "endpoint", "e", "", "server endpoint URL")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 0, "per-request timeout")
	root.PersistentFlags().StringArrayVarP(&flags.headers, "header", "H", nil, "extra request header, key=value")

	root.AddCommand(
		newToolsCmd(flags),
		newCallCmd(flags),
		newListenCmd(flags),
	)
	return root
}

func newToolsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tools [query]",
		Short: "List the server's tools, optionally filtered by a query or glob pattern",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), flags, nil, func(ctx context.Context, client *mcp.Client) error {
				var query string
				if len(args) == 1 {
					query = args[0]
				}
				tools, err := client.SearchTools(ctx, query)
				if err != nil {
					return err
				}

				name := color.New(color.FgCyan, color.Bold)
				for _, tool := range tools {
					name.Print(tool.Name)
					if tool.Description != "" {
						fmt.Printf("  %s", tool.Description)
					}
					fmt.Println()
				}
				if len(tools) == 0 {
					color.Yellow("no tools found")
				}
				return nil
			})
		},
	}
}

func newCallCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool> [json-args]",
		Short: "Call a tool and print its result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var toolArgs map[string]any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &toolArgs); err != nil {
					return fmt.Errorf("tool arguments must be a JSON object: %w", err)
				}
			}

			progress := progressPrinter{out: color.New(color.FgHiBlack)}
			opts := []mcp.ClientOption{mcp.WithProgressListener(progress)}

			return withClient(cmd.Context(), flags, opts, func(ctx context.Context, client *mcp.Client) error {
				res, err := client.CallTool(ctx, args[0], toolArgs)
				if err != nil {
					return err
				}
				return printToolResult(os.Stdout, res)
			})
		},
	}
}

func newListenCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "listen",
		Aliases: []string{"stream"},
		Short:   "Print messages pushed by the server until interrupted",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd.Context(), flags, nil, func(ctx context.Context, client *mcp.Client) error {
				ended := make(chan error, 1)
				method := color.New(color.FgCyan)
				opened, err := client.OpenStream(ctx,
					func(msg mcp.JSONRPCMessage) {
						method.Printf("%s ", msg.Method)
						fmt.Println(string(msg.Params))
					},
					func(err error) { ended <- err },
				)
				if err != nil {
					return err
				}
				if !opened {
					color.Yellow("server does not offer a push stream")
					return nil
				}

				color.Green("listening, session %s", client.SessionID())
				select {
				case <-ctx.Done():
					return nil
				case err := <-ended:
					return err
				}
			})
		},
	}
}

// printToolResult writes structured results as indented JSON and everything else as text.
func printToolResult(w io.Writer, res mcp.ToolResult) error {
	if res.IsError {
		color.New(color.FgRed).Fprintln(w, res.Text)
		return errors.New("tool reported an error")
	}
	if res.Data != nil {
		bs, err := json.MarshalIndent(res.Data, "", "  ")
		if err == nil {
			fmt.Fprintln(w, string(bs))
			return nil
		}
	}
	fmt.Fprintln(w, res.Text)
	return nil
}

type progressPrinter struct {
	out *color.Color
}

func (p progressPrinter) OnProgress(params mcp.ProgressParams) {
	if params.Total > 0 {
		p.out.Fprintf(os.Stderr, "progress %.0f/%.0f %s\n", params.Progress, params.Total, params.Message)
		return
	}
	p.out.Fprintf(os.Stderr, "progress %.0f %s\n", params.Progress, params.Message)
}

func withClient(
	parent context.Context,
	flags *rootFlags,
	opts []mcp.ClientOption,
	run func(context.Context, *mcp.Client) error,
) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stderr)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := mcp.NewClientFromConfig(cfg, logger, opts...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
	}()

	if _, err := client.Initialize(ctx); err != nil {
		return err
	}
	return run(ctx, client)
}

// loadConfig reads the config file and environment, then applies command line flags on top.
func loadConfig(flags *rootFlags) (mcp.Config, error) {
	cfg, err := mcp.ReadConfig(flags.configPath)
	if err != nil {
		return mcp.Config{}, err
	}
	if err := applyFlags(&cfg, flags); err != nil {
		return mcp.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return mcp.Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *mcp.Config, flags *rootFlags) error {
	if flags.endpoint != "" {
		cfg.Endpoint = flags.endpoint
	}
	if flags.timeout > 0 {
		cfg.RequestTimeout = flags.timeout
	}
	for _, h := range flags.headers {
		key, value, ok := strings.Cut(h, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid header %q, want key=value", h)
		}
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string)
		}
		cfg.Headers[key] = value
	}
	return nil
}
