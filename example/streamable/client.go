package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/smiffy-online/mcp-browser-client"
)

type demoClient struct {
	logger *slog.Logger
}

func (c demoClient) OnProgress(params mcp.ProgressParams) {
	fmt.Printf("progress %.0f/%.0f: %s\n", params.Progress, params.Total, params.Message)
}

func (c demoClient) OnLog(params mcp.LogParams) {
	fmt.Printf("server log [%s] %s: %s\n", params.Level, params.Logger, string(params.Data))
}

func (c demoClient) OnToolListChanged() {
	c.logger.Info("tool list changed")
}

// runClient walks through a full session: handshake, push stream, tool calls and termination.
func runClient(endpoint string, logger *slog.Logger) error {
	dc := demoClient{logger: logger}
	transport := mcp.NewHTTPTransport(endpoint,
		mcp.WithRequestTimeout(10*time.Second),
		mcp.WithTransportLogger(logger.With("component", "transport")),
	)
	cli := mcp.NewClient(mcp.Info{Name: "streamable-client", Version: "1.0"}, transport,
		mcp.WithLogger(logger.With("component", "client")),
		mcp.WithProgressListener(dc),
		mcp.WithLogReceiver(dc),
		mcp.WithToolListWatcher(dc),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer func() {
		if err := cli.Close(context.Background()); err != nil {
			logger.Warn("failed to close client", "err", err)
		}
	}()

	res, err := cli.Initialize(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Connected to %s %s, session %s\n", res.ServerInfo.Name, res.ServerInfo.Version, cli.SessionID())

	opened, err := cli.OpenStream(ctx, nil, func(err error) {
		logger.Warn("push stream ended", "err", err)
	})
	if err != nil {
		return err
	}
	if !opened {
		fmt.Println("server offers no push stream")
	}

	tools, err := cli.ListTools(ctx, false)
	if err != nil {
		return err
	}
	for _, tool := range tools {
		fmt.Printf("- %s: %s\n", tool.Name, tool.Description)
	}

	echo, err := cli.CallTool(ctx, "echo", map[string]any{"message": "hello"})
	if err != nil {
		return err
	}
	fmt.Printf("echo: %s\n", echo.Text)

	countdown, err := cli.CallTool(ctx, "countdown", map[string]any{"n": 3})
	if err != nil {
		return err
	}
	fmt.Printf("countdown: %s (last event %s)\n", countdown.Text, cli.LastEventID())

	// Give the push stream a moment to deliver the server's log messages.
	time.Sleep(200 * time.Millisecond)
	return nil
}
