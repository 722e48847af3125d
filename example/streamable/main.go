package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"
)

var port = "8080"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           newMux(logger),
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		fmt.Printf("Server starting on %s\n", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for the server to start
	time.Sleep(time.Second)

	if err := runClient(fmt.Sprintf("%s/mcp", baseURL()), logger); err != nil {
		fmt.Printf("Client error: %v\n", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		fmt.Printf("Server forced to shutdown: %v\n", err)
		return
	}
	fmt.Println("Server exited gracefully")
}

func newMux(logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/mcp", newDemoServer(logger.With("component", "server")))
	return mux
}

func baseURL() string {
	return fmt.Sprintf("http://localhost:%s", port)
}
