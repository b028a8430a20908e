package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	clientapi "github.com/hookline/hookline/internal/client/agent"
	httpapi "github.com/hookline/hookline/internal/client/api"
	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/pkg/api"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	serverURL := flag.String("server", "http://localhost:8080", "Server URL")
	consumerID := flag.String("consumer", "", "Consumer ID, generated when empty")
	logLevel := flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(*logLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiClient := httpapi.NewClient(*serverURL)

	var err error
	switch args[0] {
	case "health":
		err = runHealth(ctx, apiClient)
	case "watch":
		err = runWatch(ctx, logger, apiClient, *serverURL, *consumerID, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runHealth(ctx context.Context, apiClient httpapi.ClientAPI) error {
	if err := apiClient.Health(ctx); err != nil {
		return err
	}
	fmt.Println("Server is up")
	return nil
}

// runWatch subscribes to the given class:target pairs and prints every
// delivered event until interrupted.
func runWatch(ctx context.Context, logger *slog.Logger, apiClient httpapi.ClientAPI, serverURL, consumerID string, targets []string) error {
	if len(targets) == 0 {
		return fmt.Errorf("watch requires at least one class:target argument")
	}

	subs := make([]struct {
		class  models.SubscriptionClass
		target string
	}, 0, len(targets))
	for _, raw := range targets {
		class, target, ok := strings.Cut(raw, ":")
		if !ok || !models.ValidClass(class) {
			return fmt.Errorf("invalid subscription %q, want class:target with class one of resource, entity, event-type", raw)
		}
		subs = append(subs, struct {
			class  models.SubscriptionClass
			target string
		}{models.SubscriptionClass(class), target})
	}

	tokenResp, err := apiClient.RequestToken(ctx, api.TokenRequest{ConsumerID: consumerID})
	if err != nil {
		return err
	}

	wsURL, err := websocketURL(serverURL, tokenResp.AccessToken)
	if err != nil {
		return err
	}

	agent := clientapi.New(clientapi.Config{URL: wsURL}, nil, nil, logger)
	defer agent.Close()

	printEvent := func(msg api.ServerMessage) {
		if msg.Event == nil {
			return
		}
		line, _ := json.Marshal(msg.Event)
		fmt.Println(string(line))
	}

	agent.Register(clientapi.ChannelInvalidate, func(msg api.ServerMessage) {
		fmt.Fprintf(os.Stderr, "! chain reorg, invalidated heights: %v\n", msg.Heights)
	})

	// Resubmit on every (re)connect; the server does not remember rooms
	// across connections.
	agent.OnConnected(func() {
		for _, sub := range subs {
			if err := agent.Resubmit(ctx, sub.class, sub.target); err != nil {
				logger.Warn("Failed to submit subscription",
					"class", sub.class, "target", sub.target, "error", err)
			}
		}
	})

	for _, sub := range subs {
		agent.Register(models.RoomKey(sub.class, sub.target), printEvent)
	}

	if err := agent.Connect(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// websocketURL converts the HTTP base URL into the websocket endpoint with
// the access token attached.
func websocketURL(serverURL, token string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/api/v1/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	}
	return slog.LevelWarn
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: hookline-client [flags] <command>

Commands:
  health                       Check server availability
  watch <class:target> ...     Stream events for the given subscriptions

Flags:
`)
	flag.PrintDefaults()
}

func printVersion() {
	fmt.Printf("Hookline Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
