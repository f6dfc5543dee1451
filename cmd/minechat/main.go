package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cbodonnell/minechat/client/ui"
	"github.com/cbodonnell/minechat/pkg/chat"
	"github.com/cbodonnell/minechat/pkg/config"
	"github.com/cbodonnell/minechat/pkg/history"
	"github.com/cbodonnell/minechat/pkg/log"
	"github.com/cbodonnell/minechat/pkg/version"
)

// historyReplayLimit is how many stored messages seed the chat window.
const historyReplayLimit = 100

func main() {
	configPath := flag.String("config", config.GetConfigPath(), "Path to the config file")
	host := flag.String("host", "", "Chat server host")
	listenPort := flag.Int("listen-port", 0, "Port of the broadcast stream")
	sendPort := flag.Int("send-port", 0, "Port of the send channel")
	token := flag.String("token", "", "Account token")
	historyPath := flag.String("history", "", "Path to the history file")
	historyBackend := flag.String("history-backend", "", "History backend: file, sqlite or postgres")
	logLevel := flag.String("log-level", "", "Log level")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *listenPort != 0 {
		cfg.ListenPort = *listenPort
	}
	if *sendPort != 0 {
		cfg.SendPort = *sendPort
	}
	if *token != "" {
		cfg.Token = *token
	}
	if *historyPath != "" {
		cfg.HistoryPath = *historyPath
	}
	if *historyBackend != "" {
		cfg.HistoryBackend = *historyBackend
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	parsedLogLevel, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	// The terminal belongs to the UI, so logs go to a file.
	logFile, err := openLogFile(cfg.LogPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to open log file: %v", err))
	}
	defer logFile.Close()

	logger := log.New(logFile, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting minechat version %s", version.Get())

	if cfg.Token == "" {
		fmt.Fprintln(os.Stderr, "No token configured. Run the register command to create an account,")
		fmt.Fprintln(os.Stderr, "or pass a token with -token or the MINECHAT_TOKEN environment variable.")
		os.Exit(1)
	}

	ctx := context.Background()

	store, err := newStore(ctx, cfg)
	if err != nil {
		panic(fmt.Sprintf("Failed to open history store: %v", err))
	}
	defer store.Close(ctx)

	recent, err := store.Recent(ctx, historyReplayLimit)
	if err != nil {
		log.Error("Failed to load history: %v", err)
	}

	supervisor := chat.NewSupervisor(chat.NewSupervisorOptions{
		ListenAddr:        cfg.ListenAddr(),
		SendAddr:          cfg.SendAddr(),
		Token:             cfg.Token,
		Store:             store,
		WatchdogThreshold: time.Duration(cfg.WatchdogSeconds) * time.Second,
	})

	model := ui.NewModel(ui.NewModelOptions{
		Chat:            supervisor,
		InitialMessages: recent,
	})
	program := tea.NewProgram(model, tea.WithAltScreen())

	observer := ui.NewObserver(program.Send)
	supervisor.RegisterObserver(observer)

	if err := supervisor.Start(); err != nil {
		panic(fmt.Sprintf("Failed to start supervisor: %v", err))
	}

	fatalCh := make(chan error, 1)
	go func() {
		err := <-supervisor.ErrChan()
		log.Error("Stopping: %v", err)
		fatalCh <- err
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		panic(fmt.Sprintf("Failed to run program: %v", err))
	}

	if err := supervisor.Stop(); err != nil {
		log.Error("Failed to stop supervisor: %v", err)
	}

	select {
	case err := <-fatalCh:
		fmt.Fprintf(os.Stderr, "minechat: %v\n", err)
		os.Exit(1)
	default:
	}
}

func newStore(ctx context.Context, cfg *config.Config) (history.Store, error) {
	switch cfg.HistoryBackend {
	case "", "file":
		return history.NewFileStore(cfg.HistoryPath)
	case "sqlite":
		return history.NewSQLiteStore(ctx, cfg.HistoryPath)
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("the postgres backend requires a connection URL")
		}
		return history.NewPostgresStore(ctx, cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown history backend: %s", cfg.HistoryBackend)
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}
