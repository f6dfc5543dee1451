package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cbodonnell/minechat/pkg/auth"
	"github.com/cbodonnell/minechat/pkg/config"
	"github.com/cbodonnell/minechat/pkg/frame"
	"github.com/cbodonnell/minechat/pkg/log"
	"github.com/cbodonnell/minechat/pkg/version"
)

const dialTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", config.GetConfigPath(), "Path to the config file")
	host := flag.String("host", "", "Chat server host")
	sendPort := flag.Int("send-port", 0, "Port of the send channel")
	name := flag.String("name", "", "Preferred nickname")
	tokenPath := flag.String("token-file", config.TokenPath(), "Where to save the account token")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	logger := log.New(os.Stderr, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting register version %s", version.Get())

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *sendPort != 0 {
		cfg.SendPort = *sendPort
	}

	nickname := *name
	if nickname == "" {
		fmt.Print("Enter preferred nickname: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			panic(fmt.Sprintf("Failed to read nickname: %v", err))
		}
		nickname = strings.TrimSpace(line)
	}

	conn, err := net.DialTimeout("tcp", cfg.SendAddr(), dialTimeout)
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to %s: %v", cfg.SendAddr(), err))
	}
	defer conn.Close()

	result, err := auth.Register(frame.NewReader(conn), frame.NewWriter(conn), nickname)
	if err != nil {
		panic(fmt.Sprintf("Failed to register: %v", err))
	}

	if err := config.SaveToken(*tokenPath, result.Token); err != nil {
		panic(fmt.Sprintf("Failed to save token: %v", err))
	}

	fmt.Printf("Registered as %s\n", result.Account)
	fmt.Printf("Token saved to %s\n", *tokenPath)
	fmt.Println(result.Token)
}
