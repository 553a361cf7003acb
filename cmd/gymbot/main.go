package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/guildgym/gymbot"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the service configuration file")
	flag.Parse()

	mainCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := gymbot.NewService(mainCtx, *configPath)
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		os.Exit(1)
	}

	if err := svc.Run(); err != nil {
		fmt.Printf("Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
