package main

import (
	"context"
	"log"

	"github.com/picocash/picocash/internal/cli"
	"github.com/picocash/picocash/internal/cli/config"
)

func main() {

	ctx := context.Background()

	cfg := config.LoadConfig()
	app, err := cli.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
