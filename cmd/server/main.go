package main

import (
	"context"
	"log"

	"github.com/larderapp/larder/internal/server"
	"github.com/larderapp/larder/internal/server/config"
)

func main() {
	cfg := config.LoadConfig()

	app, err := server.NewApp(cfg)
	if err != nil {
		log.Fatalf("larder server init: %v", err)
	}

	app.Run(context.Background())
}
