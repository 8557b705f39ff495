package main

import (
	"context"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"go.uber.org/zap"

	"roomchat/internal/auth"
	"roomchat/internal/broker"
	"roomchat/internal/chat"
	"roomchat/internal/server"
	"roomchat/internal/storage"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	serverCfg := server.EnvConfig{}
	if err := env.Parse(&serverCfg); err != nil {
		sugar.Fatalf("Cannot parse server env config: %v", err)
	}

	storageCfg := storage.Config{}
	if err := env.Parse(&storageCfg); err != nil {
		sugar.Fatalf("Cannot parse storage env config: %v", err)
	}

	authCfg := auth.Config{}
	if err := env.Parse(&authCfg); err != nil {
		sugar.Fatalf("Cannot parse auth env config: %v", err)
	}

	store, err := storage.New(context.Background(), sugar, storageCfg, storage.ConnectionTimeout(30*time.Second))
	if err != nil {
		sugar.Fatalf("Cannot create Store instance: %v", err)
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := broker.NewHub(sugar)
	go hub.Run(hubCtx)

	sessions := auth.NewManager(sugar, authCfg, store)
	service := chat.NewService(sugar, store, hub)

	serverOpts := []server.Option{
		server.WithEnvConfig(serverCfg),
		server.ReadTimeout(5 * time.Second),
		server.RegisterAfterShutdown(stopHub),
		server.RegisterAfterShutdown(store.Close),
	}

	srv, err := server.NewServer(sugar, sessions, service, hub, serverOpts...)
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}
