package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/chronomap/chronomap/agent/engine"
	memoryx "github.com/chronomap/chronomap/agent/memory"
	"github.com/chronomap/chronomap/agent/tool"
	configx "github.com/chronomap/chronomap/pkg/config"
	_ "github.com/chronomap/chronomap/pkg/logger/autoload"
	nominatimx "github.com/chronomap/chronomap/pkg/nominatim"
	openrouterx "github.com/chronomap/chronomap/pkg/openrouter"
	"github.com/chronomap/chronomap/server"
)

func main() {
	openRouterCfg := configx.MustNew[openrouterx.Config]("OPENROUTER")
	openRouterClient := openrouterx.MustNewClient(*openRouterCfg)

	nominatimCfg := configx.MustNew[nominatimx.Config]("NOMINATIM")
	nominatimClient := nominatimx.MustNew(*nominatimCfg)

	catalog := tool.NewCatalog(
		tool.NewGenerator(openRouterClient, *openRouterCfg),
		tool.NewGeocoder(nominatimClient),
	)

	eng, err := engine.New(memoryx.New(), catalog)
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}

	serverCfg := configx.MustNew[server.Config]("SERVER")
	srv, err := server.New(eng, *serverCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("shutdown complete")
}
