package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	supervisorx "github.com/tanpawarit/Chative-Support-Supervisor/agent/agents/supervisor"
	checkpointx "github.com/tanpawarit/Chative-Support-Supervisor/agent/checkpoint"
	httpapix "github.com/tanpawarit/Chative-Support-Supervisor/agent/httpapi"
	oraclex "github.com/tanpawarit/Chative-Support-Supervisor/agent/oracle"
	specialistx "github.com/tanpawarit/Chative-Support-Supervisor/agent/specialist"
	configx "github.com/tanpawarit/Chative-Support-Supervisor/pkg/config"
	_ "github.com/tanpawarit/Chative-Support-Supervisor/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/Chative-Support-Supervisor/pkg/openrouter"
)

type AppConfig struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	StoreBackend    string        `envconfig:"STORE_BACKEND" split_words:"true" default:"memory"`
	StoreCodec      string        `envconfig:"STORE_CODEC" split_words:"true" default:"msgpack"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" split_words:"true" default:"10s"`
}

func main() {
	appCfg := configx.MustNew[AppConfig]("")

	codec := codecFor(appCfg.StoreCodec)
	store := buildStore(appCfg.StoreBackend, codec)
	retryCfg := configx.MustNew[checkpointx.RetryConfig]("STORE_RETRY")
	store = checkpointx.WithRetry(store, *retryCfg)

	openRouterCfg := configx.MustNew[openrouterx.Config]("OPENROUTER")
	openRouterClient := openrouterx.MustNew(*openRouterCfg)

	oracleCfg := configx.MustNew[oraclex.Config]("ORACLE")
	oracle := oraclex.MustNew(openRouterClient, *oracleCfg)

	specialistCfg := configx.MustNew[specialistx.Config]("SPECIALIST")
	specialists := specialistx.MustNew(*specialistCfg)

	supervisorCfg := configx.MustNew[supervisorx.Config]("SUPERVISOR")
	supervisor, err := supervisorx.New(store, oracle, specialists, *supervisorCfg, supervisorx.WithCodec(codec))
	if err != nil {
		log.Fatal().Err(err).Msg("build supervisor")
	}

	handler, err := httpapix.New(supervisor, specialists)
	if err != nil {
		log.Fatal().Err(err).Msg("build http handler")
	}
	mux := http.NewServeMux()
	handler.Register(mux)

	srv := &http.Server{
		Addr:              appCfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", appCfg.Addr).Str("backend", appCfg.StoreBackend).Msg("support supervisor listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
}

func codecFor(name string) checkpointx.Codec {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "msgpack":
		return checkpointx.MsgpackCodec{}
	case "json":
		return checkpointx.JSONCodec{}
	default:
		log.Fatal().Str("codec", name).Msg("unknown store codec")
		return nil
	}
}

func buildStore(backend string, codec checkpointx.Codec) checkpointx.Store {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "memory":
		return checkpointx.NewMemoryStore(codec)

	case "redis":
		cfg := configx.MustNew[checkpointx.RedisConfig]("REDIS")
		store, err := checkpointx.NewRedisStore(*cfg, checkpointx.WithRedisCodec(codec))
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis store")
		}
		return store

	case "postgres":
		cfg := configx.MustNew[checkpointx.PostgresConfig]("POSTGRES")
		store, err := checkpointx.NewPostgresStore(*cfg, checkpointx.WithPostgresCodec(codec))
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres store")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("ensure postgres schema")
		}
		return store

	default:
		log.Fatal().Str("backend", backend).Msg("unknown store backend")
		return nil
	}
}
