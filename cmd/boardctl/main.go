package main

import (
	"flag"

	"github.com/rs/zerolog/log"

	"github.com/classnets/classnets/internal/board"
	"github.com/classnets/classnets/internal/logging"
	"github.com/classnets/classnets/runconfig"
)

func main() {
	configPath := flag.String("config", "configs/train.yaml", "run config path")
	addr := flag.String("addr", ":9090", "listen address")
	flag.Parse()

	logging.Init("boardctl")
	cfg, err := runconfig.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load run config")
	}
	log.Info().Str("path", *configPath).Msg("loaded run config")

	server := board.Appear("boardctl", *addr, nil, board.Workspace{
		TBLogdir: cfg.Logging.TBLogdir,
		CkptDir:  cfg.Logging.CkptDir,
	})
	log.Info().Str("id", server.ID).Str("addr", server.Addr).Msg("board started")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("board stopped")
	}
}
