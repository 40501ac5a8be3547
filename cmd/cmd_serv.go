package main

import (
	"github.com/spf13/cobra"

	"github.com/qbloq/livesql/serv"
)

func servCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serv",
		Aliases: []string{"serve"},
		Short:   "Run the livesql service",
		Run:     cmdServ,
	}
}

func cmdServ(cmd *cobra.Command, args []string) {
	setup(cpath)

	s, err := serv.NewService(conf)
	if err != nil {
		log.Fatalf("failed to initialize service: %s", err)
	}

	if err := s.Start(); err != nil {
		log.Fatalf("service shut down with error: %s", err)
	}
}
