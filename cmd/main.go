package main

import (
	"context"

	log "github.com/sirupsen/logrus"

	"blogplatform/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		log.WithError(err).Fatal("exited with error")
	}
}
