package main

import (
	"github.com/visionml/trainer/cmd"
	"github.com/visionml/trainer/pkg/env"
	"github.com/visionml/trainer/pkg/log"
)

func main() {
	if err := env.Process(); err != nil {
		log.Fatal("environment failure", "error", err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal("trainer failure", "error", err)
	}
}
