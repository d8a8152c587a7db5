package main

import (
	"flag"
	"os"

	"github.com/oarkflow/log"

	zerohack "github.com/deekshith-b48/ZeroHack"
)

func main() {
	configPath := flag.String("config", os.Getenv("ZEROHACK_CONFIG"), "path to the engine config file")
	port := flag.String("port", "", "listen port override")
	flag.Parse()

	if err := zerohack.Run(zerohack.Options{ConfigPath: *configPath, Port: *port}); err != nil {
		log.DefaultLogger.Fatal().Err(err).Msg("detection engine exited")
	}
}
