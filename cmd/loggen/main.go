package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dbaudit/pgingest/internal/pgingest/loggen"
)

func main() {
	configPath := flag.String("config", "", "Path to generator config file")
	flag.Parse()
	if *configPath == "" {
		fmt.Println("Error: --config is required")
		flag.Usage()
		os.Exit(1)
	}
	loggen.Generate(configPath)
}
