package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cachalotdb/store/internal/server"
)

func main() {
	dataPath := flag.String("data-path", "./data", "directory holding the transaction log")
	dumpPath := flag.String("dump-path", "./dump", "directory to write or read a dump under")
	mode := flag.String("mode", "dump", "one of: dump, import, init")
	flag.Parse()

	if *mode != "dump" && *mode != "import" && *mode != "init" {
		fmt.Println("Usage: ./cachalot-dump -mode=dump|import|init -data-path=<path> -dump-path=<path>")
		os.Exit(1)
	}

	log := buildLogger()
	log = log.Named("main")

	srv := server.New(log, *dataPath)
	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		log.Fatal("server start failed", zap.Error(err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Stop(stopCtx)
	}()

	start := time.Now()
	var err error
	switch *mode {
	case "dump":
		err = srv.Dump(*dumpPath)
	case "import":
		err = srv.ImportDump(*dumpPath)
	case "init":
		err = srv.InitializeFromDump(*dumpPath)
	}
	if err != nil {
		log.Fatal(*mode+" failed", zap.Error(err), zap.Duration("took", time.Since(start)))
	}
	log.Info(*mode+" complete", zap.Duration("took", time.Since(start)))
}

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level.SetLevel(zap.DebugLevel)
	return zap.Must(logConfig.Build())
}
