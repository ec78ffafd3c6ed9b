package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gptproxy/gptproxy/internal/app"
	"github.com/gptproxy/gptproxy/internal/security"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	hashPassword := flag.String("hash-password", "", "print the bcrypt hash for an admin password and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, errHash := security.HashAdminPassword(*hashPassword)
		if errHash != nil {
			log.WithError(errHash).Fatal("failed to hash password")
		}
		fmt.Println(hash)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCfg := app.AppConfig{ConfigPath: *configPath}

	if *migrateOnly {
		if errMigrate := app.Migrate(ctx, appCfg); errMigrate != nil {
			log.WithError(errMigrate).Fatal("migration failed")
		}
		return
	}

	if errRun := app.RunServer(ctx, appCfg); errRun != nil {
		log.WithError(errRun).Fatal("server exited")
	}
}
