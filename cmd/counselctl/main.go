package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/counselkeeper/internal/admin"
	"github.com/dmitrijs2005/counselkeeper/internal/common"
	"github.com/dmitrijs2005/counselkeeper/internal/cryptox"
	"github.com/dmitrijs2005/counselkeeper/internal/server/audit"
	"github.com/dmitrijs2005/counselkeeper/internal/server/config"
	"github.com/dmitrijs2005/counselkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/counselkeeper/internal/server/services"
)

func main() {

	// global flags (-c/-config) are consumed by config.LoadConfig; skip them
	// here so the rest is the command line of the subcommand.
	global := flag.NewFlagSet("counselctl", flag.ContinueOnError)
	global.String("c", "", "path to config file")
	global.String("config", "", "path to config file")
	if err := global.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	args := global.Args()

	ctx := context.Background()
	tool := &admin.Tool{Out: os.Stdout}

	if len(args) > 0 && admin.NeedsBackend(args[0]) {
		cfg := config.LoadConfig()

		db, err := sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("db open error: %v", err)
		}
		defer db.Close()

		rm := repomanager.NewPostgresRepositoryManager()
		if err := rm.RunMigrations(ctx, db); err != nil {
			log.Fatalf("migration error: %v", err)
		}

		chain, err := chainFor(cfg.RecordKey)
		if err != nil {
			log.Fatalf("%v", err)
		}

		tool.Identity = services.NewIdentityService(db, rm, cfg)
		tool.Roster = services.NewRosterService(db, rm)
		tool.Trail = rm.Audit(db, chain)
		tool.Chain = chain
	}

	if err := tool.Run(ctx, args); err != nil {
		if !errors.Is(err, admin.ErrUsage) || len(args) > 0 {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func chainFor(recordKey string) (*audit.Chain, error) {
	k, err := cryptox.DeriveSubkey(cryptox.NewKeyProvider(recordKey), cryptox.AuditChainInfo)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(k)
	return audit.NewChain(k), nil
}
