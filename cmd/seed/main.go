// Command seed загружает каталог товаров из YAML в хранилище checkout-service.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/app"
	"github.com/vladislavdragonenkov/checkout/internal/catalog"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const defaultTimeout = 60 * time.Second

func main() {
	var (
		file       string
		configFile string
		dryRun     bool
	)
	flag.StringVar(&file, "file", "", "catalog YAML file (fallback: CHECKOUT_CATALOG_SEED_FILE)")
	flag.StringVar(&configFile, "config", "", "path to config file (fallback: CHECKOUT_CONFIG_FILE)")
	flag.BoolVar(&dryRun, "dry-run", false, "validate the catalog without writing it")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := app.LoadConfig(configFile)
	if err != nil {
		fail("load config: %v", err)
	}
	if file == "" {
		file = cfg.CatalogSeedFile
	}
	if file == "" {
		fail("-file (or CHECKOUT_CATALOG_SEED_FILE) is required")
	}

	products, err := catalog.LoadFile(file)
	if err != nil {
		fail("%v", err)
	}
	if dryRun {
		printSummary(os.Stdout, products, true)
		return
	}
	if cfg.StorageDriver == app.StorageDriverMemory {
		fail("storage_driver=memory keeps no data between processes, set CHECKOUT_STORAGE_DRIVER")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	// Каталог записывается явно ниже, автоматическая загрузка при старте не нужна.
	cfg.CatalogSeedFile = ""
	deps, err := app.NewDependencies(ctx, cfg, log.WithField("component", "seed"))
	if err != nil {
		fail("init storage: %v", err)
	}
	defer deps.Close(context.Background())

	if err := catalog.Seed(ctx, deps.Repos.Products, products); err != nil {
		fail("seed catalog: %v", err)
	}
	printSummary(os.Stdout, products, false)
}

func printSummary(out io.Writer, products []domain.Product, dryRun bool) {
	verb := "seeded"
	if dryRun {
		verb = "validated"
	}
	_, _ = fmt.Fprintf(out, "%s %d products\n", verb, len(products))
	for _, p := range products {
		_, _ = fmt.Fprintf(out, "  %s\t%s\tprice=%s\tstock=%d\n", p.ID, p.Name, p.Price.StringFixed(2), p.Stock)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
