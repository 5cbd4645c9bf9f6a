// Command seed loads reference data (locations, conditions and the
// inventory record) from a YAML file into the configured store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	yaml "gopkg.in/yaml.v3"

	"healthnav/internal/api"
	"healthnav/internal/config"
	"healthnav/internal/model"
	"healthnav/internal/store"
)

type seedFile struct {
	Locations  []model.Location   `yaml:"locations"`
	Conditions []model.Condition  `yaml:"conditions"`
	Inventory  *model.Inventory   `yaml:"inventory"`
	Units      []model.MobileUnit `yaml:"units"`
}

func main() {
	path := flag.String("file", "seed.yaml", "seed file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required; the in-memory store does not outlive this command")
	}
	stdr.SetVerbosity(cfg.LogV)
	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags)).WithName("seed")

	data, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("read %s: %v", *path, err)
	}
	sf, err := parse(data)
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	st, err := api.NewStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	if c, ok := st.(interface{ Close() error }); ok {
		defer func() { _ = c.Close() }()
	}
	if err := apply(ctx, st, sf, logger); err != nil {
		logger.Error(err, "seed failed")
		os.Exit(1)
	}
}

func parse(data []byte) (seedFile, error) {
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return seedFile{}, fmt.Errorf("parse seed: %w", err)
	}
	for i, l := range sf.Locations {
		if l.Name == "" || l.Population < 0 || l.VulnerabilityIndex < 0 || l.VulnerabilityIndex > 1 {
			return seedFile{}, fmt.Errorf("%w: location #%d (%q)", model.ErrInvalidInput, i, l.Name)
		}
	}
	for i, c := range sf.Conditions {
		if c.Name == "" || c.SeverityWeight <= 0 {
			return seedFile{}, fmt.Errorf("%w: condition #%d (%q)", model.ErrInvalidInput, i, c.Name)
		}
	}
	for i, u := range sf.Units {
		if u.Name == "" || u.DoctorsCapacity < 0 || u.KitsCapacity < 0 {
			return seedFile{}, fmt.Errorf("%w: unit #%d (%q)", model.ErrInvalidInput, i, u.Name)
		}
	}
	return sf, nil
}

func apply(ctx context.Context, st store.Store, sf seedFile, log logr.Logger) error {
	for _, l := range sf.Locations {
		saved, err := st.UpsertLocation(ctx, l)
		if err != nil {
			return fmt.Errorf("location %q: %w", l.Name, err)
		}
		log.V(1).Info("location", "id", saved.ID, "name", saved.Name)
	}
	for _, c := range sf.Conditions {
		saved, err := st.UpsertCondition(ctx, c)
		if err != nil {
			return fmt.Errorf("condition %q: %w", c.Name, err)
		}
		log.V(1).Info("condition", "id", saved.ID, "name", saved.Name)
	}
	if sf.Inventory != nil {
		if _, err := st.SetInventory(ctx, *sf.Inventory); err != nil {
			return fmt.Errorf("inventory: %w", err)
		}
	}
	for _, u := range sf.Units {
		saved, err := st.UpsertMobileUnit(ctx, u)
		if err != nil {
			return fmt.Errorf("unit %q: %w", u.Name, err)
		}
		log.V(1).Info("unit", "id", saved.ID, "name", saved.Name)
	}
	log.Info("seeded", "locations", len(sf.Locations), "conditions", len(sf.Conditions), "units", len(sf.Units), "inventory", sf.Inventory != nil)
	return nil
}
