package main

import (
	"context"
	"database/sql"
	"log"
	"os"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/technosupport/ts-telematics/internal/config"
	"github.com/technosupport/ts-telematics/internal/data"
	"github.com/technosupport/ts-telematics/internal/rules"
	"github.com/technosupport/ts-telematics/internal/telemetry"
)

// seed loads a handful of demo rules so a fresh environment has
// something to evaluate.
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}

	repo := data.RuleModel{DB: db}
	ctx := context.Background()

	demo := []*rules.Rule{
		{
			ID:         uuid.New().String(),
			VehicleID:  "demo-1",
			SignalKind: telemetry.KindSpeed,
			Operator:   rules.OpGreaterThan,
			Threshold:  float64(100),
			Action:     rules.ActionSendEmail,
			Priority:   5,
			Enabled:    true,
			Metadata:   map[string]any{"name": "Speed limit", "recipient": "owner@example.com"},
		},
		{
			ID:         uuid.New().String(),
			VehicleID:  "demo-1",
			SignalKind: telemetry.KindTemperature,
			Operator:   rules.OpOutOfRange,
			Threshold:  map[string]any{"min": float64(-5), "max": float64(8)},
			Action:     rules.ActionSendSMS,
			Priority:   6,
			Enabled:    true,
			Metadata:   map[string]any{"name": "Cold chain breach", "recipient": "+15550100"},
		},
		{
			ID:         uuid.New().String(),
			VehicleID:  "demo-1",
			SignalKind: telemetry.KindPanicButton,
			Operator:   rules.OpEquals,
			Threshold:  float64(1),
			Action:     rules.ActionCallEmergency,
			Priority:   10,
			Enabled:    true,
			Metadata:   map[string]any{"name": "Panic button"},
		},
	}

	for _, r := range demo {
		if err := repo.Save(ctx, r); err != nil {
			log.Printf("[ERROR] Seed: rule %s: %v", r.ID, err)
			continue
		}
		log.Printf("Seeded rule %s (%s) for vehicle %s", r.ID, r.Name(), r.VehicleID)
	}
}
