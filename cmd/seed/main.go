package main

import (
	"context"
	"flag"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"workflow-suite/core/internal/config"
	"workflow-suite/core/internal/definitions"
	"workflow-suite/core/internal/logging"
	"workflow-suite/core/internal/repository"
	"workflow-suite/core/internal/services"
	"workflow-suite/core/pkg/models"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	envFile := flag.String("env", "", "Path to .env file")
	defsFile := flag.String("definitions", "definitions.yaml", "YAML file with workflow definitions")
	actor := flag.String("actor", "seed-script", "User recorded as the creator of seeded data")
	flag.Parse()

	// Load config
	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Connect to DB
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		logger.Error("Failed to connect to DB", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	repo := repository.NewPostgresRepository(pool)

	accessor, err := definitions.LoadFile(*defsFile)
	if err != nil {
		logger.Error("Failed to load definitions", "file", *defsFile, "error", err)
		os.Exit(1)
	}

	opts := services.Options{Logger: logger}
	instances := services.NewInstanceEngine(repo, accessor, services.PolicyLatest, services.MergeShallow, opts)
	approvals := services.NewApprovalEngine(repo, opts)

	// 1. One running instance per active definition
	for _, def := range accessor.List() {
		if !def.IsActive() {
			logger.Info("Skipping inactive definition", "id", def.ID, "status", def.Status)
			continue
		}
		instance, err := instances.Start(ctx, services.StartInput{
			DefinitionID: def.ID,
			Name:         def.Name + " (seed)",
			Context:      map[string]any{"seeded": true},
			Priority:     models.PriorityNormal,
			StartedBy:    *actor,
		})
		if err != nil {
			logger.Error("Failed to start instance", "definition_id", def.ID, "error", err)
			continue
		}
		logger.Info("Seeded instance", "definition_id", def.ID, "id", instance.ID)
	}

	// 2. A pending approval request with a required and an optional approver
	optional := false
	request, err := approvals.Create(ctx, services.CreateApprovalInput{
		Title:       "Approve Q3 travel budget",
		Description: "Seeded request for local development.",
		Type:        "budget",
		CreatedBy:   *actor,
		Approvers: []services.ApproverInput{
			{UserID: "manager@localhost"},
			{UserID: "finance@localhost"},
			{UserID: "observer@localhost", Required: &optional},
		},
		Metadata: map[string]any{"amount": 4200, "currency": "EUR"},
	})
	if err != nil {
		logger.Error("Failed to create approval request", "error", err)
		os.Exit(1)
	}
	logger.Info("Seeded approval request", "id", request.ID)
	logger.Info("Seeding complete!")
}
