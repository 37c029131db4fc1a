package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/llmops/govern/internal/config"
	"github.com/llmops/govern/internal/db"
	"github.com/llmops/govern/internal/model"
	"github.com/llmops/govern/internal/repository"
	"github.com/llmops/govern/internal/util"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with a demo governance hierarchy",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		if err := seedHierarchy(sqlDB); err != nil {
			return err
		}

		fmt.Println(">> Seed complete")
		return nil
	},
}

// seedHierarchy inserts one demo customer, a team under it, and two virtual
// keys (one governed through the team, one standalone). Idempotent by
// customer name.
func seedHierarchy(dbx *sqlx.DB) error {
	ctx := context.Background()

	var n int
	if err := dbx.GetContext(ctx, &n, `SELECT COUNT(*) FROM customers WHERE name = ?`, "Acme Corp"); err != nil {
		return err
	}
	if n > 0 {
		fmt.Println(">> Demo data already present, skipping")
		return nil
	}

	budgets := repository.NewBudgetsRepository(dbx)
	rateLimits := repository.NewRateLimitsRepository(dbx)
	customers := repository.NewCustomersRepository(dbx)
	teams := repository.NewTeamsRepository(dbx)
	virtualKeys := repository.NewVirtualKeysRepository(dbx)

	now := time.Now().UTC()

	tx, err := dbx.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	custBudget := &model.Budget{ID: util.NewID(), MaxLimit: 1000000, ResetDuration: "1M", LastReset: now}
	if err := budgets.Insert(ctx, tx, custBudget); err != nil {
		return err
	}
	cust := &model.Customer{ID: util.NewID(), Name: "Acme Corp", BudgetID: &custBudget.ID}
	if err := customers.Insert(ctx, tx, cust); err != nil {
		return err
	}

	teamBudget := &model.Budget{ID: util.NewID(), MaxLimit: 300000, ResetDuration: "1M", LastReset: now}
	if err := budgets.Insert(ctx, tx, teamBudget); err != nil {
		return err
	}
	team := &model.Team{ID: util.NewID(), Name: "Platform", CustomerID: &cust.ID, BudgetID: &teamBudget.ID}
	if err := teams.Insert(ctx, tx, team); err != nil {
		return err
	}

	vkBudget := &model.Budget{ID: util.NewID(), MaxLimit: 100000, ResetDuration: "1d", LastReset: now}
	if err := budgets.Insert(ctx, tx, vkBudget); err != nil {
		return err
	}
	tokenMax, reqMax := int64(100000), int64(60)
	tokenDur, reqDur := "1m", "1m"
	vkLimit := &model.RateLimit{
		ID:                   util.NewID(),
		TokenMaxLimit:        &tokenMax,
		TokenResetDuration:   &tokenDur,
		TokenLastReset:       now,
		RequestMaxLimit:      &reqMax,
		RequestResetDuration: &reqDur,
		RequestLastReset:     now,
	}
	if err := rateLimits.Insert(ctx, tx, vkLimit); err != nil {
		return err
	}
	teamKey := &model.VirtualKey{
		ID:          util.NewID(),
		Name:        "platform-prod",
		Value:       util.NewSecret(),
		Description: "Demo key governed through the Platform team",
		IsActive:    true,
		TeamID:      &team.ID,
		BudgetID:    &vkBudget.ID,
		RateLimitID: &vkLimit.ID,
	}
	if err := virtualKeys.Insert(ctx, tx, teamKey); err != nil {
		return err
	}

	soloKey := &model.VirtualKey{
		ID:               util.NewID(),
		Name:             "sandbox",
		Value:            util.NewSecret(),
		Description:      "Ungoverned sandbox key, restricted to openai",
		IsActive:         true,
		AllowedProviders: model.StringList{"openai"},
	}
	if err := virtualKeys.Insert(ctx, tx, soloKey); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	fmt.Printf(">> Seeded customer=%s team=%s\n", cust.ID, team.ID)
	fmt.Printf(">> Virtual key (team-governed): %s\n", teamKey.Value)
	fmt.Printf(">> Virtual key (sandbox):       %s\n", soloKey.Value)
	return nil
}
