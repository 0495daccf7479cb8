package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nulzo/bot-router/internal/routing"
	"github.com/nulzo/bot-router/internal/store"
	"github.com/nulzo/bot-router/internal/store/model"
	"github.com/nulzo/bot-router/internal/store/sqlite"
	"github.com/nulzo/bot-router/internal/vendor"
	"go.uber.org/zap"
)

func main() {
	dsn := flag.String("dsn", "file:router.db?cache=shared&mode=rwc", "database DSN")
	token := flag.String("token", "bot-test-1234567890", "bot token to create")
	vendorID := flag.String("vendor", "openai", "vendor of the seeded key")
	baseURL := flag.String("base-url", "", "custom base URL for the seeded key")
	secret := flag.String("secret", "sk-replace-me", "vendor API key")
	modelID := flag.String("model", "gpt-4o-mini", "primary model")
	flag.Parse()

	repo, err := sqlite.NewSQLiteStorage(*dsn, zap.NewNop())
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = repo.Close()
	}()

	botID, err := Seed(context.Background(), repo, Options{
		Token:   *token,
		Vendor:  *vendorID,
		BaseURL: *baseURL,
		Secret:  *secret,
		Model:   *modelID,
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("\nSuccessfully seeded database!\n")
	fmt.Printf("Bot:       %s\n", botID)
	fmt.Printf("Bot token: %s\n", *token)
	fmt.Printf("Use it as: Authorization: Bearer %s\n", *token)
}

// Options describes the single bot, key and model Seed creates.
type Options struct {
	Token   string
	Vendor  string
	BaseURL string
	Secret  string
	Model   string
}

// Seed creates a bot with one provider key, one primary model and a keyword
// route that sends coding questions to the same model. It returns the bot id.
func Seed(ctx context.Context, repo store.Repository, opts Options) (string, error) {
	now := time.Now().UTC()
	botID := uuid.NewString()
	keyID := uuid.NewString()

	sum := sha256.Sum256([]byte(opts.Token))

	routeCfg, err := json.Marshal(routing.FunctionRoute{
		Rules: []routing.Rule{{
			Pattern:   "代码|编程|bug|code",
			MatchType: routing.MatchKeyword,
			Target:    routing.Target{Vendor: opts.Vendor, Model: opts.Model},
		}},
	})
	if err != nil {
		return "", err
	}

	err = repo.WithTx(ctx, func(tx store.Repository) error {
		if err := tx.Bots().Create(ctx, &model.Bot{
			ID:        botID,
			Name:      "Test Bot",
			TokenHash: hex.EncodeToString(sum[:]),
			Tags:      model.EncodeTags(nil),
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return fmt.Errorf("create bot: %w", err)
		}

		if err := tx.ProviderKeys().Create(ctx, &model.ProviderKey{
			ID:        keyID,
			Name:      opts.Vendor + " default",
			Vendor:    opts.Vendor,
			APIType:   apiType(opts.Vendor),
			BaseURL:   opts.BaseURL,
			Secret:    opts.Secret,
			Tags:      model.EncodeTags(nil),
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return fmt.Errorf("create provider key: %w", err)
		}

		if err := tx.BotModels().Add(ctx, &model.BotModel{
			BotID:     botID,
			ModelID:   opts.Model,
			IsEnabled: true,
			IsPrimary: true,
		}); err != nil {
			return fmt.Errorf("add bot model: %w", err)
		}

		if err := tx.BotModels().SetAvailability(ctx, &model.ModelAvailability{
			ProviderKeyID: keyID,
			ModelID:       opts.Model,
			IsAvailable:   true,
		}); err != nil {
			return fmt.Errorf("set availability: %w", err)
		}

		if err := tx.RoutingConfigs().Create(ctx, &model.RoutingConfig{
			ID:          uuid.NewString(),
			BotID:       botID,
			RoutingType: model.RoutingTypeFunctionRoute,
			Priority:    10,
			IsEnabled:   true,
			Config:      string(routeCfg),
			CreatedAt:   now,
			UpdatedAt:   now,
		}); err != nil {
			return fmt.Errorf("create routing config: %w", err)
		}

		// disabled until the operator maps levels to models
		return tx.ComplexityConfigs().Upsert(ctx, &model.ComplexityConfig{
			BotID:       botID,
			IsEnabled:   false,
			LevelModels: "{}",
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	})
	if err != nil {
		return "", err
	}
	return botID, nil
}

func apiType(vendorID string) string {
	if vc, ok := vendor.DefaultRegistry().Get(vendorID); ok {
		return string(vc.APIType)
	}
	return string(vendor.APITypeOpenAI)
}
