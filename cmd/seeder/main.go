//cmd/seeder/main.go
package main

import (
    "context"
    "flag"
    "fmt"
    "log"
    "os"
    "strings"

    "github.com/brianvoe/gofakeit/v6"

    "github.com/unclebandit/campaign-batcher/internal/config"
    "github.com/unclebandit/campaign-batcher/internal/db"
    "github.com/unclebandit/campaign-batcher/internal/model"
    "github.com/unclebandit/campaign-batcher/internal/repository"
    "github.com/unclebandit/campaign-batcher/internal/service"
)

func main() {
    owner := flag.String("owner", "owner@example.com", "campaign owner email")
    campaigns := flag.Int("campaigns", 3, "number of draft campaigns")
    recipients := flag.Int("recipients", 120, "recipients per campaign")
    providerKey := flag.String("provider-key", os.Getenv("SEED_PROVIDER_KEY"), "sender provider key to store for the owner")
    seed := flag.Int64("seed", 42, "faker seed")
    flag.Parse()

    cfg, err := config.Load()
    if err != nil {
        log.Fatal(err)
    }

    ctx := context.Background()
    conn, err := db.Open(ctx, cfg.DatabaseURL)
    if err != nil {
        log.Fatal(err)
    }
    defer conn.Close()
    if err := db.Migrate(ctx, conn); err != nil {
        log.Fatal(err)
    }

    gofakeit.Seed(*seed)

    if *providerKey != "" {
        credRepo := &repository.CredentialRepository{DB: conn}
        err := credRepo.Upsert(ctx, &model.SenderCredential{
            OwnerEmail:  strings.ToLower(*owner),
            ProviderKey: *providerKey,
            FromName:    gofakeit.Name(),
            AccountType: model.AccountPersonal,
        })
        if err != nil {
            log.Fatalf("failed to seed sender credential: %v", err)
        }
        fmt.Printf("Seeded sender credential for %s\n", *owner)
    }

    repo := &repository.CampaignRepository{DB: conn}
    for i := 0; i < *campaigns; i++ {
        emails := make([]string, 0, *recipients)
        for j := 0; j < *recipients; j++ {
            emails = append(emails, gofakeit.Email())
        }
        c := &model.Campaign{
            OwnerEmail:        strings.ToLower(*owner),
            Name:              fmt.Sprintf("%s %s", gofakeit.Company(), gofakeit.BuzzWord()),
            Subject:           gofakeit.Sentence(6),
            BodyHTML:          "<p>" + gofakeit.Paragraph(2, 3, 12, " ") + "</p>",
            SignatureHTML:     "<p>" + gofakeit.Name() + "</p>",
            BatchSize:         gofakeit.Number(model.MinBatchSize*10, model.MaxBatchSize),
            BatchDelaySeconds: gofakeit.Number(30, 300),
        }
        if err := repo.Create(ctx, c, service.NormalizeEmails(emails)); err != nil {
            log.Fatalf("failed to seed campaign: %v", err)
        }
        fmt.Printf("Seeded campaign %d (%s) with %d recipients\n", c.ID, c.Name, c.TotalRecipients)
    }

    fmt.Println("Database seeding completed successfully!")
}
