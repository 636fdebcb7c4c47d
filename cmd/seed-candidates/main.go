package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/interq/assessment-engine/internal/config"
	"github.com/interq/assessment-engine/internal/database"
	"github.com/interq/assessment-engine/internal/logger"
	"github.com/interq/assessment-engine/internal/model"
	"github.com/interq/assessment-engine/internal/repository"
	"github.com/interq/assessment-engine/internal/service"
)

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	candidateRepo := repository.NewCandidateRepository(pool)
	candidateService := service.NewCandidateService(candidateRepo, cfg.BcryptCost)

	fmt.Println("=== Seeding 50 Candidates ===")

	names := []string{
		"Alex Morgan", "Bianca Reyes", "Casey Nguyen", "Derek Okafor", "Elena Vasquez",
		"Felix Anderson", "Grace Liu", "Hassan Ali", "Irene Kowalski", "Jamal Carter",
		"Katya Petrova", "Liam O'Brien", "Maria Santos", "Noah Kim", "Olivia Bennett",
		"Priya Sharma", "Quentin Marsh", "Rosa Delgado", "Samuel Adeyemi", "Tara Johansson",
		"Umar Farouk", "Valeria Rossi", "Wesley Chambers", "Ximena Flores", "Yusuf Demir",
		"Zoe Mitchell", "Aaron Blake", "Beatriz Lima", "Connor Walsh", "Daniela Herrera",
		"Elias Berg", "Fatima Zahra", "Gabriel Costa", "Hannah Weiss", "Ivan Sokolov",
		"Julia Nakamura", "Kofi Mensah", "Lena Fischer", "Marco Bianchi", "Nadia Haddad",
		"Oscar Lindgren", "Paulina Novak", "Rahul Mehta", "Sofia Ivanova", "Tomas Silva",
		"Uma Krishnan", "Viktor Hansen", "Wendy Park", "Yara Khalil", "Zachary Stone",
	}

	successCount := 0
	for i := 0; i < 50; i++ {
		local := strings.ToLower(strings.ReplaceAll(names[i], " ", "."))
		local = strings.ReplaceAll(local, "'", "")

		candidate := &model.Candidate{
			Email:        fmt.Sprintf("%s@candidates.example.com", local),
			Name:         names[i],
			PasswordHash: "changeme123", // hashed by the service
		}

		err := candidateService.Create(ctx, candidate)
		if err != nil {
			fmt.Printf("Error creating candidate %s (%s): %v\n", candidate.Name, candidate.Email, err)
		} else {
			successCount++
			if (i+1)%10 == 0 {
				fmt.Printf("Created %d candidates...\n", i+1)
			}
		}
	}

	fmt.Printf("\nSeed completed! Successfully added %d/50 candidates.\n", successCount)
}
