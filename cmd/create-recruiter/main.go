package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/interq/assessment-engine/internal/config"
	"github.com/interq/assessment-engine/internal/database"
	"github.com/interq/assessment-engine/internal/logger"
	"github.com/interq/assessment-engine/internal/model"
	"github.com/interq/assessment-engine/internal/repository"
	"github.com/interq/assessment-engine/internal/service"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Initialize Service ────────────────────────────────────────────
	recruiterRepo := repository.NewRecruiterRepository(pool)
	recruiterService := service.NewRecruiterService(recruiterRepo, cfg.BcryptCost)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Create New Recruiter ===")

	// Name
	fmt.Print("Enter Name: ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)
	if name == "" {
		fmt.Println("Error: Name is required")
		return
	}

	// Email
	fmt.Print("Enter Email: ")
	email, _ := reader.ReadString('\n')
	email = strings.TrimSpace(email)
	if email == "" {
		fmt.Println("Error: Email is required")
		return
	}

	// Password
	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		fmt.Println("\nError reading password")
		return
	}
	password := string(bytePassword)
	fmt.Println() // Newline after password input
	if len(password) < 6 {
		fmt.Println("Error: Password must be at least 6 characters")
		return
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	newRecruiter := &model.Recruiter{
		Email:        email,
		Name:         name,
		PasswordHash: password, // hashed by the service
	}

	if err := recruiterService.Create(ctx, newRecruiter); err != nil {
		log.Fatal().Err(err).Msg("Failed to create recruiter")
	}

	fmt.Printf("\nSuccess! Recruiter '%s' (%s) created with ID: %d\n", newRecruiter.Name, newRecruiter.Email, newRecruiter.ID)
}
