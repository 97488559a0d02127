package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/stemsi/exstem-lockdown/internal/config"
	"github.com/stemsi/exstem-lockdown/internal/database"
	"github.com/stemsi/exstem-lockdown/internal/logger"
	"github.com/stemsi/exstem-lockdown/internal/model"
	"github.com/stemsi/exstem-lockdown/internal/repository"
	"github.com/stemsi/exstem-lockdown/internal/service"
	"golang.org/x/term"
)

const minPasswordLen = 4

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.SetupWriter(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx := context.Background()

	// ─── Connect to Store ──────────────────────────────────────────────
	store, err := database.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	hasher := service.BcryptHasher{Cost: cfg.BcryptCost}

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Set Exam Passwords ===")

	fmt.Print("Enter Exam ID: ")
	idStr, _ := reader.ReadString('\n')
	examID, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
	if err != nil || examID <= 0 {
		fmt.Println("Error: Exam ID must be a positive number")
		return
	}

	exam, err := store.FetchExam(ctx, examID)
	if errors.Is(err, repository.ErrNotFound) {
		fmt.Printf("Error: exam %d does not exist\n", examID)
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load exam")
	}
	fmt.Printf("Exam: %s (%d minutes)\n", exam.Title, exam.DurationMinutes)

	// An empty answer keeps the stored hash.
	hashes := make(map[model.PasswordKind]string, 2)
	for _, kind := range []model.PasswordKind{model.PasswordEntry, model.PasswordExit} {
		current, err := store.FetchPasswordHash(ctx, examID, kind)
		if err != nil {
			log.Fatal().Err(err).Str("kind", string(kind)).Msg("Failed to read current password")
		}

		fmt.Printf("Enter %s password (blank keeps current): ", kind)
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println() // Newline after password input
		if err != nil {
			fmt.Println("Error reading password")
			return
		}

		password := string(raw)
		if password == "" {
			hashes[kind] = current
			continue
		}
		if len(password) < minPasswordLen {
			fmt.Printf("Error: Password must be at least %d characters\n", minPasswordLen)
			return
		}

		hash, err := hasher.Hash(password)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to hash password")
		}
		hashes[kind] = hash
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	if err := store.SetPasswordHashes(ctx, examID, hashes[model.PasswordEntry], hashes[model.PasswordExit]); err != nil {
		log.Fatal().Err(err).Msg("Failed to store passwords")
	}

	fmt.Printf("\nSuccess! Passwords updated for exam %d.\n", examID)
	if hashes[model.PasswordExit] == "" {
		fmt.Println("Warning: no exit password is set, students cannot leave lockdown before submitting.")
	}
}
