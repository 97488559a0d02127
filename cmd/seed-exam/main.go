package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/stemsi/exstem-lockdown/internal/config"
	"github.com/stemsi/exstem-lockdown/internal/database"
	"github.com/stemsi/exstem-lockdown/internal/logger"
	"github.com/stemsi/exstem-lockdown/internal/model"
	"github.com/stemsi/exstem-lockdown/internal/service"
	"github.com/stemsi/exstem-lockdown/internal/transfer"
)

// seedFile is the authoring format: plaintext passwords, questions in order.
type seedFile struct {
	Exam struct {
		ID              int64      `json:"id"`
		Title           string     `json:"title"`
		Description     string     `json:"description"`
		StartTime       *time.Time `json:"start_time"`
		EndTime         *time.Time `json:"end_time"`
		DurationMinutes int        `json:"duration_minutes"`
	} `json:"exam"`
	EntryPassword string `json:"entry_password"`
	ExitPassword  string `json:"exit_password"`
	Questions     []struct {
		ID            int64     `json:"id"`
		QuestionText  string    `json:"question_text"`
		Options       [4]string `json:"options"`
		CorrectOption string    `json:"correct_option"`
	} `json:"questions"`
}

// loadSeed parses a seed file into a bundle, hashing the passwords. The
// result is checked with the transfer codec so anything stored here can be
// served over the LAN.
func loadSeed(r io.Reader, hasher service.Hasher) (*model.TransferBundle, error) {
	var sf seedFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	b := &model.TransferBundle{
		Exam: model.Exam{
			ID:              sf.Exam.ID,
			Title:           sf.Exam.Title,
			Description:     sf.Exam.Description,
			StartTime:       sf.Exam.StartTime,
			EndTime:         sf.Exam.EndTime,
			DurationMinutes: sf.Exam.DurationMinutes,
		},
		Questions: make([]model.Question, 0, len(sf.Questions)),
	}

	for i, q := range sf.Questions {
		letter, ok := model.ParseOptionLetter(q.CorrectOption)
		if !ok {
			return nil, fmt.Errorf("question %d: correct_option %q is not one of A-D", i+1, q.CorrectOption)
		}
		b.Questions = append(b.Questions, model.Question{
			ID:            q.ID,
			ExamID:        sf.Exam.ID,
			QuestionText:  strings.TrimSpace(q.QuestionText),
			Options:       q.Options,
			CorrectOption: letter,
		})
	}

	var err error
	if sf.EntryPassword != "" {
		if b.Exam.EntryPasswordHash, err = hasher.Hash(sf.EntryPassword); err != nil {
			return nil, fmt.Errorf("hash entry password: %w", err)
		}
	}
	if sf.ExitPassword != "" {
		if b.Exam.ExitPasswordHash, err = hasher.Hash(sf.ExitPassword); err != nil {
			return nil, fmt.Errorf("hash exit password: %w", err)
		}
	}

	if err := transfer.Encode(io.Discard, b); err != nil {
		return nil, err
	}
	return b, nil
}

func main() {
	var (
		file   string
		export string
	)
	flag.StringVar(&file, "file", "", "Path to the exam seed JSON")
	flag.StringVar(&export, "export", "", "Also write the encoded transfer bundle to this path")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if file == "" {
		fmt.Println("Usage: seed-exam -file exam.json [-export exam.exbn]")
		os.Exit(2)
	}

	f, err := os.Open(file)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open seed file")
	}
	defer f.Close()

	bundle, err := loadSeed(f, service.BcryptHasher{Cost: cfg.BcryptCost})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid seed file")
	}

	store, err := database.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	fmt.Printf("=== Seeding exam %d: %s ===\n", bundle.Exam.ID, bundle.Exam.Title)

	if err := store.SaveBundle(ctx, bundle); err != nil {
		log.Fatal().Err(err).Msg("Failed to save exam")
	}

	if export != "" {
		out, err := os.Create(export)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create export file")
		}
		if err := transfer.Encode(out, bundle); err != nil {
			out.Close()
			log.Fatal().Err(err).Msg("Failed to encode bundle")
		}
		if err := out.Close(); err != nil {
			log.Fatal().Err(err).Msg("Failed to write export file")
		}
		fmt.Printf("Exported transfer bundle to %s\n", export)
	}

	fmt.Printf("\nSeed completed! Stored %d question(s).\n", len(bundle.Questions))
}
