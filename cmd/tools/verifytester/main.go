package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/zhouzirui/kyc-shield/backend/internal/config"
	"github.com/zhouzirui/kyc-shield/backend/internal/logging"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/identity"
	"github.com/zhouzirui/kyc-shield/backend/internal/service/camera"
	"github.com/zhouzirui/kyc-shield/backend/internal/service/verdict"
	"github.com/zhouzirui/kyc-shield/backend/internal/service/verification"
)

// fastClock skips prompt dwells but keeps the real analysis deadline.
type fastClock struct{}

func (fastClock) Now() time.Time { return time.Now() }

func (fastClock) After(d time.Duration) <-chan time.Time {
	if d == verification.AnalysisTimeout {
		return time.After(d)
	}
	return time.After(0)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var imagePath string
	var fast bool
	var logLevel string

	flagSet := pflag.NewFlagSet("verifytester", pflag.ContinueOnError)
	flagSet.StringVarP(&imagePath, "image", "i", "", "JPEG, PNG or WebP frame to verify")
	flagSet.BoolVar(&fast, "fast", false, "skip the liveness prompt dwell times")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level written to stderr")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if imagePath == "" {
		flagSet.PrintDefaults()
		return fmt.Errorf("--image is required")
	}

	logging.InitWithWriter(os.Stderr, logLevel, "kyc-shield-verifytester")
	log := logging.For("verifytester")

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("无法加载 .env，改用系统环境变量")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if !cfg.AI.VisionEnabled() {
		return fmt.Errorf("vision model not configured, set ARK_API_KEY and VISION_MODEL (or Model)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	visionModel, err := cfg.AI.NewVisionModel(ctx)
	if err != nil {
		return fmt.Errorf("create vision model: %w", err)
	}

	opts := verification.Options{}
	if fast {
		opts.Clock = fastClock{}
	}
	session := verification.New(camera.FileDevice{Path: imagePath}, verdict.NewService(visionModel), nil, opts)

	if err := session.Start(ctx); err != nil {
		return err
	}

	snap, err := session.RunLiveness(ctx, identity.Principal{ClientID: "verifytester"}, func(e verification.Event) {
		if e.Type == verification.EventPrompt {
			fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", e.Step, e.Steps, e.Instruction)
		}
	})
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(snap)
}
