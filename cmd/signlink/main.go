package main

import (
	"flag"
	"fmt"
	"net/url"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/taslim/internal/app"
	"github.com/shrimpsizemoose/taslim/internal/handlers"
	"github.com/shrimpsizemoose/taslim/internal/signer"
)

func main() {
	var configPath = flag.String("config", "config.toml", "Path to config file")
	var projectID = flag.Int64("project", 0, "Project id to sign a link for")
	var ttl = flag.Duration("ttl", 0, "Link lifetime, defaults to signer.payload_ttl")
	flag.Parse()

	if *projectID <= 0 {
		logger.Error.Fatalf("-project is required")
	}

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}

	sgn, err := signer.New(cfg.Signer.Secret)
	if err != nil {
		logger.Error.Fatalf("Failed to init signer: %v", err)
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = cfg.Signer.PayloadTTL.Duration
	}
	payload := sgn.SignWithExpiry([]byte(handlers.ProjectPayload(*projectID)), lifetime)

	fmt.Println(payload)
	if cfg.Server.FrontendURL != "" {
		q := url.Values{}
		q.Set("project_id", fmt.Sprint(*projectID))
		q.Set("payload", payload)
		fmt.Printf("%s?%s\n", cfg.Server.FrontendURL, q.Encode())
	}
	logger.Debug.Printf("Link for project %d valid until %s", *projectID, time.Now().Add(lifetime).UTC().Format(time.RFC3339))
}
