package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/marcosvr/gemchat/internal/handlers"
	"github.com/marcosvr/gemchat/internal/services"
	"gopkg.in/yaml.v3"
)

func main() {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "gemchat")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfgFile, err := os.Open(filepath.Join(cfgPath, "config.yaml"))
	if err != nil {
		log.Fatal(fmt.Errorf("error opening config file: %w", err))
	}
	defer cfgFile.Close()

	cfg := config{}
	if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil {
		log.Fatal(fmt.Errorf("error decoding config file: %w", err))
	}

	llms := make(map[string]handlers.LLM, len(cfg.Models))
	for name, mc := range cfg.Models {
		llm, err := mc.llm(cfg.SystemPrompt)
		if err != nil {
			log.Fatal(fmt.Errorf("error configuring model %q: %w", name, err))
		}
		llms[name] = llm
	}

	titleGen, err := cfg.Models[cfg.TitleModel].titleGen(cfg.TitlePrompt)
	if err != nil {
		log.Fatal(fmt.Errorf("error configuring title model: %w", err))
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(cfgPath, "store.db")
	}
	boltDB, err := services.NewBoltDB(dbPath)
	if err != nil {
		log.Fatal(fmt.Errorf("error opening store: %w", err))
	}

	m := handlers.NewMain(llms, cfg.DefaultModel, titleGen, boltDB, nil)

	mux := http.NewServeMux()
	m.RegisterRoutes(mux)

	port := cfg.Port
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(fmt.Errorf("error starting server: %w", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error closing realtime sessions: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}
	if err := boltDB.Close(); err != nil {
		log.Printf("Error closing store: %v", err)
	}

	log.Println("Server stopped")
}
