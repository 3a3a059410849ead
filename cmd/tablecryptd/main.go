package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/celerix-dev/celerix-tablecrypt/internal/api"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/engine"
	"github.com/gin-gonic/gin"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
)

func main() {
	log.AddFlags()
	flag.Parse()
	log.Printf("Starting Celerix table daemon...")

	dataDir := os.Getenv("CELERIX_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}

	httpPort := os.Getenv("CELERIX_HTTP_PORT")
	if httpPort == "" {
		httpPort = "7002"
	}

	storage := os.Getenv("CELERIX_STORAGE")
	if storage == "" {
		storage = "json"
	}

	// 1. Initialize persistence
	persister, err := engine.OpenPersister(dataDir, storage)
	must.Nilf(err, "failed to initialize %s persistence", storage)

	// 2. Load existing data and start the engine
	initialData, err := persister.LoadAll()
	if err != nil {
		log.Error.Printf("could not load existing data: %v", err)
	}
	store := engine.NewMemStore(initialData, persister)
	log.Printf("Engine started (%s storage). Loaded %d tables.", storage, len(initialData))

	// 3. Optionally import the tables of a JSON data directory
	if dir := os.Getenv("CELERIX_IMPORT_DIR"); dir != "" && len(initialData) == 0 {
		src, err := engine.NewPersistence(dir)
		must.Nilf(err, "failed to open import directory %s", dir)
		all, err := src.LoadAll()
		must.Nilf(err, "failed to read import directory %s", dir)
		must.Nilf(engine.Migrate(engine.NewMemStore(all, nil), store), "import from %s failed", dir)
		log.Printf("Imported %d tables from %s.", len(all), dir)
	}

	// 4. Initialize HTTP API
	h := &api.Handler{Store: store}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
	h.Register(r)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "API route not found"})
	})

	srv := &http.Server{Addr: ":" + httpPort, Handler: r}

	// 5. Start server
	go func() {
		log.Printf("HTTP API listening on :%s", httpPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// 6. Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Printf("Shutdown signal received. Finalizing disk writes...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error.Printf("HTTP shutdown: %v", err)
	}
	store.Wait()
	if c, ok := persister.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			log.Error.Printf("closing storage: %v", err)
		}
	}
	log.Printf("Persistence complete. Exiting.")
}
