// Command prefsd serves a directory of preference files.
//
// Raw entries are served over TCP (PREFS_PORT) to sdk clients; the HTTP admin
// API (PREFS_HTTP_PORT) goes through a preference facade over the same store.
// The facade runs without a read cache, so writes made by TCP clients are seen
// immediately. Its obfuscator is fixed at startup: after a client rotates the
// password (for example with prefsctl rotate against this daemon), restart
// prefsd with the new password before using the admin API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/celerix-dev/celerix-prefs/internal/api"
	"github.com/celerix-dev/celerix-prefs/internal/config"
	"github.com/celerix-dev/celerix-prefs/internal/server"
	"github.com/celerix-dev/celerix-prefs/pkg/engine"
	"github.com/celerix-dev/celerix-prefs/pkg/prefs"
	"github.com/celerix-dev/celerix-prefs/pkg/vault"
	"github.com/gin-gonic/gin"
)

func main() {
	fmt.Println("Starting Prefs Daemon...")

	// 1. Configuration. The YAML file only supplies facade options here;
	// the daemon always serves its own data directory.
	cfg, err := config.Load(os.Getenv("PREFS_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	dataDir := cfg.DataDir
	port := os.Getenv("PREFS_PORT")
	if port == "" {
		port = "7001"
	}

	httpPort := os.Getenv("PREFS_HTTP_PORT")
	if httpPort == "" {
		httpPort = "7002"
	}

	useTLS := os.Getenv("PREFS_DISABLE_TLS") != "true"

	// 2. Initialize Persistence
	persister, err := engine.NewPersistence(dataDir)
	if err != nil {
		log.Fatalf("Failed to initialize persistence: %v", err)
	}

	// 3. Load existing data and start the Engine
	initialData, err := persister.LoadAll()
	if err != nil {
		log.Printf("Warning: Could not load existing data: %v", err)
	}

	store := engine.NewMemStore(initialData, persister)
	if initialData != nil {
		fmt.Printf("Engine started. Loaded %d preference files.\n", len(initialData.Files))
	}

	// 4. Initialize the TCP Router
	router := server.NewRouter(store)

	// 5. Setup TLS
	if useTLS {
		fmt.Println("Generating self-signed certificate for internal TLS...")
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			log.Fatalf("Failed to generate TLS certificate: %v", err)
		}
		router.SetCertificate(cert)
		fmt.Println("TLS encryption enabled.")
	} else {
		fmt.Println("TLS encryption disabled (PREFS_DISABLE_TLS=true).")
	}

	// 6. Initialize the facade and the HTTP admin API
	p, err := newFacade(cfg, store)
	if err != nil {
		log.Fatalf("Failed to build preferences: %v", err)
	}

	h := &api.Handler{Prefs: p}
	r := gin.Default()

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	h.Register(r.Group("/api"))

	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{"error": "API route not found"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	// 7. Start servers
	httpServer := &http.Server{Addr: ":" + httpPort, Handler: r}
	go func() {
		fmt.Printf("HTTP admin API listening on :%s\n", httpPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// 8. Handle Graceful Shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		<-sigChan
		fmt.Println("\nShutdown signal received. Finalizing disk writes...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
		router.Stop()
		close(stopped)
	}()

	// 9. Start the TCP Server; it returns once Stop is called.
	fmt.Printf("Prefs Engine listening on :%s (TCP)\n", port)
	if err := router.Listen(port); err != nil {
		log.Fatalf("TCP Server failed: %v", err)
	}
	<-stopped

	store.Wait()
	fmt.Println("Persistence complete. Exiting.")
}

// newFacade builds the admin API facade over store, registering every file
// already in it.
func newFacade(cfg *config.Config, store *engine.MemStore) (*prefs.Prefs, error) {
	pc, err := cfg.PrefsConfig()
	if err != nil {
		return nil, err
	}
	if err := config.DiscoverStores(&pc, store); err != nil {
		return nil, err
	}
	pc.DisableCache = true
	pc.Logger = log.New(os.Stderr, "[Prefs] ", log.LstdFlags)
	return prefs.New(store, pc)
}
