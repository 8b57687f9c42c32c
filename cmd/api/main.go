package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"equicert.org/internal/access"
	"equicert.org/internal/audit"
	"equicert.org/internal/httpapi"
	"equicert.org/internal/integrity"
	"equicert.org/internal/lifecycle"
	"equicert.org/internal/obs"
	"equicert.org/internal/registry"
	"equicert.org/internal/roles"
	"equicert.org/internal/store/pg"
	"equicert.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	gatewayID := envOr("EQUICERT_GATEWAY_ID", "equicert-gateway")
	superAdmin := os.Getenv("EQUICERT_SUPER_ADMIN")
	if superAdmin == "" {
		log.Fatal("EQUICERT_SUPER_ADMIN is required")
	}

	// The gateway permission is established once, before the listener starts.
	reg := registry.New()
	if err := reg.SetGateway(gatewayID); err != nil {
		log.Fatalf("configure gateway: %v", err)
	}
	dir, err := roles.NewDirectory(superAdmin)
	if err != nil {
		log.Fatalf("seed role directory: %v", err)
	}

	// Durable audit archive (optional, enabled by DSN).
	var (
		sink    audit.Sink
		archive *pg.AuditStore
		probe   httpapi.ReadyProbe
	)
	if dsn := os.Getenv("EQUICERT_PG_DSN"); dsn != "" {
		archive, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open audit archive: %v", err)
		}
		sink = archive
		probe = httpapi.ReadyProbe{DB: archive.DB()}
	}

	events := stream.New()
	engine := lifecycle.NewEngine(reg, dir, gatewayID, events)

	api := httpapi.New(httpapi.Config{
		Version:    version,
		ReadyProbe: probe,
		Registry:   reg,
		Directory:  dir,
		Engine:     engine,
		Policy:     access.NewPolicy(dir, reg),
		Verifier:   integrity.NewVerifier(reg, events),
		Events:     events,
		Sink:       sink,
	})

	srv := &http.Server{
		Addr:              envOr("EQUICERT_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting equicert-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if archive != nil {
		_ = archive.Close()
	}
	log.Println("Stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
