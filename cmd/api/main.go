package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quitus.org/internal/dossier"
	"quitus.org/internal/events"
	"quitus.org/internal/httpapi"
	"quitus.org/internal/notify"
	"quitus.org/internal/obs"
	"quitus.org/internal/quitus"
	"quitus.org/internal/store/mem"
	"quitus.org/internal/store/pg"
	"quitus.org/internal/validation"
	"quitus.org/internal/workflow"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		dossiers dossier.Store
		valStore validation.Store
		certs    quitus.Store
		probe    httpapi.ReadyProbe
		pgStore  *pg.Store
	)
	if dsn := os.Getenv("QUITUS_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		dossiers, valStore, certs = pgStore, pgStore, pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		// In-memory store for local development and demos.
		ms := mem.New()
		dossiers, valStore, certs = ms, ms, ms
	}

	stream := events.New()
	ledger := validation.NewLedger(valStore, dossiers, nil)
	wf := workflow.NewService(dossiers, ledger, stream)
	generator := quitus.NewGenerator(dossiers, ledger, certs, stream)
	verifier := quitus.NewVerifier(certs)

	dispatcherCtx, stopDispatcher := context.WithCancel(context.Background())
	dispatcher := notify.Dispatcher{Notifier: notify.LogNotifier{}}
	if dir := os.Getenv("QUITUS_ARCHIVE_DIR"); dir != "" {
		dispatcher.Archiver = notify.DirArchiver{Dir: dir}
	}
	go dispatcher.Run(dispatcherCtx, stream)

	api := httpapi.New(probe, version, wf, ledger, generator, verifier)

	addr := os.Getenv("QUITUS_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting quitus-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	stopDispatcher()
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
