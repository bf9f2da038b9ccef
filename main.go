package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/verdant-data/greenhouse.report/internal/advisory"
	"github.com/verdant-data/greenhouse.report/internal/api"
	"github.com/verdant-data/greenhouse.report/internal/calibration"
	"github.com/verdant-data/greenhouse.report/internal/command"
	"github.com/verdant-data/greenhouse.report/internal/config"
	"github.com/verdant-data/greenhouse.report/internal/db"
	"github.com/verdant-data/greenhouse.report/internal/scheduler"
	"github.com/verdant-data/greenhouse.report/internal/serialmux"
	"github.com/verdant-data/greenhouse.report/internal/telemetry"
	"github.com/verdant-data/greenhouse.report/internal/version"
)

var (
	//go:embed static/*
	staticFiles embed.FS

	devMode    = flag.Bool("dev", false, "Run in dev mode (read frames from a fixture file instead of a serial port)")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	serialPath = flag.String("port", "", "Serial device path (overrides config)")
	configPath = flag.String("config", "", "Path to JSON config file")
	fixtures   = flag.String("fixtures", "fixtures.bin", "Binary frame fixture file for dev mode")
)

// handleFrame decodes one candidate frame and persists it if every field
// calibrated cleanly. Malformed frames are logged and dropped; the stream
// recovers by itself, so no decode failure is fatal.
func handleFrame(database *db.DB, cal calibration.Constants, frame []byte, now time.Time) error {
	reading, err := telemetry.ParsePacket(frame, cal, now)
	if err != nil {
		var lengthErr *telemetry.FrameLengthError
		var checksumErr *telemetry.ChecksumError
		var calErr *telemetry.CalibrationError
		switch {
		case errors.As(err, &lengthErr):
			log.Printf("dropping fragment: %v", err)
			return nil
		case errors.As(err, &checksumErr):
			log.Printf("dropping corrupt frame: %v", err)
			return nil
		case errors.As(err, &calErr):
			// The raw fields are intact; only the physical conversion
			// failed. Keep it out of the history but surface the fault.
			log.Printf("sensor fault in %s: %v", calErr.Field, calErr.Err)
			return nil
		default:
			return err
		}
	}

	if err := database.RecordReading(reading); err != nil {
		log.Printf("failed to record reading: %v", err)
	}
	return nil
}

func main() {
	flag.Parse()
	log.Printf("greenhouse bridge %s", version.String())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *serialPath != "" {
		cfg.SerialPath = *serialPath
	}

	var m serialmux.SerialMuxInterface
	if *devMode {
		data, err := os.ReadFile(*fixtures)
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
		m = serialmux.NewMockSerialMux(data)
	} else {
		m, err = serialmux.NewRealSerialMux(cfg.SerialPath, cfg.Serial)
		if err != nil {
			log.Fatalf("failed to open serial port %s: %v", cfg.SerialPath, err)
		}
	}
	defer m.Close()

	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	enc := command.NewEncoder(cfg.Calibration, uint16(cfg.LDRThreshold))

	// The advisor is optional: without an API key the endpoint reports
	// itself unavailable and everything else works.
	var advisor api.Advisor
	if client, err := advisory.NewClientFromEnv(cfg.AdvisoryModel); err == nil {
		advisor = client
	} else {
		log.Printf("plant advisor disabled: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// subscribe to candidate frames and feed the decode/persist path
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := m.Subscribe()
		defer m.Unsubscribe(id)
		for {
			select {
			case frame, ok := <-c:
				if !ok {
					log.Printf("frame channel closed")
					return
				}
				if err := handleFrame(database, cfg.Calibration, frame, time.Now()); err != nil {
					log.Printf("error handling frame: %v", err)
				}
			case <-ctx.Done():
				log.Printf("subscribe routine terminated")
				return
			}
		}
	}()

	// clock-driven automation: midnight light-timer reset and the
	// photoperiod window
	sched := scheduler.New(m, enc, cfg.PhotoperiodOnHour, cfg.PhotoperiodOffHour)
	sched.Record = func(line string) {
		if _, err := database.RecordCommand(line, "scheduler"); err != nil {
			log.Printf("failed to record scheduled command: %v", err)
		}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("scheduler stopped: %v", err)
		}
		log.Printf("scheduler routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// admin debugging routes, reachable only in dev or over Tailscale
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach db admin routes: %v", err)
		}
		m.AttachAdminRoutes(mux)

		api.NewServer(m, database, enc, advisor).AddRoutes(mux)

		// embedded static files in production, the local ./static in dev
		// for easier iteration without restarting the server
		var staticHandler http.Handler
		if *devMode {
			staticHandler = http.FileServer(http.Dir("./static"))
		} else {
			staticHandler = http.FileServer(http.FS(staticFiles))
		}
		mux.Handle("/", staticHandler)

		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("got request %q", r.URL.Path)
			mux.ServeHTTP(w, r)
		})

		server := &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: h,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("graceful shutdown complete")
}
