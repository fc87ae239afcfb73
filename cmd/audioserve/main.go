package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audioserve/audioserve/internal/api"
	"github.com/audioserve/audioserve/internal/config"
	"github.com/audioserve/audioserve/internal/index"
	"github.com/audioserve/audioserve/internal/jobs"
	"github.com/audioserve/audioserve/internal/meta"
	"github.com/audioserve/audioserve/internal/position"
	"github.com/audioserve/audioserve/internal/scheduler"
	"github.com/audioserve/audioserve/internal/transcode"
	"github.com/audioserve/audioserve/internal/version"
	"github.com/audioserve/audioserve/internal/watcher"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfg.PrintConfigRequested {
		out, err := config.PrintConfig(cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(out)
		return
	}

	if len(cfg.Collections) == 0 {
		fmt.Fprintln(os.Stderr, "audioserve: at least one collection root is required")
		os.Exit(1)
	}

	log.Printf("audioserve %s starting", version.Load().Version)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Printf("config error: create data dir: %v", err)
		os.Exit(1)
	}

	secret, err := api.LoadSecret(cfg.SharedSecret, cfg.SecretFile, cfg.DataDir)
	if err != nil {
		log.Printf("config error: %v", err)
		os.Exit(1)
	}

	prober := meta.NewFFProbeBindingWithTags(cfg.FFprobePath, cfg.Tags, cfg.TagsCustom, cfg.TagsEncoding)
	idx := index.New(prober)
	for _, col := range cfg.Collections {
		if err := idx.Attach(cfg.DataDir, col); err != nil {
			log.Printf("fatal: attach collection %d (%s): %v", col.ID, col.Root, err)
			os.Exit(2)
		}
	}
	defer idx.CloseAll()

	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}
	queue := jobs.NewQueue(redisAddr)
	jobs.RegisterIndexHandlers(queue, idx)

	var cache *transcode.Cache
	if !cfg.TCacheDisable {
		tcacheDir := cfg.TCacheDir
		if tcacheDir == "" {
			tcacheDir = cfg.DataDir
		}
		cache, err = transcode.OpenCacheWithLimits(tcacheDir, cfg.TCacheSize, cfg.TCacheMaxFiles)
		if err != nil {
			log.Printf("fatal: open transcoding cache: %v", err)
			os.Exit(2)
		}
		jobs.RegisterCacheHandlers(queue, cache)
		defer cache.Close()
	}

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go func() {
		if err := queue.Start(jobCtx); err != nil {
			log.Printf("[jobs] worker pool stopped: %v", err)
		}
	}()
	defer func() {
		cancelJobs()
		queue.Stop()
	}()

	// Startup scan: a full recursive walk for an empty (or
	// --force-cache-update) store, a background verification walk otherwise.
	for _, col := range cfg.Collections {
		col := col
		if cfg.ForceCacheUpdate || idx.IsEmpty(col.ID) {
			if err := jobs.EnqueueFullScan(queue, col.ID); err != nil {
				log.Printf("[startup] collection %d: enqueue full scan: %v", col.ID, err)
			}
		} else {
			go func() {
				if err := jobs.EnqueueVerifyWalk(queue, idx, col.ID); err != nil {
					log.Printf("[startup] collection %d: enqueue verification walk: %v", col.ID, err)
				}
			}()
		}
	}

	fsWatcher, err := watcher.New(watcher.DefaultDebounce, func(colID int, relPath string) {
		if err := jobs.EnqueueIngestFolder(queue, colID, relPath); err != nil {
			log.Printf("[watcher] collection %d: enqueue ingest %q: %v", colID, relPath, err)
		}
	})
	if err != nil {
		log.Printf("fatal: start filesystem watcher: %v", err)
		os.Exit(2)
	}
	for _, col := range cfg.Collections {
		if err := fsWatcher.Watch(col); err != nil {
			log.Printf("[watcher] collection %d: watch %s: %v", col.ID, col.Root, err)
		}
	}
	fsWatcher.Start()
	defer fsWatcher.Stop()

	pool := transcode.NewPool(int64(cfg.MaxTranscodings), cfg.FFmpegPath)

	hub := position.NewHub(idx.Store)
	colIDs := make([]int, len(cfg.Collections))
	for i, col := range cfg.Collections {
		colIDs[i] = col.ID
	}
	hub.SetCollectionIDs(colIDs)
	if cfg.PositionsBackupFile != "" {
		if err := hub.Restore(cfg.PositionsBackupFile, colIDs); err != nil {
			log.Printf("[positions] restore %s: %v", cfg.PositionsBackupFile, err)
		}
	}

	sched, err := scheduler.New(colIDs, 10*time.Minute, cfg.PositionsBackupSchedule,
		func(colID int) {
			if err := jobs.EnqueueVerifyWalk(queue, idx, colID); err != nil {
				log.Printf("[scheduler] collection %d: enqueue verification walk: %v", colID, err)
			}
		},
		func() {
			if cfg.PositionsBackupFile == "" {
				return
			}
			if err := hub.Backup(cfg.PositionsBackupFile, colIDs); err != nil {
				log.Printf("[positions] backup: %v", err)
			}
		},
	)
	if err != nil {
		log.Printf("fatal: start scheduler: %v", err)
		os.Exit(2)
	}
	sched.Start()
	defer sched.Stop()

	srv := api.NewServer(cfg, idx, pool, cache, secret, hub, cfg.StaticDir)
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.Listen)
		var err error
		if cfg.SSLCert != "" && cfg.SSLKey != "" {
			err = httpSrv.ListenAndServeTLS(cfg.SSLCert, cfg.SSLKey)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1, syscall.SIGUSR2)

	for {
		select {
		case err := <-serveErr:
			log.Printf("fatal: listen: %v", err)
			os.Exit(2)

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				log.Println("SIGUSR1: forcing full rescan of every collection")
				for _, col := range cfg.Collections {
					if err := jobs.EnqueueFullScan(queue, col.ID); err != nil {
						log.Printf("[signal] collection %d: enqueue full scan: %v", col.ID, err)
					}
				}
			case syscall.SIGUSR2:
				log.Println("SIGUSR2: forcing positions backup")
				sched.TriggerBackup()
			default:
				log.Printf("%s received, shutting down", sig)
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := httpSrv.Shutdown(shutdownCtx); err != nil {
					log.Printf("shutdown: %v", err)
				}
				cancel()
				return
			}
		}
	}
}
