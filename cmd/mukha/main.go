package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/mukha/internal/capture"
	"github.com/ayusman/mukha/internal/catalog"
	"github.com/ayusman/mukha/internal/config"
	"github.com/ayusman/mukha/internal/detector"
	"github.com/ayusman/mukha/internal/hook"
	"github.com/ayusman/mukha/internal/logging"
	"github.com/ayusman/mukha/internal/movement"
	"github.com/ayusman/mukha/internal/server"
	"github.com/ayusman/mukha/internal/session"
	"github.com/ayusman/mukha/internal/tray"
)

func main() {
	fmt.Println("Mukha - Face Analysis & Head-Turn Counter")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Dir: cfg.LogDir})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("mukha exited")
	}
}

func run(cfg config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	det := detector.NewCVDetector(detector.Config{
		ModelDir:      cfg.ModelDir,
		MinConfidence: cfg.MinConfidence,
	})

	var refs catalog.Source
	if len(cfg.Subjects) > 0 && cfg.ImagesPerSubject > 0 {
		refs = catalog.DirSource{
			Dir:      cfg.LabeledDir,
			Subjects: cfg.Subjects,
			PerLabel: cfg.ImagesPerSubject,
		}
	}

	mv := movement.Config{
		Threshold: cfg.MoveThreshold,
		Cooldown:  cfg.MoveCooldown,
	}
	if cfg.HookDir != "" {
		registry := hook.NewRegistry(cfg.HookDir, log)
		if err := registry.Discover(); err != nil {
			return fmt.Errorf("discover hooks: %w", err)
		}
		log.WithField("count", len(registry.List())).Info("Turn hooks loaded")
		hooks := hook.NewDispatcher(registry, hook.NewExecutor(cfg.HookTimeout), 0, log)
		defer hooks.Close()
		mv.OnTurn = hooks.OnTurn
	}

	sess := session.New(session.Config{
		Camera:              capture.NewCamera(cfg.CameraID, cfg.FrameWidth, cfg.FrameHeight),
		Detector:            det,
		References:          refs,
		TickInterval:        cfg.TickInterval,
		WorkingWidth:        cfg.WorkingWidth,
		MatchThreshold:      cfg.MatchThreshold,
		Movement:            mv,
		ResetMovementOnStop: cfg.ResetMovementOnStop,
		Logger:              log,
	})
	defer sess.Close()

	go func() {
		if err := sess.Load(ctx); err != nil {
			log.WithError(err).Error("Model loading failed")
		}
	}()

	staticDir := cfg.StaticDir
	if staticDir == "" {
		staticDir = findWebDir()
	}
	if staticDir != "" {
		log.WithField("dir", staticDir).Info("Serving static files")
	}

	srv := server.New(server.Config{
		Session:        sess,
		StaticDir:      staticDir,
		StreamInterval: cfg.TickInterval,
		Logger:         log,
	})

	if !cfg.Tray {
		return serve(ctx, srv, cfg.Addr)
	}

	// The tray owns the main thread; the server runs beside it.
	t := tray.New(sess)
	t.OnOpen(func() {
		if err := openBrowser(browserURL(cfg.Addr)); err != nil {
			log.WithError(err).Warn("Could not open browser")
		}
	})
	t.OnQuit(stop)

	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, srv, cfg.Addr)
		t.Quit()
	}()
	t.Run()
	stop()
	return <-errCh
}

func serve(ctx context.Context, srv *server.Server, addr string) error {
	if err := srv.Run(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func browserURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.mukha/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	homeWebDir := filepath.Join(homeDir, ".mukha", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}
	return ""
}
