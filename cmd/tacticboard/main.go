package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ivlev/tacticboard/internal/board"
	"github.com/ivlev/tacticboard/internal/config"
	"github.com/ivlev/tacticboard/internal/engine"
	xlog "github.com/ivlev/tacticboard/internal/log"
	"github.com/ivlev/tacticboard/internal/metrics"
	"github.com/ivlev/tacticboard/internal/system"
	"github.com/ivlev/tacticboard/internal/video"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tacticboard: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPtr := flag.String("config", "", "YAML config file (default: $TACTICBOARD_CONFIG)")
	boardPtr := flag.String("board", "", "Board YAML file (default: newest file in the boards dir)")
	boardIDPtr := flag.String("board-id", "", "Board id to open on the remote page service")
	dbPtr := flag.String("db", "", "SQLite database; the board file is imported into it first")
	apiPtr := flag.String("api", "", "Base URL of the remote page service")
	outputPtr := flag.String("output", "", "Directory for the recorded video")
	intervalPtr := flag.Duration("interval", 0, "Time each page is shown")
	tweenPtr := flag.Duration("tween", 0, "Duration of the move between pages")
	fpsPtr := flag.Int("fps", 0, "Recording frame rate")
	widthPtr := flag.Int("width", 0, "Canvas width")
	heightPtr := flag.Int("height", 0, "Canvas height")
	sharePtr := flag.String("share-url", "", "URL stamped into the video as a QR code")
	playPtr := flag.Int("play", 0, "Play N cycles without recording")
	logLevelPtr := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	metricsPtr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	flag.Parse()

	cfg, err := config.Load(*configPtr)
	if err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "board":
			cfg.BoardPath = *boardPtr
		case "db":
			cfg.DBPath = *dbPtr
		case "api":
			cfg.APIBaseURL = *apiPtr
		case "output":
			cfg.OutputDir = *outputPtr
		case "interval":
			cfg.Interval = *intervalPtr
		case "tween":
			cfg.TweenDuration = *tweenPtr
		case "fps":
			cfg.FPS = *fpsPtr
		case "width":
			cfg.Width = *widthPtr
		case "height":
			cfg.Height = *heightPtr
		case "share-url":
			cfg.ShareURL = *sharePtr
		case "log-level":
			cfg.LogLevel = *logLevelPtr
		case "metrics-addr":
			cfg.MetricsAddr = *metricsPtr
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Console: true})
	logger := xlog.WithComponent("cli")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Serve(cfg.MetricsAddr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var b *board.Board
	boardID := *boardIDPtr
	if cfg.APIBaseURL == "" {
		b, err = loadBoard(cfg)
		if err != nil {
			return err
		}
		boardID = b.ID
	} else if boardID == "" {
		return fmt.Errorf("-board-id is required with -api")
	}

	svc, closer, err := engine.OpenService(ctx, cfg, b)
	if err != nil {
		return err
	}

	var enc video.Encoder
	if *playPtr == 0 {
		ffmpeg, err := video.NewFFmpegEncoder(ctx)
		if err != nil {
			if closer != nil {
				closer.Close()
			}
			return fmt.Errorf("ffmpeg is required for recording: %w", err)
		}
		enc = ffmpeg
	}

	var opts []engine.Option
	if closer != nil {
		opts = append(opts, engine.WithCloser(closer))
	}
	project := engine.NewProject(cfg, svc, enc, opts...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := project.Close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("pending page saves were not flushed")
		}
	}()

	if err := project.Open(ctx, boardID); err != nil {
		return err
	}
	logger.Info().
		Str(xlog.FieldBoardID, boardID).
		Int(xlog.FieldMaxPages, project.Manager.MaxPages()).
		Msg("board opened")

	if *playPtr > 0 {
		return project.Play(ctx, *playPtr)
	}

	path, err := project.Record(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Recorded %s\n", path)
	return nil
}

// loadBoard reads the configured board file, falling back to the newest
// board in the boards dir. A board without an id is named after its file.
func loadBoard(cfg *config.Config) (*board.Board, error) {
	path := cfg.BoardPath
	if path == "" {
		latest, err := system.FindLatestBoard(cfg.BoardsDir)
		if err != nil {
			return nil, fmt.Errorf("%w: put a board in %s", err, cfg.BoardsDir)
		}
		path = latest
	}
	b, err := board.ReadBoard(path)
	if err != nil {
		return nil, err
	}
	if b.ID == "" {
		b.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if b.Name == "" {
		b.Name = b.ID
	}
	return b, nil
}
