package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"onairsync/internal/artnet"
	"onairsync/internal/clientmqtt"
	"onairsync/internal/clockcheck"
	"onairsync/internal/config"
	"onairsync/internal/dispatch"
	"onairsync/internal/logger"
	"onairsync/internal/metrics"
	"onairsync/internal/persist"
	"onairsync/internal/retry"
	"onairsync/internal/settings"
	"onairsync/internal/state"
	"onairsync/internal/streammon"
	"onairsync/internal/sysctl"
	"onairsync/internal/transport/httpapi"
	"onairsync/internal/transport/udp"
)

var version = "dev"

// CLI параметры командной строки.
type CLI struct {
	Config  string           `short:"c" help:"Path to configuration file" default:"configs/conf.toml"`
	EnvFile string           `name:"env-file" help:"Environment file loaded before the configuration" default:".env"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("onairsync"),
		kong.Description("On-air display command ingestion and state sync."),
		kong.Vars{"version": version},
	)

	if err := godotenv.Load(cli.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Printf("env file read error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.NewConfig(cli.Config)
	if err != nil {
		fmt.Printf("configuration file read error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v\n", err)
		os.Exit(1)
	}
	log.Module("logger").Debug("newLogger created ok")

	restart, err := run(cfg, log)
	if err != nil {
		log.Error("service failed: ", err.Error())
		os.Exit(1)
	}
	log.Info("shutdown complete")

	if restart {
		if err := reexec(); err != nil {
			log.Error("failed to restart: ", err.Error())
			os.Exit(1)
		}
	}
}

// run собирает компоненты и работает до сигнала или команды QUIT/RESTART.
func run(cfg *config.Config, log *logger.Log) (bool, error) {
	schema := settings.NewSchema(cfg.Layout.LEDs, cfg.Layout.Timers)
	file := persist.NewFileStore(cfg.Settings.Path)
	values, problems, err := file.LoadMerged(schema)
	if err != nil {
		log.Module("settings").With(logger.Fields{"path": file.Path(), "error": err.Error()}).Warn("settings file unreadable, using defaults")
	}
	for _, p := range problems {
		log.Module("settings").With(logger.Fields{"path": file.Path(), "error": p.Error()}).Warn("settings entry ignored")
	}

	store := state.NewStore(state.New(state.Layout{LEDs: cfg.Layout.LEDs, Timers: cfg.Layout.Timers}, values))

	reg := metrics.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(reg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var restart atomic.Bool
	proc := sysctl.New(cfg.System, func(r bool) {
		restart.Store(r)
		stop()
	}, log)

	disp := dispatch.New(store, schema, log).WithProcessControl(proc).WithRecorder(recorder)
	log.Module("dispatch").Debug("dispatcher created ok")

	g, gctx := errgroup.WithContext(ctx)
	restartPolicy := retry.NewPolicy(retry.Mode(cfg.Restart.Mode), cfg.Restart.Initial.Duration, cfg.Restart.Max.Duration)

	// Писатель останавливается после всех слушателей, чтобы сохранить
	// команды, принятые во время остановки.
	writer := persist.NewWriter(store, file, log, cfg.Settings.SaveWait.Duration, cfg.Settings.MaxWait.Duration).WithRecorder(recorder)
	stopWriter := background(writer)
	defer stopWriter()

	if cfg.Settings.Watch {
		watcher := persist.NewWatcher(file, disp, log)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if cfg.UDP.Enabled {
		listener := udp.New(udp.Config{
			Addr:      ":" + strconv.Itoa(cfg.UDP.Port),
			Group:     cfg.UDP.MulticastGroup,
			Interface: cfg.UDP.Interface,
			Retry:     restartPolicy,
		}, disp, log)
		g.Go(func() error { return listener.Run(gctx) })
	}

	if cfg.HTTP.Enabled {
		opts := httpapi.Options{
			Recorder:        recorder,
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout.Duration,
			Retry:           restartPolicy,
		}
		if cfg.HTTP.Metrics {
			opts.Metrics = metrics.HTTPHandler(reg)
		}
		srv := httpapi.NewServer(cfg.HTTP.Listen, disp, log, opts)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if cfg.MQTT.Enabled {
		client := clientmqtt.NewClient(log, cfg.MQTT, disp).WithRecorder(recorder).WithVersion(version)
		log.Module("mqtt").Debug("NewClient created ok")
		g.Go(func() error {
			if err := client.Run(gctx); err != nil {
				log.Module("mqtt").Error("failed to start MQTT service: ", err.Error())
			}
			return nil
		})
	}

	if cfg.Clock.Enabled {
		checker := clockcheck.New(clockcheck.SystemClock{MaxError: cfg.Clock.MaxError.Duration}, disp, cfg.Clock.Interval.Duration, log)
		g.Go(func() error { return checker.Run(gctx) })
	}

	monitor := streammon.New(store, disp, log)
	g.Go(func() error { return monitor.Run(gctx) })

	if cfg.ArtNet.Enabled {
		a, err := artnet.NewController(log, cfg.ArtNet, store)
		if err != nil {
			log.Module("art-net").Errorf("error while creating a new controller art-net. %v", err)
		} else {
			log.Module("art-net").Debug("NewController created ok")
			g.Go(func() error {
				if err := a.Run(gctx); err != nil {
					log.Module("art-net").Error("failed to start art-net service: ", err.Error())
				}
				return nil
			})
		}
	}

	err = g.Wait()
	if werr := stopWriter(); werr != nil {
		log.Module("persist").Error("settings writer failed: ", werr.Error())
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return false, err
	}
	return restart.Load(), nil
}

type runner interface {
	Run(ctx context.Context) error
}

// background запускает r вне группы. Возвращаемая функция останавливает r и
// ждёт его завершения.
func background(r runner) func() error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	var once sync.Once
	var err error
	return func() error {
		once.Do(func() {
			cancel()
			err = <-done
		})
		return err
	}
}
