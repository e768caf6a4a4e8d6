package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"inkpanel/internal/config"
	"inkpanel/internal/display"
	appLog "inkpanel/internal/log"
	"inkpanel/internal/model"
	"inkpanel/internal/schedule"
	"inkpanel/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	clear      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("inkpanel starting", "version", "0.1.0")

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"refresh", conf.RefreshCron,
		"panel_source", conf.Panel.Source,
		"spi_port", conf.Hardware.SPIPort,
		"once", flags.once,
		"clear", flags.clear,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("inkpanel failed", err)
		os.Exit(1)
	}
	appLog.Info("inkpanel exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	provider, err := conf.Provider()
	if err != nil {
		return err
	}
	desc, err := provider.Read(ctx)
	if err != nil {
		return err
	}
	appLog.Info("panel identified", "panel", desc.String(), "written_at", desc.WrittenAt)

	disp, err := display.Open(desc, conf.LinkConfig())
	if err != nil {
		return err
	}
	defer func() {
		if err := disp.Close(); err != nil {
			appLog.Error("failed to close display", err)
		}
	}()

	if flags.clear {
		disp.Canvas().Fill(model.White)
		return disp.Render()
	}
	if flags.once {
		return disp.Render()
	}

	srv := web.NewServer(conf, disp)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if conf.RefreshEnabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := schedule.Run(ctx, conf.RefreshCron, func(context.Context) {
				if err := srv.Render(); err != nil {
					appLog.Error("scheduled render failed", err)
				}
			})
			if err != nil {
				appLog.Error("scheduler stopped", err)
			}
		}()
	}

	err = srv.ListenAndServe(ctx)
	// Stop the scheduler too when the server fails on its own.
	cancel()
	wg.Wait()
	return err
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/inkpanel/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Render the canvas once and exit")
	flag.BoolVar(&cfg.clear, "clear", false, "Clear the panel to white and exit")

	flag.Parse()

	return cfg
}
