package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/uw-labs/strawdav"
	"github.com/uw-labs/strawdav/config"
	_ "github.com/uw-labs/strawdav/gcs"
	"github.com/uw-labs/strawdav/server"
	_ "github.com/uw-labs/strawdav/s3"
	_ "github.com/uw-labs/strawdav/sftp"
)

var log = logging.Logger("strawdav/cmd")

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "strawdav"
	app.Usage = "serve several directories, buckets and sftp trees as one WebDAV share"
	app.Flags = []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   fmt.Sprintf("webdav server port [default: %d]", config.DefaultPort),
		},
		&cli.StringFlag{
			Name:    "addr",
			Aliases: []string{"a"},
			Usage:   fmt.Sprintf("webdav server address [default: %s]", config.DefaultAddr),
		},
		&cli.StringSliceFlag{
			Name:    "dir",
			Aliases: []string{"d"},
			Usage:   "dir to serve, format: /path/to/dir@name or scheme://host/path@name, name is optional",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "ini config file",
		},
		&cli.StringFlag{
			Name:  "prefix",
			Usage: "URL path prefix to serve below",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error [default: info]",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "address to serve prometheus metrics on, disabled when empty",
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:      "tree",
			Usage:     "list every file below the configured mounts and exit",
			ArgsUsage: "[path]",
			Action:    tree,
		},
	}
	app.Action = serve
	return app
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(config.Args{
		Addr:        c.String("addr"),
		Port:        c.Int("port"),
		Dirs:        c.StringSlice("dir"),
		ConfigFile:  c.String("config"),
		Prefix:      c.String("prefix"),
		LogLevel:    c.String("log-level"),
		MetricsAddr: c.String("metrics-addr"),
	})
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if level == "" {
		level = "info"
	}
	if err := logging.SetLogLevel("*", level); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return cfg, nil
}

// openMounts opens every configured dir. On failure the ones already opened
// are closed again.
func openMounts(cfg *config.Config) (*strawdav.MountTable, error) {
	var mounts []strawdav.Mount
	for _, d := range cfg.Dirs {
		fs, err := strawdav.Open(d.Path)
		if err != nil {
			var result error = fmt.Errorf("opening %s: %w", d.Path, err)
			for _, m := range mounts {
				if err := m.FS.Close(); err != nil {
					result = multierror.Append(result, err)
				}
			}
			return nil, result
		}
		log.Infow("mounted", "name", d.Name, "source", d.Path)
		mounts = append(mounts, strawdav.Mount{Name: d.Name, Source: d.Path, FS: fs})
	}
	return strawdav.NewMountTable(mounts...)
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	table, err := openMounts(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mfs, err := strawdav.NewMultiFs(table, strawdav.WithRegisterer(reg))
	if err != nil {
		table.Close()
		return err
	}
	defer func() {
		if err := mfs.Close(); err != nil {
			log.Errorw("closing mounts", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx, server.New(mfs, cfg.Prefix), cfg.SockAddr(), cfg.MetricsAddr, reg)
}

func tree(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	table, err := openMounts(cfg)
	if err != nil {
		return err
	}
	mfs, err := strawdav.NewMultiFs(table)
	if err != nil {
		table.Close()
		return err
	}
	defer mfs.Close()

	root := strawdav.MustPath("/")
	if c.Args().Present() {
		root, err = strawdav.NewPath("", c.Args().First())
		if err != nil {
			return err
		}
	}

	ctx := context.Background()
	if c.Context != nil {
		ctx = c.Context
	}
	return strawdav.Walk(ctx, mfs, root, strawdav.Credential{}, func(p strawdav.Path, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			fmt.Fprintln(c.App.Writer, strings.TrimSuffix(p.String(), "/")+"/")
			return nil
		}
		fmt.Fprintf(c.App.Writer, "%s\t%d\n", p.String(), info.Size())
		return nil
	})
}
