package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danieljhkim/coedit/internal/clock"
	"github.com/danieljhkim/coedit/internal/config"
	"github.com/danieljhkim/coedit/internal/directory"
	"github.com/danieljhkim/coedit/internal/fsops"
	"github.com/danieljhkim/coedit/internal/logging"
	"github.com/danieljhkim/coedit/internal/ot"
	"github.com/danieljhkim/coedit/internal/search"
	"github.com/danieljhkim/coedit/internal/server"
	"github.com/danieljhkim/coedit/internal/session"
)

var (
	serveConfigPath string
	serveListen     string
	serveLogLevel   string
	serveNoWatch    bool
	serveMDNS       bool
)

var serveCmd = &cobra.Command{
	Use:   "serve [project-root]",
	Short: "Serve a project directory to editor clients",
	Long: `serve loads the project tree rooted at project-root (default ".")
and serves it to collaborative editor clients over WebSocket.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to the config file")
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "Log level (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Disable the project change watcher")
	serveCmd.Flags().BoolVar(&serveMDNS, "mdns", false, "Announce the server on the local network")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve project root: %w", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return fmt.Errorf("project root %s is not a directory", root)
	}

	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	registry := session.NewRegistry(logger, &clock.RealClock{})
	svc := ot.NewService()
	dir := directory.New(root, fsops.NewRealFS(), svc, server.Fanout{Registry: registry}, logger)
	if err := dir.Load(); err != nil {
		return fmt.Errorf("failed to load project: %w", err)
	}
	engine := search.NewEngine(dir, logger)
	srv := server.New(cfg, logger, registry, session.NewConsole(), dir, engine)

	printBanner(dir.Name(), cfg.Listen)

	errc := make(chan error, 1)
	go func() { errc <- srv.Run() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		return err
	case s := <-sig:
		logger.Info("shutting down", zap.String("signal", s.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
	// Unsaved edits are flushed on the way out so nothing is lost.
	dir.Flush()
	return nil
}

func loadServeConfig() (*config.Config, error) {
	path := serveConfigPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}
	if serveLogLevel != "" {
		cfg.Log.Level = serveLogLevel
	}
	if serveNoWatch {
		cfg.Watch = false
	}
	if serveMDNS {
		cfg.MDNS.Enabled = true
	}
	return cfg, cfg.Validate()
}

// printBanner lists every address the server is reachable on, so a URL
// can be opened from other devices on the LAN.
func printBanner(project, listen string) {
	_, port, err := net.SplitHostPort(listen)
	if err != nil {
		port = "3000"
	}
	headingColor.Printf("Serving %s\n", project)
	for _, ip := range lanAddrs() {
		addrColor.Printf("  http://%s:%s\n", ip, port)
	}
}

// lanAddrs returns the non-loopback IPv4 addresses of this host,
// falling back to localhost when none are up.
func lanAddrs() []string {
	var addrs []string
	ifaces, err := net.Interfaces()
	if err != nil {
		return []string{"127.0.0.1"}
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		ifAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range ifAddrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				addrs = append(addrs, ip4.String())
			}
		}
	}
	if len(addrs) == 0 {
		return []string{"127.0.0.1"}
	}
	return addrs
}
