// ptybridge establishes one bridge between a remote peer and a local
// control socket, then prints the connection id assigned by the local peer.
//
//	ptybridge --host 192.0.2.7 --port 2222 --socket /run/terminal.sock
//	ptybridge --socket /run/terminal.sock -- ssh -tt bastion
//
// Arguments after the flags are run on a pseudo-terminal as the remote peer.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"ptybridge/internal/application"
	"ptybridge/internal/codec"
	"ptybridge/internal/config"
	"ptybridge/internal/domain"
	"ptybridge/internal/infrastructure/epoll"
	"ptybridge/internal/infrastructure/resolver"
	"ptybridge/pkg/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	log := logger.Setup(level)

	blob, err := codec.EncodeAttributes(cfg.Attributes)
	if err != nil {
		return err
	}
	req, err := cfg.Request(blob)
	if err != nil {
		return err
	}
	log.Info("Initializing bridge...", "identity", req.Identity.String(), "local", req.LocalSocket)

	eventLoop, err := epoll.New(log)
	if err != nil {
		return fmt.Errorf("failed to create event loop: %w", err)
	}

	var dns domain.Resolver
	if !req.Remote.IsCommand() {
		if _, err := netip.ParseAddr(req.Remote.Host); err != nil {
			server, _ := cfg.ResolverAddr()
			r, err := resolver.New(server)
			if err != nil {
				return err
			}
			dns = r
		}
	}

	svc, err := application.NewBridgeService(eventLoop, log, dns)
	if err != nil {
		return fmt.Errorf("failed to create bridge service: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var result domain.BridgeResult
	finished := make(chan struct{})
	err = svc.Open(req, func(r domain.BridgeResult) {
		result = r
		close(finished)
		eventLoop.Stop()
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer eventLoop.Stop()
		return svc.Start()
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			eventLoop.Stop()
		case <-finished:
		}
		return nil
	})
	loopErr := g.Wait()

	select {
	case <-finished:
		svc.Close(nil)
	default:
		cause := loopErr
		if cause == nil {
			cause = fmt.Errorf("bridge not established within %s: %w", cfg.Timeout, ctx.Err())
		}
		svc.Close(cause)
	}

	if result.Err != nil {
		return fmt.Errorf("bridge failed: %w", result.Err)
	}
	fmt.Println(result.ConnectionID.String())
	return nil
}

// loadConfig reads the config file, if any, and applies the flags that
// were set on top of it.
func loadConfig(args []string) (*config.Config, error) {
	var (
		configPath string
		flags      = config.Default()
		attributes map[string]string
	)
	flagSet := pflag.NewFlagSet("ptybridge", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flagSet.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "log level: debug, info, warn, error")
	flagSet.DurationVar(&flags.Timeout, "timeout", flags.Timeout, "give up if the bridge is not established in time")
	flagSet.StringVar(&flags.Resolver, "resolver", flags.Resolver, "DNS server for remote host names")
	flagSet.StringVar(&flags.Remote.Host, "host", "", "remote host")
	flagSet.IntVar(&flags.Remote.Port, "port", 0, "remote port")
	flagSet.StringVar(&flags.Local.Socket, "socket", "", "local control socket path")
	flagSet.StringVar(&flags.Local.Protocol, "protocol", flags.Local.Protocol, "requested protocol: terminal or raw")
	flagSet.IntVar(&flags.Version, "version", flags.Version, "client version")
	flagSet.StringVar(&flags.Identity, "identity", "", "client UUID (random when empty)")
	flagSet.StringVar(&flags.Hello, "hello", "", "text sent to the local peer after the descriptor")
	flagSet.StringToStringVar(&attributes, "attr", nil, "attribute key=value sent to the local peer")
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	overrides := map[string]func(){
		"log-level": func() { cfg.LogLevel = flags.LogLevel },
		"timeout":   func() { cfg.Timeout = flags.Timeout },
		"resolver":  func() { cfg.Resolver = flags.Resolver },
		"host":      func() { cfg.Remote.Host = flags.Remote.Host },
		"port":      func() { cfg.Remote.Port = flags.Remote.Port },
		"socket":    func() { cfg.Local.Socket = flags.Local.Socket },
		"protocol":  func() { cfg.Local.Protocol = flags.Local.Protocol },
		"version":   func() { cfg.Version = flags.Version },
		"identity":  func() { cfg.Identity = flags.Identity },
		"hello":     func() { cfg.Hello = flags.Hello },
	}
	for name, apply := range overrides {
		if flagSet.Changed(name) {
			apply()
		}
	}
	if flagSet.Changed("attr") {
		if cfg.Attributes == nil {
			cfg.Attributes = make(map[string]string, len(attributes))
		}
		for k, v := range attributes {
			cfg.Attributes[k] = v
		}
	}
	if command := flagSet.Args(); len(command) > 0 {
		cfg.Remote.Command = command
		if !flagSet.Changed("host") {
			cfg.Remote.Host = ""
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
