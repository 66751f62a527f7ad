package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hashicorp/go-multierror"
	"github.com/nbd-wtf/go-nostr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pinpox/marmot-sync/inbox"
	"github.com/pinpox/marmot-sync/metrics"
	"github.com/pinpox/marmot-sync/mls"
	"github.com/pinpox/marmot-sync/relay"
	"github.com/pinpox/marmot-sync/session"
	"github.com/pinpox/marmot-sync/store"
)

var version = "dev"

type rootFlags struct {
	config string
	debug  bool
}

func newRootCmd() *cobra.Command {
	var f rootFlags
	root := &cobra.Command{
		Use:           "marmot-sync",
		Short:         "Background sync for Marmot (MLS over Nostr) groups and invitations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.config, "config", "", "path to config file")
	root.PersistentFlags().BoolVar(&f.debug, "debug", false, "enable debug logging")

	root.AddCommand(newRunCmd(&f), newInvitesCmd(&f), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "marmot-sync", version)
		},
	}
}

func newRunCmd(f *rootFlags) *cobra.Command {
	var headless bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep groups and the invitation inbox in sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var console io.Writer
			if headless {
				console = os.Stderr
			}
			a, err := newApp(f, console)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()
			if err := sess.Start(ctx); err != nil {
				return err
			}

			if a.cfg.MetricsAddr != "" {
				srv := a.serveMetrics()
				defer srv.Close()
			}

			if headless {
				a.logChanges(ctx, sess)
				<-ctx.Done()
				a.log.Infow("run: shutting down")
				return nil
			}

			m := newModel(ctx, sess, a.keys)
			p := tea.NewProgram(&m, tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "log state changes instead of showing the monitor")
	return cmd
}

func newInvitesCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "invites",
		Short: "Fetch and list invitations once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(f, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()
			if err := sess.Start(cmd.Context()); err != nil {
				return err
			}
			return printInvites(cmd.OutOrStdout(), sess.Inbox().Invites().Get())
		},
	}
}

func printInvites(w io.Writer, list []inbox.PendingInvite) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "no invitations")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECEIVED\tSTATUS\tFROM\tCIPHER SUITE\tRELAYS")
	for _, inv := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(inv.ID),
			time.Unix(inv.ReceivedAt, 0).UTC().Format("2006-01-02 15:04"),
			inv.Status,
			shortID(inv.Welcome.PubKey),
			inv.CipherSuite,
			strings.Join(inv.Relays, ","),
		)
	}
	return tw.Flush()
}

// app bundles what every command needs: config, keys, logger, relay pool,
// account broker and metrics.
type app struct {
	cfg       Config
	keys      Keys
	log       *zap.SugaredLogger
	logCloser io.Closer
	pool      *nostr.SimplePool
	broker    *store.Broker
	reg       *prometheus.Registry
	metrics   *metrics.Collector
	// engine is the MLS implementation driving group sync. None is linked
	// into this binary, so group sync stays off.
	engine mls.Client
}

func newApp(f *rootFlags, console io.Writer) (*app, error) {
	cfg, err := LoadConfig(f.config)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	log, closer, err := newLogger(cfg.DataDir, f.debug, console)
	if err != nil {
		return nil, fmt.Errorf("log error: %w", err)
	}
	log.Infow("newApp: config loaded", "relays", len(cfg.Relays), "data_dir", cfg.DataDir)

	keys, err := loadKeys(cfg)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("key error: %w", err)
	}
	log.Infow("newApp: keys loaded", "npub", keys.NPub)

	reg := prometheus.NewRegistry()
	return &app{
		cfg:       cfg,
		keys:      keys,
		log:       log,
		logCloser: closer,
		pool:      nostr.NewSimplePool(context.Background()),
		broker:    store.NewBroker(store.Options{RootDir: filepath.Join(cfg.DataDir, "accounts"), Log: log}),
		reg:       reg,
		metrics:   metrics.NewCollector(reg),
	}, nil
}

func (a *app) openSession(ctx context.Context) (*session.Session, error) {
	kr, err := a.keys.signer()
	if err != nil {
		return nil, err
	}
	if a.engine == nil {
		a.log.Warnw("openSession: no MLS engine linked, group sync disabled")
	}
	return session.Open(ctx, a.cfg.sessionConfig(), session.Deps{
		Broker:   a.broker,
		Network:  relay.NewFacade(a.pool, a.log),
		Identity: inbox.NewKeyerIdentity(kr),
		MLS:      a.engine,
		Log:      a.log,
		Metrics:  a.metrics,
	})
}

func (a *app) serveMetrics() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.log.Infow("serveMetrics: listening", "addr", a.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Errorw("serveMetrics: server stopped", "err", err)
		}
	}()
	return srv
}

// logChanges reports unread groups and pending invites until ctx is done.
func (a *app) logChanges(ctx context.Context, sess *session.Session) {
	go func() {
		for n := range sess.Inbox().Pending().Subscribe(ctx) {
			a.log.Infow("invites pending", "count", n)
		}
	}()
	if g := sess.Groups(); g != nil {
		go func() {
			for ids := range g.Unread().Subscribe(ctx) {
				a.log.Infow("unread groups", "groups", ids)
			}
		}()
	}
}

func (a *app) Close() error {
	var errs *multierror.Error
	a.pool.Close("shutdown")
	if err := a.broker.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	a.log.Sync()
	if err := a.logCloser.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

func shortID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
