// portwatchd is PortWatch's daemon: the composition root that wires
// every subsystem together and drives the tick loop (spec.md §4.12).
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/serome111/portwatch/internal/alerts"
	"github.com/serome111/portwatch/internal/api"
	"github.com/serome111/portwatch/internal/beacon"
	"github.com/serome111/portwatch/internal/config"
	"github.com/serome111/portwatch/internal/connections"
	"github.com/serome111/portwatch/internal/dnsanalyze"
	"github.com/serome111/portwatch/internal/dnssniff"
	"github.com/serome111/portwatch/internal/enforce"
	"github.com/serome111/portwatch/internal/logging"
	"github.com/serome111/portwatch/internal/orchestrator"
	"github.com/serome111/portwatch/internal/procinfo"
	"github.com/serome111/portwatch/internal/reputation"
	"github.com/serome111/portwatch/internal/resource"
	"github.com/serome111/portwatch/internal/rules"
)

// Version is stamped at build time via -ldflags.
var Version = "0.1.0"

const signingCacheTTL = 10 * time.Minute

func main() {
	configFile := flag.String("config", "", "Config file path (optional, defaults to the platform support directory)")
	iface := flag.String("iface", "", "Network interface to sniff DNS traffic on (empty picks the default)")
	listen := flag.String("listen", "127.0.0.1:7331", "Loopback address the control API listens on")
	version := flag.Bool("version", false, "Print version and exit")
	dryRun := flag.Bool("dry-run", false, "Run one enumeration/score tick and exit")
	flag.Parse()

	if *version {
		fmt.Printf("portwatchd %s\n", Version)
		os.Exit(0)
	}

	log := logging.New(os.Stderr, zerolog.InfoLevel)
	log.Info().Str("version", Version).Msg("portwatchd starting")

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	current := cfg.Get()

	store, err := rules.Open(cfg.RulesDBPath())
	if err != nil {
		log.Fatal().Err(err).Msg("opening rule store")
	}
	defer store.Close()

	dnsCfg := dnsanalyze.NewAnalyzer(cfg.DNSConfigPath(), logging.Component(log, "dnsanalyze"))
	if err := dnsCfg.Watch(); err != nil {
		log.Warn().Err(err).Msg("dns config hot-reload watch failed to start")
	}
	defer dnsCfg.Close()

	sniffer := dnssniff.New(*iface, logging.Component(log, "dnssniff"))
	stopSniff := make(chan struct{})
	if err := sniffer.Start(stopSniff); err != nil {
		log.Warn().Err(err).Msg("dns sniffer failed to start, ip->domain enrichment disabled")
	}
	defer sniffer.Stop()

	rep := reputation.New(current.ReputationAPIKey, current.ReputationURL, logging.Component(log, "reputation"))
	if !rep.Enabled() {
		log.Warn().Msg("no reputation API key configured, reputation enrichment disabled")
	}

	notifier := alerts.OSNotifier{}
	alertsEng := alerts.New(store, current.Settings, notifier, logging.Component(log, "alerts"))
	enforcer := enforce.New()

	orch := orchestrator.New(orchestrator.Deps{
		Enumerator: connections.New(),
		Procs:      procinfo.New(signingCacheTTL),
		Beacons:    beacon.New(),
		Sniffer:    sniffer,
		DNSAnalyze: dnsCfg,
		Reputation: rep,
		Resources:  resource.New(int32(os.Getpid())),
		Alerts:     alertsEng,
		Enforcer:   enforcer,
		Log:        logging.Component(log, "orchestrator"),
	})
	orch.SetParanoid(current.Paranoid)

	if *dryRun {
		runDryRun(orch)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	srv, err := api.New(cfg, orch, store, alertsEng, enforcer, rep, logging.Component(log, "api"))
	if err != nil {
		log.Fatal().Err(err).Msg("constructing control API")
	}
	log.Info().Str("token", srv.Token()).Msg("control API token (pass this to portwatchctl)")

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatal().Err(err).Str("addr", *listen).Msg("binding control API listener")
	}
	httpSrv := &http.Server{Handler: srv.Router()}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("control API server stopped")
		}
	}()

	log.Info().Str("addr", *listen).Msg("control API listening")

	go orch.Run(ctx)

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	close(stopSniff)
	log.Info().Msg("portwatchd stopped")
}

func runDryRun(orch *orchestrator.Orchestrator) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	orch.Tick(ctx)
	snap := orch.Snapshot()
	fmt.Printf("dry run: %d connections observed, %d pending alerts\n", len(snap.Rows), len(snap.PendingAlerts))
}
