// Command splinterd is the CLI entrypoint wiring every Splinter
// package into one running node (SPEC_FULL.md §4.0's package map).
//
// Grounded directly on cmd/goshawkdb/main.go: the same
// logger-then-newServer-then-start shape, the same onShutdown/
// statusEmitters accumulation pattern, and the same signal set
// (SIGTERM/SIGINT shuts down, SIGHUP logs that a restart is needed to
// pick up config changes, SIGQUIT dumps
// goroutine stacks, SIGUSR1 dumps a StatusConsumer tree to stderr).
// pprof wiring is left out: no SPEC_FULL.md component needs it.
package main

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"google.golang.org/grpc"

	server "splinterd.io/server"
	"splinterd.io/server/admin"
	adminstore "splinterd.io/server/admin/store"
	"splinterd.io/server/adminapi"
	"splinterd.io/server/config"
	"splinterd.io/server/dispatch"
	"splinterd.io/server/handlers"
	"splinterd.io/server/mesh"
	"splinterd.io/server/metrics"
	"splinterd.io/server/model"
	"splinterd.io/server/registry"
	"splinterd.io/server/routing"
	"splinterd.io/server/scabbard"
	scabbardstore "splinterd.io/server/scabbard/store"
	"splinterd.io/server/splerr"
	"splinterd.io/server/splinterid"
	"splinterd.io/server/status"
	"splinterd.io/server/supervisor"
	"splinterd.io/server/timer"
	"splinterd.io/server/transport"
	"splinterd.io/server/wire"
)

func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	logger.Log("product", server.ProductName, "version", server.ServerVersion, "args", fmt.Sprint(os.Args))

	s, err := newServer(logger)
	if err != nil {
		fmt.Printf("\n%v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}
	s.start()
}

// node is the running server, the equivalent of cmd/goshawkdb/main.go's
// unexported server type.
type node struct {
	logger     log.Logger
	configFile string
	cfg        config.Config

	lock           sync.Mutex
	statusEmitters []status.StatusEmitter
	onShutdown     []func()

	shutdownChan chan struct{}
}

func newServer(logger log.Logger) (*node, error) {
	var configFile string
	fs := flag.CommandLine
	fs.StringVar(&configFile, "config", "", "`Path` to node configuration file.")

	cfg, err := config.FromFile(configFile)
	if err != nil {
		return nil, err
	}
	// configFile names a file, but -config must still be parsed before
	// we know it; reparse once we have it, the same two-pass shape
	// cmd/goshawkdb/main.go's flag.Parse + conditional file load uses.
	preParse := flag.NewFlagSet("preparse", flag.ContinueOnError)
	preParse.SetOutput(new(discardWriter))
	preConfigFile := preParse.String("config", "", "")
	_ = preParse.Parse(os.Args[1:])
	if *preConfigFile != "" {
		cfg, err = config.FromFile(*preConfigFile)
		if err != nil {
			return nil, err
		}
		configFile = *preConfigFile
	}

	config.Flags(fs, &cfg)
	var version bool
	fs.BoolVar(&version, "version", false, "Display version and exit.")
	flag.Parse()

	if version {
		fmt.Println(server.ProductName, "version", server.ServerVersion)
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, err
	}

	return &node{
		logger:       logger,
		configFile:   configFile,
		cfg:          cfg,
		shutdownChan: make(chan struct{}),
	}, nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func (n *node) addStatusEmitter(e status.StatusEmitter) {
	n.lock.Lock()
	n.statusEmitters = append(n.statusEmitters, e)
	n.lock.Unlock()
}

func (n *node) addOnShutdown(f func()) {
	n.lock.Lock()
	n.onShutdown = append(n.onShutdown, f)
	n.lock.Unlock()
}

func (n *node) maybeShutdown(err error) {
	if err != nil {
		n.shutdown(err)
		os.Exit(1)
	}
}

func (n *node) shutdown(err error) {
	if err != nil {
		n.logger.Log("msg", "shutting down due to fatal error", "error", err)
	}
	n.lock.Lock()
	for idx := len(n.onShutdown) - 1; idx >= 0; idx-- {
		n.onShutdown[idx]()
	}
	n.lock.Unlock()
	n.logger.Log("msg", "shutdown complete")
}

func (n *node) start() {
	os.Stdin.Close()

	procs := runtime.NumCPU()
	if procs < 2 {
		procs = 2
	}
	runtime.GOMAXPROCS(procs)

	go n.signalHandler()

	logger := n.logger
	cfg := n.cfg

	registerer := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(registerer)

	cert, err := loadNodeCertificate(cfg)
	n.maybeShutdown(err)

	pgPool, err := pgxpool.Connect(context.Background(), cfg.PostgresDSN)
	n.maybeShutdown(err)
	n.addOnShutdown(pgPool.Close)
	if _, err := pgPool.Exec(context.Background(), adminstore.Schema); err != nil {
		n.maybeShutdown(fmt.Errorf("applying admin schema: %w", err))
	}
	proposalStore := adminstore.NewPostgresStore(pgPool)

	table := routing.NewTable()
	peers := routing.NewPeerManager()
	_ = peers // constructed but not consulted: nothing below records reachability in it; connections are tracked by connTracker.

	adminSvc := admin.NewService(table, proposalStore, log.With(logger, "subsystem", "admin"))
	n.addStatusEmitter(adminSvc)

	var registryCache *registry.Cache
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
		n.maybeShutdown(err)
		n.addOnShutdown(func() { _ = mongoClient.Disconnect(context.Background()) })
		collection := mongoClient.Database(cfg.MongoDB).Collection("node_registry")
		resolver := registry.NewMongoResolver(collection)
		registryCache = registry.NewCache(resolver, time.Duration(cfg.RegistryTTLSeconds)*time.Second)
	}
	_ = registryCache // held for routing/admin tooling that resolves SplinterNode directory entries by id

	pool := dispatch.NewPool(cfg.DispatchExecutors, 1024)
	n.addOnShutdown(pool.Shutdown)
	dispatcher := dispatch.NewDispatcher(pool, log.With(logger, "subsystem", "dispatch"))
	dispatcher.Register(handlers.NewEchoHandler(logger))
	dispatcher.Register(handlers.NewHeartbeatHandler(logger))
	dispatcher.Register(handlers.NewCircuitErrorHandler(table, cfg.NodeId, logger))

	tracker := newConnTracker()
	meshHandle := mesh.NewMeshHandle(mesh.DefaultConfig(), log.With(logger, "subsystem", "mesh"))
	n.addOnShutdown(meshHandle.Shutdown)
	sender := &trackedSender{tracker: tracker, mesh: meshHandle}

	scStore, err := scabbardstore.NewDurableStore(cfg.DataDir+"/scabbard", server.MDBInitialSize)
	n.maybeShutdown(err)
	n.addOnShutdown(func() { _ = scStore })
	tableSender := scabbard.NewTableSender(table, cfg.NodeId, sender)
	clock := scabbard.Clock{
		CoordinatorTimeout: int64(server.DefaultCoordinatorTimeout.Seconds()),
		DecisionTimeout:    int64(server.DefaultDecisionTimeout.Seconds()),
	}
	scabbardSvc := scabbard.NewService(scStore, tableSender, log.With(logger, "subsystem", "scabbard"), clock)
	n.addStatusEmitter(scabbardSvc)

	tm := timer.NewTimer(pool, server.ServiceTimerInterval, log.With(logger, "subsystem", "timer"))
	tm.Register(&scabbard.TimerFilter{Store: scStore}, &scabbard.TimerHandlerFactory{Service: scabbardSvc})
	tm.Start()
	dispatcher.Register(&scabbardMessageHandler{svc: scabbardSvc, waker: tm.ForType(scabbard.TimerServiceType)})

	sup := supervisor.NewSupervisor(scStore, tm, log.With(logger, "subsystem", "supervisor"))
	ctx, cancel := context.WithCancel(context.Background())
	n.addOnShutdown(cancel)
	go sup.Run(ctx)

	lifecycleSub := scabbard.NewLifecycleSubscriber(scabbardSvc, cfg.NodeId, log.With(logger, "subsystem", "scabbard-lifecycle"))
	lifecycleSub.OnFinalized = func(circuit splinterid.CircuitId, service splinterid.ServiceId) {
		sup.Notify(supervisor.Notification{Circuit: circuit, Service: service, Event: supervisor.ServiceFinalized})
	}
	adminSvc.Subscribe(lifecycleSub)

	if cfg.PrometheusPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
		httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.PrometheusPort), Handler: mux}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Log("msg", "prometheus listener stopped", "error", err)
			}
		}()
		n.addOnShutdown(func() { _ = httpServer.Close() })
	}

	if cfg.OperatorRPCPort != 0 {
		adminapiSrv := adminapi.NewServer(adminSvc, table, log.With(logger, "subsystem", "adminapi"))
		gs := grpc.NewServer()
		adminapi.Register(gs, adminapiSrv)
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.OperatorRPCPort))
		n.maybeShutdown(err)
		go func() {
			if err := gs.Serve(lis); err != nil {
				logger.Log("msg", "operator rpc listener stopped", "error", err)
			}
		}()
		n.addOnShutdown(gs.GracefulStop)
	}

	meshListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	n.maybeShutdown(err)
	n.addOnShutdown(func() { _ = meshListener.Close() })
	handshaker := transport.NewHandshaker(cert, staticTrustDirectory{}, true)
	go n.acceptLoop(meshListener, handshaker, meshHandle, tracker, dispatcher, sender, metricsReg)

	logger.Log("msg", "startup complete", "port", cfg.Port)

	<-n.shutdownChan
	n.shutdown(nil)
}

func (n *node) acceptLoop(lis net.Listener, handshaker *transport.Handshaker, meshHandle *mesh.MeshHandle, tracker *connTracker, dispatcher *dispatch.Dispatcher, sender dispatch.Sender, metricsReg *metrics.Registry) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		go func() {
			localToken := splinterid.TrustToken(n.cfg.NodeId)
			t, err := handshaker.Handshake(conn, localToken)
			if err != nil {
				server.CheckWarn(err, n.logger)
				conn.Close()
				return
			}
			id, err := meshHandle.Add(t.Conn, t.RemoteToken, t.LocalToken)
			if err != nil {
				server.CheckWarn(err, n.logger)
				conn.Close()
				return
			}
			tracker.bind(splinterid.PeerTokenPair{Remote: t.RemoteToken, Local: t.LocalToken}, id)
			metricsReg.Connections.Inc()
			defer metricsReg.Connections.Dec()

			for {
				env, ok := meshHandle.Incoming().Recv()
				if !ok || env.Shutdown || env.ConnectionId != id {
					return
				}
				dispatcher.Dispatch(context.Background(), []byte(t.RemoteToken.NodeId), splinterid.PeerTokenPair{Remote: t.RemoteToken, Local: t.LocalToken}, env.Bytes, sender)
			}
		}()
	}
}

// connTracker maps a directed authenticated link to the live mesh
// connection carrying it, so a dispatch.Sender (keyed by
// PeerTokenPair, spec.md §3) can resolve to the ConnectionId
// MeshHandle.Send actually takes. Nothing upstream of cmd/splinterd
// needs this mapping: mesh intentionally keys by ConnectionId only
// (reactor.go), and routing.PeerManager intentionally tracks
// reachability, not connection identity (routing/peer_manager.go) —
// so the entrypoint that owns both owns the glue between them.
type connTracker struct {
	mu    sync.Mutex
	byKey map[splinterid.PeerTokenPair]splinterid.ConnectionId
}

func newConnTracker() *connTracker {
	return &connTracker{byKey: make(map[splinterid.PeerTokenPair]splinterid.ConnectionId)}
}

func (t *connTracker) bind(key splinterid.PeerTokenPair, id splinterid.ConnectionId) {
	t.mu.Lock()
	t.byKey[key] = id
	t.mu.Unlock()
}

func (t *connTracker) lookup(key splinterid.PeerTokenPair) (splinterid.ConnectionId, bool) {
	t.mu.Lock()
	id, ok := t.byKey[key]
	t.mu.Unlock()
	return id, ok
}

// trackedSender implements dispatch.Sender over a connTracker +
// mesh.MeshHandle.
type trackedSender struct {
	tracker *connTracker
	mesh    *mesh.MeshHandle
}

func (s *trackedSender) Send(peer splinterid.PeerTokenPair, payload []byte) error {
	id, ok := s.tracker.lookup(peer)
	if !ok {
		return fmt.Errorf("no live connection for %v", peer)
	}
	return s.mesh.Send(id, payload)
}

// scabbardMessageHandler adapts scabbard.Service's inbound event
// recording to a dispatch.Handler so wire.ScabbardConsensusMessage
// frames reach it the same way every other registered message type
// does.
type scabbardMessageHandler struct {
	svc   *scabbard.Service
	waker scabbard.AlarmWaker
}

func (h *scabbardMessageHandler) MatchType() wire.MessageType { return wire.ScabbardConsensusMessage }

func (h *scabbardMessageHandler) Handle(ctx dispatch.Context, sender dispatch.Sender) error {
	env, err := model.DecodeScabbardEnvelope(ctx.RawData)
	if err != nil {
		return splerr.NewDispatchError(splerr.DeserializationError, err)
	}
	return h.svc.Deliver(env.CircuitId, env.ServiceId, env.From, env.Message, h.waker)
}

// staticTrustDirectory is a placeholder TrustDirectory: until the
// registry cache's SplinterNode directory is cross-indexed by
// certificate fingerprint, every inbound peer authenticates by
// Challenge (its certificate's own public key), the same fallback
// transport.Handshaker.resolveRemoteToken already performs when no
// directory entry matches.
type staticTrustDirectory struct{}

func (staticTrustDirectory) NodeIdForFingerprint(fingerprint [sha256.Size]byte) (splinterid.NodeId, bool) {
	return "", false
}

func loadNodeCertificate(cfg config.Config) (transport.NodeCertificate, error) {
	pair, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return transport.NodeCertificate{}, fmt.Errorf("load node certificate: %w", err)
	}
	nodeCert := transport.NodeCertificate{
		Certificate: pair.Certificate[0],
		PrivateKey:  pair.PrivateKey,
	}
	if cfg.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return transport.NodeCertificate{}, fmt.Errorf("load ca bundle: %w", err)
		}
		block, _ := pem.Decode(caPEM)
		if block != nil {
			root, err := x509.ParseCertificate(block.Bytes)
			if err == nil {
				nodeCert.Root = root
			}
		}
	}
	return nodeCert, nil
}

func (n *node) signalStatus() {
	sc := status.NewStatusConsumer()
	go func() {
		str := sc.Wait()
		n.logger.Log("msg", "status start")
		os.Stderr.WriteString(str + "\n")
		n.logger.Log("msg", "status end")
	}()
	sc.Emit(fmt.Sprintf("Configuration File: %v", n.configFile))
	sc.Emit(fmt.Sprintf("Data Directory: %v", n.cfg.DataDir))
	sc.Emit(fmt.Sprintf("Port: %v", n.cfg.Port))

	n.lock.Lock()
	for _, emitter := range n.statusEmitters {
		emitter.Status(sc.Fork())
	}
	n.lock.Unlock()
	sc.Join()
}

func (n *node) signalDumpStacks() {
	size := 16384
	for {
		buf := make([]byte, size)
		if l := runtime.Stack(buf, true); l <= size {
			n.logger.Log("msg", "stacks dump start")
			os.Stderr.Write(buf[:l])
			n.logger.Log("msg", "stacks dump end")
			return
		}
		size += size
	}
}

func (n *node) signalShutdown() {
	select {
	case <-n.shutdownChan:
	default:
		close(n.shutdownChan)
	}
}

func (n *node) signalHandler() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP, syscall.SIGUSR1, os.Interrupt)
	for sig := range sigs {
		switch sig {
		case syscall.SIGTERM, os.Interrupt:
			n.signalShutdown()
		case syscall.SIGHUP:
			n.logger.Log("msg", "config reload requested, restart to pick up file changes")
		case syscall.SIGQUIT:
			n.signalDumpStacks()
		case syscall.SIGUSR1:
			go n.signalStatus()
		}
	}
}
