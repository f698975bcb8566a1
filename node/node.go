package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"reflect"
	"time"

	"github.com/ledgerline/ledgerd/blockchain"
	"github.com/ledgerline/ledgerd/builtin"
	"github.com/ledgerline/ledgerd/db/pebble"
	"github.com/ledgerline/ledgerd/snapshot"
	"github.com/ledgerline/ledgerd/storage"
	"github.com/ledgerline/ledgerd/utils"
	"github.com/ledgerline/ledgerd/viewcache"
	"github.com/ledgerline/ledgerd/vm"
	"github.com/sourcegraph/conc"
)

const (
	snapshotsDir = "snapshots"
	viewsDir     = "views"
	indexDir     = "index"
)

// Config is the top-level ledgerd configuration.
type Config struct {
	LogLevel utils.LogLevel `mapstructure:"log-level"`
	Colour   bool           `mapstructure:"colour"`
	DataDir  string         `mapstructure:"data-dir"`
	Genesis  string         `mapstructure:"genesis"`

	RetainSnapshots int           `mapstructure:"retain-snapshots"`
	RecycleInterval time.Duration `mapstructure:"recycle-interval"`
	MaxQuery        int           `mapstructure:"max-query"`

	HTTP     bool   `mapstructure:"http"`
	HTTPHost string `mapstructure:"http-host"`
	HTTPPort uint16 `mapstructure:"http-port"`

	Metrics     bool   `mapstructure:"metrics"`
	MetricsHost string `mapstructure:"metrics-host"`
	MetricsPort uint16 `mapstructure:"metrics-port"`

	Pprof     bool   `mapstructure:"pprof"`
	PprofHost string `mapstructure:"pprof-host"`
	PprofPort uint16 `mapstructure:"pprof-port"`
}

type Node struct {
	cfg   *Config
	index *pebble.DB
	store *snapshot.Store
	cache *viewcache.Cache
	chain *blockchain.Chain

	services []Service
	log      utils.Logger

	version string
}

// New opens the data directory and wires every component. The genesis state is created
// from cfg.Genesis when the data directory has none yet.
func New(cfg *Config, version string) (*Node, error) { //nolint:funlen
	if cfg.DataDir == "" {
		return nil, errors.New("data directory is not set")
	}
	log, err := utils.NewZapLogger(cfg.LogLevel, cfg.Colour)
	if err != nil {
		return nil, err
	}
	dbLog, err := utils.NewZapLogger(utils.ERROR, cfg.Colour)
	if err != nil {
		return nil, fmt.Errorf("create DB logger: %w", err)
	}

	var (
		cacheOpts  []viewcache.Option
		engineOpts []vm.Option
		chainOpts  []blockchain.Option
	)
	index, err := pebble.New(filepath.Join(cfg.DataDir, indexDir), dbLog, false)
	if err != nil {
		return nil, fmt.Errorf("open block index: %w", err)
	}
	if cfg.Metrics {
		dbListener := makeDBMetrics()
		index.WithListener(dbListener)
		cacheOpts = append(cacheOpts,
			viewcache.WithListener(makeViewCacheMetrics()),
			viewcache.WithStorageOptions(storage.WithListener(dbListener)))
		engineOpts = append(engineOpts, vm.WithListener(makeVMMetrics()))
		chainOpts = append(chainOpts, blockchain.WithListener(makeChainMetrics()))
	}

	store := snapshot.New(filepath.Join(cfg.DataDir, snapshotsDir), log.Named("snapshot"),
		snapshot.WithRetain(cfg.RetainSnapshots))
	if err = store.Init(); err != nil {
		return nil, utils.RunAndWrapOnError(index.Close, fmt.Errorf("open snapshots: %w", err))
	}
	cache := viewcache.New(filepath.Join(cfg.DataDir, viewsDir), store, dbLog, cacheOpts...)

	registry := vm.NewRegistry()
	var builtinOpts []builtin.Option
	if cfg.MaxQuery > 0 {
		builtinOpts = append(builtinOpts, builtin.WithMaxQuery(cfg.MaxQuery))
	}
	builtin.Register(registry, builtinOpts...)
	engine := vm.New(registry, log.Named("vm"), engineOpts...)
	chain := blockchain.New(cache, store, engine, index, log.Named("chain"), chainOpts...)

	n := &Node{
		cfg:     cfg,
		index:   index,
		store:   store,
		cache:   cache,
		chain:   chain,
		log:     log,
		version: version,
	}

	head, err := buildGenesis(context.Background(), cfg.Genesis, chain)
	if err != nil {
		return nil, utils.RunAndWrapOnError(n.close, fmt.Errorf("build genesis: %w", err))
	}
	if head == nil {
		log.Warnw("No genesis state yet, set a genesis file to create one")
	} else {
		log.Infow("Opened chain", "head", head.ID, "height", head.Header.Height)
	}

	if cfg.RecycleInterval > 0 {
		n.services = append(n.services, newRecycler(chain, cfg.RecycleInterval, log))
	}
	for _, s := range []struct {
		enabled bool
		host    string
		port    uint16
		build   func(net.Listener) *httpService
	}{
		{cfg.HTTP, cfg.HTTPHost, cfg.HTTPPort, func(l net.Listener) *httpService {
			return makeStatus(l, NewReadinessHandlers(chain))
		}},
		{cfg.Metrics, cfg.MetricsHost, cfg.MetricsPort, makeMetrics},
		{cfg.Pprof, cfg.PprofHost, cfg.PprofPort, makePPROF},
	} {
		if !s.enabled {
			continue
		}
		listener, err := net.Listen("tcp", net.JoinHostPort(s.host, fmt.Sprint(s.port)))
		if err != nil {
			for _, started := range n.services {
				if h, ok := started.(*httpService); ok {
					h.listener.Close()
				}
			}
			return nil, utils.RunAndWrapOnError(n.close, err)
		}
		n.services = append(n.services, s.build(listener))
	}
	return n, nil
}

func (n *Node) close() error {
	n.cache.Close()
	return n.index.Close()
}

// Run starts all services and blocks until ctx is cancelled or one of them fails. Run will
// wait for all services to return before exiting.
func (n *Node) Run(ctx context.Context) {
	defer func() {
		if closeErr := n.close(); closeErr != nil {
			n.log.Errorw("Error while closing the node", "err", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	wg := conc.NewWaitGroup()
	for _, s := range n.services {
		wg.Go(func() {
			if err := s.Run(ctx); err != nil {
				n.log.Errorw("Service error", "name", reflect.TypeOf(s), "err", err)
				cancel()
			}
		})
	}
	defer wg.Wait()

	<-ctx.Done()
	cancel()
	n.log.Infow("Shutting down ledgerd...")
}

// Close releases the stores of a node that is not going to Run.
func (n *Node) Close() error {
	return n.close()
}

func (n *Node) Config() Config {
	return *n.cfg
}

func (n *Node) Chain() *blockchain.Chain {
	return n.chain
}

// Snapshots lists the block states kept on disk, oldest first.
func (n *Node) Snapshots() []snapshot.Info {
	return n.store.List()
}
