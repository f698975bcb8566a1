package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ledgerline/ledgerd/node"
	"github.com/ledgerline/ledgerd/utils"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Version string

const greeting = `ledgerd %s
Block state engine for a DPoS ledger.

`

const (
	configF          = "config"
	logLevelF        = "log-level"
	colourF          = "colour"
	dataDirF         = "data-dir"
	genesisF         = "genesis"
	retainSnapshotsF = "retain-snapshots"
	recycleIntervalF = "recycle-interval"
	maxQueryF        = "max-query"
	httpF            = "http"
	httpHostF        = "http-host"
	httpPortF        = "http-port"
	metricsF         = "metrics"
	metricsHostF     = "metrics-host"
	metricsPortF     = "metrics-port"
	pprofF           = "pprof"
	pprofHostF       = "pprof-host"
	pprofPortF       = "pprof-port"

	defaultConfig          = ""
	defaultColour          = true
	defaultGenesis         = ""
	defaultRetainSnapshots = 16
	defaultRecycleInterval = time.Minute
	defaultMaxQuery        = 50
	defaultHTTP            = false
	defaultHost            = "localhost"
	defaultHTTPPort        = uint16(6060)
	defaultMetrics         = false
	defaultMetricsPort     = uint16(9090)
	defaultPprof           = false
	defaultPprofPort       = uint16(6062)

	envPrefix = "LEDGERD"

	configFlagUsage   = "The yaml configuration file."
	logLevelFlagUsage = "Options: debug, info, warn, error."
	colourUsage       = "Use `--colour=false` command to disable colourized outputs (ANSI Escape Codes)."
	dataDirUsage      = "Location of the block index, snapshots and materialized views."
	genesisUsage      = "Genesis file used to create the initial state when the data directory is empty."
	retainUsage       = "Number of most recent block states kept once older ones are recycled. " +
		"Zero disables recycling."
	recycleUsage     = "How often old block states are recycled. Zero disables the background recycler."
	maxQueryUsage    = "Maximum number of entries a single batch query may ask for."
	httpUsage        = "Enables the HTTP server exposing the /live and /ready probes."
	httpHostUsage    = "The interface on which the HTTP server will listen for requests."
	httpPortUsage    = "The port on which the HTTP server will listen for requests."
	metricsUsage     = "Enables the Prometheus metrics endpoint on the default port."
	metricsHostUsage = "The interface on which the Prometheus endpoint will listen for requests."
	metricsPortUsage = "The port on which the Prometheus endpoint will listen for requests."
	pprofUsage       = "Enables the pprof endpoint on the default port."
	pprofHostUsage   = "The interface on which the pprof HTTP server will listen for requests."
	pprofPortUsage   = "The port on which the pprof HTTP server will listen for requests."
)

// Runner is the part of a node the root command drives.
type Runner interface {
	Run(ctx context.Context)
	Config() node.Config
}

type NewNodeFn func(cfg *node.Config, version string) (Runner, error)

func NewCmd(newNodeFn NewNodeFn, defaultDataDir string) *cobra.Command {
	ledgerdCmd := &cobra.Command{
		Use:     "ledgerd [flags]",
		Short:   "State engine of a DPoS ledger node.",
		Version: Version,
		Args:    cobra.NoArgs,
	}

	defaultLogLevel := utils.INFO
	ledgerdCmd.PersistentFlags().String(configF, defaultConfig, configFlagUsage)
	ledgerdCmd.PersistentFlags().Var(&defaultLogLevel, logLevelF, logLevelFlagUsage)
	ledgerdCmd.PersistentFlags().Bool(colourF, defaultColour, colourUsage)
	ledgerdCmd.PersistentFlags().String(dataDirF, defaultDataDir, dataDirUsage)
	ledgerdCmd.PersistentFlags().Int(retainSnapshotsF, defaultRetainSnapshots, retainUsage)
	ledgerdCmd.PersistentFlags().Int(maxQueryF, defaultMaxQuery, maxQueryUsage)

	ledgerdCmd.Flags().String(genesisF, defaultGenesis, genesisUsage)
	ledgerdCmd.Flags().Duration(recycleIntervalF, defaultRecycleInterval, recycleUsage)
	ledgerdCmd.Flags().Bool(httpF, defaultHTTP, httpUsage)
	ledgerdCmd.Flags().String(httpHostF, defaultHost, httpHostUsage)
	ledgerdCmd.Flags().Uint16(httpPortF, defaultHTTPPort, httpPortUsage)
	ledgerdCmd.Flags().Bool(metricsF, defaultMetrics, metricsUsage)
	ledgerdCmd.Flags().String(metricsHostF, defaultHost, metricsHostUsage)
	ledgerdCmd.Flags().Uint16(metricsPortF, defaultMetricsPort, metricsPortUsage)
	ledgerdCmd.Flags().Bool(pprofF, defaultPprof, pprofUsage)
	ledgerdCmd.Flags().String(pprofHostF, defaultHost, pprofHostUsage)
	ledgerdCmd.Flags().Uint16(pprofPortF, defaultPprofPort, pprofPortUsage)

	ledgerdCmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if _, err = fmt.Fprintf(cmd.OutOrStdout(), greeting, Version); err != nil {
			return err
		}

		n, err := newNodeFn(cfg, Version)
		if err != nil {
			return err
		}
		n.Run(cmd.Context())
		return nil
	}

	ledgerdCmd.AddCommand(GenesisCmd(), CallCmd(), SnapshotsCmd())
	return ledgerdCmd
}

// loadConfig merges, from lowest to highest precedence, flag defaults, the config file,
// LEDGERD_* environment variables and explicitly set flags.
func loadConfig(cmd *cobra.Command) (*node.Config, error) {
	v := viper.New()
	cfgFile, err := cmd.Flags().GetString(configF)
	if err != nil {
		return nil, err
	}
	if cfgFile != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(cfgFile)
		if err = v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err = v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	cfg := new(node.Config)
	if err = v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, err
	}
	return cfg, nil
}
