// Package cli assembles every component of this repo (ifacecache,
// archplat, ranker, policy, solver, download, store, fetch, selections,
// solve) into the "depsolve" cobra command tree: solve, select,
// download, config, plus the store's own migration subcommand mounted
// alongside them.
//
// Grounded on the teacher's cmd/migrate/main.go + internal/infrastructure
// /migrations.CLI wiring style (a thin main delegating into a
// NewCLI/GetRootCommand/Execute package), generalized from one
// subcommand to a full command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ipiton/depsolve/internal/archplat"
	"github.com/ipiton/depsolve/internal/download"
	"github.com/ipiton/depsolve/internal/fetch"
	"github.com/ipiton/depsolve/internal/ifacecache"
	"github.com/ipiton/depsolve/internal/model"
	"github.com/ipiton/depsolve/internal/obs/logger"
	"github.com/ipiton/depsolve/internal/policy"
	"github.com/ipiton/depsolve/internal/ranker"
	"github.com/ipiton/depsolve/internal/selections"
	"github.com/ipiton/depsolve/internal/solve"
	"github.com/ipiton/depsolve/internal/solver"
	"github.com/ipiton/depsolve/internal/store"
	storemigrations "github.com/ipiton/depsolve/internal/store/migrations"
)

// CLI is the root "depsolve" command tree.
type CLI struct {
	logger *slog.Logger

	networkUse      string
	freshness       int64
	helpWithTesting bool
	cacheDir        string
	configPath      string
	logLevel        string
	redisAddr       string
}

// NewCLI builds a CLI.
func NewCLI() *CLI {
	return &CLI{}
}

// GetRootCommand returns the root "depsolve" command.
func (c *CLI) GetRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "depsolve",
		Short: "Resolve, select, and fetch 0install-style dependency trees",
		Long: `depsolve resolves a 0install-style interface into a concrete set of
implementations (a solve), lets you inspect the chosen selections, fetch
their content into the local store, and manage the persisted policy
configuration.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.logger = logger.NewLogger(logger.Config{Level: c.logLevel, Output: "stderr"})
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.networkUse, "network", string(policy.NetworkFull), "network access mode: full, minimal, offline")
	flags.Int64Var(&c.freshness, "freshness", 0, "max feed age in seconds before a refresh is triggered (0 keeps the policy default)")
	flags.BoolVar(&c.helpWithTesting, "help-with-testing", false, "treat testing-stability implementations as acceptable")
	flags.StringVar(&c.cacheDir, "cache-dir", defaultCacheDir(), "root cache directory for the content store")
	flags.StringVar(&c.configPath, "config", "", "path to a persisted [global] config file (overrides --network/--freshness/--help-with-testing defaults)")
	flags.StringVar(&c.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&c.redisAddr, "redis-addr", "", "optional redis address (host:port) to persist the interface cache across runs; memory-only if unset")

	root.AddCommand(
		c.solveCommand(),
		c.selectCommand(),
		c.downloadCommand(),
		c.configCommand(),
	)

	migrationsCLI := storemigrations.NewCLI(nil, c.logger)
	storeMigrate := migrationsCLI.GetRootCommand()
	storeMigrate.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := storemigrations.LoadConfig()
		if err != nil {
			return fmt.Errorf("depsolve: loading migration config: %w", err)
		}
		cfg.DSN = c.cacheDir + "/0install.net/manifest.db"
		cfg.Logger = c.logger
		mgr, err := storemigrations.NewMigrationManager(cfg)
		if err != nil {
			return fmt.Errorf("depsolve: building migration manager: %w", err)
		}
		*migrationsCLI = *storemigrations.NewCLI(mgr, c.logger)
		return nil
	}
	root.AddCommand(storeMigrate)

	return root
}

// Execute runs the CLI against os.Args.
func (c *CLI) Execute() error {
	return c.GetRootCommand().Execute()
}

func defaultCacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return xdg
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cache"
	}
	return home + "/.cache"
}

// environment bundles every wired component a solve/download needs.
type environment struct {
	pol         *policy.Policy
	ifaces      ifacecache.InterfaceCache
	arch        *archplat.ArchRanker
	rk          *ranker.Ranker
	sv          *solver.Solver
	store       *store.DiskStore
	downloads   download.Manager
	coordinator *fetch.Coordinator
}

func (c *CLI) buildEnvironment(ctx context.Context, rootURI string) (*environment, error) {
	pol := policy.New(rootURI, policy.NetworkUse(c.networkUse))
	if c.freshness > 0 {
		pol.Freshness = c.freshness
	}
	pol.HelpWithTesting = c.helpWithTesting
	if c.configPath != "" {
		cfg, err := policy.LoadGlobalConfig(c.configPath)
		if err != nil {
			return nil, err
		}
		pol, err = policy.FromGlobalConfig(rootURI, cfg, nil)
		if err != nil {
			return nil, err
		}
	}
	if err := pol.Validate(); err != nil {
		return nil, err
	}

	diskStore, err := store.Open(ctx, store.Options{CacheDir: c.cacheDir, Logger: c.logger})
	if err != nil {
		return nil, err
	}

	var ifaces ifacecache.InterfaceCache
	if c.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: c.redisAddr})
		ifaces = ifacecache.NewRedisBacked(ctx, client, 0, 24*time.Hour, c.logger)
	} else {
		ifaces = ifacecache.NewMemory(0)
	}
	arch := archplat.New()
	downloads := download.NewHTTPManager(download.Options{Logger: c.logger})
	rk := ranker.New(pol, arch, func(impl *model.Implementation) bool {
		if impl.LocalPath != "" {
			return true
		}
		if len(impl.Digests) == 0 {
			return false
		}
		_, ok := diskStore.Lookup(impl.Digests[0])
		return ok
	})

	coordinator := fetch.New(fetch.Options{
		Interfaces: ifaces,
		Downloads:  downloads,
		Store:      diskStore,
		Logger:     c.logger,
	})

	sv := solver.New(solver.Options{
		Interfaces: ifaces,
		Arch:       arch,
		Ranker:     rk,
		Policy:     pol,
		Fetcher:    coordinator,
		Logger:     c.logger,
	})

	// Spec.md §4.5/§9's closing re-entrancy guarantee: whenever any feed
	// lands in the InterfaceCache (e.g. a background refresh kicked off
	// by a previous, not-yet-ready pass), re-run Recalculate so a solve
	// left running picks up newly arrived data without needing another
	// explicit solve.Once bounded wait.
	ifaces.AddGlobalWatcher(func(uri string) {
		sv.Recalculate(ctx, rootURI)
	})

	return &environment{
		pol:         pol,
		ifaces:      ifaces,
		arch:        arch,
		rk:          rk,
		sv:          sv,
		store:       diskStore,
		downloads:   downloads,
		coordinator: coordinator,
	}, nil
}

func (c *CLI) solveCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "solve <interface-uri>",
		Short: "Solve an interface and print its Selections document as XML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			rootURI := args[0]
			env, err := c.buildEnvironment(ctx, rootURI)
			if err != nil {
				return err
			}
			defer env.store.Close()

			sels, err := solve.Once(ctx, rootURI, env.sv, env.coordinator)
			if err != nil && sels == nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, ferr := os.Create(output)
				if ferr != nil {
					return ferr
				}
				defer f.Close()
				w = f
			}
			if serr := selections.Serialize(w, sels); serr != nil {
				return serr
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the Selections XML to this file instead of stdout")
	return cmd
}

func (c *CLI) selectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select <interface-uri>",
		Short: "Solve an interface and print a human-readable selection summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			rootURI := args[0]
			env, err := c.buildEnvironment(ctx, rootURI)
			if err != nil {
				return err
			}
			defer env.store.Close()

			sels, solveErr := solve.Once(ctx, rootURI, env.sv, env.coordinator)
			if solveErr != nil && sels == nil {
				return solveErr
			}

			uris := make([]string, 0, len(sels.Selections))
			for uri := range sels.Selections {
				uris = append(uris, uri)
			}
			sort.Strings(uris)
			for _, uri := range uris {
				sel := sels.Selections[uri]
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", uri, sel.Version.String(), sel.ID)
			}
			return solveErr
		},
	}
	return cmd
}

func (c *CLI) downloadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <interface-uri>",
		Short: "Solve an interface and fetch every chosen implementation into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			rootURI := args[0]
			env, err := c.buildEnvironment(ctx, rootURI)
			if err != nil {
				return err
			}
			defer env.store.Close()

			sels, solveErr := solve.Once(ctx, rootURI, env.sv, env.coordinator)
			if solveErr != nil && sels == nil {
				return solveErr
			}

			uris := make([]string, 0, len(sels.Selections))
			for uri := range sels.Selections {
				uris = append(uris, uri)
			}
			sort.Strings(uris)

			for _, uri := range uris {
				sel := sels.Selections[uri]
				impl := sel.Implementation
				if impl.LocalPath != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tlocal\t%s\n", uri, impl.LocalPath)
					continue
				}
				if len(impl.RetrievalMethods) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tskipped\tno retrieval method\n", uri)
					continue
				}
				path, ferr := env.coordinator.FetchImplementation(ctx, &impl, impl.RetrievalMethods[0])
				if ferr != nil {
					return fmt.Errorf("downloading %s: %w", uri, ferr)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tfetched\t%s\n", uri, path)
			}
			return solveErr
		},
	}
	return cmd
}

func (c *CLI) configCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "config",
		Short: "View or change the persisted [global] policy configuration",
	}
	root.AddCommand(c.configShowCommand(), c.configSetCommand())
	return root
}

func (c *CLI) configShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current persisted configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := c.resolvedConfigPath()
			if err != nil {
				return err
			}
			cfg, err := policy.LoadGlobalConfig(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "network_use = %s\nfreshness = %d\nhelp_with_testing = %t\n",
				cfg.NetworkUse, cfg.Freshness, cfg.HelpWithTesting)
			return nil
		},
	}
}

func (c *CLI) configSetCommand() *cobra.Command {
	var networkUse string
	var freshness int64
	var helpWithTesting bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update and persist [global] configuration fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := c.resolvedConfigPath()
			if err != nil {
				return err
			}
			cfg, err := policy.LoadGlobalConfig(path)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("network") {
				cfg.NetworkUse = networkUse
			}
			if cmd.Flags().Changed("freshness") {
				cfg.Freshness = freshness
			}
			if cmd.Flags().Changed("help-with-testing") {
				cfg.HelpWithTesting = helpWithTesting
			}
			return policy.SaveGlobalConfig(path, cfg)
		},
	}
	cmd.Flags().StringVar(&networkUse, "network", "", "network access mode: full, minimal, offline")
	cmd.Flags().Int64Var(&freshness, "freshness", 0, "max feed age in seconds before a refresh is triggered")
	cmd.Flags().BoolVar(&helpWithTesting, "help-with-testing", false, "treat testing-stability implementations as acceptable")
	return cmd
}

func (c *CLI) resolvedConfigPath() (string, error) {
	if c.configPath != "" {
		return c.configPath, nil
	}
	dir, err := policy.DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return dir + "/config.ini", nil
}
