// Command regionserver is the process entry point: it loads configuration,
// opens the shared write-ahead log, wires the registry/lease manager/master
// client/chores, and serves the RPC surface until signaled to stop. Command
// parsing follows the cobra pattern used elsewhere in the wider dependency
// set (storj's cmd/ tree), in place of the teacher's bare main() with no
// subcommands, since this binary needs a "start" verb distinct from any
// future administrative subcommand.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	log "log/slog"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	rs "github.com/sharedcode/regionserver"
	"github.com/sharedcode/regionserver/cache"
	"github.com/sharedcode/regionserver/catalog"
	"github.com/sharedcode/regionserver/chore"
	"github.com/sharedcode/regionserver/lease"
	"github.com/sharedcode/regionserver/master"
	"github.com/sharedcode/regionserver/region"
	"github.com/sharedcode/regionserver/registry"
	"github.com/sharedcode/regionserver/rpc"
	"github.com/sharedcode/regionserver/storefile"
	"github.com/sharedcode/regionserver/wal"
)

var (
	configPath string
	bindAddr   string
	masterURL  string
	serverName string
	catalogDir string
)

func main() {
	root := &cobra.Command{
		Use:   "regionserver",
		Short: "HBase-style region server",
	}

	start := &cobra.Command{
		Use:   "start",
		Short: "start serving regions and join the master protocol",
		RunE:  runStart,
	}
	start.Flags().StringVar(&configPath, "config", "", "path to a JSON configuration file (hbase.* keys)")
	start.Flags().StringVar(&bindAddr, "bind", ":8090", "address the RPC/admin HTTP server listens on")
	start.Flags().StringVar(&masterURL, "master", "http://localhost:8080", "base URL of the master process")
	start.Flags().StringVar(&serverName, "name", "", "this server's identity reported to the master (defaults to host:bind)")
	start.Flags().StringVar(&catalogDir, "catalog-dir", "", "filesystem catalog directory (overrides cassandra.hosts when set)")
	root.AddCommand(start)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	rs.ConfigureLogging()

	var cfg rs.Configuration
	if configPath != "" {
		loaded, err := rs.LoadConfiguration(configPath)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		cfg = loaded
	}
	if cfg.RootDir == "" {
		cfg.RootDir = "./data"
	}

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	if serverName == "" {
		serverName = host + bindAddr
	}
	incarnation := time.Now().UnixNano()

	log.Info("regionserver: starting", "name", serverName, "root", cfg.RootDir, "bind", bindAddr)

	l, err := wal.Open(cfg.RootDir, host, incarnation, portOf(bindAddr))
	if err != nil {
		return fmt.Errorf("opening write-ahead log: %w", err)
	}
	defer l.Close()

	reg := registry.New()
	leases := lease.NewManager(cfg.RegionServerLeasePeriod, cfg.RegionServerLeasePeriod/2)

	meta, err := openCatalog(cfg)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}

	opener := &regionOpener{cfg: cfg, log: l, reg: reg, meta: meta}

	m := master.New(masterURL, serverName, cfg, reg, opener, l)
	splitReporter := &catalogSplitReporter{meta: meta, master: m}
	overrides, err := m.Startup(cmd.Context())
	if err != nil {
		log.Warn("regionserver: master startup handshake failed, continuing with local configuration", "error", err)
	} else {
		cfg.ApplyOverrides(overrides)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	rpc.New(reg, leases).Mount(router)
	m.RegisterRoutes(router)

	httpServer := &http.Server{Addr: bindAddr, Handler: router}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := rs.NewTaskRunner(ctx, 0)
	runner.Go(func() error { return m.Run(runner.GetContext()) })
	runner.Go(func() error { return leases.Run(runner.GetContext()) })
	runner.Go(chore.NewFlusher(reg, cfg.MemcacheFlushSize, 30*time.Second).Run)
	runner.Go(chore.NewSplitOrCompactChecker(reg, 3, 4, cfg.MaxFilesize, splitReporter, time.Minute).Run)
	runner.Go(chore.NewLogRoller(l, cfg.MaxLogEntries, time.Minute).Run)
	runner.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	<-ctx.Done()
	log.Info("regionserver: shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	return runner.Wait()
}

// regionOpener implements master.Opener: it locates a region's on-disk
// directory under the configured root, opens it, and replays the
// write-ahead log tail before the master-instruction worker marks it OPEN.
type regionOpener struct {
	cfg  rs.Configuration
	log  *wal.Log
	reg  *registry.Registry
	meta catalog.Backend
}

func (o *regionOpener) OpenRegion(ctx context.Context, info rs.RegionInfo) (*region.Region, error) {
	dir := o.cfg.RootDir + "/regions/" + sanitize(info.Name())
	r := region.Open(dir, info, o.log)

	entries, err := o.log.Replay(ctx, r.Name(), r.MinFlushSeq())
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := r.ApplyReplayedEntry(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// catalogSplitReporter implements chore.SplitReporter: it writes the two new
// child rows (with ParentRefs pointing back at the still-live parent store
// files) and marks the parent offline/split in the catalog, then tells the
// master about the split on the next heartbeat, matching spec §4.7's "update
// the catalog table then report the split to the master, which reassigns
// children" (the heartbeat report is advisory; the master's own rescan is authoritative).
type catalogSplitReporter struct {
	meta   catalog.Backend
	master *master.Server
}

func (c *catalogSplitReporter) ReportSplit(ctx context.Context, parent string, left, right rs.RegionInfo, leftRefs, rightRefs map[string][]storefile.FileRef) {
	unlock, err := c.meta.Lock(ctx, []string{parent, left.Name(), right.Name()}, 0)
	if err != nil {
		log.Warn("regionserver: could not lock catalog rows for split", "region", parent, "error", err)
		return
	}
	defer unlock()

	row, ok, err := c.meta.Get(ctx, parent)
	if err != nil {
		log.Warn("regionserver: could not read parent catalog row after split", "region", parent, "error", err)
		return
	}
	if ok {
		row.Info.Offline = true
		row.Info.Split = true
		row.SplitA = left.Name()
		row.SplitB = right.Name()
		if err := c.meta.Put(ctx, row); err != nil {
			log.Warn("regionserver: could not update parent catalog row after split", "region", parent, "error", err)
			return
		}
	}

	if err := c.meta.Put(ctx, catalog.Row{Info: left, ParentRefs: leftRefs}); err != nil {
		log.Warn("regionserver: could not write left child catalog row", "region", left.Name(), "error", err)
		return
	}
	if err := c.meta.Put(ctx, catalog.Row{Info: right, ParentRefs: rightRefs}); err != nil {
		log.Warn("regionserver: could not write right child catalog row", "region", right.Name(), "error", err)
		return
	}

	c.master.Report(parent, "SPLIT")
	log.Info("regionserver: split recorded in catalog", "parent", parent, "left", left.Name(), "right", right.Name())
}

func openCatalog(cfg rs.Configuration) (catalog.Backend, error) {
	if catalogDir != "" || len(cfg.CassandraHosts) == 0 {
		dir := catalogDir
		if dir == "" {
			dir = cfg.RootDir + "/catalog"
		}
		return catalog.NewFSBackend(dir)
	}
	redisLocks := cache.NewClient(cfg.RedisOptions)
	return catalog.NewCassandraBackend(catalog.CassandraConfig{
		ClusterHosts: cfg.CassandraHosts,
		Keyspace:     "regionserver",
	}, redisLocks)
}

func sanitize(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		switch c := name[i]; c {
		case ',', '/', ' ':
			out = append(out, '_')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

func portOf(bindAddr string) int {
	for i := len(bindAddr) - 1; i >= 0; i-- {
		if bindAddr[i] == ':' {
			var port int
			if _, err := fmt.Sscanf(bindAddr[i+1:], "%d", &port); err == nil {
				return port
			}
			break
		}
	}
	return 0
}
