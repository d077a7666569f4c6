// Command hearth is the operational CLI for the hearth page-store kernel:
// a live TUI inspector, a concurrent benchmark driver, and snapshot and
// restore of table files.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"hearth/pkg/backup"
	"hearth/pkg/bench"
	"hearth/pkg/concurrency/transaction"
	"hearth/pkg/dberr"
	"hearth/pkg/logging"
	"hearth/pkg/memory"
	"hearth/pkg/primitives"
	"hearth/pkg/storage/heap"
	"hearth/pkg/storage/page"
	"hearth/pkg/storage/sqlite"
	"hearth/pkg/telemetry"
	"hearth/pkg/ui"
)

const version = "0.1.0"

var cli struct {
	Config  string `name:"config" short:"c" help:"Path to a YAML config file." type:"path"`
	Verbose bool   `name:"verbose" short:"v" help:"Log at debug level."`

	Inspect  InspectCmd  `cmd:"" help:"Open a live TUI over a page store."`
	Bench    BenchCmd    `cmd:"" help:"Run a concurrent workload and report throughput and latency."`
	Snapshot SnapshotCmd `cmd:"" help:"Archive table files into a tar.xz snapshot."`
	Restore  RestoreCmd  `cmd:"" help:"Unpack a snapshot and verify its digests."`
	Version  VersionCmd  `cmd:"" help:"Print version information."`
}

// appEnv carries the parsed config and logger into the Run methods.
type appEnv struct {
	cfg    Config
	logger *zap.Logger
}

// openProvider builds the configured backing provider for one table and
// returns the table ID the provider serves pages under.
func (a *appEnv) openProvider(table string) (page.Provider, primitives.TableID, error) {
	switch a.cfg.Store.Backend {
	case "", "heap":
		path := primitives.Filepath(a.cfg.Store.DataDir).Join(table + ".dat")
		if err := path.MkdirAll(0o755); err != nil {
			return nil, 0, fmt.Errorf("failed to create data directory: %w", err)
		}
		f, err := heap.NewFile(path)
		if err != nil {
			return nil, 0, err
		}
		return f, f.TableID(), nil
	case "sqlite":
		p, err := sqlite.Open(a.cfg.Store.SQLiteDSN)
		if err != nil {
			return nil, 0, err
		}
		return p, primitives.Filepath(table).HashAsTableID(), nil
	default:
		return nil, 0, fmt.Errorf("unknown backend %q (want heap or sqlite)", a.cfg.Store.Backend)
	}
}

// openStore opens the provider and a store over it, with telemetry wired
// in when the config enables it.
func (a *appEnv) openStore(table string) (*memory.PageStore, primitives.TableID, telemetry.ShutdownFunc, error) {
	provider, tableID, err := a.openProvider(table)
	if err != nil {
		return nil, 0, nil, err
	}

	opts, err := a.cfg.Store.storeOptions()
	if err != nil {
		provider.Close()
		return nil, 0, nil, err
	}
	opts = append(opts, memory.WithLogger(a.logger))

	tel, shutdown, err := telemetry.New(a.cfg.Telemetry)
	if err != nil {
		provider.Close()
		return nil, 0, nil, err
	}
	metrics, err := telemetry.NewMetrics(tel.Meter)
	if err != nil {
		shutdown(context.Background())
		provider.Close()
		return nil, 0, nil, err
	}
	opts = append(opts, memory.WithMetrics(metrics))

	store := memory.NewPageStore(provider, opts...)
	if err := metrics.RegisterResidentPages(store.ResidentPages); err != nil {
		a.logger.Warn("failed to register cache occupancy gauge", zap.Error(err))
	}
	return store, tableID, shutdown, nil
}

// InspectCmd opens the TUI inspector over a store. With --readers or
// --writers it also drives background traffic, so the panels have
// something to show.
type InspectCmd struct {
	Table    string        `arg:"" optional:"" default:"demo" help:"Table to open."`
	Refresh  time.Duration `default:"500ms" help:"Panel refresh interval."`
	Readers  int           `default:"0" help:"Background read-only transactions."`
	Writers  int           `default:"0" help:"Background read-write transactions."`
	Pages    int           `default:"16" help:"Working set size for background traffic."`
	PageWait time.Duration `name:"pace" default:"25ms" help:"Delay between background transactions."`
}

func (c *InspectCmd) Run(a *appEnv) error {
	store, tableID, shutdown, err := a.openStore(c.Table)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())
	defer store.Close()

	coord := memory.NewTransactionCoordinator(store)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < c.Readers; i++ {
		wg.Add(1)
		go c.traffic(&wg, stop, store, coord, tableID, int64(i+1), transaction.ReadOnly)
	}
	for i := 0; i < c.Writers; i++ {
		wg.Add(1)
		go c.traffic(&wg, stop, store, coord, tableID, int64(1000+i), transaction.ReadWrite)
	}

	program := tea.NewProgram(ui.NewModel(store, coord, c.Refresh), tea.WithAltScreen())
	_, runErr := program.Run()

	close(stop)
	wg.Wait()
	return runErr
}

// traffic is one background worker: short transactions over a small
// working set, paced so the inspector stays readable. Aborts are the
// point of the exercise, not a failure.
func (c *InspectCmd) traffic(wg *sync.WaitGroup, stop <-chan struct{}, store *memory.PageStore,
	coord *memory.TransactionCoordinator, table primitives.TableID, seed int64, perm transaction.Permissions) {
	defer wg.Done()
	rng := rand.New(rand.NewSource(seed))

	for {
		select {
		case <-stop:
			return
		case <-time.After(c.PageWait):
		}

		tid := coord.Begin()
		pid := page.NewID(table, primitives.PageNumber(rng.Intn(c.Pages)))

		h, err := store.Get(tid, pid, perm)
		if err != nil {
			if !dberr.IsTransactionAborted(err) {
				_ = coord.Abort(tid)
			}
			continue
		}
		if perm.Exclusive() {
			_ = h.WriteAt(rng.Intn(page.PageSize), []byte{byte(rng.Intn(256))})
		} else {
			_, _ = h.Bytes()
		}
		_ = coord.Commit(tid)
	}
}

// BenchCmd runs the workload driver and prints its report.
type BenchCmd struct {
	Table    string        `arg:"" optional:"" default:"bench" help:"Table the working set lives in."`
	Readers  int           `default:"4" help:"Concurrent read-only transactions."`
	Writers  int           `default:"2" help:"Concurrent read-write transactions."`
	Pages    int           `default:"64" help:"Working set size in pages."`
	Duration time.Duration `default:"5s" help:"How long the workload runs."`
}

func (c *BenchCmd) Run(a *appEnv) error {
	provider, tableID, err := a.openProvider(c.Table)
	if err != nil {
		return err
	}
	defer provider.Close()

	opts, err := a.cfg.Store.storeOptions()
	if err != nil {
		return err
	}
	opts = append(opts, memory.WithLogger(a.logger))

	a.logger.Info("starting benchmark",
		zap.Int("readers", c.Readers),
		zap.Int("writers", c.Writers),
		zap.Int("pages", c.Pages),
		zap.Duration("duration", c.Duration))

	result, err := bench.Run(provider, bench.Config{
		Readers:  c.Readers,
		Writers:  c.Writers,
		Pages:    c.Pages,
		Duration: c.Duration,
		Table:    tableID,
	}, opts...)
	if err != nil {
		return err
	}

	fmt.Println(bench.Render(result))
	return nil
}

// SnapshotCmd archives table files (and their checksum sidecars) from the
// data directory into a tar.xz snapshot with a digest manifest.
type SnapshotCmd struct {
	Tables []string `arg:"" help:"Tables to include."`
	Out    string   `default:"snapshots" help:"Directory to write the archive into."`
}

func (c *SnapshotCmd) Run(a *appEnv) error {
	dataDir := primitives.Filepath(a.cfg.Store.DataDir)

	var files []primitives.Filepath
	for _, table := range c.Tables {
		data := dataDir.Join(table + ".dat")
		if !data.Exists() {
			return fmt.Errorf("table file %s does not exist", data)
		}
		files = append(files, data)
		if sums := data.WithExt(".sums"); sums.Exists() {
			files = append(files, sums)
		}
	}

	manifest, err := backup.Create(primitives.Filepath(c.Out), files...)
	if err != nil {
		return err
	}

	fmt.Printf("snapshot %s\n", manifest.Snapshot)
	fmt.Printf("archive  %s\n", manifest.Archive)
	for _, f := range manifest.Files {
		fmt.Printf("  %-30s %8d bytes  %s\n", f.Name, f.Size, f.Digest)
	}
	return nil
}

// RestoreCmd unpacks a snapshot into the data directory, verifying every
// file against its manifest digest.
type RestoreCmd struct {
	Archive string `arg:"" help:"Snapshot archive to restore." type:"path"`
	Dir     string `help:"Directory to unpack into (defaults to the configured data_dir)."`
}

func (c *RestoreCmd) Run(a *appEnv) error {
	dir := c.Dir
	if dir == "" {
		dir = a.cfg.Store.DataDir
	}

	manifest, err := backup.Restore(primitives.Filepath(c.Archive), primitives.Filepath(dir))
	if err != nil {
		return err
	}

	fmt.Printf("restored snapshot %s into %s\n", manifest.Snapshot, dir)
	for _, f := range manifest.Files {
		fmt.Printf("  %-30s verified\n", f.Name)
	}
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run(a *appEnv) error {
	fmt.Printf("hearth %s\n", version)
	return nil
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("hearth"),
		kong.Description("hearth - transactional page store kernel"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	cfg, err := loadConfig(cli.Config)
	ctx.FatalIfErrorf(err)
	if cli.Verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Logging)
	ctx.FatalIfErrorf(err)
	defer logger.Sync()

	err = ctx.Run(&appEnv{cfg: cfg, logger: logger})
	ctx.FatalIfErrorf(err)
}
