package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"rollupstate/config"
	jmt "rollupstate/jmt"
	"rollupstate/kvstore"
	"rollupstate/logs"
	"rollupstate/snapshot"
	"rollupstate/state"
	"rollupstate/stats"
	"rollupstate/witness"
)

var (
	// global flags
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "YAML config file",
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "BadgerDB directory (overrides storage.data_dir)",
	}
	hasherFlag = &cli.StringFlag{
		Name:  "hasher",
		Usage: "tree hash function: sha256, sha3 or keccak (overrides storage.hasher)",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "trace, debug, verbose, info, warn or error",
	}

	versionFlag = &cli.Uint64Flag{
		Name:  "version",
		Usage: "durable version to read at (defaults to the latest)",
	}

	timingsFlag = &cli.BoolFlag{
		Name:  "timings",
		Usage: "print per-operation latency after the command",
	}

	// commands
	initCmd = &cli.Command{
		Name:      "init",
		Usage:     "Write the genesis version from key=value pairs",
		ArgsUsage: "[key=value ...]",
		Action:    initAction,
	}

	putCmd = &cli.Command{
		Name:      "put",
		Usage:     "Apply one batch of writes as the next version",
		ArgsUsage: "[key=value ...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "delete", Usage: "keys to delete"},
			&cli.StringSliceFlag{Name: "aux", Usage: "accessory key=value writes"},
			timingsFlag,
		},
		Action: putAction,
	}

	getCmd = &cli.Command{
		Name:      "get",
		Usage:     "Read keys from the latest state",
		ArgsUsage: "key [key ...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "aux", Usage: "read from the accessory store"},
		},
		Action: getAction,
	}

	proveCmd = &cli.Command{
		Name:      "prove",
		Usage:     "Print hex-encoded storage proofs for keys",
		ArgsUsage: "key [key ...]",
		Flags:     []cli.Flag{versionFlag, timingsFlag},
		Action:    proveAction,
	}

	verifyCmd = &cli.Command{
		Name:      "verify",
		Usage:     "Check a hex-encoded storage proof against a root",
		ArgsUsage: "proof-hex",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Usage: "hex state root", Required: true},
		},
		Action: verifyAction,
	}

	pruneCmd = &cli.Command{
		Name:  "prune",
		Usage: "Drop history that is not visible at or after a version",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "before", Usage: "oldest version to keep readable", Required: true},
		},
		Action: pruneAction,
	}

	infoCmd = &cli.Command{
		Name:   "info",
		Usage:  "Show the latest durable version and root",
		Action: infoAction,
	}
)

// env 一次命令使用的存储资源
type env struct {
	cfg       config.StorageConfig
	db        *badger.DB
	store     *kvstore.BadgerStore
	accessory *kvstore.BadgerAccessoryStore
	hasher    jmt.MerkleHasher
	layers    *snapshot.RWLock[*snapshot.Manager]
	latency   *stats.Recorder
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path := c.String(configFlag.Name); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if c.IsSet(dataDirFlag.Name) {
		cfg.Storage.DataDir = c.String(dataDirFlag.Name)
	}
	if c.IsSet(hasherFlag.Name) {
		cfg.Storage.Hasher = c.String(hasherFlag.Name)
	}
	if c.IsSet(logLevelFlag.Name) {
		cfg.Log.Level = c.String(logLevelFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openEnv(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	level, _ := logs.ParseLevel(cfg.Log.Level)
	logs.SetLevel(level)

	hasher, err := cfg.Storage.NewHasher()
	if err != nil {
		return nil, err
	}
	db, err := kvstore.OpenBadger(cfg.Storage.BadgerOptions())
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:       cfg.Storage,
		db:        db,
		store:     kvstore.NewBadgerStore(db, []byte(cfg.Storage.Prefix)),
		accessory: kvstore.NewBadgerAccessoryStore(db, []byte(cfg.Storage.AccessoryPrefix)),
		hasher:    hasher,
		layers:    snapshot.NewRWLock(snapshot.NewManager(cfg.Storage.BloomBits)),
		latency:   stats.NewRecorder(stats.DefaultWindow),
	}, nil
}

func (e *env) Close() {
	_ = e.store.Close()
	if err := e.db.Close(); err != nil {
		logs.Error("close badger: %v", err)
	}
}

func (e *env) prover(id snapshot.SnapshotId) *state.ProverStorage {
	return state.NewProverStorage(id, e.store, e.accessory, snapshot.ResolverOf(e.layers), e.hasher,
		state.WithNodeCacheSize(e.cfg.NodeCacheSize), state.WithLatency(e.latency))
}

func (e *env) printTimings(c *cli.Context) {
	if !c.Bool(timingsFlag.Name) {
		return
	}
	for op, s := range e.latency.Snapshot(false) {
		fmt.Fprintf(c.App.ErrWriter, "%s: %s\n", op, s)
	}
}

// withEnv 打开存储执行 fn 后关闭
func withEnv(fn func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := openEnv(c)
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(c, e)
	}
}

func parsePairs(args []string) ([]state.KeyValue, error) {
	out := make([]state.KeyValue, 0, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		out = append(out, state.KeyValue{
			Key:   state.NewStorageKey([]byte(k)),
			Value: state.NewStorageValue([]byte(v)),
		})
	}
	return out, nil
}

func formatValue(v *state.StorageValue) string {
	if v == nil {
		return "<absent>"
	}
	return fmt.Sprintf("%q", v.Bytes())
}

// ============================================
// Actions
// ============================================

var initAction = withEnv(func(c *cli.Context, e *env) error {
	writes, err := parsePairs(c.Args().Slice())
	if err != nil {
		return err
	}
	root, err := state.InitGenesis(e.store, e.hasher, writes)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "genesis root %x\n", root)
	return nil
})

// putAction 一个批次走完整流程：开快照层、计算、封存、提交、合并到持久存储
var putAction = withEnv(func(c *cli.Context, e *env) error {
	writes, err := parsePairs(c.Args().Slice())
	if err != nil {
		return err
	}
	for _, k := range c.StringSlice("delete") {
		writes = append(writes, state.KeyValue{Key: state.NewStorageKey([]byte(k))})
	}
	aux, err := parsePairs(c.StringSlice("aux"))
	if err != nil {
		return err
	}
	if len(writes) == 0 && len(aux) == 0 {
		return errors.New("nothing to write")
	}

	next, err := e.store.NextVersion()
	if err != nil {
		return err
	}
	if next == 0 {
		return errors.Wrap(state.ErrNoGenesis, "run init first")
	}
	id := snapshot.SnapshotId(next)
	s := e.prover(id)

	e.layers.Write(func(m *snapshot.Manager) { err = m.Begin(id, snapshot.Durable) })
	if err != nil {
		return err
	}
	root, update, err := s.ComputeStateUpdate(state.OrderedReadsAndWrites{OrderedWrites: writes}, witness.New())
	if err != nil {
		e.layers.Write(func(m *snapshot.Manager) { _ = m.Discard(id) })
		return err
	}

	auxChanges := make([]snapshot.Change, len(aux))
	for i, kv := range aux {
		auxChanges[i] = snapshot.Change{Key: kv.Key.Bytes(), Value: kv.Value.Bytes()}
	}
	e.layers.Write(func(m *snapshot.Manager) { err = m.Seal(id, update.Changes(), auxChanges) })
	if err != nil {
		return err
	}
	if err := s.Commit(update, aux); err != nil {
		return err
	}
	e.layers.Write(func(m *snapshot.Manager) { err = m.Finalize(id) })
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "version %d root %x\n", update.Version(), root)
	e.printTimings(c)
	return nil
})

var getAction = withEnv(func(c *cli.Context, e *env) error {
	if c.NArg() == 0 {
		return errors.New("at least one key is required")
	}
	s := e.prover(snapshot.Durable)
	w := witness.New()
	for _, k := range c.Args().Slice() {
		key := state.NewStorageKey([]byte(k))
		var (
			v   *state.StorageValue
			err error
		)
		if c.Bool("aux") {
			v, err = s.GetAccessory(key)
		} else {
			v, err = s.Get(key, w)
		}
		if err != nil {
			return errors.Wrapf(err, "get %q", k)
		}
		fmt.Fprintf(c.App.Writer, "%s %s\n", k, formatValue(v))
	}
	return nil
})

// proveAction 并行生成证明，按参数顺序输出
var proveAction = withEnv(func(c *cli.Context, e *env) error {
	if c.NArg() == 0 {
		return errors.New("at least one key is required")
	}
	s := e.prover(snapshot.Durable)
	version, root, err := s.LatestVersion()
	if err != nil {
		return err
	}
	if c.IsSet(versionFlag.Name) {
		version = kvstore.Version(c.Uint64(versionFlag.Name))
		if root, err = s.RootAt(version); err != nil {
			return err
		}
	}

	keys := c.Args().Slice()
	proofs := make([][]byte, len(keys))
	g, _ := errgroup.WithContext(c.Context)
	for i, k := range keys {
		i, k := i, k
		g.Go(func() error {
			p, err := s.GetWithProofAtVersion(state.NewStorageKey([]byte(k)), version)
			if err != nil {
				return err
			}
			proofs[i] = p.Marshal()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "version %d root %x\n", version, root)
	for i, k := range keys {
		fmt.Fprintf(c.App.Writer, "%s %x\n", k, proofs[i])
	}
	e.printTimings(c)
	return nil
})

// verifyAction 纯校验，不打开数据库
func verifyAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one proof is required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	hasher, err := cfg.Storage.NewHasher()
	if err != nil {
		return err
	}
	root, err := hex.DecodeString(c.String("root"))
	if err != nil {
		return errors.Wrap(err, "decode root")
	}
	raw, err := hex.DecodeString(c.Args().First())
	if err != nil {
		return errors.Wrap(err, "decode proof")
	}
	proof, err := state.UnmarshalStorageProof(raw)
	if err != nil {
		return err
	}
	key, value, err := state.OpenProof(root, proof, hasher)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "valid %s %s\n", key.Bytes(), formatValue(value))
	return nil
}

var pruneAction = withEnv(func(c *cli.Context, e *env) error {
	before := kvstore.Version(c.Uint64("before"))
	if err := e.store.Prune(before); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "pruned history before version %d\n", before)
	return nil
})

var infoAction = withEnv(func(c *cli.Context, e *env) error {
	s := e.prover(snapshot.Durable)
	version, root, err := s.LatestVersion()
	if err != nil {
		return err
	}
	empty, err := s.IsEmpty()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "hasher %s\nversion %d\nroot %x\nempty %t\n", e.cfg.Hasher, version, root, empty)
	return nil
})
