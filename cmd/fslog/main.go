// Command fslog formats, recovers and exercises journaled disk images.
//
//	fslog [-config fslog.yaml] [-disk path] mkfs
//	fslog ... recover
//	fslog ... header
//	fslog ... stress [-workers n] [-ops n]
package main

import (
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tchajed/marshal"
	"go.uber.org/zap"

	"github.com/mit-pdos/go-fslog/addr"
	"github.com/mit-pdos/go-fslog/alloc"
	"github.com/mit-pdos/go-fslog/common"
	"github.com/mit-pdos/go-fslog/config"
	"github.com/mit-pdos/go-fslog/disk"
	"github.com/mit-pdos/go-fslog/jrnl"
	"github.com/mit-pdos/go-fslog/lockmap"
	"github.com/mit-pdos/go-fslog/repblock"
	"github.com/mit-pdos/go-fslog/super"
	"github.com/mit-pdos/go-fslog/twophase"
	"github.com/mit-pdos/go-fslog/util"
	"github.com/mit-pdos/go-fslog/wal"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] mkfs|recover|header|stress [args]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	diskPath := flag.String("disk", "", "disk image (overrides disk.path)")
	blocks := flag.Uint64("blocks", 0, "image size in blocks (overrides disk.blocks)")
	debug := flag.Uint64("debug", 0, "debug trace level (overrides debug)")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if *diskPath != "" {
		cfg.Disk.Path = *diskPath
	}
	if *blocks != 0 {
		cfg.Disk.Blocks = *blocks
	}
	if *debug != 0 {
		cfg.Debug = *debug
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := util.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()
	util.SetLogger(logger)
	util.Debug = cfg.Debug

	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		if cfg.Metrics.Listen != "" {
			go serveMetrics(cfg.Metrics.Listen, reg)
		}
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "mkfs":
		err = mkfs(cfg)
	case "recover":
		err = recoverImage(cfg, reg)
	case "header":
		err = header(cfg)
	case "stress":
		err = stress(cfg, reg, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd+" failed", zap.Error(err))
		os.Exit(1)
	}
	if reg != nil {
		dumpMetrics(reg)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		util.Logger().Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
	}
}

func registerer(reg *prometheus.Registry) prometheus.Registerer {
	if reg == nil {
		return nil
	}
	return reg
}

func mkfs(cfg *config.Config) error {
	d, err := cfg.OpenDisk()
	if err != nil {
		return err
	}
	defer d.Close()
	sb, err := super.MkFsSuper(cfg.Disk.Blocks, cfg.Disk.LogBlocks, cfg.Disk.Inodes)
	if err != nil {
		return err
	}
	if err := super.Format(d, sb); err != nil {
		return err
	}
	fmt.Printf("%s: %d blocks, log %d at %d, inodes at %d, bitmap at %d, %d data blocks\n",
		sb.ID, sb.Size, sb.NLog, sb.LogStart, sb.InodeStart, sb.BmapStart, sb.NBlocks)
	return nil
}

func mount(cfg *config.Config, reg *prometheus.Registry) (*jrnl.Journal, error) {
	d, err := cfg.OpenDisk()
	if err != nil {
		return nil, err
	}
	j, err := jrnl.Mount(common.ROOTDEV, d, cfg.MountOptions(), registerer(reg))
	if err != nil {
		d.Close()
		return nil, err
	}
	return j, nil
}

// recoverImage mounts the image, which replays a committed transaction, and
// unmounts it again.
func recoverImage(cfg *config.Config, reg *prometheus.Registry) error {
	d, err := cfg.OpenDisk()
	if err != nil {
		return err
	}
	sb, err := super.Read(d)
	if err != nil {
		d.Close()
		return err
	}
	pending, err := wal.ReadHeader(d, sb.LogStart)
	if err != nil {
		d.Close()
		return err
	}
	j, err := jrnl.Mount(common.ROOTDEV, d, cfg.MountOptions(), registerer(reg))
	if err != nil {
		d.Close()
		return err
	}
	fmt.Printf("recovered %d blocks\n", len(pending))
	return j.Unmount()
}

func header(cfg *config.Config) error {
	d, err := cfg.OpenDisk()
	if err != nil {
		return err
	}
	defer d.Close()
	sb, err := super.Read(d)
	if err != nil {
		return err
	}
	blocks, err := wal.ReadHeader(d, sb.LogStart)
	if err != nil {
		return err
	}
	fmt.Printf("log header at %d: %d blocks\n", sb.LogStart, len(blocks))
	for i, bn := range blocks {
		fmt.Printf("  slot %d -> block %d\n", i, bn)
	}
	return nil
}

func stress(cfg *config.Config, reg *prometheus.Registry, args []string) error {
	fs := flag.NewFlagSet("stress", flag.ExitOnError)
	workers := fs.Int("workers", 8, "concurrent goroutines")
	nops := fs.Int("ops", 100, "operations per goroutine")
	if err := fs.Parse(args); err != nil {
		return err
	}

	j, err := mount(cfg, reg)
	if err != nil {
		return err
	}
	a := alloc.MkAlloc(j.Super())

	var rb *repblock.RepBlock
	err = j.Do(func(op *jrnl.Op) error {
		a0 := a.AllocBlock(op)
		a1 := a.AllocBlock(op)
		if a1 != a0+1 {
			return errors.New("stress: no two adjacent free blocks for the replicated block")
		}
		rb = repblock.Open(j, a0)
		return nil
	})
	if err != nil {
		j.Unmount()
		return err
	}

	lm := lockmap.MkLockMap()
	before := sumCounters(j)

	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(w)))
			var mine []common.Bnum
			for i := 0; i < *nops; i++ {
				tp := twophase.Begin(j, lm)
				op := tp.Op()
				if len(mine) > 0 && r.Intn(2) == 0 {
					a.FreeBlock(op, mine[0])
					mine = mine[1:]
				} else {
					bn := a.AllocBlock(op)
					blk := make(disk.Block, disk.BlockSize)
					r.Read(blk)
					op.OverWrite(bn, blk)
					mine = append(mine, bn)
				}
				increment(tp, counterAddr(j.Super(), uint64(r.Intn(ncounters))))
				tp.End()
				if i%10 == 0 {
					blk := make(disk.Block, disk.BlockSize)
					blk[0] = byte(w)
					rb.Write(blk)
				}
			}
			for _, bn := range mine {
				op := jrnl.Begin(j)
				a.FreeBlock(op, bn)
				op.End()
			}
		}(w)
	}
	wg.Wait()

	op := jrnl.Begin(j)
	free := a.NumFree(op)
	op.End()
	total := uint64(*workers * *nops)
	util.Logger().Info("stress done",
		zap.Int("workers", *workers),
		zap.Uint64("ops", total),
		zap.Uint64("free_blocks", free))
	if after := sumCounters(j); after-before != total {
		return fmt.Errorf("stress: counters advanced by %d, want %d", after-before, total)
	}
	b0, b1 := rb.ReadBoth()
	if b0[0] != b1[0] {
		return errors.New("stress: replicated block copies differ")
	}
	j.Do(func(op *jrnl.Op) error {
		a.FreeBlock(op, rb.Addr())
		a.FreeBlock(op, rb.Addr()+1)
		return nil
	})
	return j.Unmount()
}

// ncounters 8-byte counters live in the first inode slots.
const ncounters = 8

func counterAddr(sb *super.FsSuper, i uint64) addr.Addr {
	return addr.MkByteAddr(sb.IBlock(i), (i%super.IPB)*super.INODESZ)
}

func increment(tp *twophase.TwoPhase, a addr.Addr) {
	o := tp.ReadObj(a, 64)
	v := marshal.NewDec(o.Data).GetInt()
	enc := marshal.NewEnc(8)
	enc.PutInt(v + 1)
	o.Data = enc.Finish()
	tp.WriteObj(o)
}

func sumCounters(j *jrnl.Journal) uint64 {
	op := jrnl.Begin(j)
	defer op.End()
	var sum uint64
	for i := uint64(0); i < ncounters; i++ {
		sum += marshal.NewDec(op.ReadObj(counterAddr(j.Super(), i), 64).Data).GetInt()
	}
	return sum
}

func dumpMetrics(reg *prometheus.Registry) {
	mfs, err := reg.Gather()
	if err != nil {
		util.Logger().Warn("gather metrics", zap.Error(err))
		return
	}
	sort.Slice(mfs, func(i, k int) bool { return mfs[i].GetName() < mfs[k].GetName() })
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				fmt.Printf("%s %g\n", mf.GetName(), m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				fmt.Printf("%s %g\n", mf.GetName(), m.GetGauge().GetValue())
			}
		}
	}
}
