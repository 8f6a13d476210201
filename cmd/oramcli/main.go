package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/etclab/oramstore"
)

// harnessConfig mirrors config.yaml.
type harnessConfig struct {
	LogCapacity int    `yaml:"log_capacity"`
	BucketSize  int    `yaml:"bucket_size"`
	BlockSize   int    `yaml:"block_size"`
	Capacity    uint64 `yaml:"capacity"`
	StashLimit  int    `yaml:"stash_limit"`

	Backend    string `yaml:"backend"` // memory, file or badger
	Path       string `yaml:"path"`    // file path or badger directory
	KeyFile    string `yaml:"key_file"`
	PosMapFile string `yaml:"posmap_file"`
	StashFile  string `yaml:"stash_file"`
	Attach     bool   `yaml:"attach"`
}

func loadHarnessConfig(path string) (harnessConfig, error) {
	cfg := harnessConfig{
		LogCapacity: 4,
		BlockSize:   64,
		Backend:     "memory",
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "harness configuration file")
	flag.Parse()

	log := logrus.New()
	if err := run(*configPath, log); err != nil {
		log.WithError(err).Fatal("oramcli failed")
	}
}

func run(configPath string, log *logrus.Logger) error {
	hc, err := loadHarnessConfig(configPath)
	if err != nil {
		return err
	}

	cfg := oramstore.Config{
		LogCapacity: hc.LogCapacity,
		BucketSize:  hc.BucketSize,
		BlockSize:   hc.BlockSize,
		Capacity:    hc.Capacity,
		StashLimit:  hc.StashLimit,
		Attach:      hc.Attach,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	key, err := obtainKey(hc)
	if err != nil {
		return err
	}

	store, err := openStorage(hc, cfg, key, log)
	if err != nil {
		return err
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	posMap := oramstore.NewFlatPositionMap(cfg.Capacity, cfg.NumLeaves(), !hc.Attach)
	if hc.Attach && hc.PosMapFile != "" {
		if err := posMap.LoadFromFile(hc.PosMapFile); err != nil {
			return err
		}
	}
	stash := oramstore.NewInMemoryStash(cfg.StashLimit, cfg.BlockSize)
	if hc.Attach && hc.StashFile != "" {
		if err := stash.LoadFromFile(hc.StashFile); err != nil {
			return err
		}
	}

	oram, err := oramstore.New(cfg, store, posMap, stash)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"backend":  hc.Backend,
		"height":   oram.Height(),
		"capacity": oram.Capacity(),
		"block":    oram.BlockSize(),
	}).Info("engine ready")

	if err := repl(oram, log); err != nil {
		return err
	}

	if hc.PosMapFile != "" {
		if err := posMap.StoreToFile(hc.PosMapFile); err != nil {
			return err
		}
	}
	if hc.StashFile != "" {
		if err := stash.StoreToFile(hc.StashFile); err != nil {
			return err
		}
	}
	return nil
}

func obtainKey(hc harnessConfig) ([]byte, error) {
	if hc.KeyFile == "" {
		return nil, nil
	}
	if hc.Attach {
		return oramstore.LoadKey(hc.KeyFile)
	}
	key := oramstore.NewKey()
	if err := oramstore.SaveKey(hc.KeyFile, key); err != nil {
		return nil, err
	}
	return key, nil
}

func openStorage(hc harnessConfig, cfg oramstore.Config, key []byte, log *logrus.Logger) (oramstore.Storage, error) {
	switch hc.Backend {
	case "", "memory":
		return oramstore.NewInMemoryStorage(cfg.CellCapacity(), cfg.BlockSize, key)
	case "file":
		return oramstore.NewFileStorage(cfg.CellCapacity(), cfg.BlockSize, key, hc.Path, !hc.Attach, log)
	case "badger":
		return oramstore.NewBadgerStorage(cfg.CellCapacity(), cfg.BlockSize, key, hc.Path, !hc.Attach, log)
	default:
		return nil, fmt.Errorf("unknown backend %q", hc.Backend)
	}
}

// repl reads "put <id> <text>", "get <id>", "check" and "quit" commands
// from stdin.
func repl(oram *oramstore.ORAM, log *logrus.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: put <id> <text> | get <id> | check | quit")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "check":
			if err := oram.CheckConsistency(); err != nil {
				log.WithError(err).Error("consistency check failed")
			} else {
				fmt.Println("ok")
			}
		case "get":
			if len(fields) != 2 {
				fmt.Println("usage: get <id>")
				continue
			}
			id, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				fmt.Println("bad id:", err)
				continue
			}
			payload, err := oram.Get(id)
			if err != nil {
				log.WithError(err).Error("get failed")
				continue
			}
			fmt.Printf("%q\n", oramstore.ToText(payload))
		case "put":
			if len(fields) < 3 {
				fmt.Println("usage: put <id> <text>")
				continue
			}
			id, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				fmt.Println("bad id:", err)
				continue
			}
			payload, err := oramstore.FromText(strings.Join(fields[2:], " "), oram.BlockSize())
			if err != nil {
				fmt.Println("bad payload:", err)
				continue
			}
			if err := oram.Put(id, payload); err != nil {
				log.WithError(err).Error("put failed")
			}
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}
