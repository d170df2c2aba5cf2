package countdb

import (
	"fmt"
	"log/slog"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

type Engine string

const (
	// EngineBadger stores each table in a badger LSM directory.
	EngineBadger Engine = "badger"
	// EngineBolt stores each table in a single bbolt file. Writes fail while
	// the store has open cursors; close them before updating.
	EngineBolt Engine = "bolt"
	// EngineMemory keeps tables in process memory. Stores survive Close but
	// not process exit; intended for tests.
	EngineMemory Engine = "memory"
)

// Options configure a store at open time. The zero value is not usable;
// start from DefaultOptions.
type Options struct {
	Engine Engine `yaml:"engine"`

	// CreateIfMissing lets Open create an absent store. Init always creates,
	// OpenExisting never does.
	CreateIfMissing bool `yaml:"create_if_missing"`

	// MaxOpenFiles is accepted for compatibility with LevelDB-era configs.
	// Neither bundled engine exposes a descriptor budget; it is validated
	// and logged at open.
	MaxOpenFiles int `yaml:"max_open_files"`

	// BlockCacheSize is the badger block cache budget in bytes. Keys are
	// short fixed-width integers, so a small cache goes a long way.
	BlockCacheSize int64 `yaml:"block_cache_size"`

	// IndexCacheSize is the badger table index cache budget in bytes; 0 keeps
	// indexes in memory.
	IndexCacheSize int64 `yaml:"index_cache_size"`

	// BloomBitsPerKey is the approximate-membership filter budget. Badger
	// takes a false positive rate instead; we use 0.6185^bits, the rate of an
	// optimally hashed bloom filter with that many bits per key.
	BloomBitsPerKey int `yaml:"bloom_bits_per_key"`

	SyncWrites bool `yaml:"sync_writes"`

	// MmapSize is the initial bbolt mmap size; 0 picks a default.
	MmapSize int `yaml:"mmap_size"`

	IsTesting bool `yaml:"-"`
	Verbose   bool `yaml:"verbose"`

	Logger *slog.Logger `yaml:"-"`
}

const (
	DefaultMaxOpenFiles    = 20
	DefaultBlockCacheSize  = 512 * 1024
	DefaultBloomBitsPerKey = 1
)

func DefaultOptions() Options {
	return Options{
		Engine:          EngineBadger,
		CreateIfMissing: true,
		MaxOpenFiles:    DefaultMaxOpenFiles,
		BlockCacheSize:  DefaultBlockCacheSize,
		BloomBitsPerKey: DefaultBloomBitsPerKey,
	}
}

// TestingOptions returns options for throwaway stores.
func TestingOptions(engine Engine) Options {
	opt := DefaultOptions()
	opt.Engine = engine
	opt.IsTesting = true
	return opt
}

// LoadOptionsFile reads YAML options from path on top of DefaultOptions.
func LoadOptionsFile(path string) (Options, error) {
	opt := DefaultOptions()
	raw, err := os.ReadFile(path)
	if err != nil {
		return opt, fmt.Errorf("countdb: reading options: %w", err)
	}
	if err := yaml.Unmarshal(raw, &opt); err != nil {
		return opt, fmt.Errorf("countdb: parsing options %s: %w", path, err)
	}
	if err := opt.Validate(); err != nil {
		return opt, err
	}
	return opt, nil
}

func (opt *Options) Validate() error {
	switch opt.Engine {
	case EngineBadger, EngineBolt, EngineMemory:
	default:
		return fmt.Errorf("countdb: unknown engine %q", opt.Engine)
	}
	if opt.MaxOpenFiles < 0 {
		return fmt.Errorf("countdb: max_open_files must not be negative")
	}
	if opt.BlockCacheSize < 0 || opt.IndexCacheSize < 0 {
		return fmt.Errorf("countdb: cache sizes must not be negative")
	}
	if opt.BloomBitsPerKey < 0 {
		return fmt.Errorf("countdb: bloom_bits_per_key must not be negative")
	}
	return nil
}

func (opt *Options) logger() *slog.Logger {
	if opt.Logger != nil {
		return opt.Logger
	}
	return slog.Default()
}

// bloomFalsePositive converts a bits-per-key budget into badger's false
// positive rate. 0 bits disables the filter.
func (opt *Options) bloomFalsePositive() float64 {
	if opt.BloomBitsPerKey <= 0 {
		return 0
	}
	return math.Pow(0.6185, float64(opt.BloomBitsPerKey))
}
