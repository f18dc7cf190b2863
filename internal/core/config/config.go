package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type RedisCfg struct {
	Enabled bool
	Addr    string
	TTL     time.Duration
}

type EventsCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	Queue   int
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int
	LayersFile string

	MaxRetry         int
	RetryBackoff     []time.Duration
	MinMaxInheritGap int

	SchedMaxRunning int
	SchedDropCheck  time.Duration

	CacheImagerySize   int
	CacheElevationSize int
	CacheElevationTTL  time.Duration
	BytesL1MaxCost     int64
	FetchTimeout       time.Duration
	Redis              RedisCfg
	Events             EventsCfg

	FrameInterval  time.Duration
	TreeDepth      int
	MetricsEnabled bool
}

var defaultBackoff = []time.Duration{time.Second, 3 * time.Second, 7 * time.Second, time.Minute}

// FromEnv reads the process environment, after loading .env from the working
// directory when one exists. Variables already set win over the file.
func FromEnv() Config {
	_ = godotenv.Load()

	backoff := parseDurationList(getenv("RETRY_BACKOFF", ""))
	if len(backoff) == 0 {
		backoff = defaultBackoff
	}
	depth := getint("TREE_DEPTH", 3)
	if depth < 0 {
		depth = 0
	}

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),
		LayersFile: getenv("LAYERS_FILE", "layers.toml"),

		MaxRetry:         getint("MAX_RETRY", 4),
		RetryBackoff:     backoff,
		MinMaxInheritGap: getint("MINMAX_INHERIT_GAP", 6),

		SchedMaxRunning: getint("SCHED_MAX_RUNNING", 16),
		SchedDropCheck:  getduration("SCHED_DROP_CHECK", 100*time.Millisecond),

		CacheImagerySize:   getint("CACHE_IMAGERY_SIZE", 2048),
		CacheElevationSize: getint("CACHE_ELEVATION_SIZE", 0),
		CacheElevationTTL:  getduration("CACHE_ELEVATION_TTL", 10*time.Minute),
		BytesL1MaxCost:     getint64("BYTES_L1_MAX_COST", 64<<20),
		FetchTimeout:       getduration("FETCH_TIMEOUT", 30*time.Second),
		Redis: RedisCfg{
			Enabled: getbool("REDIS_ENABLED", false),
			Addr:    getenv("REDIS_ADDR", "localhost:6379"),
			TTL:     getduration("REDIS_TTL", time.Hour),
		},
		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "tile-texture-updates"),
			Queue:   getint("EVENTS_QUEUE", 1024),
		},

		FrameInterval:  getduration("FRAME_INTERVAL", 50*time.Millisecond),
		TreeDepth:      depth,
		MetricsEnabled: getbool("METRICS_ENABLED", true),
	}
}

// BrokerList splits the comma separated broker list.
func (e EventsCfg) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(e.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "1s,3s,7s,1m"; any malformed entry invalidates the whole list
func parseDurationList(s string) []time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []time.Duration
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := time.ParseDuration(p)
		if err != nil || d < 0 {
			return nil
		}
		out = append(out, d)
	}
	return out
}
