package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sheerbytes/chunkcast/internal/logging"
	"github.com/sheerbytes/chunkcast/internal/scheduler"
	"github.com/sheerbytes/chunkcast/pkg/protocol"
)

const envPrefix = "CHUNKCAST_"

// Transports understood by the client.
const (
	TransportTCP  = "tcp"
	TransportQUIC = "quic"
	TransportWS   = "ws"
)

// ServerConfig holds configuration for the server binary.
type ServerConfig struct {
	Addr        string `yaml:"addr"`         // TCP listen address, empty disables
	QUICAddr    string `yaml:"quic-addr"`    // QUIC listen address, empty disables
	WSAddr      string `yaml:"ws-addr"`      // WebSocket listen address, empty disables
	WSPath      string `yaml:"ws-path"`      // WebSocket upgrade path
	MetricsAddr string `yaml:"metrics-addr"` // Prometheus listen address, empty disables
	Manifest    string `yaml:"manifest"`     // listing file; empty scans Root
	Root        string `yaml:"root"`         // directory files are served from
	LogLevel    string `yaml:"log-level"`
	// StrictPriority answers unknown priority classes with ERR.
	StrictPriority bool           `yaml:"strict-priority"`
	Priorities     map[string]int `yaml:"priorities"`
	HeaderSize     int            `yaml:"header-size"`
	ChunkSize      int            `yaml:"chunk-size"`
}

// ClientConfig holds configuration for the client binary.
type ClientConfig struct {
	Server    string `yaml:"server"`
	Transport string `yaml:"transport"`
	WSPath    string `yaml:"ws-path"`
	OutputDir string `yaml:"output"`
	LogLevel  string `yaml:"log-level"`
	Priority  string `yaml:"priority"` // class for requests that name none
	// List only prints the manifest and exits.
	List       bool `yaml:"list"`
	HeaderSize int  `yaml:"header-size"`
	ChunkSize  int  `yaml:"chunk-size"`

	Requests []protocol.GetRequest `yaml:"-"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           ":9000",
		WSPath:         "/ws",
		Root:           ".",
		LogLevel:       "info",
		StrictPriority: true,
		HeaderSize:     protocol.DefaultHeaderSize,
		ChunkSize:      protocol.DefaultChunkSize,
	}
}

// DefaultClientConfig returns the built-in client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Server:     "localhost:9000",
		Transport:  TransportTCP,
		WSPath:     "/ws",
		OutputDir:  ".",
		LogLevel:   "info",
		Priority:   scheduler.PriorityNormal,
		HeaderSize: protocol.DefaultHeaderSize,
		ChunkSize:  protocol.DefaultChunkSize,
	}
}

// Weights builds the priority table, falling back to the defaults.
func (c ServerConfig) Weights() (scheduler.Weights, error) {
	if len(c.Priorities) == 0 {
		return scheduler.DefaultWeights(), nil
	}
	return scheduler.NewWeights(c.Priorities)
}

// Codec returns the frame codec for the configured geometry.
func (c ServerConfig) Codec() protocol.Codec {
	return protocol.NewCodec(c.HeaderSize, c.ChunkSize)
}

// Codec returns the frame codec for the configured geometry.
func (c ClientConfig) Codec() protocol.Codec {
	return protocol.NewCodec(c.HeaderSize, c.ChunkSize)
}

// Validate checks field combinations that flag parsing cannot.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.Addr == "" && c.QUICAddr == "" && c.WSAddr == "" {
		errs = append(errs, errors.New("no listener enabled: set addr, quic-addr or ws-addr"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Weights(); err != nil {
		errs = append(errs, err)
	}
	if c.HeaderSize < 0 || c.ChunkSize < 0 {
		errs = append(errs, errors.New("header-size and chunk-size must not be negative"))
	}
	if c.WSAddr != "" && !strings.HasPrefix(c.WSPath, "/") {
		errs = append(errs, fmt.Errorf("ws-path %q must start with /", c.WSPath))
	}
	return errors.Join(errs...)
}

// Validate checks field combinations that flag parsing cannot.
func (c ClientConfig) Validate() error {
	var errs []error
	switch c.Transport {
	case TransportTCP, TransportQUIC, TransportWS:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if c.Server == "" {
		errs = append(errs, errors.New("server address is empty"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if !c.List && len(c.Requests) == 0 {
		errs = append(errs, errors.New("no files requested"))
	}
	return errors.Join(errs...)
}

// ParseServerConfig parses server configuration from an optional YAML file,
// environment variables and flags, in increasing order of precedence.
func ParseServerConfig() (ServerConfig, error) {
	return parseServerConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseServerConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseServerConfigWithFlagSet(fs *flag.FlagSet, args []string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	path := configPath(args)
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	// Environment overrides the file
	env := envReader{}
	env.str("ADDR", &cfg.Addr)
	env.str("QUIC_ADDR", &cfg.QUICAddr)
	env.str("WS_ADDR", &cfg.WSAddr)
	env.str("WS_PATH", &cfg.WSPath)
	env.str("METRICS_ADDR", &cfg.MetricsAddr)
	env.str("MANIFEST", &cfg.Manifest)
	env.str("ROOT", &cfg.Root)
	env.str("LOG_LEVEL", &cfg.LogLevel)
	env.bool("STRICT_PRIORITY", &cfg.StrictPriority)
	env.int("HEADER_SIZE", &cfg.HeaderSize)
	env.int("CHUNK_SIZE", &cfg.ChunkSize)
	env.priorities("PRIORITIES", &cfg.Priorities)
	if err := env.err(); err != nil {
		return cfg, err
	}

	// Flags override environment
	var priorities []string
	fs.String("config", path, "YAML configuration file")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "TCP listen address (empty disables)")
	fs.StringVar(&cfg.QUICAddr, "quic-addr", cfg.QUICAddr, "QUIC listen address (empty disables)")
	fs.StringVar(&cfg.WSAddr, "ws-addr", cfg.WSAddr, "WebSocket listen address (empty disables)")
	fs.StringVar(&cfg.WSPath, "ws-path", cfg.WSPath, "WebSocket upgrade path")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (empty disables)")
	fs.StringVar(&cfg.Manifest, "manifest", cfg.Manifest, "manifest listing file (default: scan --root)")
	fs.StringVar(&cfg.Root, "root", cfg.Root, "directory to serve files from")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.StrictPriority, "strict-priority", cfg.StrictPriority, "reject unknown priority classes with ERR")
	fs.IntVar(&cfg.HeaderSize, "header-size", cfg.HeaderSize, "frame header width in bytes")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "file chunk size in bytes")
	fs.Var((*stringSlice)(&priorities), "priority", "priority class weight CLASS=N (repeatable, replaces the table)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if len(priorities) > 0 {
		table, err := parsePriorities(strings.Join(priorities, ","))
		if err != nil {
			return cfg, fmt.Errorf("--priority: %w", err)
		}
		cfg.Priorities = table
	}
	return cfg, cfg.Validate()
}

// ParseClientConfig parses client configuration. Positional arguments are
// requests of the form filename[:PRIORITY].
func ParseClientConfig() (ClientConfig, error) {
	return parseClientConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseClientConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseClientConfigWithFlagSet(fs *flag.FlagSet, args []string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	path := configPath(args)
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	env := envReader{}
	env.str("SERVER", &cfg.Server)
	env.str("TRANSPORT", &cfg.Transport)
	env.str("WS_PATH", &cfg.WSPath)
	env.str("OUTPUT", &cfg.OutputDir)
	env.str("LOG_LEVEL", &cfg.LogLevel)
	env.str("PRIORITY", &cfg.Priority)
	env.int("HEADER_SIZE", &cfg.HeaderSize)
	env.int("CHUNK_SIZE", &cfg.ChunkSize)
	if err := env.err(); err != nil {
		return cfg, err
	}

	fs.String("config", path, "YAML configuration file")
	fs.StringVar(&cfg.Server, "server", cfg.Server, "server address (host:port)")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "transport (tcp, quic, ws)")
	fs.StringVar(&cfg.WSPath, "ws-path", cfg.WSPath, "WebSocket upgrade path")
	fs.StringVar(&cfg.OutputDir, "output", cfg.OutputDir, "directory to write received files to")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Priority, "priority", cfg.Priority, "priority class for requests that name none")
	fs.BoolVar(&cfg.List, "list", cfg.List, "print the server manifest and exit")
	fs.IntVar(&cfg.HeaderSize, "header-size", cfg.HeaderSize, "frame header width in bytes")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "file chunk size in bytes")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	for _, arg := range fs.Args() {
		req, err := ParseRequest(arg, cfg.Priority)
		if err != nil {
			return cfg, err
		}
		cfg.Requests = append(cfg.Requests, req)
	}
	return cfg, cfg.Validate()
}

// ParseRequest parses "filename[:PRIORITY]".
func ParseRequest(arg, defaultPriority string) (protocol.GetRequest, error) {
	name, class := arg, defaultPriority
	if i := strings.LastIndex(arg, ":"); i >= 0 {
		name, class = arg[:i], arg[i+1:]
	}
	if name == "" || class == "" || strings.ContainsAny(name+class, " \t\r\n") {
		return protocol.GetRequest{}, fmt.Errorf("invalid request %q: want filename[:PRIORITY]", arg)
	}
	return protocol.GetRequest{Filename: name, Priority: class}, nil
}

// configPath finds --config before flags are parsed, so the file can supply
// flag defaults. CHUNKCAST_CONFIG is used when no flag is given.
func configPath(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		for _, name := range []string{"-config", "--config"} {
			if arg == name && i+1 < len(args) {
				return args[i+1]
			}
			if v, ok := strings.CutPrefix(arg, name+"="); ok {
				return v
			}
		}
	}
	return os.Getenv(envPrefix + "CONFIG")
}

func loadFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// parsePriorities parses "CLASS=N,CLASS=N".
func parsePriorities(s string) (map[string]int, error) {
	table := make(map[string]int)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		class, weight, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("priority %q: want CLASS=N", item)
		}
		n, err := strconv.Atoi(weight)
		if err != nil {
			return nil, fmt.Errorf("priority %q: %w", item, err)
		}
		table[strings.TrimSpace(class)] = n
	}
	if len(table) == 0 {
		return nil, errors.New("priority table is empty")
	}
	return table, nil
}

// envReader applies CHUNKCAST_* variables and collects parse errors.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	return v, ok && v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) priorities(key string, dst *map[string]int) {
	if v, ok := e.lookup(key); ok {
		table, err := parsePriorities(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			return
		}
		*dst = table
	}
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}

// stringSlice implements flag.Value for repeatable string flags.
type stringSlice []string

func (s *stringSlice) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

var _ flag.Value = (*stringSlice)(nil)
