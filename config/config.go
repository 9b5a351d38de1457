// Package config implements Splinter's node configuration: a
// properties file for the settings an operator sets once per node,
// combined with command-line flags for the overrides an operator
// wants at start time (spec.md's ambient configuration concern,
// SPEC_FULL.md's AMBIENT STACK section).
//
// Grounded on cmd/goshawkdb/main.go's newServer: the same flag set
// shape (-config, -dir, -cert, -port, ...) plus the same
// "file is optional, flags override whatever it sets" precedence, but
// parsed with github.com/magiconair/properties instead of goshawkdb's
// JSON configuration document, per the postgres-postgres pack entry's
// client configuration idiom.
package config

import (
	"flag"
	"fmt"

	"github.com/magiconair/properties"

	server "splinterd.io/server"
	"splinterd.io/server/splinterid"
)

// Config is the read-only struct handed down to cmd/splinterd once,
// at startup; nothing downstream mutates it.
type Config struct {
	NodeId  splinterid.NodeId
	DataDir string

	CertFile string
	KeyFile  string
	CAFile   string

	Port            uint16
	PrometheusPort  uint16
	OperatorRPCPort uint16

	PostgresDSN string
	MongoURI    string
	MongoDB     string

	RegistryTTLSeconds int
	DispatchExecutors  int
}

// defaults mirrors cmd/goshawkdb/main.go's flag.*Var default values,
// adapted to splinterd's own port constants (consts.go).
func defaults() Config {
	return Config{
		Port:               server.DefaultPort,
		PrometheusPort:     server.DefaultPrometheusPort,
		OperatorRPCPort:    server.DefaultOperatorRPCPort,
		RegistryTTLSeconds: 30,
		DispatchExecutors:  4,
	}
}

// FromFile loads a properties file and overlays its keys onto the
// package defaults. An empty path is not an error and returns the
// defaults unchanged (the same way cmd/goshawkdb/main.go treats an
// empty -config flag as "no file supplied" rather than a fatal
// condition); a non-empty path that cannot be loaded, including one
// naming a file that does not exist, returns an error.
func FromFile(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, nil
	}
	props, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %q: %w", path, err)
	}
	cfg.NodeId = splinterid.NodeId(props.GetString("node_id", string(cfg.NodeId)))
	cfg.DataDir = props.GetString("data_dir", cfg.DataDir)
	cfg.CertFile = props.GetString("cert_file", cfg.CertFile)
	cfg.KeyFile = props.GetString("key_file", cfg.KeyFile)
	cfg.CAFile = props.GetString("ca_file", cfg.CAFile)
	cfg.Port = uint16(props.GetInt("port", int(cfg.Port)))
	cfg.PrometheusPort = uint16(props.GetInt("prometheus_port", int(cfg.PrometheusPort)))
	cfg.OperatorRPCPort = uint16(props.GetInt("operator_rpc_port", int(cfg.OperatorRPCPort)))
	cfg.PostgresDSN = props.GetString("postgres_dsn", cfg.PostgresDSN)
	cfg.MongoURI = props.GetString("mongo_uri", cfg.MongoURI)
	cfg.MongoDB = props.GetString("mongo_db", cfg.MongoDB)
	cfg.RegistryTTLSeconds = props.GetInt("registry_ttl_seconds", cfg.RegistryTTLSeconds)
	cfg.DispatchExecutors = props.GetInt("dispatch_executors", cfg.DispatchExecutors)
	return cfg, nil
}

// Flags binds fs to cfg's fields, in the style of
// cmd/goshawkdb/main.go's flag.StringVar/IntVar calls: every flag
// overrides whatever FromFile already set, and the usage strings name
// the config-file key an operator could set instead.
func Flags(fs *flag.FlagSet, cfg *Config) {
	fs.Var(nodeIdValue{&cfg.NodeId}, "node-id", "`Id` of this node (config file key: node_id).")
	fs.StringVar(&cfg.DataDir, "dir", cfg.DataDir, "`Path` to data directory (config file key: data_dir).")
	fs.StringVar(&cfg.CertFile, "cert", cfg.CertFile, "`Path` to this node's TLS certificate (config file key: cert_file).")
	fs.StringVar(&cfg.KeyFile, "key", cfg.KeyFile, "`Path` to this node's TLS private key (config file key: key_file).")
	fs.StringVar(&cfg.CAFile, "ca", cfg.CAFile, "`Path` to the trusted CA bundle (config file key: ca_file).")
	fs.Var(portValue{&cfg.Port}, "port", "Mesh listen port (config file key: port).")
	fs.Var(portValue{&cfg.PrometheusPort}, "prometheusPort", "Port to serve /metrics on, 0 to disable (config file key: prometheus_port).")
	fs.Var(portValue{&cfg.OperatorRPCPort}, "operatorPort", "Port to serve the internal operator RPC on, 0 to disable (config file key: operator_rpc_port).")
	fs.StringVar(&cfg.PostgresDSN, "postgres", cfg.PostgresDSN, "Postgres connection string for admin/store (config file key: postgres_dsn).")
	fs.StringVar(&cfg.MongoURI, "mongo", cfg.MongoURI, "Mongo connection URI for registry (config file key: mongo_uri).")
	fs.StringVar(&cfg.MongoDB, "mongoDB", cfg.MongoDB, "Mongo database name for registry (config file key: mongo_db).")
	fs.IntVar(&cfg.RegistryTTLSeconds, "registryTTL", cfg.RegistryTTLSeconds, "Node registry cache entry TTL in seconds (config file key: registry_ttl_seconds).")
	fs.IntVar(&cfg.DispatchExecutors, "executors", cfg.DispatchExecutors, "Dispatch/timer executor pool size (config file key: dispatch_executors).")
}

// Validate checks the fields newServer-equivalent startup code cannot
// proceed without, mirroring cmd/goshawkdb/main.go's own port-range
// and required-flag checks.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: -dir is required")
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return fmt.Errorf("config: -cert and -key are required")
	}
	if !validPort(c.Port) {
		return fmt.Errorf("config: illegal port %d", c.Port)
	}
	if c.PrometheusPort != 0 && (!validPort(c.PrometheusPort) || c.PrometheusPort == c.Port) {
		return fmt.Errorf("config: illegal prometheus port %d", c.PrometheusPort)
	}
	if c.OperatorRPCPort != 0 && (!validPort(c.OperatorRPCPort) || c.OperatorRPCPort == c.Port) {
		return fmt.Errorf("config: illegal operator rpc port %d", c.OperatorRPCPort)
	}
	return nil
}

func validPort(p uint16) bool { return p > 0 }

// nodeIdValue and portValue adapt splinterid.NodeId/uint16 to
// flag.Value so Flags can bind them directly instead of round-tripping
// through intermediate string/int locals the way
// cmd/goshawkdb/main.go's flag.*Var calls into plain Go types do.
type nodeIdValue struct{ v *splinterid.NodeId }

func (n nodeIdValue) String() string {
	if n.v == nil {
		return ""
	}
	return string(*n.v)
}
func (n nodeIdValue) Set(s string) error { *n.v = splinterid.NodeId(s); return nil }

type portValue struct{ v *uint16 }

func (p portValue) String() string {
	if p.v == nil {
		return "0"
	}
	return fmt.Sprintf("%d", *p.v)
}
func (p portValue) Set(s string) error {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return fmt.Errorf("not a port number: %q", s)
	}
	if n < 0 || n > 65535 {
		return fmt.Errorf("port out of range: %d", n)
	}
	*p.v = uint16(n)
	return nil
}
