// Package config loads the server's JSON configuration file, overridable
// by command-line flags (standard flag package, no framework).
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

// Config is the server's full runtime configuration.
type Config struct {
	// TcpPort is the listen port the out-of-scope wire transport would bind;
	// kept here so cmd/cachalot-server has somewhere to put it without
	// inventing a second config mechanism once a transport is added.
	TcpPort int `json:"tcpPort"`

	// DataPath is the directory holding the transaction log and dump output.
	DataPath string `json:"dataPath"`

	// WorkerPoolSize bounds how many dispatcher calls run concurrently.
	WorkerPoolSize int `json:"workerPoolSize"`
}

// Default returns the configuration used when no file and no flags override it.
func Default() Config {
	return Config{
		TcpPort:        9000,
		DataPath:       "./data",
		WorkerPoolSize: 16,
	}
}

// Load reads path (if non-empty and present) as JSON over Default(), then
// registers -tcp-port, -data-path and -worker-pool-size flags on fs and
// parses args, so a flag always wins over the file, and the file always
// wins over the built-in default.
func Load(fs *flag.FlagSet, args []string, path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	tcpPort := fs.Int("tcp-port", cfg.TcpPort, "listen port")
	dataPath := fs.String("data-path", cfg.DataPath, "directory for the transaction log and dumps")
	workerPoolSize := fs.Int("worker-pool-size", cfg.WorkerPoolSize, "max concurrent dispatcher calls")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.TcpPort = *tcpPort
	cfg.DataPath = *dataPath
	cfg.WorkerPoolSize = *workerPoolSize
	return cfg, nil
}

// IsDev reports whether ENV=dev, gating development-only logging verbosity.
func IsDev() bool {
	return os.Getenv("ENV") == "dev"
}
