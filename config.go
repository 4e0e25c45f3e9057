package regionserver

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sharedcode/regionserver/cache"
)

// Default configuration values, named after the well-known keys a region server
// recognizes in its configuration file.
const (
	DefaultMaxFilesize     = 256 * 1024 * 1024 // hbase.hregion.max.filesize
	DefaultMsgInterval     = 3 * time.Second   // hbase.regionserver.msginterval
	DefaultMasterLease     = 30 * time.Second  // hbase.master.lease.period
	DefaultRegionLease     = 60 * time.Second  // hbase.regionserver.lease.period
	DefaultMaxLogEntries   = 32 * 1024         // hbase.regionserver.maxlogentries
	DefaultClientRetries   = 10                // hbase.client.retries.number
	DefaultHandlerCount    = 10                // hbase.regionserver.handler.count
	DefaultMemcacheFlushAt = 64 * 1024 * 1024  // memcache bytes before a Flusher-triggered flush
)

// Configuration holds the region server's startup settings: the recognized
// "hbase.*" keys from the external interfaces design, plus the backend host
// parameters (Redis L2 cache, Cassandra catalog) the rest of the server wires in.
type Configuration struct {
	// RootDir is the configured root directory on the backing filesystem (hbase.rootdir).
	RootDir string `json:"hbase.rootdir"`
	// MaxFilesize is the store-file size threshold that triggers a split (hbase.hregion.max.filesize).
	MaxFilesize int64 `json:"hbase.hregion.max.filesize"`
	// MsgInterval is the heartbeat period (hbase.regionserver.msginterval).
	MsgInterval time.Duration `json:"hbase.regionserver.msginterval"`
	// MasterLeasePeriod bounds how long a master report may go unacknowledged (hbase.master.lease.period).
	MasterLeasePeriod time.Duration `json:"hbase.master.lease.period"`
	// RegionServerLeasePeriod bounds a scanner/server lease (hbase.regionserver.lease.period).
	RegionServerLeasePeriod time.Duration `json:"hbase.regionserver.lease.period"`
	// MaxLogEntries is the WAL entry count that triggers a roll (hbase.regionserver.maxlogentries).
	MaxLogEntries int `json:"hbase.regionserver.maxlogentries"`
	// ClientRetriesNumber bounds how many times a master instruction is retried (hbase.client.retries.number).
	ClientRetriesNumber int `json:"hbase.client.retries.number"`
	// HandlerCount sizes the master instruction queue's buffer (hbase.regionserver.handler.count).
	HandlerCount int `json:"hbase.regionserver.handler.count"`
	// MemcacheFlushSize is the memcache byte threshold the Flusher chore checks against.
	MemcacheFlushSize int64 `json:"memcache.flush.size"`

	// RedisOptions configures the Redis client used for the Cassandra catalog's row locks.
	RedisOptions cache.Options `json:"redis"`
	// CassandraHosts configures the catalog's Cassandra backend, when enabled.
	CassandraHosts []string `json:"cassandra.hosts"`
}

// applyDefaults fills zero-valued fields with the package defaults.
func (c *Configuration) applyDefaults() {
	if c.MaxFilesize == 0 {
		c.MaxFilesize = DefaultMaxFilesize
	}
	if c.MsgInterval == 0 {
		c.MsgInterval = DefaultMsgInterval
	}
	if c.MasterLeasePeriod == 0 {
		c.MasterLeasePeriod = DefaultMasterLease
	}
	if c.RegionServerLeasePeriod == 0 {
		c.RegionServerLeasePeriod = DefaultRegionLease
	}
	if c.MaxLogEntries == 0 {
		c.MaxLogEntries = DefaultMaxLogEntries
	}
	if c.ClientRetriesNumber == 0 {
		c.ClientRetriesNumber = DefaultClientRetries
	}
	if c.HandlerCount == 0 {
		c.HandlerCount = DefaultHandlerCount
	}
	if c.MemcacheFlushSize == 0 {
		c.MemcacheFlushSize = DefaultMemcacheFlushAt
	}
}

// LoadConfiguration reads a JSON file into a Configuration and applies defaults
// for any key left unset, mirroring the well-known-file config model.
func LoadConfiguration(filename string) (Configuration, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return Configuration{}, err
	}

	var c Configuration
	if err := json.Unmarshal(b, &c); err != nil {
		return Configuration{}, err
	}
	c.applyDefaults()

	return c, nil
}

// ApplyOverrides merges a master-provided override map into the configuration.
// Called once, from the startup handshake's init() step; the configuration is
// otherwise read-only for the remainder of the process's life.
func (c *Configuration) ApplyOverrides(overrides map[string]string) {
	for k, v := range overrides {
		switch k {
		case "hbase.rootdir":
			c.RootDir = v
		case "hbase.hregion.max.filesize":
			if n, err := parseInt64(v); err == nil {
				c.MaxFilesize = n
			}
		case "hbase.regionserver.maxlogentries":
			if n, err := parseInt64(v); err == nil {
				c.MaxLogEntries = int(n)
			}
		case "hbase.client.retries.number":
			if n, err := parseInt64(v); err == nil {
				c.ClientRetriesNumber = int(n)
			}
		case "hbase.regionserver.handler.count":
			if n, err := parseInt64(v); err == nil {
				c.HandlerCount = int(n)
			}
		}
	}
}

func parseInt64(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscan(s, &n)
	return n, err
}
