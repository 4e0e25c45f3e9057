package regionserver

import "time"

// RegionInfo is the serialized region descriptor referenced by the catalog's
// info:regioninfo column: table name, key range, identity, and per-family config.
type RegionInfo struct {
	// Table is the owning table name.
	Table string `json:"table"`
	// StartKey is the inclusive lower bound of the region's row-key range.
	StartKey []byte `json:"start_key"`
	// EndKey is the exclusive upper bound of the region's row-key range; nil/empty means unbounded.
	EndKey []byte `json:"end_key"`
	// RegionID disambiguates regions created at the same range over time (e.g. after a split).
	RegionID UUID `json:"region_id"`
	// Offline marks a region whose data is not being served (set true on split parents and merge sources).
	Offline bool `json:"offline"`
	// Split marks a region that has been split; its files remain readable until both children compact.
	Split bool `json:"split"`
	// Families lists the column family descriptors hosted by this region.
	Families []FamilyDescriptor `json:"families"`
}

// Name returns the catalog row name for this region: table,startKey,regionId.
func (r RegionInfo) Name() string {
	return r.Table + "," + string(r.StartKey) + "," + r.RegionID.String()
}

// Contains reports whether row falls within [StartKey, EndKey).
func (r RegionInfo) Contains(row []byte) bool {
	if string(row) < string(r.StartKey) {
		return false
	}
	if len(r.EndKey) == 0 {
		return true
	}
	return string(row) < string(r.EndKey)
}

// Overlaps reports whether two regions' ranges intersect; used to enforce the
// registry invariant that online regions of one table never overlap.
func (r RegionInfo) Overlaps(other RegionInfo) bool {
	if r.Table != other.Table {
		return false
	}
	rEnd, oEnd := string(r.EndKey), string(other.EndKey)
	if rEnd != "" && string(other.StartKey) >= rEnd {
		return false
	}
	if oEnd != "" && string(r.StartKey) >= oEnd {
		return false
	}
	return true
}

// FamilyDescriptor configures one column family's store: value size tiering,
// version/TTL retention, and per-family cache policy. Ported from the B-Tree
// store tiering model (small/medium/big data), applied here per column family
// instead of per store.
type FamilyDescriptor struct {
	// Name is the family name, the left half of a "family:qualifier" column.
	Name string `json:"name" minLength:"1" maxLength:"128"`
	// MaxVersions caps how many versions of a (row,col) a get/compaction retains.
	MaxVersions int `json:"max_versions"`
	// TTL discards versions older than this duration during compaction; zero means no TTL.
	TTL time.Duration `json:"ttl"`
	// IsValueDataInNodeSegment marks values as stored inline in the memcache/store-file
	// entry; the stores keep values inline whatever its setting.
	IsValueDataInNodeSegment bool `json:"is_value_data_in_node_segment"`
	// IsValueDataActivelyPersisted, when true, makes this family's flushes write store
	// files through the direct-I/O path; commits still go to the memcache first.
	IsValueDataActivelyPersisted bool `json:"is_value_data_actively_persisted"`
	// IsValueDataGloballyCached is recorded on the descriptor only; no read or write
	// path consults it, and values are not cached in Redis.
	IsValueDataGloballyCached bool `json:"is_value_data_globally_cached"`
	// CacheConfig holds per-family cache durations; the region's stores do not read it.
	CacheConfig FamilyCacheConfig `json:"cache_config"`
	// ErasureCoded enables Reed-Solomon shard durability for this family's
	// store files (see storefile.WriteErasureCoded), modeling resiliency at
	// the store-file layer for a backing filesystem that isn't itself replicated.
	ErasureCoded bool `json:"erasure_coded"`
	// ErasureDataShards and ErasureParityShards configure the encoding when ErasureCoded is true.
	ErasureDataShards   int `json:"erasure_data_shards"`
	ErasureParityShards int `json:"erasure_parity_shards"`

	// ArchiveBucket, when non-empty, sends every compacted store file in this
	// family to an S3-compatible bucket for cold off-box durability, in
	// addition to (not instead of) keeping it on local disk.
	ArchiveBucket          string `json:"archive_bucket"`
	ArchiveRegion          string `json:"archive_region"`
	ArchiveEndpoint        string `json:"archive_endpoint"`
	ArchiveAccessKeyID     string `json:"archive_access_key_id"`
	ArchiveSecretAccessKey string `json:"archive_secret_access_key"`
}

// FamilyCacheConfig declares cache durations and TTL flags for one family's cached artifacts.
// The region's stores do not read these settings; Store.readCache evicts by capacity only.
type FamilyCacheConfig struct {
	// StoreFileCacheDuration is the duration setting for a store file's index-block cache.
	StoreFileCacheDuration time.Duration `json:"store_file_cache_duration"`
	// IsStoreFileCacheTTL enables sliding TTL for the store file index cache.
	IsStoreFileCacheTTL bool `json:"is_store_file_cache_ttl"`
	// ValueDataCacheDuration controls caching for the value part when globally cached.
	ValueDataCacheDuration time.Duration `json:"value_data_cache_duration"`
	// IsValueDataCacheTTL enables sliding TTL for the value data cache.
	IsValueDataCacheTTL bool `json:"is_value_data_cache_ttl"`
}

const minCacheDuration = 5 * time.Minute

// NewFamilyCacheConfig returns a FamilyCacheConfig with uniform cache durations and TTL settings applied.
// A duration between 1ns and 5 minutes is clamped to 5 minutes; TTL is disabled when duration is zero.
func NewFamilyCacheConfig(cacheDuration time.Duration, isCacheTTL bool) FamilyCacheConfig {
	if cacheDuration > 0 && cacheDuration < minCacheDuration {
		cacheDuration = minCacheDuration
	}
	if cacheDuration == 0 {
		isCacheTTL = false
	}
	return FamilyCacheConfig{
		StoreFileCacheDuration: cacheDuration,
		IsStoreFileCacheTTL:    isCacheTTL,
		ValueDataCacheDuration: cacheDuration,
		IsValueDataCacheTTL:    isCacheTTL,
	}
}

// NewFamilyDescriptor builds a FamilyDescriptor applying the same "no conflicting setup"
// normalization the B-Tree store tiering used: a value kept in the node segment can't
// also be actively persisted or globally cached.
func NewFamilyDescriptor(name string, maxVersions int, ttl time.Duration) FamilyDescriptor {
	if maxVersions < 1 {
		maxVersions = 1
	}
	return FamilyDescriptor{
		Name:        name,
		MaxVersions: maxVersions,
		TTL:         ttl,
		CacheConfig: NewFamilyCacheConfig(minCacheDuration, false),
	}
}

// normalize enforces the tiering exclusivity rule in place.
func (f *FamilyDescriptor) normalize() {
	if f.IsValueDataInNodeSegment {
		f.IsValueDataGloballyCached = false
		f.IsValueDataActivelyPersisted = false
	}
}
