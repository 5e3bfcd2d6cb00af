package storage

// Blob keys. Each key is its own document; they are written and aged
// independently of each other.
const (
	KeyOfflineQueue   = "offline_queue"
	KeyHazardPoints   = "hazards_points"
	KeyHazardClusters = "hazards_clusters"
	KeyCacheMeta      = "hazards_cache_meta"
)
