package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	atomicfile "github.com/natefinch/atomic"
)

// DataConfig is the spec §6 "<data_dir>/config.json" schema: versioned
// configuration persisted as JSON (not the teacher's YAML defaults file —
// the spec names the file and format explicitly), round-tripped via
// encoding/json + natefinch/atomic rather than gopkg.in/yaml.v2, since no
// third-party JSON codec is needed for a straight struct marshal and the
// wire format is spec-mandated.
type DataConfig struct {
	Version int `json:"version"`

	ApiAuth string `json:"api_auth,omitempty"`
	ApiUser string `json:"api_user,omitempty"`
	ApiPort int    `json:"api_port,omitempty"`

	MaxCacheSizeBytes uint64 `json:"max_cache_size_bytes"`

	// RingBufferFileSizeMiB is stored as a typed byte-count field rather
	// than the teacher's mixed-unit string ("2GB") convention, resolving
	// the spec's ring-buffer-size Open Question: reads always go through
	// RingBufferSizeBytes, which clamps to [MinRingBufferMiB,
	// MaxRingBufferMiB] so a corrupt or stale value on disk can never
	// produce a window outside the supported range.
	RingBufferFileSizeMiB uint64 `json:"ring_buffer_file_size_mib"`

	MaxUploadCount int `json:"max_upload_count"`

	DownloadTimeoutSecs   int  `json:"download_timeout_secs"`
	EnableDownloadTimeout bool `json:"enable_download_timeout"`

	PreferredDownloadType string `json:"preferred_download_type"` // default | ring_buffer | direct

	EvictionDelayMins        int  `json:"eviction_delay_mins"`
	EvictionUsesAccessedTime bool `json:"eviction_uses_accessed_time"`

	RetryReadCount       int `json:"retry_read_count"`
	OnlineCheckRetrySecs int `json:"online_check_retry_secs"`

	Repository RepositoryConfig `json:"repository"`
}

// RepositoryConfig selects one back end per spec §1's four options and
// carries that back end's sub-object; only the field matching Type is
// meaningful, mirroring the teacher's discriminated-config pattern for
// per-provider sections.
type RepositoryConfig struct {
	Type string `json:"type"` // "s3" | "sia" | "remote" | "encrypt"

	S3     *S3RepositoryConfig     `json:"s3,omitempty"`
	Sia    *SiaRepositoryConfig    `json:"sia,omitempty"`
	Remote *RemoteRepositoryConfig `json:"remote,omitempty"`
	Encrypt *EncryptRepositoryConfig `json:"encrypt,omitempty"`
}

type S3RepositoryConfig struct {
	Bucket         string `json:"bucket"`
	Region         string `json:"region"`
	Endpoint       string `json:"endpoint,omitempty"`
	AccessKeyID    string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	ForcePathStyle bool   `json:"force_path_style,omitempty"`
}

type SiaRepositoryConfig struct {
	APIAddress string `json:"api_address"`
	Password   string `json:"password,omitempty"`
}

type RemoteRepositoryConfig struct {
	Address string `json:"address"`
}

type EncryptRepositoryConfig struct {
	RootDir    string `json:"root_dir"`
	Passphrase string `json:"passphrase"`
}

const (
	// MinRingBufferMiB/MaxRingBufferMiB bound RingBufferSizeBytes' clamp.
	MinRingBufferMiB = 1
	MaxRingBufferMiB = 1024

	configFileName   = "config.json"
	currentConfigVersion = 2
)

// NewDefaultDataConfig returns the spec's documented defaults for a fresh
// data directory (spec §6: "MaxCacheSizeBytes (>= 100 MiB)" etc.).
func NewDefaultDataConfig() *DataConfig {
	return &DataConfig{
		Version:                  currentConfigVersion,
		ApiPort:                  8443,
		MaxCacheSizeBytes:        2 << 30, // 2GiB
		RingBufferFileSizeMiB:    64,
		MaxUploadCount:           5,
		DownloadTimeoutSecs:      60,
		EnableDownloadTimeout:    true,
		PreferredDownloadType:    "default",
		EvictionDelayMins:        15,
		EvictionUsesAccessedTime: true,
		RetryReadCount:           3,
		OnlineCheckRetrySecs:     30,
		Repository:               RepositoryConfig{Type: "s3", S3: &S3RepositoryConfig{}},
	}
}

// RingBufferSizeBytes clamps the stored MiB value to [MinRingBufferMiB,
// MaxRingBufferMiB] on every read, per the resolved Open Question — the
// stored value itself is never rewritten by this accessor, only the
// returned byte count is bounded.
func (c *DataConfig) RingBufferSizeBytes() uint64 {
	mib := c.RingBufferFileSizeMiB
	if mib < MinRingBufferMiB {
		mib = MinRingBufferMiB
	}
	if mib > MaxRingBufferMiB {
		mib = MaxRingBufferMiB
	}
	return mib * 1 << 20
}

// LoadDataConfig reads <dataDir>/config.json.
func LoadDataConfig(dataDir string) (*DataConfig, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, configFileName))
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configFileName, err)
	}
	var c DataConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configFileName, err)
	}
	return &c, nil
}

// Save writes <dataDir>/config.json atomically so a crash mid-write never
// leaves a truncated config behind, matching the metadata store's
// persistence discipline (internal/metadata.Store.persist).
func (c *DataConfig) Save(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return fmt.Errorf("config: create data dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	path := filepath.Join(dataDir, configFileName)
	if err := atomicfile.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("config: write %s: %w", configFileName, err)
	}
	return nil
}

// Validate checks the spec §6 invariants called out for config.json.
func (c *DataConfig) Validate() error {
	if c.MaxCacheSizeBytes < 100<<20 {
		return fmt.Errorf("max_cache_size_bytes must be >= 100 MiB")
	}
	if c.MaxUploadCount < 1 {
		return fmt.Errorf("max_upload_count must be >= 1")
	}
	switch c.PreferredDownloadType {
	case "default", "ring_buffer", "direct":
	default:
		return fmt.Errorf("preferred_download_type must be one of default, ring_buffer, direct")
	}
	switch c.Repository.Type {
	case "s3":
		if c.Repository.S3 == nil || c.Repository.S3.Bucket == "" {
			return fmt.Errorf("repository.s3.bucket is required for repository type s3")
		}
	case "sia":
		if c.Repository.Sia == nil || c.Repository.Sia.APIAddress == "" {
			return fmt.Errorf("repository.sia.api_address is required for repository type sia")
		}
	case "remote":
		if c.Repository.Remote == nil || c.Repository.Remote.Address == "" {
			return fmt.Errorf("repository.remote.address is required for repository type remote")
		}
	case "encrypt":
		if c.Repository.Encrypt == nil || c.Repository.Encrypt.RootDir == "" {
			return fmt.Errorf("repository.encrypt.root_dir is required for repository type encrypt")
		}
	default:
		return fmt.Errorf("repository.type must be one of s3, sia, remote, encrypt")
	}
	return nil
}

// Set applies one "-set <key> <value>" CLI change (spec §6 CLI surface),
// keyed by the same JSON tags config.json itself uses.
func (c *DataConfig) Set(key, value string) error {
	switch key {
	case "max_cache_size_bytes":
		var v uint64
		if _, err := fmt.Sscanf(value, "%d", &v); err != nil {
			return fmt.Errorf("config: invalid uint for %s: %w", key, err)
		}
		c.MaxCacheSizeBytes = v
	case "ring_buffer_file_size_mib":
		var v uint64
		if _, err := fmt.Sscanf(value, "%d", &v); err != nil {
			return fmt.Errorf("config: invalid uint for %s: %w", key, err)
		}
		c.RingBufferFileSizeMiB = v
	case "max_upload_count":
		var v int
		if _, err := fmt.Sscanf(value, "%d", &v); err != nil {
			return fmt.Errorf("config: invalid int for %s: %w", key, err)
		}
		c.MaxUploadCount = v
	case "preferred_download_type":
		c.PreferredDownloadType = value
	case "eviction_delay_mins":
		var v int
		if _, err := fmt.Sscanf(value, "%d", &v); err != nil {
			return fmt.Errorf("config: invalid int for %s: %w", key, err)
		}
		c.EvictionDelayMins = v
	default:
		return fmt.Errorf("config: unknown key %q", key)
	}
	return nil
}
