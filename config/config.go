// ABOUTME: Runtime configuration for the deals exporter
// ABOUTME: Merges .env, an optional YAML file at XDG paths, and environment variables via viper
package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

const appName = "hubspot-deals-export"

// ErrMissingSetting is returned by Require when a needed setting is blank.
var ErrMissingSetting = errors.New("missing required setting")

// Special-field timestamp policies.
const (
	SpecialFieldsSyncTime         = "sync-time"
	SpecialFieldsUpstreamModified = "upstream-modified"
)

// Sync status backends.
const (
	StatusBackendWarehouse = "warehouse"
	StatusBackendS3        = "s3"
)

// Setting keys. Each maps to the upper-cased environment variable of the same name.
const (
	KeyHubSpotAPIKey         = "hubspot_api_key"
	KeyHubSpotBaseURL        = "hubspot_base_url"
	KeyHubSpotPipelines      = "hubspot_pipelines"
	KeyHubSpotCreatedAfter   = "hubspot_created_after"
	KeyHubSpotRetryBudget    = "hubspot_retry_budget"
	KeyWarehouseDSN          = "warehouse_dsn"
	KeyAPIAuthKey            = "api_auth_key"
	KeyScheduleLookback      = "schedule_lookback"
	KeyScheduleInterval      = "schedule_interval"
	KeyWebhookBatchThreshold = "webhook_batch_threshold"
	KeySpecialFieldsMode     = "special_fields_mode"
	KeyStatusBackend         = "status_backend"
	KeyStatusS3Bucket        = "status_s3_bucket"
	KeyStatusS3Key           = "status_s3_key"
	KeyStatusS3Region        = "status_s3_region"
	KeyStatusS3Endpoint      = "status_s3_endpoint"
	KeyStatusLease           = "status_lease"
	KeyQueueDir              = "queue_dir"
	KeyHTTPAddr              = "http_addr"
	KeyLogLevel              = "log_level"
	KeyLogFormat             = "log_format"
	KeyLogFile               = "log_file"
)

// S3Config locates the sync status blob when the s3 backend is selected.
type S3Config struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string
}

// Config holds every runtime setting.
type Config struct {
	HubSpotAPIKey         string
	HubSpotBaseURL        string
	Pipelines             []string
	CreatedAfter          time.Time
	RetryBudget           int
	WarehouseDSN          string
	APIAuthKey            string
	ScheduleLookback      time.Duration
	ScheduleInterval      time.Duration
	WebhookBatchThreshold int
	SpecialFieldsMode     string
	StatusBackend         string
	StatusS3              S3Config
	StatusLease           time.Duration
	QueueDir              string
	HTTPAddr              string
	LogLevel              string
	LogFormat             string
	LogFile               string
}

// DataDir returns the XDG data directory used for the local warehouse and queue.
func DataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

// ConfigDir returns the XDG config directory searched for config.yaml.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, appName)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyHubSpotBaseURL, "https://api.hubapi.com")
	v.SetDefault(KeyHubSpotPipelines, "74948272,35923868,663516528")
	v.SetDefault(KeyHubSpotCreatedAfter, "2024-01-01T00:00:00Z")
	v.SetDefault(KeyHubSpotRetryBudget, 3)
	v.SetDefault(KeyWarehouseDSN, "sqlite://"+filepath.Join(DataDir(), "warehouse.db"))
	v.SetDefault(KeyScheduleLookback, "15m")
	v.SetDefault(KeyScheduleInterval, "15m")
	v.SetDefault(KeyWebhookBatchThreshold, 20)
	v.SetDefault(KeySpecialFieldsMode, SpecialFieldsSyncTime)
	v.SetDefault(KeyStatusBackend, StatusBackendWarehouse)
	v.SetDefault(KeyStatusS3Key, "sync-info/deals.json")
	v.SetDefault(KeyStatusS3Region, "us-east-1")
	v.SetDefault(KeyStatusLease, "30m")
	v.SetDefault(KeyQueueDir, filepath.Join(DataDir(), "queue"))
	v.SetDefault(KeyHTTPAddr, ":8080")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
}

// Load reads configuration. A .env file in the working directory is loaded
// first when present. path selects an explicit YAML file; when empty,
// config.yaml under ConfigDir is used if it exists.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "failed to load .env")
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, eris.Wrapf(err, "failed to read config file %s", path)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, eris.Wrap(err, "failed to read config file")
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	createdAfter, err := time.Parse(time.RFC3339, v.GetString(KeyHubSpotCreatedAfter))
	if err != nil {
		return nil, eris.Wrapf(err, "invalid %s", strings.ToUpper(KeyHubSpotCreatedAfter))
	}

	cfg := &Config{
		HubSpotAPIKey:         strings.TrimSpace(v.GetString(KeyHubSpotAPIKey)),
		HubSpotBaseURL:        strings.TrimRight(v.GetString(KeyHubSpotBaseURL), "/"),
		Pipelines:             splitList(v.GetString(KeyHubSpotPipelines)),
		CreatedAfter:          createdAfter.UTC(),
		RetryBudget:           v.GetInt(KeyHubSpotRetryBudget),
		WarehouseDSN:          v.GetString(KeyWarehouseDSN),
		APIAuthKey:            v.GetString(KeyAPIAuthKey),
		ScheduleLookback:      v.GetDuration(KeyScheduleLookback),
		ScheduleInterval:      v.GetDuration(KeyScheduleInterval),
		WebhookBatchThreshold: v.GetInt(KeyWebhookBatchThreshold),
		SpecialFieldsMode:     v.GetString(KeySpecialFieldsMode),
		StatusBackend:         v.GetString(KeyStatusBackend),
		StatusS3: S3Config{
			Bucket:   v.GetString(KeyStatusS3Bucket),
			Key:      v.GetString(KeyStatusS3Key),
			Region:   v.GetString(KeyStatusS3Region),
			Endpoint: v.GetString(KeyStatusS3Endpoint),
		},
		StatusLease: v.GetDuration(KeyStatusLease),
		QueueDir:    v.GetString(KeyQueueDir),
		HTTPAddr:    v.GetString(KeyHTTPAddr),
		LogLevel:    v.GetString(KeyLogLevel),
		LogFormat:   v.GetString(KeyLogFormat),
		LogFile:     v.GetString(KeyLogFile),
	}

	switch cfg.SpecialFieldsMode {
	case SpecialFieldsSyncTime, SpecialFieldsUpstreamModified:
	default:
		return nil, eris.Errorf("invalid %s %q", strings.ToUpper(KeySpecialFieldsMode), cfg.SpecialFieldsMode)
	}
	switch cfg.StatusBackend {
	case StatusBackendWarehouse, StatusBackendS3:
	default:
		return nil, eris.Errorf("invalid %s %q", strings.ToUpper(KeyStatusBackend), cfg.StatusBackend)
	}

	return cfg, nil
}

// Require reports the first blank setting among keys.
func (c *Config) Require(keys ...string) error {
	for _, key := range keys {
		var value string
		switch key {
		case KeyHubSpotAPIKey:
			value = c.HubSpotAPIKey
		case KeyAPIAuthKey:
			value = c.APIAuthKey
		case KeyWarehouseDSN:
			value = c.WarehouseDSN
		case KeyStatusS3Bucket:
			value = c.StatusS3.Bucket
		case KeyQueueDir:
			value = c.QueueDir
		default:
			return eris.Errorf("unknown setting %q", key)
		}
		if strings.TrimSpace(value) == "" {
			return eris.Wrapf(ErrMissingSetting, "%s is not set", strings.ToUpper(key))
		}
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
