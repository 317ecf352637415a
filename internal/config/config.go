// 包 config：.env 文件与环境变量到类型化配置的映射
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"region-sync/internal/model"
)

// Config：服务配置；PG_* 与 REDIS_* 由 internal/utils 读取
type Config struct {
	Addr    string `env:"ADDR" envDefault:":8080"`
	APIBase string `env:"API_BASE" envDefault:"/api"`

	UpstreamBaseURL    string `env:"UPSTREAM_BASE_URL" envDefault:"http://127.0.0.1:21341/api"`
	ActivityBaseURL    string `env:"ACTIVITY_BASE_URL" envDefault:"http://127.0.0.1:21341/activity-log-api"`
	InteractionBaseURL string `env:"INTERACTION_BASE_URL" envDefault:"http://127.0.0.1:21341/user-report-api"`

	RealtimeURL       string        `env:"REALTIME_URL" envDefault:"ws://127.0.0.1:21341/ws/websocket"`
	RealtimeOrigin    string        `env:"REALTIME_ORIGIN" envDefault:"http://127.0.0.1:21341"`
	RealtimeLogin     string        `env:"REALTIME_LOGIN"`
	RealtimePasscode  string        `env:"REALTIME_PASSCODE"`
	ReconnectDelay    time.Duration `env:"REALTIME_RECONNECT_DELAY" envDefault:"5s"`
	HeartBeat         time.Duration `env:"REALTIME_HEARTBEAT" envDefault:"4s"`
	RealtimeOffline   bool          `env:"REALTIME_OFFLINE"`
	SubjectID         string        `env:"SUBJECT_ID"`
	TopLevelType      string        `env:"TOP_LEVEL_TYPE" envDefault:"COUNTRY"`
	RatingThreshold   float64       `env:"RATING_THRESHOLD" envDefault:"30"`
	FetchTimeout      time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	NearbyRadiusKm    float64       `env:"NEARBY_RADIUS_KM" envDefault:"5"`
	GeoIPCityPath     string        `env:"GEOIP_CITY_PATH"`
	GeoIPASNPath      string        `env:"GEOIP_ASN_PATH"`
	IP2RegionV4Path   string        `env:"IP2REGION_V4_PATH"`
	JournalEnable     bool          `env:"JOURNAL_ENABLE" envDefault:"true"`
	JournalBuffer     int           `env:"JOURNAL_BUFFER" envDefault:"256"`
	JournalRetainDays int           `env:"JOURNAL_RETAIN_DAYS" envDefault:"30"`
	SnapshotTTL       time.Duration `env:"SNAPSHOT_TTL" envDefault:"10m"`
	RateLimitEnabled  bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitQPS      float64       `env:"RATE_LIMIT_QPS" envDefault:"20"`
	RateLimitBurst    int           `env:"RATE_LIMIT_BURST" envDefault:"40"`
	LiveBuffer        int           `env:"LIVE_BUFFER" envDefault:"32"`
	OTelEndpoint      string        `env:"OTEL_ENDPOINT"`
	OTelEnable        bool          `env:"OTEL_ENABLE" envDefault:"true"`
	TLSEnable         bool          `env:"TLS_ENABLE"`
	TLSCertPath       string        `env:"TLS_CERT_PATH" envDefault:"data/certs/server.crt"`
	TLSKeyPath        string        `env:"TLS_KEY_PATH" envDefault:"data/certs/server.key"`
}

var ErrInvalid = errors.New("invalid config")

// LoadDotEnv：按顺序加载存在的 .env 文件，不覆盖已设置的变量
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env", filepath.Join("data", "env", ".env")}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// Load：先加载 .env 再解析环境变量并校验
func Load(paths ...string) (Config, error) {
	LoadDotEnv(paths...)
	return Parse()
}

// Parse：只读取当前进程环境
func Parse() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if _, err := model.ParseRegionType(c.TopLevelType); err != nil {
		return fmt.Errorf("%w: TOP_LEVEL_TYPE: %v", ErrInvalid, err)
	}
	if !strings.HasPrefix(c.APIBase, "/") {
		return fmt.Errorf("%w: API_BASE must start with /", ErrInvalid)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("%w: REALTIME_RECONNECT_DELAY must be positive", ErrInvalid)
	}
	return nil
}

// RegionType：已校验过的顶层类型
func (c Config) RegionType() model.RegionType {
	t, _ := model.ParseRegionType(c.TopLevelType)
	return t
}
