package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config はプロセス全体の設定。blog/user どちらのサービスも同じ構造を使う。
type Config struct {
	Env         string      `mapstructure:"env"`
	Port        string      `mapstructure:"port"`
	RedisURL    string      `mapstructure:"redis_url"`
	DatabaseDSN string      `mapstructure:"db_dsn"`
	Pprotein    string      `mapstructure:"pprotein_addr"`
	CORSOrigins []string    `mapstructure:"cors_origins"`
	Log         LogConfig   `mapstructure:"log"`
	Trace       TraceConfig `mapstructure:"trace"`
	Cache       CacheConfig `mapstructure:"cache"`
	Media       MediaConfig `mapstructure:"cloud"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TraceConfig struct {
	// otlp, jaeger, or empty to disable
	Exporter string `mapstructure:"exporter"`
	Endpoint string `mapstructure:"endpoint"`
}

type CacheConfig struct {
	Stream    string        `mapstructure:"stream"`
	Group     string        `mapstructure:"group"`
	Consumer  string        `mapstructure:"consumer"`
	TTL       time.Duration `mapstructure:"ttl"`
	LocalSize int           `mapstructure:"local_size"`
	LocalTTL  time.Duration `mapstructure:"local_ttl"`
	Block     time.Duration `mapstructure:"block"`
	ClaimIdle time.Duration `mapstructure:"claim_idle"`
	// L1 のパージを他のレプリカへ伝える pub/sub チャンネル
	Channel   string        `mapstructure:"channel"`
}

type MediaConfig struct {
	CloudName string `mapstructure:"name"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

const (
	BlogService = "blog"
	UserService = "user"
)

var blogOrigins = []string{"http://localhost:3000", "https://blog-microservice.vercel.app"}

// Defaults は各サービスの既定値を返す
func Defaults(service string) map[string]any {
	origins := []string{"*"}
	if service == BlogService {
		origins = blogOrigins
	}
	return map[string]any{
		"env":              "dev",
		"port":             "5000",
		"redis_url":        "redis://localhost:6379",
		"db_dsn":           "",
		"pprotein_addr":    "",
		"cors_origins":     origins,
		"log.level":        "info",
		"log.format":       "json",
		"trace.exporter":   "",
		"trace.endpoint":   "",
		"cache.stream":     "cache-invalidation",
		"cache.group":      "blog-service",
		"cache.consumer":   "",
		"cache.ttl":        time.Hour,
		"cache.local_size": 256,
		"cache.local_ttl":  30 * time.Second,
		"cache.block":      5 * time.Second,
		"cache.claim_idle": time.Minute,
		"cache.channel":    "cache-invalidation:local",
		"cloud.name":       "",
		"cloud.api_key":    "",
		"cloud.api_secret": "",
	}
}

// 旧来の環境変数名 (Cloud_Name 等) も受け付ける
var legacyEnv = map[string][]string{
	"cloud.name":       {"CLOUD_NAME", "Cloud_Name"},
	"cloud.api_key":    {"CLOUD_API_KEY", "Cloud_Api_Key"},
	"cloud.api_secret": {"CLOUD_API_SECRET", "Cloud_Api_Secret"},
}

// Load は 既定値 → .env → 環境変数 → フラグ の順で設定を読み込む。
// envFile が空なら .env を探すが、存在しなくてもエラーにはしない。
func Load(cmd *cobra.Command, service, envFile string) (Config, error) {
	var c Config
	v := viper.New()

	defaults := Defaults(service)
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return c, err
		}
		// .env のキーはフラット (CACHE_TTL -> cache_ttl) なので入れ子のキーへ写す。
		// SetDefault にしておくことで実際の環境変数が優先される。
		for key := range defaults {
			flat := strings.ReplaceAll(key, ".", "_")
			if flat != key && v.InConfig(flat) {
				v.SetDefault(key, v.Get(flat))
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return c, err
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return c, err
		}
	}

	if cmd != nil {
		if f := cmd.Flags().Lookup("port"); f != nil {
			if err := v.BindPFlag("port", f); err != nil {
				return c, err
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}
