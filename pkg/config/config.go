package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level       string `yaml:"level" env:"LOG_LEVEL"`
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT"`
}

// SourceConfig 图片源：cdn | gallery | manifest
type SourceConfig struct {
	Kind       string        `yaml:"kind" env:"SOURCE_KIND"`
	BaseURL    string        `yaml:"baseURL"`
	CloudName  string        `yaml:"cloudName" env:"CLOUDINARY_CLOUD_NAME"`
	APIKey     string        `yaml:"apiKey" env:"CLOUDINARY_API_KEY"`
	APISecret  string        `yaml:"apiSecret" env:"CLOUDINARY_API_SECRET"`
	Prefix     string        `yaml:"prefix"`
	MaxResults int           `yaml:"maxResults"`
	GalleryURL string        `yaml:"galleryURL" env:"GALLERY_URL"`
	Manifest   string        `yaml:"manifest" env:"MANIFEST_LOCATION"`
	MaxPages   int           `yaml:"maxPages"`
	Attempts   int           `yaml:"attempts"`
	RetryDelay time.Duration `yaml:"retryDelay"`
	Timeout    time.Duration `yaml:"timeout"`
}

// OCRConfig OCR 引擎：space | tesseract
type OCRConfig struct {
	Kind       string        `yaml:"kind" env:"OCR_KIND"`
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"apiKey" env:"OCR_API_KEY"`
	Language   string        `yaml:"language"`
	Engine     int           `yaml:"engine"`
	Languages  []string      `yaml:"languages"`
	Upscale    int           `yaml:"upscale"`
	Preprocess bool          `yaml:"preprocess"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ExtractorConfig 覆盖默认规则表，空值沿用默认
type ExtractorConfig struct {
	MultiListing  bool     `yaml:"multiListing" env:"MULTI_LISTING"`
	Conditions    []string `yaml:"conditions"`
	Noise         []string `yaml:"noise"`
	MinTitleLen   int      `yaml:"minTitleLen"`
	PriceWindow   int      `yaml:"priceWindow"`
	MaxTitleLines int      `yaml:"maxTitleLines"`
	ScanLines     int      `yaml:"scanLines"`
}

type StoreConfig struct {
	Path string `yaml:"path" env:"STORE_PATH"`
}

// RunConfig 单次运行的节奏
type RunConfig struct {
	Delay           time.Duration `yaml:"delay"`
	CheckpointEvery int           `yaml:"checkpointEvery"`
	MaxItems        int           `yaml:"maxItems" env:"MAX_ITEMS"`
}

// ScheduleConfig 定时运行，Every 对齐到本地时区的整点
type ScheduleConfig struct {
	Enabled  bool          `yaml:"enabled" env:"SCHEDULE_ENABLED"`
	Every    time.Duration `yaml:"every"`
	TimeZone string        `yaml:"timeZone"`
}

type FTPConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Addr       string        `yaml:"addr" env:"FTP_SERVER"`
	Username   string        `yaml:"username" env:"FTP_USERNAME"`
	Password   string        `yaml:"password" env:"FTP_PASSWORD"`
	RemotePath string        `yaml:"remotePath"`
	Timeout    time.Duration `yaml:"timeout"`
}

type GitConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Dir         string `yaml:"dir"`
	Remote      string `yaml:"remote"`
	Branch      string `yaml:"branch"`
	Message     string `yaml:"message"`
	AuthorName  string `yaml:"authorName" env:"GIT_AUTHOR_NAME"`
	AuthorEmail string `yaml:"authorEmail" env:"GIT_AUTHOR_EMAIL"`
}

type MongoConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host" env:"MONGO_HOST"`
	DBName     string `yaml:"dbname"`
	Username   string `yaml:"username" env:"MONGO_USERNAME"`
	Password   string `yaml:"password" env:"MONGO_PASSWORD"`
	AuthSource string `yaml:"authSource"`
	Collection string `yaml:"collection"`
}

type SQLiteConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" env:"SQLITE_PATH"`
}

type PublishConfig struct {
	FTP    FTPConfig    `yaml:"ftp"`
	Git    GitConfig    `yaml:"git"`
	Mongo  MongoConfig  `yaml:"mongo"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

type APIConfig struct {
	Addr string `yaml:"addr" env:"API_ADDR"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Source    SourceConfig    `yaml:"source"`
	OCR       OCRConfig       `yaml:"ocr"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Store     StoreConfig     `yaml:"store"`
	Run       RunConfig       `yaml:"run"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Publish   PublishConfig   `yaml:"publish"`
	API       APIConfig       `yaml:"api"`
}

// Default 不读任何文件时的配置
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Source: SourceConfig{
			Kind:       "cdn",
			Prefix:     "website-screenshots/",
			MaxResults: 10,
			MaxPages:   1,
			Attempts:   3,
			RetryDelay: 15 * time.Second,
			Timeout:    30 * time.Second,
		},
		OCR: OCRConfig{
			Kind:       "space",
			Language:   "eng",
			Languages:  []string{"eng"},
			Upscale:    2,
			Preprocess: true,
			Timeout:    60 * time.Second,
		},
		Store: StoreConfig{Path: "data/listings.json"},
		Run: RunConfig{
			Delay:           time.Second,
			CheckpointEvery: 10,
		},
		Schedule: ScheduleConfig{Every: time.Hour, TimeZone: "UTC"},
		Publish: PublishConfig{
			FTP:    FTPConfig{RemotePath: "listings.json", Timeout: 30 * time.Second},
			Git:    GitConfig{Remote: "origin", Message: "Update listing records"},
			Mongo:  MongoConfig{DBName: "listing_ocr", AuthSource: "admin", Collection: "listings"},
			SQLite: SQLiteConfig{Path: "data/listings.db"},
		},
	}
}

// LoadConfig 在默认值上叠加 yaml 文件，再叠加环境变量。path 为空或文件不存在时只用默认值和环境变量。
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查取值范围和必填项
func (c *Config) Validate() error {
	var errs []error
	switch c.Source.Kind {
	case "cdn":
		if c.Source.CloudName == "" {
			errs = append(errs, errors.New("source.cloudName is required for the cdn source"))
		}
	case "gallery":
		if c.Source.GalleryURL == "" {
			errs = append(errs, errors.New("source.galleryURL is required for the gallery source"))
		}
	case "manifest":
		if c.Source.Manifest == "" {
			errs = append(errs, errors.New("source.manifest is required for the manifest source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source.kind %q", c.Source.Kind))
	}

	switch c.OCR.Kind {
	case "space", "tesseract":
	default:
		errs = append(errs, fmt.Errorf("unknown ocr.kind %q", c.OCR.Kind))
	}

	if c.Source.Timeout <= 0 {
		errs = append(errs, errors.New("source.timeout must be positive"))
	}
	if c.OCR.Timeout <= 0 {
		errs = append(errs, errors.New("ocr.timeout must be positive"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Run.Delay < 0 {
		errs = append(errs, errors.New("run.delay must not be negative"))
	}
	if c.Run.CheckpointEvery < 0 || c.Run.MaxItems < 0 {
		errs = append(errs, errors.New("run.checkpointEvery and run.maxItems must not be negative"))
	}
	if c.Schedule.Enabled && c.Schedule.Every <= 0 {
		errs = append(errs, errors.New("schedule.every must be positive"))
	}
	if c.Publish.FTP.Enabled && c.Publish.FTP.Addr == "" {
		errs = append(errs, errors.New("publish.ftp.addr is required"))
	}
	if c.Publish.Git.Enabled && c.Publish.Git.Dir == "" {
		errs = append(errs, errors.New("publish.git.dir is required"))
	}
	if c.Publish.Mongo.Enabled && c.Publish.Mongo.Host == "" {
		errs = append(errs, errors.New("publish.mongo.host is required"))
	}
	if c.Publish.SQLite.Enabled && c.Publish.SQLite.Path == "" {
		errs = append(errs, errors.New("publish.sqlite.path is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
