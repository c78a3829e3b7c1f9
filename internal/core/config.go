package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/iliasdl/internal/config"
	"github.com/RecoveryAshes/iliasdl/internal/models"
	"github.com/RecoveryAshes/iliasdl/internal/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀, 例如 ILIASDL_DOWNLOAD_WORKERS
const EnvPrefix = "ILIASDL"

// Config 应用程序配置
type Config struct {
	Download models.DownloadConfig `mapstructure:"download"`
	Tools    ToolsConfig           `mapstructure:"tools"`
	Session  SessionFileConfig     `mapstructure:"session"`
	Logging  LoggingConfig         `mapstructure:"logging"`
}

// SessionFileConfig 会话文件配置
type SessionFileConfig struct {
	File string `mapstructure:"file"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// Overrides 命令行覆盖项, nil表示未指定
type Overrides struct {
	RootReference     *string
	BaseURL           *string
	DestinationRoot   *string
	MaxFileSizeMB     *float64
	Workers           *int
	OverwriteExisting *bool
	DownloadVideos    *bool
	ReduceVideoFPS    *bool
	TargetFPS         *int
	ConvertDocuments  *bool
	KeepOriginal      *bool
	Retries           *int
	RequestsPerSecond *float64
	SessionFile       *string
	LogLevel          *string
	LogDir            *string
}

// LoadConfig 加载配置
// 优先级: 默认值 < 配置文件 < 环境变量(.env会先被加载) < 命令行
func LoadConfig(configPath string) (*Config, error) {
	loadDotEnv()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		v.AddConfigPath("./configs")
		v.AddConfigPath(".")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".iliasdl"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	} else {
		utils.Debugf("使用配置文件: %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv 加载当前目录的.env文件,已存在的环境变量不会被覆盖
func loadDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(".env"); err != nil {
		utils.Warnf("⚠️  加载.env失败: %v", err)
	}
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	d := models.DefaultDownloadConfig()

	v.SetDefault("download.root_reference", "")
	v.SetDefault("download.base_url", "")
	v.SetDefault("download.destination_root", d.DestinationRoot)
	v.SetDefault("download.max_file_size_mb", d.MaxFileSizeMB)
	v.SetDefault("download.workers", d.Workers)
	v.SetDefault("download.overwrite_existing", d.OverwriteExisting)
	v.SetDefault("download.download_videos", d.DownloadVideos)
	v.SetDefault("download.reduce_video_fps", d.ReduceVideoFPS)
	v.SetDefault("download.target_fps", d.TargetFPS)
	v.SetDefault("download.convert_documents", d.ConvertDocuments)
	v.SetDefault("download.keep_original", d.KeepOriginal)
	v.SetDefault("download.retries", d.Retries)
	v.SetDefault("download.retry_backoff", d.RetryBackoff)
	v.SetDefault("download.request_timeout", d.RequestTimeout)
	v.SetDefault("download.transform_timeout", d.TransformTimeout)
	v.SetDefault("download.requests_per_second", d.RequestsPerSecond)
	v.SetDefault("download.min_free_disk_mb", d.MinFreeDiskMB)

	tools := DefaultToolsConfig()
	v.SetDefault("tools.ffmpeg", tools.FFmpeg)
	v.SetDefault("tools.soffice", tools.Soffice)

	v.SetDefault("session.file", config.DefaultSessionFile)

	// log_dir为空时使用 <destination_root>/logs
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)
}

// ApplyOverrides 合并命令行参数到配置
func (c *Config) ApplyOverrides(o Overrides) {
	setIf(&c.Download.RootReference, o.RootReference)
	setIf(&c.Download.BaseURL, o.BaseURL)
	setIf(&c.Download.DestinationRoot, o.DestinationRoot)
	setIf(&c.Download.MaxFileSizeMB, o.MaxFileSizeMB)
	setIf(&c.Download.Workers, o.Workers)
	setIf(&c.Download.OverwriteExisting, o.OverwriteExisting)
	setIf(&c.Download.DownloadVideos, o.DownloadVideos)
	setIf(&c.Download.ReduceVideoFPS, o.ReduceVideoFPS)
	setIf(&c.Download.TargetFPS, o.TargetFPS)
	setIf(&c.Download.ConvertDocuments, o.ConvertDocuments)
	setIf(&c.Download.KeepOriginal, o.KeepOriginal)
	setIf(&c.Download.Retries, o.Retries)
	setIf(&c.Download.RequestsPerSecond, o.RequestsPerSecond)
	setIf(&c.Session.File, o.SessionFile)
	setIf(&c.Logging.Level, o.LogLevel)
	setIf(&c.Logging.LogDir, o.LogDir)
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// LogDir 日志目录
func (c *Config) LogDir() string {
	if c.Logging.LogDir != "" {
		return c.Logging.LogDir
	}
	return filepath.Join(c.Download.DestinationRoot, "logs")
}

// LogConfig 转换为日志系统配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.LogDir(),
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}

// Validate 验证配置 (根节点在批量模式下由调用方逐个填充)
func (c *Config) Validate() error {
	if err := c.Download.Validate(); err != nil {
		return err
	}
	if c.Download.ReduceVideoFPS && c.Tools.FFmpeg == "" {
		return fmt.Errorf("tools.ffmpeg不能为空")
	}
	if c.Download.ConvertDocuments && c.Tools.Soffice == "" {
		return fmt.Errorf("tools.soffice不能为空")
	}
	return nil
}
