package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App       AppConfig       `json:"app"`
	Redis     RedisConfig     `json:"redis"`
	Browser   BrowserConfig   `json:"browser"`
	Import    ImportConfig    `json:"import"`
	Extract   ExtractConfig   `json:"extract"`
	Translate TranslateConfig `json:"translate"`
	Email     EmailConfig     `json:"email"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env         string `json:"env"`          // 运行环境: local / prod
	LogLevel    string `json:"log_level"`    // 日志级别: debug / info / warn / error
	HTTPAddr    string `json:"http_addr"`    // API 服务监听地址
	MetricsAddr string `json:"metrics_addr"` // Metrics 服务监听地址
	BackendURL  string `json:"backend_url"`  // 后端服务根地址（启动时写入槽位）
}

// RedisConfig Redis 配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// BrowserConfig 页面快照浏览器配置。
type BrowserConfig struct {
	BinPath     string        `json:"bin_path"`     // 浏览器可执行文件路径
	ProxyURL    string        `json:"proxy_url"`    // 代理服务器 URL
	Headless    bool          `json:"headless"`     // 是否使用无头模式
	PageTimeout time.Duration `json:"page_timeout"` // 单页加载超时（如 "45s"）
	SettleDelay time.Duration `json:"settle_delay"` // 加载完成后的稳定等待（如 "1500ms"）
}

// ImportConfig 导入队列配置。
type ImportConfig struct {
	Pacing        time.Duration `json:"pacing"`         // 相邻提交之间的最小间隔（如 "2s"）
	SubmitTimeout time.Duration `json:"submit_timeout"` // 单次提交超时
	DedupWindow   time.Duration `json:"dedup_window"`   // 近期导入去重窗口
	RateLimit     float64       `json:"rate_limit"`     // 跨实例限流速率（token/s，0 关闭）
	RateBurst     float64       `json:"rate_burst"`     // 限流桶容量
}

// ExtractConfig 提取相关配置。
type ExtractConfig struct {
	VariantCap   int           `json:"variant_cap"`   // 合成变体数量上限
	DefaultStock int           `json:"default_stock"` // 源站不报库存时的默认库存
	Debounce     time.Duration `json:"debounce"`      // 地址变化去抖间隔
}

// TranslateConfig 标题翻译配置。
type TranslateConfig struct {
	Endpoint string        `json:"endpoint"` // 翻译服务地址（为空关闭翻译）
	Timeout  time.Duration `json:"timeout"`  // 单次翻译超时
	From     string        `json:"from"`     // 源语言
	To       string        `json:"to"`       // 目标语言
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
	ToEmail   string `json:"to_email"`
}

// Load 从 JSON 文件加载配置。
//
// 尝试读取 configs/config.json，不存在时使用默认值；
// 环境变量优先覆盖文件内容。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save 保存配置到 JSON 文件。
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:         "local",
			LogLevel:    "info",
			HTTPAddr:    ":8082",
			MetricsAddr: ":2112",
			BackendURL:  "",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Browser: BrowserConfig{
			BinPath:     "",
			ProxyURL:    "",
			Headless:    true,
			PageTimeout: 45 * time.Second,
			SettleDelay: 1500 * time.Millisecond,
		},
		Import: ImportConfig{
			Pacing:        2 * time.Second,
			SubmitTimeout: 30 * time.Second,
			DedupWindow:   time.Hour,
			RateLimit:     0,
			RateBurst:     1,
		},
		Extract: ExtractConfig{
			VariantCap:   50,
			DefaultStock: 999,
			Debounce:     800 * time.Millisecond,
		},
		Translate: TranslateConfig{
			Endpoint: "",
			Timeout:  10 * time.Second,
			From:     "zh",
			To:       "ko",
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
			ToEmail:   "",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = defaults.App.MetricsAddr
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Browser.PageTimeout == 0 {
		cfg.Browser.PageTimeout = defaults.Browser.PageTimeout
	}
	if cfg.Browser.SettleDelay == 0 {
		cfg.Browser.SettleDelay = defaults.Browser.SettleDelay
	}
	if cfg.Import.Pacing == 0 {
		cfg.Import.Pacing = defaults.Import.Pacing
	}
	if cfg.Import.SubmitTimeout == 0 {
		cfg.Import.SubmitTimeout = defaults.Import.SubmitTimeout
	}
	if cfg.Import.DedupWindow == 0 {
		cfg.Import.DedupWindow = defaults.Import.DedupWindow
	}
	if cfg.Import.RateBurst == 0 {
		cfg.Import.RateBurst = defaults.Import.RateBurst
	}
	if cfg.Extract.VariantCap == 0 {
		cfg.Extract.VariantCap = defaults.Extract.VariantCap
	}
	if cfg.Extract.DefaultStock == 0 {
		cfg.Extract.DefaultStock = defaults.Extract.DefaultStock
	}
	if cfg.Extract.Debounce == 0 {
		cfg.Extract.Debounce = defaults.Extract.Debounce
	}
	if cfg.Translate.Timeout == 0 {
		cfg.Translate.Timeout = defaults.Translate.Timeout
	}
	if cfg.Translate.From == "" {
		cfg.Translate.From = defaults.Translate.From
	}
	if cfg.Translate.To == "" {
		cfg.Translate.To = defaults.Translate.To
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("chrome_bin", "CHROME_BIN")
	_ = viper.BindEnv("backend_url", "BACKEND_URL")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_METRICS_ADDR"); v != "" {
		cfg.App.MetricsAddr = v
	}
	if v := viper.GetString("backend_url"); v != "" {
		cfg.App.BackendURL = v
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := viper.GetString("chrome_bin"); v != "" {
		cfg.Browser.BinPath = v
	}
	if v := os.Getenv("BROWSER_PROXY_URL"); v != "" {
		cfg.Browser.ProxyURL = v
	}
	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if v := os.Getenv("BROWSER_PAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Browser.PageTimeout = d
		}
	}
	if v := os.Getenv("BROWSER_SETTLE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Browser.SettleDelay = d
		}
	}

	if v := os.Getenv("IMPORT_PACING"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Import.Pacing = d
		}
	}
	if v := os.Getenv("IMPORT_SUBMIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Import.SubmitTimeout = d
		}
	}
	if v := os.Getenv("IMPORT_DEDUP_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Import.DedupWindow = d
		}
	}
	if v := os.Getenv("IMPORT_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Import.RateLimit = f
		}
	}
	if v := os.Getenv("IMPORT_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Import.RateBurst = f
		}
	}

	if v := os.Getenv("EXTRACT_VARIANT_CAP"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Extract.VariantCap = i
		}
	}
	if v := os.Getenv("EXTRACT_DEFAULT_STOCK"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Extract.DefaultStock = i
		}
	}
	if v := os.Getenv("EXTRACT_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Extract.Debounce = d
		}
	}

	if v := os.Getenv("TRANSLATE_ENDPOINT"); v != "" {
		cfg.Translate.Endpoint = v
	}
	if v := os.Getenv("TRANSLATE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Translate.Timeout = d
		}
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := os.Getenv("SMTP_TO"); v != "" {
		cfg.Email.ToEmail = v
	}
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (b *BrowserConfig) UnmarshalJSON(data []byte) error {
	type Alias BrowserConfig
	aux := &struct {
		PageTimeout string `json:"page_timeout"`
		SettleDelay string `json:"settle_delay"`
		*Alias
	}{
		Alias: (*Alias)(b),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.PageTimeout != "" {
		d, err := time.ParseDuration(aux.PageTimeout)
		if err != nil {
			return fmt.Errorf("invalid page_timeout format: %w", err)
		}
		b.PageTimeout = d
	}
	if aux.SettleDelay != "" {
		d, err := time.ParseDuration(aux.SettleDelay)
		if err != nil {
			return fmt.Errorf("invalid settle_delay format: %w", err)
		}
		b.SettleDelay = d
	}
	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (b BrowserConfig) MarshalJSON() ([]byte, error) {
	type Alias BrowserConfig
	return json.Marshal(&struct {
		PageTimeout string `json:"page_timeout"`
		SettleDelay string `json:"settle_delay"`
		*Alias
	}{
		PageTimeout: b.PageTimeout.String(),
		SettleDelay: b.SettleDelay.String(),
		Alias:       (*Alias)(&b),
	})
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (i *ImportConfig) UnmarshalJSON(data []byte) error {
	type Alias ImportConfig
	aux := &struct {
		Pacing        string `json:"pacing"`
		SubmitTimeout string `json:"submit_timeout"`
		DedupWindow   string `json:"dedup_window"`
		*Alias
	}{
		Alias: (*Alias)(i),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Pacing != "" {
		d, err := time.ParseDuration(aux.Pacing)
		if err != nil {
			return fmt.Errorf("invalid pacing format: %w", err)
		}
		i.Pacing = d
	}
	if aux.SubmitTimeout != "" {
		d, err := time.ParseDuration(aux.SubmitTimeout)
		if err != nil {
			return fmt.Errorf("invalid submit_timeout format: %w", err)
		}
		i.SubmitTimeout = d
	}
	if aux.DedupWindow != "" {
		d, err := time.ParseDuration(aux.DedupWindow)
		if err != nil {
			return fmt.Errorf("invalid dedup_window format: %w", err)
		}
		i.DedupWindow = d
	}
	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (i ImportConfig) MarshalJSON() ([]byte, error) {
	type Alias ImportConfig
	return json.Marshal(&struct {
		Pacing        string `json:"pacing"`
		SubmitTimeout string `json:"submit_timeout"`
		DedupWindow   string `json:"dedup_window"`
		*Alias
	}{
		Pacing:        i.Pacing.String(),
		SubmitTimeout: i.SubmitTimeout.String(),
		DedupWindow:   i.DedupWindow.String(),
		Alias:         (*Alias)(&i),
	})
}
