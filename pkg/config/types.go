package config

import "fmt"

// Config is the root configuration for the appbridge service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Storage     StorageConfig     `yaml:"storage"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`

	// CallbackBaseURL is the externally reachable base URL used to build
	// OAuth redirect URIs (e.g. a tunnel or ingress hostname).
	CallbackBaseURL string `yaml:"callback_base_url"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level,omitempty"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// OracleConfig configures the reasoning oracle provider.
type OracleConfig struct {
	// Type is the provider type. Only "openai" is supported.
	Type        string   `yaml:"type"`
	Model       string   `yaml:"model,omitempty"`
	APIKey      string   `yaml:"api_key,omitempty"`
	Host        string   `yaml:"host,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`

	// Timeout in seconds for a single completion call.
	Timeout    int `yaml:"timeout,omitempty"`
	MaxRetries int `yaml:"max_retries,omitempty"`
	RetryDelay int `yaml:"retry_delay,omitempty"`
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	Type       string `yaml:"type"`
	Model      string `yaml:"model,omitempty"`
	APIKey     string `yaml:"api_key,omitempty"`
	Host       string `yaml:"host,omitempty"`
	Dimension  int    `yaml:"dimension,omitempty"`
	Timeout    int    `yaml:"timeout,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
	BatchSize  int    `yaml:"batch_size,omitempty"`
}

// VectorStoreConfig configures the vector index provider.
//
// Example YAML:
//
//	vector_store:
//	  type: qdrant
//	  host: qdrant.example.com
//	  port: 6334
//	  api_key: ${QDRANT_API_KEY}
type VectorStoreConfig struct {
	// Type is the vector store type: "qdrant" or "pinecone".
	Type string `yaml:"type"`

	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	APIKey    string `yaml:"api_key,omitempty"`
	EnableTLS *bool  `yaml:"enable_tls,omitempty"`

	// Collection is the collection (qdrant) or index (pinecone) holding
	// the endpoint vectors.
	Collection string `yaml:"collection,omitempty"`

	// IndexName for Pinecone.
	IndexName string `yaml:"index_name,omitempty"`
}

// StorageConfig configures the relational store.
type StorageConfig struct {
	// Driver is one of postgres, mysql, sqlite.
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`

	// Path is the database file for sqlite.
	Path string `yaml:"path,omitempty"`

	MaxConns int `yaml:"max_conns,omitempty"`
	MaxIdle  int `yaml:"max_idle,omitempty"`
}

// PipelineConfig carries the fulfillment pipeline tunables.
type PipelineConfig struct {
	// RequestTimeout bounds one full fulfillment pass, in seconds.
	RequestTimeout int `yaml:"request_timeout,omitempty"`
}

func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Oracle.SetDefaults()
	c.Embedder.SetDefaults()
	c.VectorStore.SetDefaults()
	c.Storage.SetDefaults()
	c.Pipeline.SetDefaults()
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) Validate() error {
	if err := c.Oracle.Validate(); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if err := c.VectorStore.Validate(); err != nil {
		return fmt.Errorf("vector_store: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 3001
	}
}

func (c *OracleConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Host == "" {
		c.Host = "https://api.openai.com/v1"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1000
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
}

func (c *OracleConfig) Validate() error {
	if c.Type != "openai" {
		return fmt.Errorf("invalid oracle type %q (valid: openai)", c.Type)
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	return nil
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Host == "" {
		c.Host = "https://api.openai.com/v1"
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
}

func (c *EmbedderConfig) Validate() error {
	if c.Type != "openai" {
		return fmt.Errorf("invalid embedder type %q (valid: openai)", c.Type)
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	return nil
}

func (c *VectorStoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "qdrant"
	}
	if c.Port == 0 && c.Type == "qdrant" {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "appbridge-endpoints"
	}
}

func (c *VectorStoreConfig) Validate() error {
	switch c.Type {
	case "qdrant":
		if c.Host == "" {
			return fmt.Errorf("host is required for qdrant")
		}
	case "pinecone":
		if c.APIKey == "" {
			return fmt.Errorf("api_key is required for pinecone")
		}
	default:
		return fmt.Errorf("invalid vector store type %q (valid: qdrant, pinecone)", c.Type)
	}
	return nil
}

func (c *StorageConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.Driver == "sqlite" && c.Path == "" {
		c.Path = "appbridge.db"
	}
	if c.Port == 0 {
		switch c.Driver {
		case "postgres":
			c.Port = 5432
		case "mysql":
			c.Port = 3306
		}
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 2
	}
}

func (c *StorageConfig) Validate() error {
	switch c.Driver {
	case "postgres", "mysql":
		if c.Host == "" || c.Database == "" {
			return fmt.Errorf("host and database are required for %s", c.Driver)
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported driver: %s (supported: postgres, mysql, sqlite)", c.Driver)
	}
	return nil
}

// ConnectionString builds the driver-specific DSN.
func (c *StorageConfig) ConnectionString() string {
	switch c.Driver {
	case "postgres":
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.Username, c.Password, c.Database, sslMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.Username, c.Password, c.Host, c.Port, c.Database)
	default:
		return c.Path
	}
}

func (c *PipelineConfig) SetDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60
	}
}

// BoolPtr is a convenience helper for optional boolean fields.
func BoolPtr(b bool) *bool {
	return &b
}
