package infra

import (
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix env prefix for viper
const EnvPrefix = "COURSEKIT"

// runtime environments
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// AppConfig App option object
type AppConfig struct {
	AppID   string `mapstructure:"app_id" json:"app_id" yaml:"app_id" validate:"required"`            // Application ID
	Env     string `mapstructure:"env" json:"env" yaml:"env" validate:"oneof=development production"` // runtime environment
	Backend struct {
		BaseURL     string        `mapstructure:"base_url" json:"base_url" yaml:"base_url" validate:"required"`            // backend origin, eg.https://api.example.com
		TokenHeader string        `mapstructure:"token_header" json:"token_header" yaml:"token_header" validate:"required"` // security token header name
		TokenTTL    time.Duration `mapstructure:"token_ttl" json:"token_ttl" yaml:"token_ttl"`                             // security token lifetime
		Timeout     time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`                                   // per request timeout
		Mock        bool          `mapstructure:"mock" json:"mock" yaml:"mock"`                                            // run against the in-process mock backend
	} `mapstructure:"backend" json:"backend" yaml:"backend"`
	Logging struct {
		FilePath string `mapstructure:"file_path" json:"file_path" yaml:"file_path"`                            // log file path
		Level    string `mapstructure:"level" json:"level" yaml:"level" validate:"oneof=debug info warn error"` // global logging level
	} `mapstructure:"logging" json:"logging" yaml:"logging"`
	KVStore struct {
		Driver   string `mapstructure:"driver" json:"driver" yaml:"driver" validate:"oneof=redis sqlite memory"` // durable store backend
		Host     string `mapstructure:"host" json:"host" yaml:"host"`                                            // redis host
		Port     int    `mapstructure:"port" json:"port" yaml:"port"`                                            // redis port
		Password string `mapstructure:"password" json:"password" yaml:"password"`                                // redis password
		Path     string `mapstructure:"path" json:"path" yaml:"path"`                                            // sqlite file path
	} `mapstructure:"kv" json:"kv" yaml:"kv"`
	Security struct {
		IDLength  int    `mapstructure:"id_length" json:"id_length" yaml:"id_length"` // length of generated session ids (mock server)
		JWTMethod string `mapstructure:"jwt_method" json:"jwt_method" yaml:"jwt_method" validate:"oneof=HS256 HS512 ES256"`
		JWTSecret string `mapstructure:"jwt_secret" json:"jwt_secret" yaml:"jwt_secret"` // mock server token signing secret
	} `mapstructure:"security" json:"security" yaml:"security"`
	MockServer struct {
		Host string `mapstructure:"host" json:"host" yaml:"host"` // bind host address
		Port int    `mapstructure:"port" json:"port" yaml:"port"` // bind listen port
	} `mapstructure:"mock_server" json:"mock_server" yaml:"mock_server"`
	DevOP struct {
		APM bool `mapstructure:"apm" json:"apm" yaml:"apm"`
	} `mapstructure:"devop" json:"devop" yaml:"devop"`
}

// InitConfig init app config using viper
func InitConfig() (*AppConfig, error) {
	// app
	pflag.String("app_id", "coursekit", "application identifier")
	pflag.String("env", "development", "runtime environment, can be 'development' or 'production'")

	// backend
	pflag.String("backend.base_url", "", "backend origin (required)")
	pflag.String("backend.token_header", "X-Security-Token", "request header carrying the security token")
	pflag.Duration("backend.token_ttl", 10*time.Minute, "security token lifetime(m, s and h units are supported), eg.10m")
	pflag.Duration("backend.timeout", 30*time.Second, "per request timeout")
	pflag.Bool("backend.mock", false, "serve and use the in-process mock backend")

	// logging
	pflag.String("logging.level", "info", "logging level")
	pflag.String("logging.file_path", "", "log to file")

	// kv storage
	pflag.String("kv.driver", "sqlite", "durable key-value store backend, can be 'redis', 'sqlite' or 'memory'")
	pflag.String("kv.host", "127.0.0.1", "kv host (redis)")
	pflag.Int("kv.port", 6379, "kv server port (redis)")
	pflag.String("kv.password", "", "kv server password (redis)")
	pflag.String("kv.path", "coursekit.db", "kv file path (sqlite)")

	// security (mock server)
	pflag.Int("security.id_length", 24, "set length of generated session ids")
	pflag.String("security.jwt_method", "HS256", "hash algorithm used for mock server tokens")
	pflag.String("security.jwt_secret", "", "mock server token secret")

	// mock server
	pflag.String("mock_server.host", "127.0.0.1", "mock server binding address")
	pflag.Int("mock_server.port", 8081, "mock server listening port")

	// DevOp
	pflag.Bool("devop.apm", false, "enable apm metrics")

	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var config = new(AppConfig)
	if err := viper.Unmarshal(config); err != nil {
		return nil, err
	}
	if config.Backend.Mock && config.Backend.BaseURL == "" {
		config.Backend.BaseURL = fmt.Sprintf("http://%s:%d", config.MockServer.Host, config.MockServer.Port)
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if config.Logging.Level == "debug" {
		if configJSON, err := json.MarshalIndent(config, "", "  "); err == nil {
			log.Printf("App config: %s\n", string(configJSON))
		}
	}
	return config, nil
}

func validateConfig(config *AppConfig) error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("json")
		if name == "-" || name == "" {
			name = fld.Tag.Get("yaml")
			if name == "-" || name == "" {
				return ""
			}
		}
		return name
	})
	err := validate.Struct(config)
	if _, ok := err.(*validator.InvalidValidationError); ok {
		log.Fatalf("Failed to validate config: %s", err)
	}
	if err == nil {
		return nil
	}

	var msg []string
	for _, field := range err.(validator.ValidationErrors) {
		namespace := field.Namespace()
		fieldName := namespace[strings.IndexByte(namespace, '.')+1:] // trim top level namespace
		switch field.Tag() {
		case "required":
			msg = append(msg, fmt.Sprintf("%s is required", fieldName))
		case "oneof":
			msg = append(msg, fmt.Sprintf("%s must be one of (%s)", fieldName, field.Param()))
		}
	}
	if len(msg) > 0 {
		return fmt.Errorf("failed to validate config: \n%s", strings.Join(msg, "\n"))
	}
	return nil
}
