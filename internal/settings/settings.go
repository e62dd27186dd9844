// Package settings resolves the environment derived configuration of a run.
//
// A Settings value is built once per process by Load and is never modified
// afterwards. Tasks receive it by pointer and treat it as read-only.
package settings

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	_ "embed"
)

const (
	EngineDocker = "docker"
	EngineLocal  = "local"

	DeploymentModeOSS   = "OSS"
	DeploymentModeCloud = "CLOUD"

	masked = "*****"
)

//go:embed settings.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Settings"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Settings struct {
	Database         Database `mapstructure:"database" json:"database" yaml:"database"`
	Storage          Storage  `mapstructure:"storage" json:"storage" yaml:"storage"`
	Proxy            Proxy    `mapstructure:"proxy" json:"proxy" yaml:"proxy"`
	DeploymentMode   string   `mapstructure:"deploymentMode" json:"deploymentMode" yaml:"deploymentMode"`
	LogLevel         string   `mapstructure:"logLevel" json:"logLevel" yaml:"logLevel"`
	Version          string   `mapstructure:"version" json:"version" yaml:"version"`
	EnableUnsafeCode string   `mapstructure:"enableUnsafeCode" json:"enableUnsafeCode" yaml:"enableUnsafeCode"` // raw value, see TrueLiteral
	Engine           string   `mapstructure:"engine" json:"engine" yaml:"engine"`                               // "docker" | "local"
	SourceDir        string   `mapstructure:"sourceDir" json:"sourceDir" yaml:"sourceDir"`
	WorkDir          string   `mapstructure:"workDir" json:"workDir" yaml:"workDir"`
	CacheDir         string   `mapstructure:"cacheDir" json:"cacheDir" yaml:"cacheDir"`
	OutputDir        string   `mapstructure:"outputDir" json:"outputDir" yaml:"outputDir"`
	Images           Images   `mapstructure:"images" json:"images" yaml:"images"`
	Server           Server   `mapstructure:"server" json:"server" yaml:"server"`
}

type Database struct {
	User     string `mapstructure:"user" json:"user" yaml:"user"`
	Password string `mapstructure:"password" json:"password" yaml:"password"`
	Host     string `mapstructure:"host" json:"host" yaml:"host"`
	Port     int    `mapstructure:"port" json:"port" yaml:"port"`
	Name     string `mapstructure:"name" json:"name" yaml:"name"`
}

// Storage is the object storage used by the platform under test.
type Storage struct {
	Type      string `mapstructure:"type" json:"type" yaml:"type"`
	Endpoint  string `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"accessKey" json:"accessKey" yaml:"accessKey"`
	SecretKey string `mapstructure:"secretKey" json:"secretKey" yaml:"secretKey"`
	Bucket    string `mapstructure:"bucket" json:"bucket" yaml:"bucket"`
}

// Proxy holds the credentials of the proxy services bound to backend tests.
type Proxy struct {
	User        string        `mapstructure:"user" json:"user" yaml:"user"`
	Password    string        `mapstructure:"password" json:"password" yaml:"password"`
	NewPassword string        `mapstructure:"newPassword" json:"newPassword" yaml:"newPassword"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

type Images struct {
	JDK   string `mapstructure:"jdk" json:"jdk" yaml:"jdk"`
	Node  string `mapstructure:"node" json:"node" yaml:"node"`
	Proxy string `mapstructure:"proxy" json:"proxy" yaml:"proxy"`
}

type Server struct {
	Port int `mapstructure:"port" json:"port" yaml:"port"`
}

// DatabaseURL returns the JDBC url of the configured database.
func (s *Settings) DatabaseURL() string {
	return "jdbc:postgresql://" + s.Database.Host + ":" + strconv.Itoa(s.Database.Port) + "/" + s.Database.Name
}

func (s *Settings) UnsafeCodeEnabled() bool {
	return TrueLiteral(s.EnableUnsafeCode)
}

// Redacted returns a copy safe to print.
func (s Settings) Redacted() Settings {
	mask := func(v string) string {
		if v == "" {
			return ""
		}
		return masked
	}
	s.Database.Password = mask(s.Database.Password)
	s.Storage.SecretKey = mask(s.Storage.SecretKey)
	s.Proxy.Password = mask(s.Proxy.Password)
	s.Proxy.NewPassword = mask(s.Proxy.NewPassword)
	return s
}

// TrueLiteral reports whether v is the literal "true" in any letter case.
// Anything else, including "1", "yes" or "on", is false.
func TrueLiteral(v string) bool {
	return strings.EqualFold(v, "true")
}

type binding struct {
	key    string
	env    string
	defval any
}

var bindings = []binding{
	{"database.user", "DATABASE_USER", "docker"},
	{"database.password", "DATABASE_PASSWORD", "docker"},
	{"database.host", "DATABASE_HOST", "db"},
	{"database.port", "DATABASE_PORT", 5432},
	{"database.name", "DATABASE_DB", "airbyte"},
	{"storage.type", "STORAGE_TYPE", "MINIO"},
	{"storage.endpoint", "MINIO_ENDPOINT", "http://airbyte-minio-svc:9000"},
	{"storage.accessKey", "AWS_ACCESS_KEY_ID", "minio"},
	{"storage.secretKey", "AWS_SECRET_ACCESS_KEY", "minio123"},
	{"storage.bucket", "STORAGE_BUCKET_LOG", "airbyte-dev-logs"},
	{"proxy.user", "PROXY_USER", "testuser"},
	{"proxy.password", "PROXY_PASSWORD", "test"},
	{"proxy.newPassword", "PROXY_PASSWORD_NEW", "newpassword"},
	{"proxy.timeout", "PROXY_TIMEOUT", "30s"},
	{"deploymentMode", "DEPLOYMENT_MODE", DeploymentModeOSS},
	{"logLevel", "LOG_LEVEL", "INFO"},
	{"version", "VERSION", "dev"},
	{"enableUnsafeCode", "AIRBYTE_ENABLE_UNSAFE_CODE", ""},
	{"engine", "CI_ENGINE", EngineDocker},
	{"sourceDir", "CI_SOURCE_DIR", "."},
	{"workDir", "CI_WORK_DIR", ".platformci/work"},
	{"cacheDir", "CI_CACHE_DIR", ".platformci/cache"},
	{"outputDir", "CI_OUTPUT_DIR", ".platformci/artifacts"},
	{"images.jdk", "CI_JDK_IMAGE", "amazoncorretto:21"},
	{"images.node", "CI_NODE_IMAGE", "node:20.12-bookworm"},
	{"images.proxy", "CI_PROXY_IMAGE", "nginx:1.27-alpine"},
	{"server.port", "PORT", 8080},
}

// Env returns the environment variable names Load consults, in a stable order.
func Env() []string {
	ret := make([]string, 0, len(bindings))
	for _, b := range bindings {
		ret = append(ret, b.env)
	}
	return ret
}

type Options struct {
	// ConfigFile is an optional YAML file, environment takes precedence over it.
	ConfigFile string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load resolves defaults, the optional config file and the environment into
// a validated Settings snapshot.
func Load(opts Options) (Settings, error) {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	v := viper.New()
	for _, b := range bindings {
		v.SetDefault(b.key, b.defval)
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("reading config file %s: %w", opts.ConfigFile, err)
		}
	}

	for _, b := range bindings {
		if value, ok := lookup(b.env); ok {
			v.Set(b.key, value)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsHook,
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return Settings{}, fmt.Errorf("decoding settings: %w", err)
	}
	s.DeploymentMode = strings.ToUpper(s.DeploymentMode)
	s.LogLevel = strings.ToUpper(s.LogLevel)

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// secondsHook reads a bare integer as a number of seconds when decoding a
// time.Duration, so PROXY_TIMEOUT=30 means the same as PROXY_TIMEOUT=30s.
func secondsHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeFor[time.Duration]() {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return data, nil
		}
		return time.Duration(n) * time.Second, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case uint64:
		return time.Duration(v) * time.Second, nil
	}
	return data, nil
}

// Validate checks s against the embedded schema.
func (s Settings) Validate() error {
	value := cueCtx.Encode(s)
	if value.Err() != nil {
		return fmt.Errorf("encoding settings: %w", value.Err())
	}
	unified := schema.Unify(value)
	if err := unified.Validate(
		cue.All(),
		cue.Concrete(true),
	); err != nil {
		return fmt.Errorf("validating settings: %w", err)
	}
	return nil
}

// Details flattens a validation error into human readable lines.
func Details(err error) []string {
	var out []string
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path := strings.Join(e.Path(), "."); path != "" {
			msg = path + ": " + msg
		}
		out = append(out, msg)
	}
	return out
}
