package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the client.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName    string          `mapstructure:"APP_NAME"`
	AppVersion string          `mapstructure:"APP_VERSION"`
	LogLevel   string          `mapstructure:"LOG_LEVEL"`
	LogFormat  string          `mapstructure:"LOG_FORMAT"` // "text" or "json"
	Backend    BackendConfig   `mapstructure:"BACKEND"`
	WebSocket  WebSocketConfig `mapstructure:"WEBSOCKET"`
	Session    SessionConfig   `mapstructure:"SESSION"`
	Signals    SignalsConfig   `mapstructure:"SIGNALS"`
	Paging     PagingConfig    `mapstructure:"PAGING"`
	Auth       AuthConfig      `mapstructure:"AUTH"`
}

// BackendConfig describes how to find the backend.
type BackendConfig struct {
	BaseURL        string        `mapstructure:"BASE_URL"`         // wins when set
	DefaultBaseURL string        `mapstructure:"DEFAULT_BASE_URL"` // used when discovery finds nothing
	WebSocketPath  string        `mapstructure:"WEBSOCKET_PATH"`
	TunnelAPI      string        `mapstructure:"TUNNEL_API"` // tunnel listing of the local ngrok agent
	TunnelName     string        `mapstructure:"TUNNEL_NAME"`
	TunnelPort     string        `mapstructure:"TUNNEL_PORT"`
	HTTPTimeout    time.Duration `mapstructure:"HTTP_TIMEOUT" validate:"gt=0"`
	DefaultAvatar  string        `mapstructure:"DEFAULT_AVATAR"`
}

// WebSocketConfig holds configuration for the websocket transport.
type WebSocketConfig struct {
	WriteWaitSeconds        int `mapstructure:"WRITE_WAIT_SECONDS"`
	PongWaitSeconds         int `mapstructure:"PONG_WAIT_SECONDS"` // 0 disables the read deadline
	MaxMessageSizeBytes     int `mapstructure:"MAX_MESSAGE_SIZE_BYTES"`
	HandshakeTimeoutSeconds int `mapstructure:"HANDSHAKE_TIMEOUT_SECONDS"`
	SendBufferSize          int `mapstructure:"SEND_BUFFER_SIZE" validate:"min=1"`
}

// SessionConfig holds connection lifecycle timings.
type SessionConfig struct {
	KeepAliveInterval    time.Duration `mapstructure:"KEEPALIVE_INTERVAL" validate:"gt=0"`
	ReconnectBaseDelay   time.Duration `mapstructure:"RECONNECT_BASE_DELAY" validate:"gt=0"`
	ReconnectMaxDelay    time.Duration `mapstructure:"RECONNECT_MAX_DELAY" validate:"gt=0,gtefield=ReconnectBaseDelay"`
	MaxReconnectAttempts int           `mapstructure:"MAX_RECONNECT_ATTEMPTS" validate:"min=1"`
	EventBufferSize      int           `mapstructure:"EVENT_BUFFER_SIZE"`
}

// SignalsConfig holds ephemeral signal timings.
type SignalsConfig struct {
	TypingExpiry   time.Duration `mapstructure:"TYPING_EXPIRY" validate:"gt=0"`
	TypingThrottle time.Duration `mapstructure:"TYPING_THROTTLE" validate:"gte=0"`
	SearchDebounce time.Duration `mapstructure:"SEARCH_DEBOUNCE" validate:"gt=0"`
}

// PagingConfig holds page sizes for contacts and history.
type PagingConfig struct {
	ContactsPageSize     int `mapstructure:"CONTACTS_PAGE_SIZE" validate:"min=1"`
	HistoryPageSize      int `mapstructure:"HISTORY_PAGE_SIZE" validate:"min=1"`
	MaxEmptyHistoryPages int `mapstructure:"MAX_EMPTY_HISTORY_PAGES" validate:"min=1"`
}

// AuthConfig holds login input for the CLI. Nothing here is ever written back.
type AuthConfig struct {
	Login    string `mapstructure:"LOGIN"`
	Password string `mapstructure:"PASSWORD"`
	Token    string `mapstructure:"TOKEN"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("APP_NAME", "im-sync")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")

	// Backend Defaults
	v.SetDefault("BACKEND.BASE_URL", "")
	v.SetDefault("BACKEND.DEFAULT_BASE_URL", "http://localhost:8080")
	v.SetDefault("BACKEND.WEBSOCKET_PATH", "/ws")
	v.SetDefault("BACKEND.TUNNEL_API", "http://127.0.0.1:4040/api/tunnels")
	v.SetDefault("BACKEND.TUNNEL_NAME", "be")
	v.SetDefault("BACKEND.TUNNEL_PORT", "8080")
	v.SetDefault("BACKEND.HTTP_TIMEOUT", 15*time.Second)
	v.SetDefault("BACKEND.DEFAULT_AVATAR", "https://cdn-icons-png.flaticon.com/512/149/149071.png")

	// WebSocket Defaults
	v.SetDefault("WEBSOCKET.WRITE_WAIT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.PONG_WAIT_SECONDS", 0)
	v.SetDefault("WEBSOCKET.MAX_MESSAGE_SIZE_BYTES", 1<<20) // 1 MB
	v.SetDefault("WEBSOCKET.HANDSHAKE_TIMEOUT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.SEND_BUFFER_SIZE", 256)

	// Session Defaults
	v.SetDefault("SESSION.KEEPALIVE_INTERVAL", 30*time.Second)
	v.SetDefault("SESSION.RECONNECT_BASE_DELAY", 5*time.Second)
	v.SetDefault("SESSION.RECONNECT_MAX_DELAY", 30*time.Second)
	v.SetDefault("SESSION.MAX_RECONNECT_ATTEMPTS", 10)
	v.SetDefault("SESSION.EVENT_BUFFER_SIZE", 256)

	// Signals Defaults
	v.SetDefault("SIGNALS.TYPING_EXPIRY", 3000*time.Millisecond)
	v.SetDefault("SIGNALS.TYPING_THROTTLE", 2000*time.Millisecond)
	v.SetDefault("SIGNALS.SEARCH_DEBOUNCE", 300*time.Millisecond)

	// Paging Defaults
	v.SetDefault("PAGING.CONTACTS_PAGE_SIZE", 20)
	v.SetDefault("PAGING.HISTORY_PAGE_SIZE", 20)
	v.SetDefault("PAGING.MAX_EMPTY_HISTORY_PAGES", 3)

	// Auth Defaults (CLI input only)
	v.SetDefault("AUTH.LOGIN", "")
	v.SetDefault("AUTH.PASSWORD", "")
	v.SetDefault("AUTH.TOKEN", "")

	if path != "" {
		v.SetConfigFile(path) // Path to look for the config file in.
	} else {
		v.AddConfigPath("./config") // Path to look for the config file in.
		v.AddConfigPath(".")        // Optionally look for config in the working directory.
		v.SetConfigName("config")   // Name of config file (without extension).
		v.SetConfigType("yaml")     // REQUIRED if the config file does not have the extension in the name
	}

	v.AutomaticEnv() // Read in environment variables that match
	// For nested structs, viper uses underscore: SESSION_KEEPALIVE_INTERVAL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// Also accept the variable names the web frontend uses.
	if err = v.BindEnv("BACKEND.BASE_URL", "BACKEND_BASE_URL", "NEXT_PUBLIC_API_BASE"); err != nil {
		return
	}

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			return
		}
		// Config file not found; defaults and environment are enough.
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}
	err = config.Validate()
	return
}

var validate = newValidator()

// newValidator reports fields by their config key, e.g. SESSION.KEEPALIVE_INTERVAL.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("mapstructure"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	err := validate.Struct(c)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		key := strings.TrimPrefix(fe.Namespace(), "Config.")
		errs = append(errs, fmt.Errorf("%s %s, got %v", key, validationMessage(fe), fe.Value()))
	}
	return errors.Join(errs...)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.ActualTag() {
	case "gt":
		return "must be positive"
	case "gte":
		return "must not be negative"
	case "min":
		return "must be at least " + fe.Param()
	case "gtefield":
		return "must not be below " + fe.Param()
	default:
		return "is invalid"
	}
}
