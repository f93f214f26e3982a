package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	amqp "github.com/rabbitmq/amqp091-go"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HOMECODE_"

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the client configuration.
type Config struct {
	RabbitMQ RabbitMQ
	Client   Client
}

// RabbitMQ holds the broker settings. Credentials are static.
type RabbitMQ struct {
	Host           string
	Port           int
	VHost          string
	User           string
	Password       string
	ManagementPort int
	ConnectTimeout time.Duration
	Exchange       string
	ExchangeType   string
}

// Client holds command defaults.
type Client struct {
	DefaultTimeout time.Duration
	Target         string // zones addressed when a command names none
	WorkerVersion  string // version workers are expected to report
}

// Default returns the configuration used for anything a file leaves out.
func Default() Config {
	return Config{
		RabbitMQ: RabbitMQ{
			Host:           "localhost",
			Port:           5672,
			VHost:          "/",
			User:           "guest",
			Password:       "guest",
			ManagementPort: 15672,
			ConnectTimeout: 10 * time.Second,
			Exchange:       "ex",
			ExchangeType:   "direct",
		},
		Client: Client{
			DefaultTimeout: 5 * time.Second,
		},
	}
}

type fileConfig struct {
	RabbitMQ struct {
		Host           string `toml:"host"`
		Port           int    `toml:"port"`
		VHost          string `toml:"vhost"`
		User           string `toml:"user"`
		Password       string `toml:"password"`
		ManagementPort int    `toml:"management_port"`
		ConnectTimeout string `toml:"connect_timeout"`
		Exchange       string `toml:"exchange"`
		ExchangeType   string `toml:"exchange_type"`
	} `toml:"rabbitmq"`
	Client struct {
		DefaultTimeout string `toml:"default_timeout"`
		Target         string `toml:"target"`
		WorkerVersion  string `toml:"worker_version"`
	} `toml:"client"`
}

// Load reads a TOML file, applies environment overrides and validates.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return build(raw, meta, os.LookupEnv)
}

// Parse is Load for in-memory TOML.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return build(raw, meta, os.LookupEnv)
}

// FromEnv returns the defaults with environment overrides applied.
func FromEnv() (Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func build(raw fileConfig, meta toml.MetaData, lookup func(string) (string, bool)) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %s", ErrInvalid, undecoded[0])
	}

	cfg := Default()
	r := &cfg.RabbitMQ

	if meta.IsDefined("rabbitmq", "host") {
		r.Host = strings.TrimSpace(raw.RabbitMQ.Host)
	}
	if meta.IsDefined("rabbitmq", "port") {
		r.Port = raw.RabbitMQ.Port
	}
	if meta.IsDefined("rabbitmq", "vhost") {
		r.VHost = raw.RabbitMQ.VHost
	}
	if meta.IsDefined("rabbitmq", "user") {
		r.User = raw.RabbitMQ.User
	}
	if meta.IsDefined("rabbitmq", "password") {
		r.Password = raw.RabbitMQ.Password
	}
	if meta.IsDefined("rabbitmq", "management_port") {
		r.ManagementPort = raw.RabbitMQ.ManagementPort
	}
	if meta.IsDefined("rabbitmq", "connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RabbitMQ.ConnectTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse rabbitmq.connect_timeout: %w", err)
		}
		r.ConnectTimeout = d
	}
	if meta.IsDefined("rabbitmq", "exchange") {
		r.Exchange = strings.TrimSpace(raw.RabbitMQ.Exchange)
	}
	if meta.IsDefined("rabbitmq", "exchange_type") {
		r.ExchangeType = strings.TrimSpace(raw.RabbitMQ.ExchangeType)
	}

	if meta.IsDefined("client", "default_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Client.DefaultTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse client.default_timeout: %w", err)
		}
		cfg.Client.DefaultTimeout = d
	}
	if meta.IsDefined("client", "target") {
		cfg.Client.Target = strings.TrimSpace(raw.Client.Target)
	}
	if meta.IsDefined("client", "worker_version") {
		cfg.Client.WorkerVersion = strings.TrimSpace(raw.Client.WorkerVersion)
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overrides broker settings from HOMECODE_RABBITMQ_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	r := &c.RabbitMQ

	strs := map[string]*string{
		"RABBITMQ_HOST":     &r.Host,
		"RABBITMQ_VHOST":    &r.VHost,
		"RABBITMQ_USER":     &r.User,
		"RABBITMQ_PASSWORD": &r.Password,
		"RABBITMQ_EXCHANGE": &r.Exchange,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"RABBITMQ_PORT":            &r.Port,
		"RABBITMQ_MANAGEMENT_PORT": &r.ManagementPort,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	if v, ok := lookup(EnvPrefix + "RABBITMQ_CONNECT_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %sRABBITMQ_CONNECT_TIMEOUT: %w", EnvPrefix, err)
		}
		r.ConnectTimeout = d
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	r := c.RabbitMQ
	switch {
	case r.Host == "":
		return fmt.Errorf("%w: rabbitmq.host is required", ErrInvalid)
	case r.Port <= 0 || r.Port > 65535:
		return fmt.Errorf("%w: rabbitmq.port %d out of range", ErrInvalid, r.Port)
	case r.ManagementPort < 0 || r.ManagementPort > 65535:
		return fmt.Errorf("%w: rabbitmq.management_port %d out of range", ErrInvalid, r.ManagementPort)
	case r.User == "":
		return fmt.Errorf("%w: rabbitmq.user is required", ErrInvalid)
	case r.ConnectTimeout <= 0:
		return fmt.Errorf("%w: rabbitmq.connect_timeout must be positive", ErrInvalid)
	case r.Exchange == "":
		return fmt.Errorf("%w: rabbitmq.exchange is required", ErrInvalid)
	case c.Client.DefaultTimeout <= 0:
		return fmt.Errorf("%w: client.default_timeout must be positive", ErrInvalid)
	}

	switch r.ExchangeType {
	case amqp.ExchangeDirect, amqp.ExchangeTopic, amqp.ExchangeFanout, amqp.ExchangeHeaders:
	default:
		return fmt.Errorf("%w: rabbitmq.exchange_type %q", ErrInvalid, r.ExchangeType)
	}
	return nil
}

// URL builds the AMQP URL of the broker.
func (r RabbitMQ) URL() string {
	return amqp.URI{
		Scheme:   "amqp",
		Host:     r.Host,
		Port:     r.Port,
		Username: r.User,
		Password: r.Password,
		Vhost:    r.VHost,
	}.String()
}
