package config

import (
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"compute-grid/internal/executor"
)

type SlaveConfig struct {
	UUID string `ignored:"true"`

	Port          int    `envconfig:"SLAVE_PORT" default:"10000"`
	StatusPort    string `envconfig:"SLAVE_STATUS_PORT" default:":8081"`
	DiscoveryPort int    `envconfig:"SLAVE_DISCOVERY_PORT" default:"0"`
	AdvertiseHost string `envconfig:"SLAVE_ADVERTISE_HOST" default:"127.0.0.1"`

	Executor           string        `envconfig:"EXECUTOR" default:"MULTITHREADED"`
	TaskPoolSize       int           `envconfig:"TASK_POOL_SIZE" default:"0"`
	StreamQueueSize    int           `envconfig:"STREAM_QUEUE_SIZE" default:"64"`
	SessionIdleTimeout time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"0s"`

	MasterURL     string `envconfig:"MASTER_URL"`
	MasterRegPath string `envconfig:"MASTER_REG_PATH" default:"/api/v1/node/register/slave"`

	Wire
	Logging
}

// LoadSlaveConfig reads .env files and the environment. Startup can't go on without a
// valid config, so errors are fatal here.
func LoadSlaveConfig() *SlaveConfig {
	loadEnvFiles()

	cfg, err := ProcessSlave("")
	if err != nil {
		zap.L().Fatal("[CONFIG][ERROR]", zap.Error(err))
	}
	return cfg
}

func ProcessSlave(prefix string) (*SlaveConfig, error) {
	cfg := SlaveConfig{}
	if err := process(prefix, &cfg); err != nil {
		return nil, err
	}
	cfg.UUID = uuid.NewString()
	if cfg.TaskPoolSize <= 0 {
		cfg.TaskPoolSize = runtime.NumCPU()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *SlaveConfig) Validate() error {
	if _, err := executor.ParseType(c.Executor); err != nil {
		return err
	}
	if c.StreamQueueSize <= 0 {
		c.StreamQueueSize = 1
	}
	return c.Wire.validate()
}

func (c *SlaveConfig) ExecutorType() executor.Type {
	t, _ := executor.ParseType(c.Executor)
	return t
}

func (c *SlaveConfig) PrintConfig(log *zap.Logger) {
	l := log.Sugar()
	l.Info("===================== CONFIG =====================")
	l.Info("UUID.......................... ", c.UUID)
	l.Info("_____________SERVER____________ ")
	l.Info("SLAVE_PORT.................... ", c.Port)
	l.Info("SLAVE_STATUS_PORT............. ", c.StatusPort)
	l.Info("SLAVE_DISCOVERY_PORT.......... ", c.DiscoveryPort)
	l.Info("_____________WIRE______________ ")
	l.Info("TRANSPORT..................... ", c.Transport)
	l.Info("CODEC......................... ", c.Codec)
	l.Info("COMPRESSION................... ", c.Compression)
	l.Info("MAX_FRAME_SIZE................ ", c.MaxFrameSize)
	l.Info("_____________EXECUTOR__________ ")
	l.Info("EXECUTOR...................... ", c.Executor)
	l.Info("TASK_POOL_SIZE................ ", c.TaskPoolSize)
	l.Info("STREAM_QUEUE_SIZE............. ", c.StreamQueueSize)
	l.Info("SESSION_IDLE_TIMEOUT.......... ", c.SessionIdleTimeout)
	l.Info("_____________MASTER____________ ")
	l.Info("MASTER_URL.................... ", c.MasterURL)
	l.Info("==================================================")
}
