package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type MasterConfig struct {
	UUID string `ignored:"true"`

	StatusPort          string        `envconfig:"MASTER_STATUS_PORT" default:":8080"`
	DiscoveryPort       int           `envconfig:"DISCOVERY_PORT" default:"0"`
	SlaveDiscoveryPort  int           `envconfig:"SLAVE_DISCOVERY_PORT" default:"10001"`
	DiscoveryTargets    []string      `envconfig:"DISCOVERY_TARGETS"`
	DiscoveryInterval   time.Duration `envconfig:"DISCOVERY_INTERVAL" default:"15s"`
	CheckHealthInterval time.Duration `envconfig:"HEALTH_CHECK_INTERVAL" default:"10s"`
	ConnectTimeout      time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s"`
	MinBatchTimeout     time.Duration `envconfig:"MIN_BATCH_TIMEOUT" default:"1s"`
	FirstBatchTimeout   time.Duration `envconfig:"FIRST_BATCH_TIMEOUT" default:"1m"`
	Slaves              []string      `envconfig:"SLAVES"`

	ModelName       string  `envconfig:"MODEL_NAME" required:"true"`
	ModelScriptPath string  `envconfig:"MODEL_SCRIPT_PATH" required:"true"`
	Replicas        int     `envconfig:"REPLICAS" default:"100"`
	Deadline        float64 `envconfig:"DEADLINE" default:"100"`
	Seed            int64   `envconfig:"SEED" default:"0"`
	RawParams       string  `envconfig:"PARAMS"`

	Params map[string]float64 `ignored:"true"`

	Wire
	Logging
}

func LoadMasterConfig() *MasterConfig {
	loadEnvFiles()

	cfg, err := ProcessMaster("")
	if err != nil {
		zap.L().Fatal("[CONFIG][ERROR]", zap.Error(err))
	}
	return cfg
}

func ProcessMaster(prefix string) (*MasterConfig, error) {
	cfg := MasterConfig{}
	if err := process(prefix, &cfg); err != nil {
		return nil, err
	}
	cfg.UUID = uuid.NewString()

	params, err := ParseParams(cfg.RawParams)
	if err != nil {
		return nil, err
	}
	cfg.Params = params
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *MasterConfig) Validate() error {
	if c.ModelName == "" || c.ModelScriptPath == "" {
		return fmt.Errorf("MODEL_NAME and MODEL_SCRIPT_PATH are required")
	}
	if c.Replicas <= 0 {
		return fmt.Errorf("REPLICAS must be positive, got %d", c.Replicas)
	}
	if c.Deadline < 0 {
		return fmt.Errorf("DEADLINE must not be negative, got %v", c.Deadline)
	}
	return c.Wire.validate()
}

func (c *MasterConfig) PrintConfig(log *zap.Logger) {
	l := log.Sugar()
	l.Info("===================== CONFIG =====================")
	l.Info("UUID.......................... ", c.UUID)
	l.Info("_____________SERVER____________ ")
	l.Info("MASTER_STATUS_PORT............ ", c.StatusPort)
	l.Info("DISCOVERY_PORT................ ", c.DiscoveryPort)
	l.Info("SLAVE_DISCOVERY_PORT.......... ", c.SlaveDiscoveryPort)
	l.Info("DISCOVERY_INTERVAL............ ", c.DiscoveryInterval)
	l.Info("HEALTH_CHECK_INTERVAL......... ", c.CheckHealthInterval)
	l.Info("CONNECT_TIMEOUT............... ", c.ConnectTimeout)
	l.Info("MIN_BATCH_TIMEOUT............. ", c.MinBatchTimeout)
	l.Info("FIRST_BATCH_TIMEOUT........... ", c.FirstBatchTimeout)
	l.Info("SLAVES........................ ", c.Slaves)
	l.Info("_____________WIRE______________ ")
	l.Info("TRANSPORT..................... ", c.Transport)
	l.Info("CODEC......................... ", c.Codec)
	l.Info("COMPRESSION................... ", c.Compression)
	l.Info("_____________TASK______________ ")
	l.Info("MODEL_NAME.................... ", c.ModelName)
	l.Info("MODEL_SCRIPT_PATH............. ", c.ModelScriptPath)
	l.Info("REPLICAS...................... ", c.Replicas)
	l.Info("DEADLINE...................... ", c.Deadline)
	l.Info("SEED.......................... ", c.Seed)
	l.Info("PARAMS........................ ", c.RawParams)
	l.Info("==================================================")
}
