package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"compute-grid/internal/codec"
	"compute-grid/internal/logger"
	"compute-grid/internal/transport"
	"compute-grid/pkg/model"
)

var envFiles = []string{".env.local", ".env"}

// Logging is embedded by both process configs.
type Logging struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`
	LogFile   string `envconfig:"LOG_FILE"`
}

func (l Logging) LoggerConfig() logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = l.LogLevel
	cfg.Format = l.LogFormat
	cfg.FilePath = l.LogFile
	return cfg
}

// Wire is the transport and encoding setup; master and slaves must agree on it.
type Wire struct {
	Transport    string `envconfig:"TRANSPORT" default:"DEFAULT"`
	Codec        string `envconfig:"CODEC" default:"DEFAULT"`
	Compression  string `envconfig:"COMPRESSION" default:"none"`
	MaxFrameSize int    `envconfig:"MAX_FRAME_SIZE" default:"67108864"`

	TLSCertFile string `envconfig:"TLS_CERT_FILE"`
	TLSKeyFile  string `envconfig:"TLS_KEY_FILE"`
	TLSCAFile   string `envconfig:"TLS_CA_FILE"`
}

func (w Wire) TransportType() (model.TransportType, error) {
	return model.ParseTransportType(w.Transport)
}

func (w Wire) Pipeline() (*codec.Pipeline, error) {
	return codec.NewPipelineByName(w.Codec, w.Compression)
}

func (w Wire) TLSFiles() transport.TLSFiles {
	return transport.TLSFiles{CertFile: w.TLSCertFile, KeyFile: w.TLSKeyFile, CAFile: w.TLSCAFile}
}

func (w Wire) validate() error {
	tt, err := w.TransportType()
	if err != nil {
		return err
	}
	switch tt {
	case model.TRANSPORT_DEFAULT:
	case model.TRANSPORT_SECURE:
		if w.TLSCertFile == "" || w.TLSKeyFile == "" || w.TLSCAFile == "" {
			return errors.New("SECURE transport needs TLS_CERT_FILE, TLS_KEY_FILE and TLS_CA_FILE")
		}
	default:
		return fmt.Errorf("transport %s can't carry grid sessions", tt)
	}
	if _, err := w.Pipeline(); err != nil {
		return err
	}
	if w.MaxFrameSize <= 0 {
		return fmt.Errorf("MAX_FRAME_SIZE must be positive, got %d", w.MaxFrameSize)
	}
	return nil
}

// Manager builds the transport manager this wire setup describes.
func (w Wire) Manager() (*transport.Manager, error) {
	tt, err := w.TransportType()
	if err != nil {
		return nil, err
	}
	opts := []transport.Option{transport.WithMaxFrameSize(w.MaxFrameSize)}
	if tt == model.TRANSPORT_SECURE {
		material, err := transport.LoadTLSMaterial(w.TLSFiles())
		if err != nil {
			return nil, errors.Wrap(err, "load TLS material")
		}
		opts = append(opts, transport.WithTLS(material))
	}
	return transport.NewManager(tt, opts...), nil
}

func loadEnvFiles() {
	for _, fileName := range envFiles {
		if _, err := os.Stat(fileName); err != nil {
			continue
		}
		if err := godotenv.Load(fileName); err != nil {
			zap.L().Warn("[CONFIG][ERROR]", zap.String("file", fileName), zap.Error(err))
		}
	}
}

// ParseParams reads "k=v,k2=v2".
func ParseParams(s string) (map[string]float64, error) {
	params := make(map[string]float64)
	s = strings.TrimSpace(s)
	if s == "" {
		return params, nil
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("param %q is not key=value", pair)
		}
		var f float64
		if _, err := fmt.Sscan(strings.TrimSpace(v), &f); err != nil {
			return nil, fmt.Errorf("param %q: %v", pair, err)
		}
		params[strings.TrimSpace(k)] = f
	}
	return params, nil
}

func process(prefix string, spec any) error {
	return errors.Wrap(envconfig.Process(prefix, spec), "process env")
}
