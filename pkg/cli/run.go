package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/config"
	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/connection"
	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/filter"
	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/logging"
	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/pipeline"
	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/secrets"
	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/sink"
	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/transform"
)

const (
	defaultConfigPath  = "/etc/polaris/config.json"
	defaultSecretsFile = "/etc/polaris/.secrets.enc"
	defaultSchemaPath  = "config/config.schema.json"

	// dryRunRecordLimit matches the reference client's "~5 records then
	// exit" dry-run contract.
	dryRunRecordLimit = 5
)

func runPipeline(ctx context.Context) error {
	cfgPath := flagConfig
	if cfgPath == "" {
		cfgPath = envOr("POLARIS_CONFIG", defaultConfigPath)
	}

	overrides := map[string]string{}
	if flagPolarisAPIKey != "" {
		overrides["POLARIS_API_KEY"] = flagPolarisAPIKey
	}
	if flagPolarisAPIURL != "" {
		overrides["POLARIS_API_URL"] = flagPolarisAPIURL
	}

	secretStore := loadOptionalSecrets()

	cfg, err := config.Load(cfgPath, config.Resolver{
		Overrides: overrides,
		Secrets:   secretStore,
	}, defaultSchemaPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	outputMode := flagOutput
	if outputMode == "" {
		outputMode = envOr("POLARIS_OUTPUT", "file")
	}
	if dir := firstNonEmpty(flagOutputDir, os.Getenv("POLARIS_OUTPUT_DIR")); dir != "" {
		cfg.Output.File.OutputDir = dir
	}

	logLevel := firstNonEmpty(flagLogLevel, os.Getenv("POLARIS_LOG_LEVEL"), cfg.Logging.Level)
	logger, closeLog, err := buildLogger(cfg, logLevel)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	defer closeLog()

	if flagValidateOnly {
		fmt.Fprintln(os.Stderr, "Configuration is valid.")
		return nil
	}

	logger.Info("starting polaris-device-subclient",
		"instance_id", cfg.InstanceID, "output", outputMode)

	conn := connection.New(cfg.ConnectionConfig(), logger)
	f := filter.New(cfg.FilterFilterConfig())
	tr := transform.New(cfg.InstanceID, "")

	var s sink.Sink
	if outputMode == "stdout" {
		s = sink.NewStdoutSink(logger)
	} else {
		fileSink, err := sink.NewFileSink(cfg.SinkFileConfig(), logger)
		if err != nil {
			return fmt.Errorf("sink error: %w", err)
		}
		s = fileSink
	}
	defer s.Close()

	p := pipeline.New(conn, f, tr, s, cfg.InstanceID, logger)
	if flagDryRun {
		p.DryRunLimit = dryRunRecordLimit
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stats := p.Run(ctx)
	logger.Info("pipeline shut down",
		"received", stats.Received, "transformed", stats.Transformed,
		"malformed", stats.Malformed, "filtered", stats.Filtered)
	return nil
}

// loadOptionalSecrets decrypts the secrets store when both the key file and
// secrets file are configured and present; it is not an error for either to
// be absent, matching the reference client's best-effort lookup.
func loadOptionalSecrets() secrets.Store {
	keyFile := os.Getenv("POLARIS_KEY_FILE")
	if keyFile == "" {
		return nil
	}
	secretsFile := envOr("POLARIS_SECRETS_FILE", defaultSecretsFile)
	if _, err := os.Stat(keyFile); err != nil {
		return nil
	}
	if _, err := os.Stat(secretsFile); err != nil {
		return nil
	}
	store, err := secrets.Load(secretsFile, keyFile)
	if err != nil {
		return nil
	}
	return store
}

// buildLogger assembles the stderr (+ optional rotating file) handler
// chain, wrapped in redaction, per the logging section of the resolved
// config. The returned closer flushes/closes the log file, if any.
func buildLogger(cfg config.AppConfig, level string) (*slog.Logger, func(), error) {
	primaryOutput := os.Stderr
	if cfg.Logging.Output == "stdout" {
		primaryOutput = os.Stdout
	}
	handlerOpts := logging.Config{
		Level:  logging.ParseLevel(level),
		Format: logging.ParseFormat(cfg.Logging.Format),
		Output: primaryOutput,
	}
	stderrLogger := logging.New(handlerOpts)
	handlers := []slog.Handler{stderrLogger.Handler()}

	closer := func() {}
	if cfg.Logging.File.Enabled {
		rw, err := logging.NewRotatingWriter(
			cfg.Logging.File.Path,
			cfg.Logging.File.MaxSizeBytes,
			cfg.Logging.File.BackupCount,
		)
		if err != nil {
			return nil, nil, err
		}
		fileLogger := logging.New(logging.Config{
			Level:  handlerOpts.Level,
			Format: logging.ParseFormat(cfg.Logging.Format),
			Output: rw,
		})
		handlers = append(handlers, fileLogger.Handler())
		closer = func() { rw.Close() }
	}

	rawConfig, err := configToGenericMap(cfg)
	if err != nil {
		return nil, nil, err
	}
	secretValues := logging.CollectSecretValues(rawConfig, cfg.Logging.RedactPatterns)

	combined := logging.NewMultiHandler(handlers...)
	redacting := logging.NewRedactingHandler(combined, secretValues)
	return slog.New(redacting), closer, nil
}

func configToGenericMap(cfg config.AppConfig) (map[string]interface{}, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: marshal for redaction scan: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("config: unmarshal for redaction scan: %w", err)
	}
	return out, nil
}

func envOr(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
