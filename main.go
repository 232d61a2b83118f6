package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/drip/agent"
	"github.com/mohitkumar/drip/analytics"
	"github.com/mohitkumar/drip/config"
	"github.com/mohitkumar/drip/flow"
	"github.com/mohitkumar/drip/schedule"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cli struct {
	cfg config.Config
}

func setupFlags(cmd *cobra.Command) error {
	defaults := config.DefaultConfig()
	dc := defaults.DispatcherConfig
	flags := cmd.PersistentFlags()
	flags.String("config-file", "", "Path to config file.")
	flags.Int("http-port", defaults.HttpPort, "http port for rest endpoints")
	flags.String("cors-allowed-origins", strings.Join(defaults.AllowedOrigins, ","), "comma separated browser origins allowed to call the api, * allows any")
	flags.String("storage-impl", string(defaults.StorageType), "job store implementation: redis, postgres or memory")
	flags.String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	flags.String("redis-password", "", "redis password")
	flags.Int("redis-pool-size", 0, "redis connection pool size, 0 uses the client default")
	flags.String("namespace", defaults.RedisConfig.Namespace, "namespace used in redis keys")
	flags.String("postgres-url", "", "postgres connection url")
	flags.Int("postgres-max-open-conns", defaults.PostgresConfig.MaxOpenConns, "postgres max open connections")
	flags.Int("postgres-max-idle-conns", defaults.PostgresConfig.MaxIdleConns, "postgres max idle connections")
	flags.Duration("postgres-ping-timeout", defaults.PostgresConfig.PingTimeout, "postgres startup ping timeout")
	flags.Duration("postgres-conn-max-lifetime", defaults.PostgresConfig.ConnMaxLifetime, "postgres connection max lifetime")

	flags.Bool("dispatcher-enabled", defaults.DispatcherEnabled, "run the dispatcher in this process")
	flags.Duration("poll-interval", dc.PollInterval, "interval between due job polls")
	flags.Int("batch-size", dc.BatchSize, "max jobs claimed per poll")
	flags.Int("concurrency", dc.Concurrency, "max concurrent sends")
	flags.Int("max-attempts", dc.MaxAttempts, "send attempts per job, the first one included")
	flags.Duration("backoff-initial", dc.BackoffInitial, "delay before the first retry")
	flags.Duration("backoff-max", dc.BackoffMax, "max retry delay")
	flags.Float64("backoff-multiplier", dc.BackoffMultiplier, "retry delay multiplier")
	flags.Float64("backoff-jitter", dc.BackoffJitter, "retry delay randomization factor")
	flags.Duration("stale-after", dc.StaleAfter, "age after which a running claim is requeued")
	flags.Duration("recovery-interval", dc.RecoveryInterval, "interval between stale claim sweeps")
	flags.Duration("retention", dc.Retention, "retention of finished jobs, 0 keeps them")
	flags.Duration("purge-interval", dc.PurgeInterval, "interval between purges of expired jobs")
	flags.Int("store-retries", dc.StoreRetries, "retries of a failed store write")
	flags.Duration("store-retry-interval", dc.StoreRetryInterval, "delay between store write retries")

	flags.String("smtp-host", "", "smtp host, emails are only logged when empty")
	flags.Int("smtp-port", 587, "smtp port")
	flags.String("smtp-username", "", "smtp username")
	flags.String("smtp-password", "", "smtp password")
	flags.String("smtp-from", "drip@localhost", "sender address")
	flags.Bool("smtp-implicit-tls", false, "connect with tls from the start instead of starttls")
	flags.Bool("smtp-insecure-skip-verify", false, "skip tls certificate checks")
	flags.Duration("send-timeout", defaults.SendTimeout, "timeout of a single send attempt")
	flags.Bool("allow-recipient-override", false, "allow later emailList blocks to replace recipients")

	flags.Duration("flow-cache-ttl", defaults.FlowCacheTTL, "ttl of cached flow definitions")
	flags.Duration("metrics-report-period", defaults.MetricsReportPeriod, "period of metrics log reports, 0 disables them")
	flags.String("analytics-collector", string(analytics.NOOP_DATA_COLLECTOR), "analytics collector type")
	flags.String("analytics-file", "drip-analytics.log", "analytics log file")

	flags.String("archive-endpoint", "", "s3 compatible endpoint for archiving purged jobs")
	flags.String("archive-access-key", "", "archive access key")
	flags.String("archive-secret-key", "", "archive secret key")
	flags.String("archive-bucket", "", "archive bucket")
	flags.String("archive-region", "", "archive region")
	flags.String("archive-prefix", "jobs", "archive object prefix")
	flags.Bool("archive-use-ssl", true, "use tls for the archive endpoint")

	flags.String("log-level", defaults.LogConfig.Level, "log level")
	flags.String("log-format", defaults.LogConfig.Format, "log format: json or console")

	viper.SetEnvPrefix("DRIP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	return viper.BindPFlags(flags)
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	configFile := viper.GetString("config-file")
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			// it's ok if config file doesn't exist
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return err
			}
		}
	}

	c.cfg = config.DefaultConfig()
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.AllowedOrigins = splitList(viper.GetString("cors-allowed-origins"))
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Password = viper.GetString("redis-password")
	c.cfg.RedisConfig.PoolSize = viper.GetInt("redis-pool-size")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.PostgresConfig.URL = viper.GetString("postgres-url")
	c.cfg.PostgresConfig.MaxOpenConns = viper.GetInt("postgres-max-open-conns")
	c.cfg.PostgresConfig.MaxIdleConns = viper.GetInt("postgres-max-idle-conns")
	c.cfg.PostgresConfig.PingTimeout = viper.GetDuration("postgres-ping-timeout")
	c.cfg.PostgresConfig.ConnMaxLifetime = viper.GetDuration("postgres-conn-max-lifetime")

	c.cfg.DispatcherEnabled = viper.GetBool("dispatcher-enabled")
	dc := &c.cfg.DispatcherConfig
	dc.PollInterval = viper.GetDuration("poll-interval")
	dc.BatchSize = viper.GetInt("batch-size")
	dc.Concurrency = viper.GetInt("concurrency")
	dc.MaxAttempts = viper.GetInt("max-attempts")
	dc.BackoffInitial = viper.GetDuration("backoff-initial")
	dc.BackoffMax = viper.GetDuration("backoff-max")
	dc.BackoffMultiplier = viper.GetFloat64("backoff-multiplier")
	dc.BackoffJitter = viper.GetFloat64("backoff-jitter")
	dc.StaleAfter = viper.GetDuration("stale-after")
	dc.RecoveryInterval = viper.GetDuration("recovery-interval")
	dc.Retention = viper.GetDuration("retention")
	dc.PurgeInterval = viper.GetDuration("purge-interval")
	dc.StoreRetries = viper.GetInt("store-retries")
	dc.StoreRetryInterval = viper.GetDuration("store-retry-interval")

	c.cfg.SMTPConfig.Host = viper.GetString("smtp-host")
	c.cfg.SMTPConfig.Port = viper.GetInt("smtp-port")
	c.cfg.SMTPConfig.Username = viper.GetString("smtp-username")
	c.cfg.SMTPConfig.Password = viper.GetString("smtp-password")
	c.cfg.SMTPConfig.From = viper.GetString("smtp-from")
	c.cfg.SMTPConfig.ImplicitTLS = viper.GetBool("smtp-implicit-tls")
	c.cfg.SMTPConfig.InsecureSkipVerify = viper.GetBool("smtp-insecure-skip-verify")
	c.cfg.SendTimeout = viper.GetDuration("send-timeout")
	c.cfg.AllowRecipientOverride = viper.GetBool("allow-recipient-override")

	c.cfg.FlowCacheTTL = viper.GetDuration("flow-cache-ttl")
	c.cfg.MetricsReportPeriod = viper.GetDuration("metrics-report-period")
	c.cfg.AnalyticsConfig.CollectorType = analytics.DataCollectorType(viper.GetString("analytics-collector"))
	c.cfg.AnalyticsConfig.FileName = viper.GetString("analytics-file")

	c.cfg.ArchiveConfig.Endpoint = viper.GetString("archive-endpoint")
	c.cfg.ArchiveConfig.AccessKey = viper.GetString("archive-access-key")
	c.cfg.ArchiveConfig.SecretKey = viper.GetString("archive-secret-key")
	c.cfg.ArchiveConfig.Bucket = viper.GetString("archive-bucket")
	c.cfg.ArchiveConfig.Region = viper.GetString("archive-region")
	c.cfg.ArchiveConfig.Prefix = viper.GetString("archive-prefix")
	c.cfg.ArchiveConfig.UseSSL = viper.GetBool("archive-use-ssl")

	c.cfg.LogConfig.Level = viper.GetString("log-level")
	c.cfg.LogConfig.Format = viper.GetString("log-format")
	return nil
}

func splitList(s string) []string {
	var res []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			res = append(res, v)
		}
	}
	return res
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	agent, err := agent.New(c.cfg)
	if err != nil {
		return err
	}
	if err := agent.Start(); err != nil {
		return err
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func (c *cli) compile(cmd *cobra.Command, args []string) error {
	flowFile, err := cmd.Flags().GetString("flow")
	if err != nil {
		return err
	}
	at, err := cmd.Flags().GetString("at")
	if err != nil {
		return err
	}
	t0 := time.Now().UTC().Truncate(time.Millisecond)
	if at != "" {
		if t0, err = time.Parse(time.RFC3339, at); err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		t0 = t0.UTC().Truncate(time.Millisecond)
	}
	fl, err := flow.LoadFile(flowFile)
	if err != nil {
		return err
	}
	seq, err := flow.Linearize(fl.Nodes, fl.Edges)
	if err != nil {
		return err
	}
	flowId := fl.Id
	if flowId == "" {
		flowId = uuid.NewString()
	}
	res, err := schedule.NewCompiler(schedule.Config{AllowRecipientOverride: c.cfg.AllowRecipientOverride}).Compile(flowId, seq, t0)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:               "drip",
		Short:             "schedules and sends email drip flows",
		PersistentPreRunE: cli.setupConfig,
		RunE:              cli.run,
	}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the http api and the dispatcher",
		RunE:  cli.run,
	}
	compileCmd := &cobra.Command{
		Use:   "compile",
		Short: "print the jobs a flow file would schedule without storing them",
		RunE:  cli.compile,
	}
	compileCmd.Flags().String("flow", "", "flow file, json or yaml")
	compileCmd.Flags().String("at", "", "schedule start time in RFC3339, defaults to now")
	_ = compileCmd.MarkFlagRequired("flow")
	cmd.AddCommand(serveCmd, compileCmd)

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
