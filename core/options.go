package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig         Config
	logger                Logger
	loggerProvider        LoggerProvider
	metricsRecorder       MetricsRecorder
	errorFactory          ErrorFactory
	errorMapper           ErrorMapper
	configProvider        ConfigProvider
	optionsResolver       OptionsResolver
	tokenStore            TokenStore
	connections           ConnectionDirectory
	users                 UserDirectory
	vcsChecks             VcsCheckScheduler
	clientFactory         RemoteClientFactory
	quotaObserver         QuotaObserver
	hookSnapshotStore     HookSnapshotStore
	authDataSnapshotStore AuthDataSnapshotStore
	incorrectTokens       *IncorrectTokenSet
	clock                 func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithTokenStore(store TokenStore) Option {
	return func(b *serviceBuilder) {
		b.tokenStore = store
	}
}

func WithConnectionDirectory(directory ConnectionDirectory) Option {
	return func(b *serviceBuilder) {
		b.connections = directory
	}
}

func WithUserDirectory(directory UserDirectory) Option {
	return func(b *serviceBuilder) {
		b.users = directory
	}
}

func WithVcsCheckScheduler(scheduler VcsCheckScheduler) Option {
	return func(b *serviceBuilder) {
		b.vcsChecks = scheduler
	}
}

func WithRemoteClientFactory(factory RemoteClientFactory) Option {
	return func(b *serviceBuilder) {
		b.clientFactory = factory
	}
}

func WithQuotaObserver(observer QuotaObserver) Option {
	return func(b *serviceBuilder) {
		b.quotaObserver = observer
	}
}

func WithHookSnapshotStore(store HookSnapshotStore) Option {
	return func(b *serviceBuilder) {
		b.hookSnapshotStore = store
	}
}

func WithAuthDataSnapshotStore(store AuthDataSnapshotStore) Option {
	return func(b *serviceBuilder) {
		b.authDataSnapshotStore = store
	}
}

// WithIncorrectTokenSet shares the set of tokens rejected for scope reasons.
func WithIncorrectTokenSet(set *IncorrectTokenSet) Option {
	return func(b *serviceBuilder) {
		b.incorrectTokens = set
	}
}

func WithClock(clock func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("commithooks", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		clock:           time.Now,
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap drops zero values unless includeZero is set, so that an
// empty runtime Config never masks the defaults.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(target map[string]any, key, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = value
		}
	}
	setDuration := func(target map[string]any, key string, value time.Duration) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}
	setInt := func(target map[string]any, key string, value int64) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}

	setString(layer, "service_name", cfg.ServiceName)
	setString(layer, "server_url", cfg.ServerURL)
	setString(layer, "callback_path", cfg.CallbackPath)
	setDuration(layer, "persist_interval", cfg.PersistInterval)

	check := map[string]any{}
	setDuration(check, "interval", cfg.Check.Interval)
	setDuration(check, "initial_delay", cfg.Check.InitialDelay)
	setDuration(check, "unused_auth_data_ttl", cfg.Check.UnusedAuthDataTTL)
	setDuration(check, "incorrect_reason_ttl", cfg.Check.IncorrectReasonTTL)
	if cfg.Check.RemoveCorruptedHooks != nil {
		check["remove_corrupted_hooks"] = *cfg.Check.RemoveCorruptedHooks
	}
	if len(check) > 0 {
		layer["check"] = check
	}

	quota := map[string]any{}
	setInt(quota, "low_water_mark", int64(cfg.Quota.LowWaterMark))
	if len(quota) > 0 {
		layer["quota"] = quota
	}

	mergePoll := map[string]any{}
	if includeZero || len(cfg.MergePoll.Delays) > 0 {
		mergePoll["delays"] = append([]time.Duration(nil), cfg.MergePoll.Delays...)
	}
	setInt(mergePoll, "concurrency", int64(cfg.MergePoll.Concurrency))
	if len(mergePoll) > 0 {
		layer["merge_poll"] = mergePoll
	}

	inbound := map[string]any{}
	setInt(inbound, "max_payload_size", cfg.Inbound.MaxPayloadSize)
	setDuration(inbound, "ping_wait", cfg.Inbound.PingWait)
	setDuration(inbound, "dedup_ttl", cfg.Inbound.DedupTTL)
	if len(inbound) > 0 {
		layer["inbound"] = inbound
	}
	return layer
}
