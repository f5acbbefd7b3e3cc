package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service is the hook lifecycle engine. It owns the hook registry and the auth
// data store and performs every remote hook action.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorFactory    ErrorFactory
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	tokenStore      TokenStore
	connections     ConnectionDirectory
	users           UserDirectory
	vcsChecks       VcsCheckScheduler
	clientFactory   RemoteClientFactory
	quotaObserver   QuotaObserver
	hookSnapshots   HookSnapshotStore
	authSnapshots   AuthDataSnapshotStore
	incorrectTokens *IncorrectTokenSet
	reasons         *IncorrectReasonCache
	clock           func() time.Time

	registry *HookRegistry
	authData *AuthDataStore

	persistMu       sync.Mutex
	persistedHooks  uint64
	persistedAuth   uint64
	restoreOnce     sync.Once
	restoreErr      error
}

type ServiceDependencies struct {
	Logger                Logger
	LoggerProvider        LoggerProvider
	MetricsRecorder       MetricsRecorder
	ErrorFactory          ErrorFactory
	ErrorMapper           ErrorMapper
	ConfigProvider        ConfigProvider
	OptionsResolver       OptionsResolver
	TokenStore            TokenStore
	ConnectionDirectory   ConnectionDirectory
	UserDirectory         UserDirectory
	VcsCheckScheduler     VcsCheckScheduler
	RemoteClientFactory   RemoteClientFactory
	QuotaObserver         QuotaObserver
	HookSnapshotStore     HookSnapshotStore
	AuthDataSnapshotStore AuthDataSnapshotStore
	IncorrectTokens       *IncorrectTokenSet
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("commithooks", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("commithooks"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.incorrectTokens == nil {
		builder.incorrectTokens = NewIncorrectTokenSet()
	}
	if builder.clock == nil {
		builder.clock = time.Now
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	reasons, err := NewIncorrectReasonCache(finalConfig.Check.IncorrectReasonTTL)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorFactory:    builder.errorFactory,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		tokenStore:      builder.tokenStore,
		connections:     builder.connections,
		users:           builder.users,
		vcsChecks:       builder.vcsChecks,
		clientFactory:   builder.clientFactory,
		quotaObserver:   builder.quotaObserver,
		hookSnapshots:   builder.hookSnapshotStore,
		authSnapshots:   builder.authDataSnapshotStore,
		incorrectTokens: builder.incorrectTokens,
		reasons:         reasons,
		clock:           builder.clock,
		registry:        NewHookRegistry(),
		authData:        NewAuthDataStore(),
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:                s.logger,
		LoggerProvider:        s.loggerProvider,
		MetricsRecorder:       s.metricsRecorder,
		ErrorFactory:          s.errorFactory,
		ErrorMapper:           s.errorMapper,
		ConfigProvider:        s.configProvider,
		OptionsResolver:       s.optionsResolver,
		TokenStore:            s.tokenStore,
		ConnectionDirectory:   s.connections,
		UserDirectory:         s.users,
		VcsCheckScheduler:     s.vcsChecks,
		RemoteClientFactory:   s.clientFactory,
		QuotaObserver:         s.quotaObserver,
		HookSnapshotStore:     s.hookSnapshots,
		AuthDataSnapshotStore: s.authSnapshots,
		IncorrectTokens:       s.incorrectTokens,
	}
}

func (s *Service) Registry() *HookRegistry {
	return s.registry
}

func (s *Service) AuthData() *AuthDataStore {
	return s.authData
}

func (s *Service) Reasons() *IncorrectReasonCache {
	return s.reasons
}

func (s *Service) Tokens() TokenPolicy {
	return TokenPolicy{Store: s.tokenStore, Incorrect: s.incorrectTokens}
}

// NamedLogger returns a child logger of the service logger provider.
func (s *Service) NamedLogger(name string) Logger {
	if s == nil {
		return glog.Ensure(nil)
	}
	if s.loggerProvider != nil {
		if named := s.loggerProvider.GetLogger(name); named != nil {
			return glog.Ensure(named)
		}
	}
	return glog.Ensure(s.logger)
}

func (s *Service) now() time.Time {
	if s == nil || s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

// Restore rehydrates the registry and auth store from their snapshot stores.
// It runs once; later calls return the first result.
func (s *Service) Restore(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	s.restoreOnce.Do(func() {
		s.restoreErr = s.restore(ctx)
	})
	return s.restoreErr
}

// Reload re-reads both snapshot stores and replaces the in-memory state. It is
// meant for snapshots rewritten by another process.
func (s *Service) Reload(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	return s.restore(ctx)
}

func (s *Service) restore(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if s.hookSnapshots != nil {
		entries, err := s.hookSnapshots.LoadHooks(ctx)
		switch {
		case errors.Is(err, ErrSnapshotNotFound):
		case err != nil:
			s.logWarn(ctx, "hook snapshot ignored", map[string]any{"error": err.Error()})
		default:
			count := s.registry.Restore(entries)
			s.logInfo(ctx, "hook registry restored", map[string]any{"hooks": count})
		}
	}
	if s.authSnapshots != nil {
		records, err := s.authSnapshots.LoadAuthData(ctx)
		switch {
		case errors.Is(err, ErrSnapshotNotFound):
		case err != nil:
			s.logWarn(ctx, "auth data snapshot ignored", map[string]any{"error": err.Error()})
		default:
			count := s.authData.Restore(records)
			s.logInfo(ctx, "auth data restored", map[string]any{"records": count})
		}
	}
	s.persistedHooks = s.registry.Dirty()
	s.persistedAuth = s.authData.Dirty()
	return nil
}

// Flush writes the registry and auth store when they changed since the last
// write.
func (s *Service) Flush(ctx context.Context) (err error) {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		s.observeOperation(ctx, startedAt, "flush", err, fields)
	}()

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if s.hookSnapshots != nil {
		if mark := s.registry.Dirty(); mark != s.persistedHooks {
			entries := s.registry.Snapshot()
			if err = s.hookSnapshots.SaveHooks(ctx, entries); err != nil {
				err = s.mapError(err)
				return err
			}
			s.persistedHooks = mark
			fields["hooks"] = len(entries)
		}
	}
	if s.authSnapshots != nil {
		if mark := s.authData.Dirty(); mark != s.persistedAuth {
			records := s.authData.All()
			if err = s.authSnapshots.SaveAuthData(ctx, records); err != nil {
				err = s.mapError(err)
				return err
			}
			s.persistedAuth = mark
			fields["auth_data"] = len(records)
		}
	}
	return nil
}

// Close flushes pending state and releases the reason cache.
func (s *Service) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	err := s.Flush(ctx)
	s.reasons.Close()
	return err
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
