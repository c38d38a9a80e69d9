package config

const (
	defaultDataDir                    = "~/.local/share/cinedeck"
	defaultLogDir                     = "~/.local/share/cinedeck/logs"
	defaultImageDir                   = "~/.local/share/cinedeck/images"
	defaultTMDBLanguage               = "en-US"
	defaultTMDBBaseURL                = "https://api.themoviedb.org/3"
	defaultTMDBImageBaseURL           = "https://image.tmdb.org/t/p"
	defaultRequestsPerSecond          = 20
	defaultMaxAttempts                = 3
	defaultRetryBaseDelayMS           = 250
	defaultTimeoutSeconds             = 10
	defaultMemoryEntries              = 2048
	defaultCacheMaxEntries            = 5000
	defaultDiscoverTTLMinutes         = 30
	defaultDetailsTTLHours            = 24
	defaultMaintenanceIntervalMinutes = 10
	defaultMaxMovies                  = 5000
	defaultMaxPoolPerUser             = 200
	defaultPoolLowWater               = 20
	defaultFillSize                   = 60
	defaultImageMaxBytes              = 512 << 20
	defaultPrefetchSize               = "w500"
	defaultPrefetchConcurrency        = 4
	defaultDownloadTimeoutSeconds     = 30
	defaultSortBy                     = "popularity.desc"
	defaultDetailsIntervalSeconds     = 30
	defaultDetailsBatchSize           = 20
	defaultImagePruneIntervalSeconds  = 600
	defaultMaintenanceIntervalSeconds = 900
	defaultPrewarmIntervalSeconds     = 300
	defaultLogFormat                  = "console"
	defaultLogLevel                   = "info"

	// PosterModeDirect points clients at the upstream image host.
	PosterModeDirect = "direct"
	// PosterModeLocalProxy points clients at the local image cache route.
	PosterModeLocalProxy = "local_proxy"

	minRequestsPerSecond = 1
	maxRequestsPerSecond = 50
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			LogDir:   defaultLogDir,
			ImageDir: defaultImageDir,
		},
		TMDB: TMDB{
			BaseURL:           defaultTMDBBaseURL,
			ImageBaseURL:      defaultTMDBImageBaseURL,
			Language:          defaultTMDBLanguage,
			RequestsPerSecond: defaultRequestsPerSecond,
			MaxAttempts:       defaultMaxAttempts,
			RetryBaseDelayMS:  defaultRetryBaseDelayMS,
			TimeoutSeconds:    defaultTimeoutSeconds,
		},
		Cache: Cache{
			MemoryEntries:              defaultMemoryEntries,
			MaxEntries:                 defaultCacheMaxEntries,
			DiscoverTTLMinutes:         defaultDiscoverTTLMinutes,
			DetailsTTLHours:            defaultDetailsTTLHours,
			MaintenanceIntervalMinutes: defaultMaintenanceIntervalMinutes,
		},
		Catalog: Catalog{
			MaxMovies:      defaultMaxMovies,
			MaxPoolPerUser: defaultMaxPoolPerUser,
			PoolLowWater:   defaultPoolLowWater,
			FillSize:       defaultFillSize,
		},
		Images: Images{
			MaxBytes:               defaultImageMaxBytes,
			PosterMode:             PosterModeDirect,
			PrefetchSize:           defaultPrefetchSize,
			PrefetchConcurrency:    defaultPrefetchConcurrency,
			DownloadTimeoutSeconds: defaultDownloadTimeoutSeconds,
		},
		Discovery: Discovery{
			SortBy: defaultSortBy,
		},
		Jobs: Jobs{
			DetailsIntervalSeconds:     defaultDetailsIntervalSeconds,
			DetailsBatchSize:           defaultDetailsBatchSize,
			ImagePruneIntervalSeconds:  defaultImagePruneIntervalSeconds,
			MaintenanceIntervalSeconds: defaultMaintenanceIntervalSeconds,
			PrewarmIntervalSeconds:     defaultPrewarmIntervalSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
