package core

import "time"

// HTTP client config constants
const (
	HTTPMaxIdleConns          = 100
	HTTPMaxIdleConnsPerHost   = 20
	HTTPMaxConnsPerHost       = 50
	HTTPIdleConnTimeout       = 90 * time.Second
	HTTPTLSHandshakeTimeout   = 10 * time.Second
	HTTPResponseHeaderTimeout = 5 * time.Minute
	HTTPExpectContinueTimeout = 1 * time.Second
	HTTPRequestTimeout        = 300 * time.Second
)

// Server timeouts
const (
	ServerReadHeaderTimeout = 10 * time.Second
	ServerReadTimeout       = 30 * time.Second
	ServerWriteTimeout      = 10 * time.Minute
	ServerShutdownTimeout   = 30 * time.Second
)

// Cache config constants
const (
	CacheDefaultCapacity      = 1000
	CacheCleanupInterval      = 5 * time.Minute
	MessageConversionCacheTTL = 10 * time.Minute
	ModelListCacheTTL         = 30 * time.Second
	CacheKeyVersion           = "v1"
)

// Stats and monitoring constants
const (
	StatsFilePath     = "stats.json"
	StatsRedisKey     = "ollama2api:stats"
	StatsSaveInterval = 5 * time.Second
	RedisOpTimeout    = 3 * time.Second
)

// Image validation constants
const (
	MaxImageSizeBytes = 10 * 1024 * 1024
	ImageFormatPNG    = "image/png"
	ImageFormatJPEG   = "image/jpeg"
	ImageFormatGIF    = "image/gif"
	ImageFormatWebP   = "image/webp"
)

// SupportedImageFormats supported image format list
var SupportedImageFormats = []string{ImageFormatPNG, ImageFormatJPEG, ImageFormatGIF, ImageFormatWebP}

// Body and buffer size limits
const (
	MaxRequestBodySize   = 50 << 20
	MaxResponseBodySize  = 10 * 1024 * 1024
	MaxScannerBufferSize = 1024 * 1024
	MaxStderrTailSize    = 4096
)

// Logging config constants
const (
	MaxDebugFilePathLength = 260
)

// File permission constants
const (
	FilePermissionReadWrite = 0644
)

// Time format constants
const (
	TimeFormatDateTime = "2006-01-02 15:04:05"
)
