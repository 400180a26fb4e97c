package params

import (
	"runtime"
	"time"
)

type SchedulerConfig struct {
	// Workers is the number of commands run concurrently.
	Workers int

	// RateLimit caps command starts per second. Zero means unlimited.
	RateLimit float64

	// Burst is the limiter's bucket size. Ignored when RateLimit is zero.
	Burst int
}

func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Workers:   runtime.NumCPU(),
		RateLimit: 0,
		Burst:     1,
	}
}

type TileLayerConfig struct {
	ID string

	// Scheme is the root tiling: "s2", "webmercator" or "geographic".
	Scheme string

	// RootZoom is the scheme zoom of the root set.
	RootZoom int

	// MaxLevel is the deepest level, relative to the roots,
	// the screen space criterion will subdivide to.
	MaxLevel int

	// ScreenErrorThreshold is the projected tile size, in pixels,
	// above which a tile is split.
	ScreenErrorThreshold float64

	// Strict panics on tree invariant violations instead of logging them.
	// Tests run strict.
	Strict bool
}

func DefaultTileLayerConfig() *TileLayerConfig {
	return &TileLayerConfig{
		ID:                   "globe",
		Scheme:               "s2",
		RootZoom:             0,
		MaxLevel:             18,
		ScreenErrorThreshold: 384,
		Strict:               false,
	}
}

type DataLayerKind string

const (
	DataLayerColor     DataLayerKind = "color"
	DataLayerElevation DataLayerKind = "elevation"
)

type DataLayerConfig struct {
	ID   string
	Kind DataLayerKind

	// ZoomMin and ZoomMax are the inclusive zoom limits of the source.
	ZoomMin int
	ZoomMax int

	// CacheSize is the number of loaded textures kept in memory.
	CacheSize int

	// RetryAfter is how long a failed load stays failed before it is requested again.
	RetryAfter time.Duration

	// FetchTimeout bounds a single texture fetch.
	FetchTimeout time.Duration
}

func DefaultColorLayerConfig() *DataLayerConfig {
	return &DataLayerConfig{
		ID:           "imagery",
		Kind:         DataLayerColor,
		ZoomMin:      0,
		ZoomMax:      19,
		CacheSize:    4096,
		RetryAfter:   30 * time.Second,
		FetchTimeout: 10 * time.Second,
	}
}

func DefaultElevationLayerConfig() *DataLayerConfig {
	return &DataLayerConfig{
		ID:           "elevation",
		Kind:         DataLayerElevation,
		ZoomMin:      0,
		ZoomMax:      11,
		CacheSize:    4096,
		RetryAfter:   30 * time.Second,
		FetchTimeout: 10 * time.Second,
	}
}

type ViewConfig struct {
	// FrameInterval is the render loop tick.
	FrameInterval time.Duration

	// MeterInterval is how often frame statistics are logged.
	MeterInterval time.Duration

	// ViewportHeight in pixels and FovY in degrees describe the camera projection.
	ViewportHeight float64
	FovY           float64
}

func DefaultViewConfig() *ViewConfig {
	return &ViewConfig{
		FrameInterval:  16 * time.Millisecond,
		MeterInterval:  10 * time.Second,
		ViewportHeight: 1080,
		FovY:           45,
	}
}
