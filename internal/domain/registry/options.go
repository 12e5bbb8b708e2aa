package registry

import "time"

// Option defines a functional configuration type for the Registry.
type Option func(*Registry)

// WithDemoMode enables the demo activity window. Must stay off in production.
func WithDemoMode(enabled bool) Option {
	return func(r *Registry) {
		r.config.demoMode = enabled
	}
}

// WithActivityWindow overrides the quiet period after which a touched device
// no longer counts as active under demo mode.
func WithActivityWindow(d time.Duration) Option {
	return func(r *Registry) {
		r.config.activityWindow = d
	}
}

// WithClock substitutes the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.config.clock = now
	}
}
