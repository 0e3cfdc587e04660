package fhirvalidator

// Options selects the checks the engine runs. The zero value runs only the
// structural checks; DefaultOptions enables everything.
type Options struct {
	ValidateTerminology     bool // binding checks
	ValidateConstraints     bool // FHIRPath invariants
	ValidateUnknownElements bool // properties with no element definition
	ValidateMetaProfiles    bool // profiles declared in meta.profile

	// StrictMode turns every warning into an error
	StrictMode bool

	// MaxErrors truncates the issue list after this many errors; 0 keeps
	// every issue
	MaxErrors int

	// Metrics, when set, records every validation
	Metrics *Metrics
}

// Option mutates Options.
type Option func(*Options)

// DefaultOptions enables every check with no error limit.
func DefaultOptions() *Options {
	return &Options{
		ValidateTerminology:     true,
		ValidateConstraints:     true,
		ValidateUnknownElements: true,
		ValidateMetaProfiles:    true,
	}
}

func WithTerminology(enable bool) Option {
	return func(o *Options) { o.ValidateTerminology = enable }
}

func WithConstraints(enable bool) Option {
	return func(o *Options) { o.ValidateConstraints = enable }
}

func WithUnknownElements(enable bool) Option {
	return func(o *Options) { o.ValidateUnknownElements = enable }
}

func WithMetaProfiles(enable bool) Option {
	return func(o *Options) { o.ValidateMetaProfiles = enable }
}

func WithStrictMode(enable bool) Option {
	return func(o *Options) { o.StrictMode = enable }
}

// WithMaxErrors sets Options.MaxErrors. Negative limits are ignored.
func WithMaxErrors(limit int) Option {
	return func(o *Options) {
		if limit >= 0 {
			o.MaxErrors = limit
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// StrictOptions enables every check in strict mode.
func StrictOptions() []Option {
	return []Option{
		WithTerminology(true),
		WithConstraints(true),
		WithUnknownElements(true),
		WithMetaProfiles(true),
		WithStrictMode(true),
	}
}

// FastOptions skips terminology and invariants, the two phases that need
// lookups or expression evaluation.
func FastOptions() []Option {
	return []Option{WithConstraints(false), WithTerminology(false)}
}
