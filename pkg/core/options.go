package core

// AddOption configures an AddEntry operation using the functional options
// pattern.
type AddOption func(*AddOptions)

// AddOptions contains configuration for AddEntry operations.
type AddOptions struct {
	// Importance ranks the entry's retention priority. Clamped to [0, 1]
	// on write. Defaults to DefaultImportance when unset.
	Importance float64

	// Metadata holds auxiliary data stored alongside the entry.
	Metadata map[string]interface{}
}

// ApplyAddOptions resolves the provided options against defaults.
func ApplyAddOptions(opts []AddOption) *AddOptions {
	o := &AddOptions{Importance: DefaultImportance}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

// WithImportance sets an explicit importance for the new entry.
//
// Example:
//
//	entry, _ := store.AddEntry(ctx, uid, aid, core.MemoryTypeFact, "...",
//	    core.WithImportance(0.9))
func WithImportance(importance float64) AddOption {
	return func(o *AddOptions) {
		o.Importance = importance
	}
}

// WithMetadata attaches auxiliary metadata to the new entry.
func WithMetadata(metadata map[string]interface{}) AddOption {
	return func(o *AddOptions) {
		o.Metadata = metadata
	}
}

// QueryOption configures retrieval queries.
type QueryOption func(*QueryOptions)

// QueryOptions contains configuration for retrieval queries.
type QueryOptions struct {
	// Limit caps the number of returned entries. Defaults to
	// DefaultQueryLimit when unset.
	Limit int

	// Type filters results to one memory type when non-empty.
	Type MemoryType

	// Threshold is the minimum importance for ImportantMemories queries.
	// Defaults to DefaultImportanceThreshold when unset.
	Threshold float64
}

// Defaults for retrieval queries.
const (
	DefaultQueryLimit          = 10
	DefaultImportanceThreshold = 0.7
)

// ApplyQueryOptions resolves the provided options against defaults.
func ApplyQueryOptions(opts []QueryOption) *QueryOptions {
	o := &QueryOptions{
		Limit:     DefaultQueryLimit,
		Threshold: DefaultImportanceThreshold,
	}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

// WithLimit caps the number of entries a query returns.
func WithLimit(limit int) QueryOption {
	return func(o *QueryOptions) {
		if limit > 0 {
			o.Limit = limit
		}
	}
}

// WithType filters a query to entries of one memory type.
func WithType(t MemoryType) QueryOption {
	return func(o *QueryOptions) {
		o.Type = t
	}
}

// WithThreshold sets the minimum importance for ImportantMemories queries.
func WithThreshold(threshold float64) QueryOption {
	return func(o *QueryOptions) {
		o.Threshold = threshold
	}
}
