package exchange

import (
	"encoding/json"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// Kind is the kind of an operation.
type Kind string

const (
	KindQuery        Kind = "query"
	KindMutation     Kind = "mutation"
	KindSubscription Kind = "subscription"
	KindTeardown     Kind = "teardown"
)

// Context is the per-operation configuration bag. The cache exchange only
// reads SkipCache; Values is passed through untouched.
type Context struct {
	// SkipCache forces a query to be forwarded even when a cached result exists.
	// The forwarded result still refreshes the cache.
	SkipCache bool
	Values    map[string]any
}

// Operation describes a single request. Operations are treated as immutable
// once created; use WithContext to derive a variant.
type Operation struct {
	// Key identifies the request: equal for equal query and variables.
	Key       string
	Kind      Kind
	Query     string
	Variables map[string]any
	Context   Context
}

// NewOperation builds an operation and derives its key from the query text
// and variables.
func NewOperation(kind Kind, query string, variables map[string]any, opctx Context) (*Operation, error) {
	key, err := OperationKey(query, variables)
	if err != nil {
		return nil, err
	}
	return &Operation{
		Key:       key,
		Kind:      kind,
		Query:     query,
		Variables: variables,
		Context:   opctx,
	}, nil
}

// OperationKey hashes query and variables with xxhash. Variables are encoded
// as JSON, whose object keys are sorted, so map iteration order does not
// change the key.
func OperationKey(query string, variables map[string]any) (string, error) {
	h := xxhash.New()
	_, _ = h.WriteString(query)
	if len(variables) > 0 {
		buf, err := json.Marshal(variables)
		if err != nil {
			return "", errors.Wrap(err, "exchange: encode variables")
		}
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(buf)
	}
	return strconv.FormatUint(h.Sum64(), 36), nil
}

// WithContext returns a copy of o using opctx.
func (o *Operation) WithContext(opctx Context) *Operation {
	clone := *o
	clone.Context = opctx
	return &clone
}

// Error is an error reported inside a result payload.
type Error struct {
	Message string `msgpack:"message" json:"message" yaml:"message"`
	Path    []any  `msgpack:"path,omitempty" json:"path,omitempty" yaml:"path,omitempty"`
}

// Result is the outcome of an operation. Data is an opaque tree of maps and
// slices in which entities carry a "__typename" field.
type Result struct {
	Operation  *Operation     `msgpack:"-" json:"-" yaml:"-"`
	Data       any            `msgpack:"data" json:"data,omitempty" yaml:"data,omitempty"`
	Errors     []Error        `msgpack:"errors,omitempty" json:"errors,omitempty" yaml:"errors,omitempty"`
	Extensions map[string]any `msgpack:"extensions,omitempty" json:"extensions,omitempty" yaml:"extensions,omitempty"`
}
