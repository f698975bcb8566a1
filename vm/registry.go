package vm

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/ledgerline/ledgerd/core"
	"github.com/ledgerline/ledgerd/encoder"
	"github.com/ledgerline/ledgerd/validator"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
)

// TxHandler runs a state-changing method with its decoded parameters.
type TxHandler[P any] func(ctx *TxContext, params P) error

// ViewHandler runs a read-only method.
type ViewHandler[P, R any] func(ctx *ViewContext, params P) (R, error)

// EventHandler runs once per block outside of any transaction.
type EventHandler func(ctx *EventContext) error

type txMethod struct {
	decode func(input []byte) (any, error)
	run    func(ctx *TxContext, params any) error
	cost   *decimal.Decimal
}

type viewMethod struct {
	decode func(input []byte) (any, error)
	run    func(ctx *ViewContext, params any) (any, error)
}

type listener struct {
	name   string
	filter func(height uint64) bool
	run    EventHandler
}

type MethodOption func(*txMethod)

// WithCost charges a fixed amount instead of the fee declared by the transaction.
func WithCost(cost decimal.Decimal) MethodOption {
	return func(m *txMethod) {
		m.cost = &cost
	}
}

// Registry maps method names to handlers and parameter schemas.
type Registry struct {
	txs       map[string]*txMethod
	views     map[string]*viewMethod
	postBlock []listener
	genesis   []listener
}

func NewRegistry() *Registry {
	return &Registry{
		txs:   make(map[string]*txMethod),
		views: make(map[string]*viewMethod),
	}
}

func (r *Registry) checkName(name string) {
	if _, ok := r.txs[name]; ok {
		panic(fmt.Sprintf("method %s registered twice", name))
	}
	if _, ok := r.views[name]; ok {
		panic(fmt.Sprintf("method %s registered twice", name))
	}
}

// RegisterTx registers a transaction method. Input is decoded into P and validated before
// the handler runs.
func RegisterTx[P any](r *Registry, name string, handler TxHandler[P], opts ...MethodOption) {
	r.checkName(name)
	m := &txMethod{
		decode: func(input []byte) (any, error) {
			return decodeParams[P](input)
		},
		run: func(ctx *TxContext, params any) error {
			return handler(ctx, params.(P))
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	r.txs[name] = m
}

// RegisterView registers a read-only method.
func RegisterView[P, R any](r *Registry, name string, handler ViewHandler[P, R]) {
	r.checkName(name)
	r.views[name] = &viewMethod{
		decode: func(input []byte) (any, error) {
			return decodeParams[P](input)
		},
		run: func(ctx *ViewContext, params any) (any, error) {
			return handler(ctx, params.(P))
		},
	}
}

// AddPostBlockListener runs fn after the transactions of every block whose height passes
// filter. A nil filter matches every block.
func (r *Registry) AddPostBlockListener(name string, filter func(height uint64) bool, fn EventHandler) {
	if filter == nil {
		filter = func(uint64) bool { return true }
	}
	r.postBlock = append(r.postBlock, listener{name: name, filter: filter, run: fn})
}

// AddGenesisListener runs fn once while the genesis state is created.
func (r *Registry) AddGenesisListener(name string, fn EventHandler) {
	r.genesis = append(r.genesis, listener{name: name, run: fn})
}

// Methods returns the names of all registered transaction and view methods.
func (r *Registry) Methods() (txs, views []string) {
	for name := range r.txs {
		txs = append(txs, name)
	}
	for name := range r.views {
		views = append(views, name)
	}
	sort.Strings(txs)
	sort.Strings(views)
	return txs, views
}

// DecodeParams decodes and validates input against the schema registered for method.
func (r *Registry) DecodeParams(method string, input []byte) (any, error) {
	if m, ok := r.txs[method]; ok {
		return m.decode(input)
	}
	if m, ok := r.views[method]; ok {
		return m.decode(input)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// amountHook normalises every decimal field to the native precision. Handlers working with
// a coarser token precision normalise again.
func amountHook(from, to reflect.Type, data any) (any, error) {
	if to != decimalType || from == decimalType {
		return data, nil
	}
	return core.NormalizeAmount(data, core.SysTokenPrecision)
}

func decodeParams[P any](input []byte) (P, error) {
	var params P

	var raw any = map[string]any{}
	if len(input) > 0 {
		raw = nil
		if err := encoder.Unmarshal(input, &raw); err != nil {
			return params, fmt.Errorf("%w: input: %v", ErrValidation, err)
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       amountHook,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &params,
	})
	if err != nil {
		return params, err
	}
	if err = decoder.Decode(raw); err != nil {
		return params, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if reflect.Indirect(reflect.ValueOf(params)).Kind() == reflect.Struct {
		if err = validator.Validator().Struct(params); err != nil {
			return params, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return params, nil
}
