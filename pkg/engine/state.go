package engine

import (
	"fmt"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/nushell/nushell-sub009/pkg/ast"
	"github.com/nushell/nushell-sub009/pkg/config"
	"github.com/nushell/nushell-sub009/pkg/ir"
	"github.com/nushell/nushell-sub009/pkg/value"
)

// CallArgs is the assembled argument set a declaration receives:
// positionals in order with rest spreads appended, then named arguments
// and flags by name.
type CallArgs struct {
	Positional []value.Value
	Named      map[string]value.Value
	Flags      map[string]bool
	ParserInfo map[string]value.Value
	Head       ast.Span
}

// GetFlag reports whether a boolean flag was passed.
func (c *CallArgs) GetFlag(name string) bool {
	return c.Flags[name]
}

// GetNamed returns a named argument's value.
func (c *CallArgs) GetNamed(name string) (value.Value, bool) {
	v, ok := c.Named[name]
	return v, ok
}

// Declaration is a callable known to the engine. The evaluator never
// inspects an implementation; it dispatches by id and hands over the
// assembled arguments and pipeline input.
type Declaration interface {
	Name() string
	Run(eng *EngineState, stack *Stack, sig *Signal, call *CallArgs, input PipelineData) (PipelineData, error)
}

// ExternalRunner launches external commands for ExternalCall. The engine
// itself carries no process-spawning logic.
type ExternalRunner interface {
	Run(eng *EngineState, stack *Stack, sig *Signal, name string, args []value.Value, input PipelineData) (PipelineData, error)
}

// CompileFunc compiles a parsed block; injected so the engine does not
// depend on the compiler package.
type CompileFunc func(eng *EngineState, block *ast.Block, modes ir.RedirectModes) (*ir.Block, error)

// EngineState is the shared, engine-wide state: declaration table, parsed
// and compiled blocks, constants, and the default environment. Everything
// behind the mutex is written during setup and read-mostly during
// evaluation; concurrent invocations share it safely.
type EngineState struct {
	Log commonlog.Logger

	Config *config.Config

	// Compile turns a parsed block into IR on first use.
	Compile CompileFunc

	// External runs external commands; nil rejects ExternalCall.
	External ExternalRunner

	mu        sync.RWMutex
	blocks    map[ast.BlockID]*ast.Block
	compiled  map[ast.BlockID]*ir.Block
	decls     map[ast.DeclID]Declaration
	constants map[ast.VarID]value.Value

	// envDefaults is the engine-wide default environment, per overlay.
	// Stacks read it through their hidden-name filters; it is never
	// mutated on their behalf.
	envDefaults map[string]map[string]value.Value

	cache *BlockCache
}

// NewEngineState returns an empty engine with the given logger and config.
func NewEngineState(log commonlog.Logger, cfg *config.Config) *EngineState {
	if cfg == nil {
		cfg = config.Default()
	}
	return &EngineState{
		Log:         log,
		Config:      cfg,
		blocks:      make(map[ast.BlockID]*ast.Block),
		compiled:    make(map[ast.BlockID]*ir.Block),
		decls:       make(map[ast.DeclID]Declaration),
		constants:   make(map[ast.VarID]value.Value),
		envDefaults: make(map[string]map[string]value.Value),
	}
}

// AddBlock registers a parsed block.
func (e *EngineState) AddBlock(b *ast.Block) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.blocks[b.ID] = b
}

// ASTBlock resolves a block id; implements the compiler's block store.
func (e *EngineState) ASTBlock(id ast.BlockID) (*ast.Block, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.blocks[id]
	if !ok {
		return nil, fmt.Errorf("unknown block id %d", id)
	}
	return b, nil
}

// AddDecl registers a declaration and returns its id.
func (e *EngineState) AddDecl(id ast.DeclID, d Declaration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decls[id] = d
}

// Decl resolves a declaration id.
func (e *EngineState) Decl(id ast.DeclID) (Declaration, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.decls[id]
	return d, ok
}

// DeclName implements the compiler's declaration resolver; it feeds the
// disassembly comments.
func (e *EngineState) DeclName(id ast.DeclID) (string, bool) {
	d, ok := e.Decl(id)
	if !ok {
		return "", false
	}
	return d.Name(), true
}

// AddConstant registers an engine-wide constant variable, visible to
// capture gathering when no stack binding shadows it.
func (e *EngineState) AddConstant(id ast.VarID, v value.Value) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.constants[id] = v
}

// Constant resolves a constant variable id.
func (e *EngineState) Constant(id ast.VarID) (value.Value, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.constants[id]
	return v, ok
}

// SetDefaultEnv seeds a default environment variable in an overlay.
func (e *EngineState) SetDefaultEnv(overlay, name string, v value.Value) {
	e.mu.Lock()
	defer e.mu.Unlock()
	layer := e.envDefaults[overlay]
	if layer == nil {
		layer = make(map[string]value.Value)
		e.envDefaults[overlay] = layer
	}
	layer[name] = v
}

func (e *EngineState) defaultEnv(overlay, name string) (value.Value, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	layer, ok := e.envDefaults[overlay]
	if !ok {
		return value.Value{}, false
	}
	v, ok := layer[name]
	return v, ok
}

// UseCache attaches a persistent compiled-block cache.
func (e *EngineState) UseCache(c *BlockCache) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = c
}

// CompiledBlock returns the IR for a block id, compiling and caching on
// first use. Compiled blocks are immutable; hits share the same pointer.
func (e *EngineState) CompiledBlock(id ast.BlockID) (*ir.Block, error) {
	e.mu.RLock()
	if b, ok := e.compiled[id]; ok {
		e.mu.RUnlock()
		return b, nil
	}
	cache := e.cache
	e.mu.RUnlock()

	if cache != nil {
		if b, ok := cache.Get(id); ok {
			e.mu.Lock()
			e.compiled[id] = b
			e.mu.Unlock()
			return b, nil
		}
	}

	astBlock, err := e.ASTBlock(id)
	if err != nil {
		return nil, err
	}
	if e.Compile == nil {
		return nil, fmt.Errorf("engine has no compiler attached")
	}
	b, err := e.Compile(e, astBlock, ir.RedirectModes{})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	// A concurrent invocation may have won the race; keep the first result
	// so every holder shares one immutable block.
	if prev, ok := e.compiled[id]; ok {
		e.mu.Unlock()
		return prev, nil
	}
	e.compiled[id] = b
	e.mu.Unlock()

	if cache != nil {
		if err := cache.Put(id, b); err != nil && e.Log != nil {
			e.Log.Warningf("caching block %d: %v", id, err)
		}
	}
	return b, nil
}
