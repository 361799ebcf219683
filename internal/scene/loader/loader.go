// Package loader reads scene definitions a slice at a time so the tick loop
// never stalls on a large scene. A Loader is polled once per tick until it
// reports Done or Error.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/google/uuid"

	"scenekeeper.ai/internal/scene/node"
)

var (
	ErrInvalidResource    = errors.New("invalid resource")
	ErrResourceLoadFailed = errors.New("resource load failed")
	ErrLoaderSpent        = errors.New("loader already used")
	ErrUnknownHandle      = errors.New("unknown load handle")
)

const (
	DefaultReadBytesPerStep = 16 * 1024
	DefaultNodesPerStep     = 64
	DefaultMaxBytes         = 8 * 1024 * 1024
)

type Status int

const (
	StatusPending Status = iota
	StatusLoaded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusLoaded:
		return "loaded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Stage int

const (
	StageIdle Stage = iota
	StageOpen
	StageRead
	StageParse
	StageBuild
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageOpen:
		return "open"
	case StageRead:
		return "read"
	case StageParse:
		return "parse"
	case StageBuild:
		return "build"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type StepKind int

const (
	Continue StepKind = iota
	Done
	Error
)

func (k StepKind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Done:
		return "done"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// StepResult is what one Poll produced. Payload is set only for Done, Err
// only for Error.
type StepResult struct {
	Kind    StepKind
	Payload node.Node
	Err     error
}

// Handle identifies the load started by BeginLoad.
type Handle struct {
	ID         uuid.UUID
	Identifier string
}

// LoadError reports a load that failed after it was started.
type LoadError struct {
	ID    string
	Stage Stage
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %s: %v", e.ID, e.Stage, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrResourceLoadFailed, e.Err} }

// Progress is a point-in-time view of a load.
type Progress struct {
	Status     Status
	Stage      Stage
	Payload    node.Node
	BytesRead  int64
	Size       int64
	NodesBuilt int
	NodesTotal int
	Steps      int
}

type Options struct {
	ReadBytesPerStep int
	NodesPerStep     int
	MaxBytes         int64
	Logger           *log.Logger
}

func (o *Options) applyDefaults() {
	if o.ReadBytesPerStep <= 0 {
		o.ReadBytesPerStep = DefaultReadBytesPerStep
	}
	if o.NodesPerStep <= 0 {
		o.NodesPerStep = DefaultNodesPerStep
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
}

type buildItem struct {
	def    NodeDef
	parent node.Node
}

// Loader is single use: one BeginLoad, then Poll until a terminal result.
type Loader struct {
	resolver Resolver
	opts     Options

	begun  bool
	handle Handle
	res    Resource
	rc     io.ReadCloser
	buf    bytes.Buffer
	read   int64

	stack []buildItem
	root  node.Node
	built int
	total int

	stage  Stage
	steps  int
	result StepResult
}

func New(resolver Resolver, opts Options) *Loader {
	opts.applyDefaults()
	return &Loader{resolver: resolver, opts: opts}
}

// BeginLoad resolves id and prepares the load. Resolution failures are
// returned immediately and wrap ErrInvalidResource.
func (l *Loader) BeginLoad(id string) (Handle, error) {
	if l.begun {
		return Handle{}, ErrLoaderSpent
	}
	l.begun = true

	if strings.TrimSpace(id) == "" {
		return Handle{}, l.reject(fmt.Errorf("%w: empty identifier", ErrInvalidResource))
	}
	if l.resolver == nil {
		return Handle{}, l.reject(fmt.Errorf("%w: no resolver configured", ErrInvalidResource))
	}
	res, err := l.resolver.Resolve(id)
	if err != nil {
		if !errors.Is(err, ErrInvalidResource) {
			err = fmt.Errorf("%w: %v", ErrInvalidResource, err)
		}
		return Handle{}, l.reject(err)
	}
	if res.Open == nil {
		return Handle{}, l.reject(fmt.Errorf("%w: %s cannot be opened", ErrInvalidResource, id))
	}

	l.res = res
	l.handle = Handle{ID: uuid.New(), Identifier: res.ID}
	l.stage = StageOpen
	l.opts.Logger.Printf("resource load started -> %s (%s)", res.ID, res.Path)
	return l.handle, nil
}

func (l *Loader) reject(err error) error {
	l.stage = StageFailed
	l.result = StepResult{Kind: Error, Err: err}
	return err
}

// Poll performs one unit of work. After a terminal result every further
// call returns that same result.
func (l *Loader) Poll(h Handle) StepResult {
	if !l.begun || h.ID != l.handle.ID {
		return StepResult{Kind: Error, Err: ErrUnknownHandle}
	}
	switch l.stage {
	case StageDone, StageFailed:
		return l.result
	}
	l.steps++

	switch l.stage {
	case StageOpen:
		rc, err := l.res.Open()
		if err != nil {
			return l.fail(err)
		}
		l.rc = rc
		l.stage = StageRead
	case StageRead:
		n, err := io.CopyN(&l.buf, l.rc, int64(l.opts.ReadBytesPerStep))
		l.read += n
		if l.read > l.opts.MaxBytes {
			return l.fail(fmt.Errorf("definition exceeds %d bytes", l.opts.MaxBytes))
		}
		switch {
		case errors.Is(err, io.EOF) || (err == nil && n == 0):
			l.closeReader()
			l.stage = StageParse
		case err != nil:
			return l.fail(err)
		}
	case StageParse:
		def, err := ParseDefinition(l.buf.Bytes())
		if err != nil {
			return l.fail(err)
		}
		l.buf.Reset()
		l.total = def.Root.Count()
		l.stack = []buildItem{{def: def.Root}}
		l.stage = StageBuild
	case StageBuild:
		for i := 0; i < l.opts.NodesPerStep && len(l.stack) > 0; i++ {
			it := l.stack[len(l.stack)-1]
			l.stack = l.stack[:len(l.stack)-1]
			n, err := instantiate(it.def)
			if err != nil {
				return l.fail(err)
			}
			if it.parent == nil {
				l.root = n
			} else if err := node.AddChild(it.parent, n); err != nil {
				return l.fail(err)
			}
			l.built++
			for j := len(it.def.Children) - 1; j >= 0; j-- {
				l.stack = append(l.stack, buildItem{def: it.def.Children[j], parent: n})
			}
		}
		if len(l.stack) == 0 {
			l.stage = StageDone
			l.result = StepResult{Kind: Done, Payload: l.root}
			l.opts.Logger.Printf("resource load ended -> %s (%d nodes, %d steps)", l.handle.Identifier, l.built, l.steps)
			return l.result
		}
	}
	return StepResult{Kind: Continue}
}

func (l *Loader) fail(err error) StepResult {
	stage := l.stage
	l.closeReader()
	l.stack = nil
	if l.root != nil {
		node.Free(l.root)
		l.root = nil
	}
	l.stage = StageFailed
	l.result = StepResult{Kind: Error, Err: &LoadError{ID: l.handle.Identifier, Stage: stage, Err: err}}
	l.opts.Logger.Printf("poll error: %s at %s: %v", l.handle.Identifier, stage, err)
	return l.result
}

func (l *Loader) closeReader() {
	if l.rc != nil {
		_ = l.rc.Close()
		l.rc = nil
	}
}

// Progress reports where the load currently stands.
func (l *Loader) Progress() Progress {
	p := Progress{
		Stage:      l.stage,
		BytesRead:  l.read,
		Size:       l.res.Size,
		NodesBuilt: l.built,
		NodesTotal: l.total,
		Steps:      l.steps,
	}
	switch l.stage {
	case StageDone:
		p.Status = StatusLoaded
		p.Payload = l.result.Payload
	case StageFailed:
		p.Status = StatusFailed
	default:
		p.Status = StatusPending
	}
	return p
}

// Handle returns the handle issued by BeginLoad.
func (l *Loader) Handle() Handle { return l.handle }

// Drain polls without yielding until the load finishes. Only for startup,
// before the tick loop runs.
func (l *Loader) Drain(ctx context.Context, h Handle) (node.Node, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := l.Poll(h)
		switch r.Kind {
		case Done:
			return r.Payload, nil
		case Error:
			return nil, r.Err
		}
	}
}

// LoadNow resolves and fully loads id in one call.
func LoadNow(ctx context.Context, resolver Resolver, id string, opts Options) (node.Node, error) {
	l := New(resolver, opts)
	h, err := l.BeginLoad(id)
	if err != nil {
		return nil, err
	}
	return l.Drain(ctx, h)
}
