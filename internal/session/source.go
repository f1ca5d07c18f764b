// Package session replays recorded browser snapshots as a stand-in host for
// the privacy interceptor.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/raaihank/browser-sentinel/pkg/agent"
	"github.com/raaihank/browser-sentinel/pkg/snapshot"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ErrExhausted is returned once every recorded snapshot has been replayed.
var ErrExhausted = errors.New("no more recorded snapshots")

// DirSource replays the *.json snapshots of a directory in lexical order.
// Like a live host it renders each step's state message as it captures it.
type DirSource struct {
	fs       afero.Fs
	files    []string
	messages agent.MessageManager
	state    agent.HostState
	logger   *zap.Logger

	mu   sync.Mutex
	next int
}

var _ agent.ContextSource = (*DirSource)(nil)

// NewDirSource lists the snapshots under dir. messages and state may be nil
// when no state messages should be synthesized.
func NewDirSource(fsys afero.Fs, dir string, messages agent.MessageManager, state agent.HostState, logger *zap.Logger) (*DirSource, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	infos, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshots in %s: %w", dir, err)
	}
	var files []string
	for _, info := range infos {
		if info.IsDir() || !strings.EqualFold(filepath.Ext(info.Name()), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, info.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no snapshot files in %s", dir)
	}
	sort.Strings(files)

	return &DirSource{
		fs:       fsys,
		files:    files,
		messages: messages,
		state:    state,
		logger:   logger.Named("session"),
	}, nil
}

// Len returns the number of recorded snapshots.
func (d *DirSource) Len() int { return len(d.files) }

// Files returns the snapshot paths in replay order.
func (d *DirSource) Files() []string { return append([]string(nil), d.files...) }

// PrepareContext decodes the next snapshot and renders its state message.
func (d *DirSource) PrepareContext(ctx context.Context, step *agent.StepInfo) (*snapshot.BrowserSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.next >= len(d.files) {
		d.mu.Unlock()
		return nil, ErrExhausted
	}
	path := d.files[d.next]
	d.next++
	d.mu.Unlock()

	data, err := afero.ReadFile(d.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := snapshot.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	d.logger.Debug("Replaying snapshot", zap.String("file", filepath.Base(path)))

	if d.messages != nil {
		in := agent.StateMessageInput{Snapshot: snap, Step: step}
		if d.state != nil {
			in.ModelOutput = d.state.LastModelOutput()
			in.Result = d.state.LastResult()
			in.UseVision = d.state.UseVision()
			in.SensitiveData = d.state.SensitiveData()
			in.AvailableFilePaths = d.state.AvailableFilePaths()
		}
		if err := d.messages.RebuildStateMessages(ctx, in); err != nil {
			return nil, fmt.Errorf("create state messages: %w", err)
		}
	}
	return snap, nil
}

// StaticState is a HostState with fixed values.
type StaticState struct {
	ModelOutput *agent.ModelOutput
	Results     []agent.ActionResult
	Vision      bool
	Secrets     map[string]string
	FilePaths   []string
}

var _ agent.HostState = StaticState{}

func (s StaticState) LastModelOutput() *agent.ModelOutput { return s.ModelOutput }
func (s StaticState) LastResult() []agent.ActionResult    { return s.Results }
func (s StaticState) UseVision() bool                     { return s.Vision }
func (s StaticState) SensitiveData() map[string]string    { return s.Secrets }
func (s StaticState) AvailableFilePaths() []string        { return s.FilePaths }

// Replay drives source for up to maxSteps steps (0 means until exhausted),
// calling onStep with every prepared snapshot. It returns the number of
// steps completed.
func Replay(ctx context.Context, source agent.ContextSource, maxSteps int, onStep func(step int, s *snapshot.BrowserSnapshot) error) (int, error) {
	for n := 0; maxSteps <= 0 || n < maxSteps; n++ {
		snap, err := source.PrepareContext(ctx, &agent.StepInfo{StepNumber: n, MaxSteps: maxSteps})
		if errors.Is(err, ErrExhausted) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("step %d: %w", n, err)
		}
		if onStep != nil {
			if err := onStep(n, snap); err != nil {
				return n, err
			}
		}
	}
	return maxSteps, nil
}
