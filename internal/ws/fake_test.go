package ws

import (
	"fmt"
	"sync"

	"github.com/remote-agent-terminal/tabmux/internal/model"
	"github.com/remote-agent-terminal/tabmux/internal/terminal"
)

type fakeTerminals struct {
	mu      sync.Mutex
	tabs    map[string]terminal.State
	output  map[string][]byte
	written map[string]int64
	inputs  map[string][]byte
	resizes []model.Geometry

	// onScrollback runs once, after the snapshot is taken and before it is
	// returned.
	onScrollback func()
}

func newFakeTerminals(indices ...string) *fakeTerminals {
	f := &fakeTerminals{
		tabs:    make(map[string]terminal.State),
		output:  make(map[string][]byte),
		written: make(map[string]int64),
		inputs:  make(map[string][]byte),
	}
	for _, index := range indices {
		f.tabs[index] = terminal.StateConnected
	}
	return f
}

func (f *fakeTerminals) Scrollback(index string) ([]byte, int64, error) {
	f.mu.Lock()
	if _, ok := f.tabs[index]; !ok {
		f.mu.Unlock()
		return nil, 0, fmt.Errorf("tab %s: %w", index, model.ErrTabNotFound)
	}
	data := append([]byte(nil), f.output[index]...)
	end := f.written[index]
	hook := f.onScrollback
	f.onScrollback = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return data, end, nil
}

// append adds output to the tab's scrollback and returns the new end offset.
func (f *fakeTerminals) append(index string, data []byte) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.output[index] = append(f.output[index], data...)
	f.written[index] += int64(len(data))
	return f.written[index]
}

// produce appends output and broadcasts it, as the session manager does.
func (f *fakeTerminals) produce(svc *Service, index string, data []byte) {
	end := f.append(index, data)
	svc.TabOutput(index, data, end)
}

func (f *fakeTerminals) State(index string) (terminal.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.tabs[index]
	if !ok {
		return terminal.StateClosed, fmt.Errorf("tab %s: %w", index, model.ErrTabNotFound)
	}
	return state, nil
}

func (f *fakeTerminals) Input(index string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tabs[index] != terminal.StateConnected {
		return model.ErrNotConnected
	}
	f.inputs[index] = append(f.inputs[index], data...)
	return nil
}

func (f *fakeTerminals) Resize(index string, g model.Geometry) error {
	if !g.Valid() {
		return model.ErrInvalidGeometry
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, g)
	return nil
}

func (f *fakeTerminals) inputOf(index string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.inputs[index])
}

func (f *fakeTerminals) resizeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resizes)
}
