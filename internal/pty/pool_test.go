package pty

import (
	"bytes"
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"/bin/sh", []string{"/bin/sh"}},
		{"bash -l", []string{"bash", "-l"}},
		{`sh -c "echo hi there"`, []string{"sh", "-c", "echo hi there"}},
		{`sh -c 'a "b"'`, []string{"sh", "-c", `a "b"`}},
		{`printf ''`, []string{"printf", ""}},
		{"  spaced\targs  ", []string{"spaced", "args"}},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := SplitCommand(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("SplitCommand(%q) = %q, want %q", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("SplitCommand(%q) = %q, want %q", tt.in, got, tt.want)
				}
			}
		})
	}
}

func TestPool_SpawnEchoAndExit(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("pty is linux only")
	}

	pool := NewPool(nil)

	var mu sync.Mutex
	var out bytes.Buffer
	exited := make(chan int, 1)

	_, err := pool.Spawn("link-1", SpawnOptions{
		Shell: `/bin/sh -c "printf ready"`,
		Rows:  24,
		Cols:  80,
		OnOutput: func(data []byte) {
			mu.Lock()
			out.Write(data)
			mu.Unlock()
		},
		OnExit: func(code int, err error) { exited <- code },
	})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	select {
	case code := <-exited:
		if code != 0 {
			t.Errorf("expected exit code 0, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	mu.Lock()
	defer mu.Unlock()
	if !bytes.Contains(out.Bytes(), []byte("ready")) {
		t.Errorf("expected output to contain 'ready', got %q", out.String())
	}
	if pool.Len() != 0 {
		t.Errorf("exited session still tracked")
	}
}

func TestPool_TerminateUnknownIsNoop(t *testing.T) {
	pool := NewPool(nil)
	if err := pool.Terminate("missing"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := pool.Write("missing", []byte("x")); err == nil {
		t.Error("expected error writing to unknown session")
	}
}

func TestPool_TerminateRunningShell(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("pty is linux only")
	}

	pool := NewPool(nil)
	done := make(chan struct{})
	s, err := pool.Spawn("link-1", SpawnOptions{
		Shell:  "/bin/sh -c 'sleep 30'",
		OnExit: func(int, error) { close(done) },
	})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if _, err := pool.Spawn("link-1", SpawnOptions{Shell: "/bin/sh"}); err == nil {
		t.Error("expected duplicate spawn to fail")
	}

	if err := pool.Terminate("link-1"); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback not called")
	}
	<-s.Exited()
}
