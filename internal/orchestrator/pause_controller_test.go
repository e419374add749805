package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPauseControllerNotPaused(t *testing.T) {
	p := NewPauseController()
	if err := p.WaitIfPaused(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestPauseControllerResume(t *testing.T) {
	p := NewPauseController()
	p.Pause()
	if !p.IsPaused() {
		t.Fatal("expected paused")
	}

	done := make(chan error, 1)
	go func() { done <- p.WaitIfPaused(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitIfPaused returned while paused")
	case <-time.After(30 * time.Millisecond):
	}

	p.Resume()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil after resume, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after Resume")
	}
}

func TestPauseControllerStopWhilePaused(t *testing.T) {
	p := NewPauseController()
	p.Pause()

	done := make(chan error, 1)
	go func() { done <- p.WaitIfPaused(context.Background()) }()
	p.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("expected ErrStopped, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after Stop")
	}
	if !p.IsStopped() {
		t.Error("expected stopped")
	}
}

func TestPauseControllerContextCancel(t *testing.T) {
	p := NewPauseController()
	p.Pause()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.WaitIfPaused(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after cancel")
	}
}

func TestPauseControllerRearm(t *testing.T) {
	p := NewPauseController()
	p.Stop()
	p.Rearm()
	if p.IsStopped() {
		t.Fatal("expected Rearm to clear stop")
	}
	if err := p.WaitIfPaused(context.Background()); err != nil {
		t.Errorf("expected nil after Rearm, got %v", err)
	}

	p.Pause()
	p.Rearm()
	if !p.IsPaused() {
		t.Error("expected pause to carry over Rearm")
	}
}
