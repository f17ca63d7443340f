package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/conversationai/pipeline/internal/infra"
	"github.com/conversationai/pipeline/internal/killswitch"
)

// pauseWatcher keeps a killswitch.GlobalPause in sync with whether
// sentinelPath exists on disk, using fsnotify on the containing directory
// (fsnotify cannot watch a path that doesn't exist yet, which is exactly
// the common case: the file is absent until an operator needs it).
type pauseWatcher struct {
	*infra.BaseComponent

	sentinelPath string
	global       *killswitch.GlobalPause
	watcher      *fsnotify.Watcher
	done         chan struct{}
}

func newPauseWatcher(sentinelPath string, global *killswitch.GlobalPause, logger *slog.Logger) *pauseWatcher {
	return &pauseWatcher{
		BaseComponent: infra.NewBaseComponent("global_pause_watcher", logger),
		sentinelPath:  sentinelPath,
		global:        global,
	}
}

func (p *pauseWatcher) Start(ctx context.Context) error {
	if p.sentinelPath == "" {
		p.MarkStarted()
		return nil
	}

	if _, err := os.Stat(p.sentinelPath); err == nil {
		p.global.Set(true)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := parentDir(p.sentinelPath)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}

	p.watcher = w
	p.done = make(chan struct{})
	go p.watch()
	p.MarkStarted()
	return nil
}

func (p *pauseWatcher) watch() {
	defer close(p.done)
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Name != p.sentinelPath {
				continue
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				p.global.Set(true)
				p.Logger().Info("global pause engaged", "sentinel", p.sentinelPath)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				p.global.Set(false)
				p.Logger().Info("global pause cleared", "sentinel", p.sentinelPath)
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.Logger().Error("pause sentinel watch error", "error", err)
		}
	}
}

func (p *pauseWatcher) Stop(ctx context.Context) error {
	if p.watcher == nil {
		p.MarkStopped()
		return nil
	}
	err := p.watcher.Close()
	<-p.done
	p.MarkStopped()
	return err
}

func (p *pauseWatcher) Health(ctx context.Context) infra.ComponentHealth {
	if p.global != nil && p.global.IsPaused() {
		return infra.ComponentHealth{State: infra.ServiceHealthDegraded, Message: "global pause engaged"}
	}
	return infra.ComponentHealth{State: infra.ServiceHealthHealthy}
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

var _ infra.FullLifecycleComponent = (*pauseWatcher)(nil)
