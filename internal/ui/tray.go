package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/marriagesignal/studio/internal/catalog"
	"github.com/marriagesignal/studio/internal/playback"
	"github.com/marriagesignal/studio/internal/session"
)

const refreshInterval = 2 * time.Second

// Preview is the session the tray's transport controls act on.
type Preview interface {
	Last() *session.Session
}

type Tray struct {
	library *catalog.Service
	preview Preview
	runner  *catalog.Runner
	logger  *slog.Logger

	statusItem   *systray.MenuItem
	projectsItem *systray.MenuItem
	playItem     *systray.MenuItem
	stopItem     *systray.MenuItem
	pauseItem    *systray.MenuItem

	mu sync.Mutex

	onQuit func()
}

type TrayConfig struct {
	Library *catalog.Service
	Preview Preview
	Runner  *catalog.Runner
	Logger  *slog.Logger
	OnQuit  func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		library: cfg.Library,
		preview: cfg.Preview,
		runner:  cfg.Runner,
		logger:  cfg.Logger,
		onQuit:  cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Signal")
	systray.SetTooltip("Marriage Signal Studio")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current studio status")
	t.statusItem.Disable()

	t.projectsItem = systray.AddMenuItem("Projects: 0", "Stored projects")
	t.projectsItem.Disable()

	systray.AddSeparator()

	t.playItem = systray.AddMenuItem("Play", "Play or pause the open preview")
	t.stopItem = systray.AddMenuItem("Stop", "Stop the open preview")

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause Generation", "Pause the generation queue")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Marriage Signal Studio")

	ticker := time.NewTicker(refreshInterval)
	go func() {
		defer ticker.Stop()
		t.refresh()
		for {
			select {
			case <-ticker.C:
				t.refresh()
			case <-t.playItem.ClickedCh:
				t.togglePlay()
			case <-t.stopItem.ClickedCh:
				if s := t.preview.Last(); s != nil {
					s.Stop()
				}
				t.refresh()
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) togglePlay() {
	s := t.preview.Last()
	if s == nil {
		return
	}
	if s.Playback().State == playback.Playing.String() {
		s.Pause()
	} else if err := s.Play(); err != nil {
		t.logger.Error("preview playback failed", "project_id", s.ID(), "error", err)
	}
	t.refresh()
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}

	if t.runner.IsPaused() {
		t.runner.Resume()
		t.pauseItem.SetTitle("Pause Generation")
	} else {
		t.runner.Pause()
		t.pauseItem.SetTitle("Resume Generation")
	}
}

func (t *Tray) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	var st *playback.Status
	if s := t.preview.Last(); s != nil {
		v := s.Playback()
		st = &v
		if v.State == playback.Playing.String() {
			t.playItem.SetTitle("Pause")
		} else {
			t.playItem.SetTitle("Play")
		}
	} else {
		t.playItem.SetTitle("Play")
	}

	paused, jobs := false, 0
	if t.runner != nil {
		paused, jobs = t.runner.IsPaused(), t.runner.ActiveJobs()
	}
	t.statusItem.SetTitle("Status: " + StatusLine(paused, jobs, st))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if projects, err := t.library.ListProjects(ctx); err == nil {
		t.projectsItem.SetTitle(fmt.Sprintf("Projects: %d", len(projects)))
	}
}

// StatusLine summarizes the studio for the tray menu.
func StatusLine(generationPaused bool, activeJobs int, preview *playback.Status) string {
	switch {
	case preview != nil && preview.State == playback.Playing.String():
		return fmt.Sprintf("Playing %s / %s", clock(preview.Position), clock(preview.Total))
	case activeJobs > 0:
		return "Generating"
	case generationPaused:
		return "Paused"
	case preview != nil && preview.State == playback.Paused.String():
		return fmt.Sprintf("Preview paused at %s", clock(preview.Position))
	default:
		return "Idle"
	}
}

func clock(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func (t *Tray) Quit() {
	systray.Quit()
}
