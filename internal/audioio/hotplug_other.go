//go:build !linux

package audioio

import (
	"context"

	"github.com/charmbracelet/log"
)

// HotplugWatcher is a no-op stub on platforms without udev. Watch logs
// that hotplug detection is unavailable and returns immediately without
// ever calling onChange.
type HotplugWatcher struct {
	log *log.Logger
}

func NewHotplugWatcher(logger *log.Logger) *HotplugWatcher {
	return &HotplugWatcher{log: logger}
}

func (w *HotplugWatcher) Watch(ctx context.Context, onChange func(present bool)) {
	w.log.Debug("hotplug detection unavailable on this platform")
}
