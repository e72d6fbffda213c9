//go:build linux

package audioio

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/jochenvg/go-udev"
)

// HotplugWatcher watches udev for sound-subsystem add/remove events and
// reports each one to a callback as soon as a USB audio interface is
// attached or pulled; it does not touch the façade or its event channel
// (cmd/ultrasync-chat logs the transitions). Best-effort: a failure to open the netlink monitor is
// logged and treated as "no hotplug support", never fatal.
type HotplugWatcher struct {
	log *log.Logger
}

func NewHotplugWatcher(logger *log.Logger) *HotplugWatcher {
	return &HotplugWatcher{log: logger}
}

// Watch runs until ctx is cancelled, calling onChange(true) when a sound
// device is added and onChange(false) when one is removed.
func (w *HotplugWatcher) Watch(ctx context.Context, onChange func(present bool)) {
	u := udev.Udev{}
	mon := u.NewMonitorFromNetlink("udev")
	if err := mon.FilterAddMatchSubsystem("sound"); err != nil {
		w.log.Warn("udev hotplug filter unavailable, continuing without hotplug detection", "err", err)
		return
	}

	ch, _, err := mon.DeviceChan(ctx)
	if err != nil {
		w.log.Warn("udev hotplug monitor unavailable, continuing without hotplug detection", "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case dev, ok := <-ch:
			if !ok {
				return
			}
			switch dev.Action() {
			case "add", "bind":
				onChange(true)
			case "remove", "unbind":
				onChange(false)
			}
		}
	}
}
