package activity

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/holoplot/go-evdev"

	"github.com/patinas/ScreenPulse/internal/diaglog"
)

// ErrNoInputDevices is returned by Start when no readable mouse or keyboard
// device exists. Usually a permissions problem: the user is not in the
// input group.
var ErrNoInputDevices = errors.New("no readable input devices found")

const defaultRescanInterval = 30 * time.Second

// inputDevice is the slice of *evdev.InputDevice the monitor needs.
type inputDevice interface {
	Name() (string, error)
	CapableTypes() []evdev.EvType
	ReadOne() (*evdev.InputEvent, error)
	Close() error
}

// Monitor reads evdev events from every mouse and keyboard device and feeds
// the tracker. Devices that disappear are dropped; a periodic rescan picks
// up devices that show up later.
type Monitor struct {
	tracker *Tracker
	out     *log.Logger
	errLog  *log.Logger
	diag    *diaglog.Logger

	rescanInterval time.Duration

	listPaths func() ([]evdev.InputPath, error)
	open      func(path string) (inputDevice, error)

	mu      sync.Mutex
	devices map[string]inputDevice
}

// NewMonitor wires a monitor to the given tracker and loggers.
func NewMonitor(tracker *Tracker, out, errLog *log.Logger, diag *diaglog.Logger) *Monitor {
	return &Monitor{
		tracker:        tracker,
		out:            out,
		errLog:         errLog,
		diag:           diag,
		rescanInterval: defaultRescanInterval,
		listPaths:      evdev.ListDevicePaths,
		open:           openDevice,
		devices:        make(map[string]inputDevice),
	}
}

func openDevice(path string) (inputDevice, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// Start enumerates input devices and begins reading events in the
// background until ctx is cancelled. Returns the number of devices being
// monitored, or ErrNoInputDevices when none could be opened.
func (m *Monitor) Start(ctx context.Context) (int, error) {
	n := m.scan(ctx)
	if n == 0 {
		return 0, ErrNoInputDevices
	}

	go m.rescanLoop(ctx)
	go func() {
		<-ctx.Done()
		m.closeAll()
	}()

	return n, nil
}

// scan opens every qualifying device that is not already being read and
// returns the total count of monitored devices.
func (m *Monitor) scan(ctx context.Context) int {
	paths, err := m.listPaths()
	if err != nil {
		m.errLog.Printf("listing input devices: %v", err)
	}

	var added []string
	for _, p := range paths {
		m.mu.Lock()
		_, already := m.devices[p.Path]
		m.mu.Unlock()
		if already {
			continue
		}

		dev, err := m.open(p.Path)
		if err != nil {
			// Typically EACCES for devices we cannot read.
			continue
		}
		if !qualifies(dev) {
			dev.Close()
			continue
		}

		m.mu.Lock()
		m.devices[p.Path] = dev
		m.mu.Unlock()
		added = append(added, p.Name)

		go m.readLoop(ctx, p.Path, dev)
	}

	m.mu.Lock()
	total := len(m.devices)
	m.mu.Unlock()

	if len(added) > 0 {
		m.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentActivity,
			Event:     diaglog.EventInputDevices,
			Payload:   map[string]interface{}{"added": added, "total": total},
		})
	}
	return total
}

// qualifies reports whether the device can produce pointer or key events.
func qualifies(dev inputDevice) bool {
	for _, t := range dev.CapableTypes() {
		if t == evdev.EV_REL || t == evdev.EV_KEY {
			return true
		}
	}
	return false
}

func (m *Monitor) readLoop(ctx context.Context, path string, dev inputDevice) {
	name, _ := dev.Name()
	for {
		ev, err := dev.ReadOne()
		if err != nil {
			if ctx.Err() == nil {
				m.out.Printf("[EVENT] input device lost: %s (%s)", name, path)
				m.diag.Log(diaglog.LogEntry{
					Component: diaglog.ComponentActivity,
					Event:     diaglog.EventInputDeviceLost,
					Payload:   map[string]interface{}{"name": name, "path": path, "error": err.Error()},
				})
			}
			m.remove(path)
			return
		}
		if ev.Type == evdev.EV_REL || ev.Type == evdev.EV_KEY {
			m.tracker.Touch()
		}
	}
}

func (m *Monitor) rescanLoop(ctx context.Context) {
	ticker := time.NewTicker(m.rescanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

func (m *Monitor) remove(path string) {
	m.mu.Lock()
	dev, ok := m.devices[path]
	if ok {
		delete(m.devices, path)
	}
	m.mu.Unlock()
	if ok {
		dev.Close()
	}
}

// closeAll closes every open device, which unblocks the pending ReadOne
// calls so the reader goroutines exit.
func (m *Monitor) closeAll() {
	m.mu.Lock()
	devs := make([]inputDevice, 0, len(m.devices))
	for path, dev := range m.devices {
		devs = append(devs, dev)
		delete(m.devices, path)
	}
	m.mu.Unlock()
	for _, dev := range devs {
		dev.Close()
	}
}

// deviceCount reports how many devices are currently being read.
func (m *Monitor) deviceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.devices)
}
