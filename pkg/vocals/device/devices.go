// Package device connects PortAudio microphones and speakers to vocals
// sessions.
package device

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/rojolang/vocals-duplex-go/pkg/vocals"
)

// AudioDevice represents an audio device
type AudioDevice struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	IsDefaultInput    bool
	IsDefaultOutput   bool
	HostAPI           string
}

func (d AudioDevice) IsInput() bool  { return d.MaxInputChannels > 0 }
func (d AudioDevice) IsOutput() bool { return d.MaxOutputChannels > 0 }

// Manager snapshots the device list of the host.
type Manager struct {
	mu      sync.RWMutex
	devices []AudioDevice
	logger  *vocals.VocalsLogger
}

func NewManager(logger *vocals.VocalsLogger) *Manager {
	if logger == nil {
		logger = vocals.GetGlobalLogger()
	}
	return &Manager{logger: logger.WithComponent("DeviceManager")}
}

// Refresh re-reads the device list. PortAudio is initialized for the
// duration of the call only.
func (m *Manager) Refresh() error {
	if err := portaudio.Initialize(); err != nil {
		return captureError("failed to initialize audio", err)
	}
	defer func() { _ = portaudio.Terminate() }()

	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		m.logger.WithError(err).Warn("No default input device")
	}
	defaultOutput, err := portaudio.DefaultOutputDevice()
	if err != nil {
		m.logger.WithError(err).Warn("No default output device")
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return captureError("failed to list devices", err)
	}

	devices := make([]AudioDevice, 0, len(infos))
	for i, dev := range infos {
		hostAPI := "Unknown"
		if dev.HostApi != nil {
			hostAPI = dev.HostApi.Name
		}
		devices = append(devices, AudioDevice{
			ID:                i,
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			MaxOutputChannels: dev.MaxOutputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefaultInput:    defaultInput != nil && dev == defaultInput,
			IsDefaultOutput:   defaultOutput != nil && dev == defaultOutput,
			HostAPI:           hostAPI,
		})
	}

	m.mu.Lock()
	m.devices = devices
	m.mu.Unlock()
	m.logger.WithField("device_count", len(devices)).Debug("device list refreshed")
	return nil
}

func (m *Manager) Devices() []AudioDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AudioDevice(nil), m.devices...)
}

func (m *Manager) Inputs() []AudioDevice {
	return m.filter(AudioDevice.IsInput)
}

func (m *Manager) Outputs() []AudioDevice {
	return m.filter(AudioDevice.IsOutput)
}

func (m *Manager) filter(keep func(AudioDevice) bool) []AudioDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AudioDevice
	for _, d := range m.devices {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

func (m *Manager) ByID(id int) (*AudioDevice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.devices {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("device with ID %d not found", id)
}

// Validate checks that a device can capture (or play) with the given
// channel count. A sample rate far from the device default is only logged.
func (m *Manager) Validate(id int, input bool, channels int, sampleRate float64) error {
	d, err := m.ByID(id)
	if err != nil {
		return vocals.NewConfigError(err.Error())
	}

	if input {
		if d.MaxInputChannels < channels {
			return vocals.NewConfigError(fmt.Sprintf("device '%s' supports max %d input channels, requested %d",
				d.Name, d.MaxInputChannels, channels))
		}
	} else if d.MaxOutputChannels < channels {
		return vocals.NewConfigError(fmt.Sprintf("device '%s' supports max %d output channels, requested %d",
			d.Name, d.MaxOutputChannels, channels))
	}

	if sampleRate > 0 && d.DefaultSampleRate > 0 {
		ratio := sampleRate / d.DefaultSampleRate
		if ratio < 0.5 || ratio > 2.0 {
			m.logger.WithFields(map[string]interface{}{
				"device_name":           d.Name,
				"device_sample_rate":    d.DefaultSampleRate,
				"requested_sample_rate": sampleRate,
			}).Warn("Sample rate significantly different from device default")
		}
	}
	return nil
}

// Print writes a table of devices to w.
func Print(w io.Writer, devices []AudioDevice) {
	for _, d := range devices {
		var caps []string
		if d.IsInput() {
			caps = append(caps, fmt.Sprintf("in:%d", d.MaxInputChannels))
		}
		if d.IsOutput() {
			caps = append(caps, fmt.Sprintf("out:%d", d.MaxOutputChannels))
		}
		marker := " "
		if d.IsDefaultInput || d.IsDefaultOutput {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %3d  %-40s %-12s %7.0f Hz  %s\n",
			marker, d.ID, d.Name, d.HostAPI, d.DefaultSampleRate, strings.Join(caps, " "))
	}
}
