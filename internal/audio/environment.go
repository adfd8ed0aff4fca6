package audio

import (
	"net"
	"net/url"
	"strings"

	"pairchat/internal/domain"
	"pairchat/internal/ports"
)

// FormatSupport reports which recording formats can be produced.
type FormatSupport interface {
	Available() bool
	Supports(format domain.FormatID) bool
}

// Environment answers capability queries from the capture device, the encoder and the relay
// endpoint the recordings travel over.
type Environment struct {
	device   ports.AudioDevice
	encoder  FormatSupport
	endpoint string
}

func NewEnvironment(device ports.AudioDevice, encoder FormatSupport, endpoint string) *Environment {
	return &Environment{device: device, encoder: encoder, endpoint: endpoint}
}

func (e *Environment) HasDeviceAccess() bool {
	return e.device != nil && e.device.Available()
}

func (e *Environment) HasRecorder() bool {
	return e.encoder != nil && e.encoder.Available()
}

func (e *Environment) IsSecureContext() bool {
	return IsSecureEndpoint(e.endpoint)
}

func (e *Environment) IsFormatSupported(format domain.FormatID) bool {
	return e.encoder != nil && e.encoder.Supports(format)
}

// IsSecureEndpoint reports whether the endpoint uses an encrypted transport or a loopback host.
func IsSecureEndpoint(endpoint string) bool {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || parsed.Host == "" {
		return false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "https", "wss":
		return true
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
