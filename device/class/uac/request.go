package uac

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softaudio/audio"
	"github.com/ardnew/softaudio/device"
	"github.com/ardnew/softaudio/pkg"
)

// controlEntity is the target of a class request: a feature unit control
// or an endpoint control.
type controlEntity interface {
	// set applies the OUT data stage of a SET_CUR request.
	set(f *Function, data []byte) error
	// get fills data for a GET request and returns the length.
	get(request uint8, data []byte) (int, error)
}

// unitTarget addresses a control of a feature unit.
type unitTarget struct {
	unit     *audio.FeatureUnit
	selector uint8
	channel  uint8
}

// endpointTarget addresses a control of a streaming data endpoint.
type endpointTarget struct {
	stream   *stream
	selector uint8
}

func (t unitTarget) set(_ *Function, data []byte) error {
	switch t.selector {
	case FeatureMute:
		if len(data) < MuteDataSize {
			return fmt.Errorf("mute data %d bytes: %w", len(data), pkg.ErrProtocol)
		}
		return t.unit.SetMute(uint16(t.channel), data[0] != 0)
	case FeatureVolume:
		if len(data) < VolumeDataSize {
			return fmt.Errorf("volume data %d bytes: %w", len(data), pkg.ErrProtocol)
		}
		return t.unit.SetVolume(uint16(t.channel), binary.LittleEndian.Uint16(data))
	}
	return fmt.Errorf("feature selector %d: %w", t.selector, pkg.ErrProtocol)
}

func (t unitTarget) get(request uint8, data []byte) (int, error) {
	switch t.selector {
	case FeatureMute:
		if request != RequestGetCur {
			break
		}
		if len(data) < MuteDataSize {
			return 0, pkg.ErrBufferTooSmall
		}
		data[0] = 0
		if t.unit.Mute(uint16(t.channel)) {
			data[0] = 1
		}
		return MuteDataSize, nil

	case FeatureVolume:
		var v uint16
		switch request {
		case RequestGetCur:
			v = t.unit.Volume(uint16(t.channel))
		case RequestGetMin:
			v = t.unit.MinVolume()
		case RequestGetMax:
			v = t.unit.MaxVolume()
		case RequestGetRes:
			v = t.unit.ResVolume()
		default:
			return 0, fmt.Errorf("volume request %#02x: %w", request, pkg.ErrProtocol)
		}
		if len(data) < VolumeDataSize {
			return 0, pkg.ErrBufferTooSmall
		}
		binary.LittleEndian.PutUint16(data, v)
		return VolumeDataSize, nil
	}
	return 0, fmt.Errorf("feature selector %d request %#02x: %w", t.selector, request, pkg.ErrProtocol)
}

// set changes the sampling rate. When the session needs a restart and the
// interface is open, the stream is closed and reopened on the same
// alternate.
func (t endpointTarget) set(f *Function, data []byte) error {
	if len(data) < FrequencyDataSize {
		return fmt.Errorf("frequency data %d bytes: %w", len(data), pkg.ErrProtocol)
	}
	st := t.stream
	freq := decodeFrequency(data)
	restart := st.session.SetFrequency(freq)
	f.updateFeedback(st)
	pkg.LogInfo(pkg.ComponentClass, "sampling frequency set",
		"endpoint", st.dataEP.Address,
		"requested", freq,
		"rate", st.session.Frequency(),
		"restart", restart)

	if alt := st.session.Alternate(); restart && alt != 0 {
		if err := f.setAlternate(st, 0); err != nil {
			return err
		}
		return f.setAlternate(st, alt)
	}
	return nil
}

func (t endpointTarget) get(request uint8, data []byte) (int, error) {
	var freq uint32
	switch request {
	case RequestGetCur:
		freq = t.stream.session.Frequency()
	case RequestGetMin, RequestGetMax:
		freqs := t.stream.frequencies
		freq = freqs[len(freqs)-1]
		if request == RequestGetMax {
			freq = freqs[0]
		}
	default:
		return 0, fmt.Errorf("sampling frequency request %#02x: %w", request, pkg.ErrProtocol)
	}
	if len(data) < FrequencyDataSize {
		return 0, pkg.ErrBufferTooSmall
	}
	appendFrequency(data[:0], freq)
	return FrequencyDataSize, nil
}

// handleUnitRequest serves a request to the AudioControl interface. The
// unit is the high byte of wIndex, the control selector the high byte of
// wValue and the channel its low byte.
func (f *Function) handleUnitRequest(setup *device.SetupPacket, data []byte) (int, bool, error) {
	id := uint8(setup.Index >> 8)
	selector := uint8(setup.Value >> 8)

	var unit *audio.FeatureUnit
	for _, st := range f.streams[:f.numStreams] {
		if fu := st.session.FeatureUnit(); fu.ID() == id {
			unit = fu
		}
	}
	if unit == nil {
		return 0, false, fmt.Errorf("unit %#02x: %w", id, pkg.ErrProtocol)
	}
	if selector == 0 || unit.Controls()&(1<<(selector-1)) == 0 {
		return 0, false, fmt.Errorf("unit %#02x selector %d: %w", id, selector, pkg.ErrProtocol)
	}

	target := unitTarget{unit: unit, selector: selector, channel: uint8(setup.Value)}
	return f.dispatch(target, setup, data)
}

// handleEndpointRequest serves a request to a streaming data endpoint,
// addressed by the low byte of wIndex.
func (f *Function) handleEndpointRequest(setup *device.SetupPacket, data []byte) (int, bool, error) {
	address := setup.Target()
	st := f.streamForEndpoint(address)
	if st == nil {
		return 0, false, fmt.Errorf("endpoint %#02x: %w", address, pkg.ErrProtocol)
	}
	selector := uint8(setup.Value >> 8)
	if selector != EndpointSamplingFreq {
		return 0, false, fmt.Errorf("endpoint %#02x selector %d: %w", address, selector, pkg.ErrProtocol)
	}
	return f.dispatch(endpointTarget{stream: st, selector: selector}, setup, data)
}

func (f *Function) dispatch(target controlEntity, setup *device.SetupPacket, data []byte) (int, bool, error) {
	if setup.In() {
		n, err := target.get(setup.Request, data)
		if err != nil {
			return 0, false, err
		}
		return n, true, nil
	}
	if setup.Request != RequestSetCur {
		return 0, false, fmt.Errorf("request %#02x: %w", setup.Request, pkg.ErrProtocol)
	}
	f.last = target
	if err := target.set(f, data); err != nil {
		return 0, false, err
	}
	return 0, true, nil
}
