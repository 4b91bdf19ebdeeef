package uac

// Audio interface subclass codes.
const (
	SubclassUndefined      = 0x00
	SubclassAudioControl   = 0x01
	SubclassAudioStreaming = 0x02
	SubclassMIDIStreaming  = 0x03
)

// ProtocolUndefined is the only interface protocol defined by UAC1.
const ProtocolUndefined = 0x00

// Class-specific descriptor types.
const (
	DescriptorTypeCSInterface = 0x24
	DescriptorTypeCSEndpoint  = 0x25
)

// AudioControl interface descriptor subtypes.
const (
	SubtypeHeader         = 0x01
	SubtypeInputTerminal  = 0x02
	SubtypeOutputTerminal = 0x03
	SubtypeMixerUnit      = 0x04
	SubtypeSelectorUnit   = 0x05
	SubtypeFeatureUnit    = 0x06
)

// AudioStreaming interface descriptor subtypes.
const (
	SubtypeASGeneral  = 0x01
	SubtypeFormatType = 0x02
)

// SubtypeEPGeneral is the class-specific isochronous endpoint subtype.
const SubtypeEPGeneral = 0x01

// Terminal types.
const (
	TerminalUSBStreaming = 0x0101
	TerminalMicrophone   = 0x0201
	TerminalSpeaker      = 0x0301
)

// Format codes.
const (
	FormatTypeI  = 0x01
	FormatTagPCM = 0x0001
)

// ADCVersion is bcdADC for Audio Device Class 1.0.
const ADCVersion = 0x0100

// Class-specific request codes.
const (
	RequestSetCur = 0x01
	RequestSetMin = 0x02
	RequestSetMax = 0x03
	RequestSetRes = 0x04
	RequestGetCur = 0x81
	RequestGetMin = 0x82
	RequestGetMax = 0x83
	RequestGetRes = 0x84
)

// Feature unit control selectors.
const (
	FeatureMute   = 0x01
	FeatureVolume = 0x02
)

// Endpoint control selectors.
const (
	EndpointSamplingFreq = 0x01
	EndpointPitch        = 0x02
)

// EndpointAttrSamplingFreq is the class-specific endpoint bmAttributes bit
// announcing the sampling frequency control.
const EndpointAttrSamplingFreq = 0x01

// Interrupt status word bits.
const (
	StatusInterruptPending = 0x80
	StatusMemoryChanged    = 0x40
	StatusOriginatorAC     = 0x00
	StatusOriginatorAS     = 0x01
)

// Descriptor sizes.
const (
	HeaderSizeBase      = 8 // plus one byte per streaming interface
	InputTerminalSize   = 12
	OutputTerminalSize  = 9
	FeatureUnitSize     = 10 // one control byte, two channels
	ASGeneralSize       = 7
	FormatTypeISizeBase = 8 // plus three bytes per discrete frequency
	CSEndpointSize      = 7
	StatusSize          = 2
	FrequencyDataSize   = 3
	MuteDataSize        = 1
	VolumeDataSize      = 2
)

// Limits and intervals of the fixed topology.
const (
	MaxFrequencies     = 16
	MaxStreamingIfaces = 2
	InterruptInterval  = 0x20 // 32 ms at full speed
	FeedbackRefresh    = 0x07 // bRefresh exponent of the feedback endpoint
)

// InterfaceControl is the AudioControl interface number. Streaming
// interfaces follow: playback first, then recording.
const InterfaceControl = 0x00

// Endpoint addresses. When playback is disabled the recording endpoint
// takes the first IN address.
const (
	EndpointPlaybackOut = 0x01
	EndpointFeedbackIn  = 0x81
	EndpointRecordingIn = 0x82
	EndpointInterruptIn = 0x83
)

// Default entity IDs.
const (
	PlaybackInputTerminalID   = 0x12
	PlaybackFeatureUnitID     = 0x16
	PlaybackOutputTerminalID  = 0x14
	RecordingInputTerminalID  = 0x11
	RecordingFeatureUnitID    = 0x15
	RecordingOutputTerminalID = 0x13
)
