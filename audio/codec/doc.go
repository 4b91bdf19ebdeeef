// Package codec provides the codec side of an audio session: speaker and
// microphone nodes that move fixed-size blocks between a ring buffer and
// a PCM sink or source once per millisecond, the way a DMA channel feeding
// an I2S/SAI peripheral would.
//
// [Speaker] and [Microphone] are driven by Tick. A [Clock] calls Tick from
// its own goroutine at a nominal 1 kHz, optionally skewed by a ppm offset
// so tests and simulations can reproduce a codec clock that drifts from
// the USB frame clock. [DummySpeaker] and [DummyMicrophone] track state
// only and move no data.
//
// Sources and sinks are PCM endpoints. [ToneSource] synthesizes a sine
// wave; [Clip] holds decoded WAV, MP3 or Ogg Vorbis audio loaded with
// [OpenFile]. [WAVSink] records to a file, [DiscardSink] counts bytes and
// [LevelSink] tracks peak amplitude.
package codec
