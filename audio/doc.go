// Package audio implements the streaming core of a USB Audio Class 1.0
// function: endpoint nodes, the feature unit, ring-buffer sessions and the
// rate synchronization that keeps a codec clock and the USB frame clock
// from drifting apart.
//
// A session owns one ring buffer and a chain of three nodes. Playback
// chains a [USBInput] node, a [FeatureUnit] and a [Speaker]; recording
// chains a [Microphone], a [FeatureUnit] and a [USBOutput] node. Nodes
// report to their session through an [EventHandler]; the session reacts
// by starting, stopping or resynchronizing the chain.
//
// Two execution contexts touch a session. The USB context (control
// requests, Start-Of-Frame and endpoint transfers) must be serialized by
// the caller. The codec context (a speaker or microphone tick) runs
// concurrently with it. Ring offsets, node states and restart flags are
// atomics, and each ring offset is only advanced by one context.
//
// # Rate synchronization
//
// Playback reports the speaker's measured consumption rate on an explicit
// feedback endpoint ([EncodeFeedback]). Recording adapts implicitly: the
// [Synchronizer] estimates the microphone rate each second and adds or
// removes one sample frame from IN packets to follow it.
package audio
