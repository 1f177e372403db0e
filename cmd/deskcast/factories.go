package main

import (
	"deskcast/internal/audio"
	"deskcast/internal/capture"
	"deskcast/internal/input"
	"deskcast/internal/types"
)

// The capture, input and audio packages carry their own build-tag
// splits; off Linux these constructors return a descriptive error.

func newFrameSource(display string) (types.FrameSource, error) {
	return capture.NewSource(display)
}

func newInputInjector(display string) (types.InputInjector, error) {
	return input.NewInjector(display)
}

func newAudioSource() (types.AudioSource, error) {
	return audio.NewSource()
}
