// Package audio provides cross-platform playback of finished WAV files
// using the oto/v3 library. It backs the CLI's --play convenience and is
// deliberately minimal: open a file, play it to the end, release the device.
package audio
