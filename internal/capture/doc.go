// Package capture acquires microphone audio through PortAudio and delivers it
// to the pipeline as raw float frames at the device's native rate.
package capture
