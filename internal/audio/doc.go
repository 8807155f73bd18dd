// Package audio decodes uploaded and stored voice samples into mono
// floating-point PCM.
//
// Supported containers are WAV (integer PCM and IEEE float), FLAC and MP3.
// The format is sniffed from the leading bytes, never from a filename, so
// uploads with misleading extensions still decode. Multi-channel audio is
// averaged down to a single channel.
package audio
