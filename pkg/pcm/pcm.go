// Package pcm provides conversions between float32 audio samples and 16-bit
// little-endian PCM, the WAV container wrapper, and the base64 transport
// encoding used on the live audio wire.
//
// All functions are pure and allocation-predictable. PCM data throughout the
// package is little-endian signed 16-bit; float samples are in [-1, 1].
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"time"
)

const (
	// BytesPerSample is the width of one 16-bit PCM sample.
	BytesPerSample = 2

	// WAVHeaderSize is the size of the canonical RIFF/fmt/data WAV header.
	WAVHeaderSize = 44
)

// FloatToPCM16 encodes float samples as little-endian int16 PCM. Samples are
// clamped to [-1, 1] first. Negative samples scale by 0x8000 and non-negative
// samples by 0x7fff so that both full-scale extremes are representable.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7fff)
		}
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(v))
	}
	return out
}

// PCM16ToFloat decodes little-endian int16 PCM into float samples by dividing
// by 32768. A trailing odd byte is ignored.
func PCM16ToFloat(data []byte) []float32 {
	n := len(data) / BytesPerSample
	out := make([]float32, n)
	for i := range n {
		v := int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
		out[i] = float32(v) / 32768.0
	}
	return out
}

// WrapWAV wraps raw PCM bytes in a standard 44-byte WAV header. The result is
// len(pcm)+44 bytes: the RIFF size field is 36+len(pcm) and the data size
// field is len(pcm) exactly.
func WrapWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, WAVHeaderSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[WAVHeaderSize:], pcm)
	return buf
}

// EncodeBase64 encodes raw bytes with standard base64, the transport encoding
// used for PCM chunks on the live wire.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 is the inverse of [EncodeBase64].
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// Duration returns the play time of n bytes of mono 16-bit PCM at sampleRate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
