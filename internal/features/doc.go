// Package features turns decoded audio into voiceprints: fixed-length,
// self-normalized vectors of spectral summary statistics.
//
// The analysis front end runs at 22050 Hz with a 2048-point STFT and a
// 512-sample hop. From the power spectrogram it derives
//
//	40 MFCCs (plus first and second time derivatives)
//	128-band log-mel spectrogram relative to its own peak
//	spectral centroid, spectral roll-off and zero-crossing rate
//
// Every time series is reduced to its mean across frames; MFCCs and the
// log-mel spectrogram additionally contribute their standard deviation.
// The concatenated 419-dimensional vector is normalized to zero mean and
// unit standard deviation over its own components, which removes
// recording gain from the comparison.
package features
