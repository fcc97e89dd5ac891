/*
Package stream serves video files to clients over a dedicated streaming connection.

A stream is announced on the control connection, accepted on the stream listener, confirmed
by the client with a single byte and then sent as length-prefixed frames: the codec extradata
first, followed by every demuxed packet, paced at a fixed interval.

This file defines the media source capability the service pulls packets from.
*/
package stream

import "errors"

// ErrNoExtradata is returned by an opener when the media carries no codec parameters.
var ErrNoExtradata = errors.New("media has no codec extradata")

// Frame is one demuxed packet of the video stream.
type Frame struct {
	Data []byte
	Key  bool
}

// Source yields the packets of the first video stream of a media file.
type Source interface {
	// Extradata returns the codec parameters sent before the first packet.
	Extradata() []byte

	// Next returns the next packet, or io.EOF at the end of the stream.
	Next() (Frame, error)

	Close() error
}

// Opener opens a media file as a Source.
type Opener interface {
	Open(path string) (Source, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(path string) (Source, error)

// Open calls f(path).
func (f OpenerFunc) Open(path string) (Source, error) {
	return f(path)
}
