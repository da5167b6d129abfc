//go:build !govips || !cgo

package pipeline

import "image"

func Startup() error {
	return nil
}

func Shutdown() {}

func NativeDecoder() string {
	return "none"
}

func nativeDecode(_ []byte) (image.Image, string, error) {
	return nil, "", ErrUnsupportedFormat
}
