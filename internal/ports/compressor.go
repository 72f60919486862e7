package ports

// Compressor is a byte-level compression codec.
// The batcher only measures how well a batch compresses; wire encoding is
// left to the transport.
type Compressor interface {
	// Name identifies the codec in logs and telemetry.
	Name() string

	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}
