package decoder

import "io"

// ReadBytes reads exactly n bytes from r, blocking across short reads.
// If r ends before n bytes arrive, it returns io.EOF.
func ReadBytes(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, err
	}
	return buf, nil
}
