package nip19

import "fmt"

type tlvWriter struct {
	buf []byte
	err error
}

func (w *tlvWriter) put(typ uint8, v []byte) {
	if w.err != nil {
		return
	}
	if len(v) > 255 {
		w.err = fmt.Errorf("%w: type %d has %d bytes", ErrFieldTooLong, typ, len(v))
		return
	}
	w.buf = append(w.buf, typ, uint8(len(v)))
	w.buf = append(w.buf, v...)
}

// walkTLV visits each type-length-value triple in order. Unknown types are
// passed to fn like any other and ignored there.
func walkTLV(data []byte, fn func(typ uint8, v []byte) error) error {
	for i := 0; i < len(data); {
		if len(data)-i < 2 {
			return fmt.Errorf("%w: tlv header at offset %d", ErrTruncatedPayload, i)
		}
		typ, n := data[i], int(data[i+1])
		i += 2
		if n > len(data)-i {
			return fmt.Errorf("%w: type %d declares %d bytes, %d remain", ErrTLVFieldOverrun, typ, n, len(data)-i)
		}
		if err := fn(typ, data[i:i+n]); err != nil {
			return err
		}
		i += n
	}
	return nil
}
