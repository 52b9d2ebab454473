package codec

import (
	"io"
)

// Read decodes one item of shape d from r, reading exactly the bytes the
// item occupies. It is meant for blocking peers; the event-driven side uses
// Parser directly.
func Read(r io.Reader, d Descriptor) (Value, error) {
	var p Parser
	res, err := p.Start(d)
	for err == nil && !res.Done {
		buf := make([]byte, res.Need)
		if _, rerr := io.ReadFull(r, buf); rerr != nil {
			return Value{}, &Error{Kind: TruncatedInput, Path: d.String(), Msg: "stream ended", Err: rerr}
		}
		res, err = p.Feed(buf)
	}
	if err != nil {
		return Value{}, err
	}
	return res.Value, nil
}

// Write encodes v and writes it to w in one call.
func Write(w io.Writer, d Descriptor, v Value) error {
	b, err := Encode(d, v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
