package key_exchange

import "bytes"

// BuildAAD binds a message's routing header into the AEAD so ciphertext
// cannot be re-addressed in transit. Both fields are length-delimited to
// keep ("ab","c") and ("a","bc") distinct.
func BuildAAD(source, destination string) []byte {
	buf := bytes.Buffer{}
	buf.WriteByte(byte(len(source)))
	buf.WriteString(source)
	buf.WriteByte(byte(len(destination)))
	buf.WriteString(destination)
	return buf.Bytes()
}
