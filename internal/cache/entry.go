package cache

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"hash"

	"lukechampine.com/blake3"
)

// Stamp is the fingerprint of one input file at the time a task ran.
type Stamp struct {
	Path   string `json:"path"`
	Digest string `json:"digest"`
}

// Entry is the recorded result of one task invocation.
//
// Inputs covers both the inputs the task declared up front and the ones it
// discovered while running. Outputs likewise.
type Entry struct {
	Key     string          `json:"key"`
	Op      string          `json:"op"`
	Args    []string        `json:"args,omitempty"`
	Inputs  []Stamp         `json:"inputs,omitempty"`
	Outputs []string        `json:"outputs,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// Key derives the call key of an operation: its name, its ordered argument
// list and its ordered declared input paths. Input contents are not part of
// the key; they are compared against the stored stamps on lookup, so an
// edited source replaces the previous entry instead of accumulating.
func Key(op string, args, inputs []string) string {
	h := blake3.New(32, nil)
	writeField(h, []byte(op))
	writeCount(h, len(args))
	for _, a := range args {
		writeField(h, []byte(a))
	}
	writeCount(h, len(inputs))
	for _, in := range inputs {
		writeField(h, []byte(in))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Identity is the full fingerprint of an entry: call key plus every input
// digest. Two entries with equal identities describe the same work.
func Identity(e *Entry) string {
	h := blake3.New(32, nil)
	writeField(h, []byte(e.Key))
	writeCount(h, len(e.Inputs))
	for _, s := range e.Inputs {
		writeField(h, []byte(s.Path))
		writeField(h, []byte(s.Digest))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Length-prefixed so ("ab","c") and ("a","bc") hash differently.
func writeField(h hash.Hash, data []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(data)))
	h.Write(n[:])
	h.Write(data)
}

func writeCount(h hash.Hash, n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	h.Write(b[:])
}
