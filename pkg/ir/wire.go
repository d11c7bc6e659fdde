package ir

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// WireVersion is the current block wire format version. Increment on any
// incompatible change to Block or Instruction.
const WireVersion uint16 = 1

// WireMagic prefixes every serialized block: "NUIR".
var WireMagic = []byte{'N', 'U', 'I', 'R'}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ir: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type wireEnvelope struct {
	Version uint16 `cbor:"v"`
	Block   *Block `cbor:"b"`
}

// MarshalBlock serializes a compiled block: the 4-byte magic followed by a
// canonical CBOR envelope. Canonical encoding keeps the bytes deterministic
// for a fixed block, so serialized blocks are safe cache keys and test
// fixtures.
func MarshalBlock(b *Block) ([]byte, error) {
	payload, err := cborEncMode.Marshal(&wireEnvelope{Version: WireVersion, Block: b})
	if err != nil {
		return nil, fmt.Errorf("ir: marshal block: %w", err)
	}
	out := make([]byte, 0, len(WireMagic)+len(payload))
	out = append(out, WireMagic...)
	out = append(out, payload...)
	return out, nil
}

// UnmarshalBlock decodes a serialized block and validates its structural
// invariants before returning it. A block that fails validation is never
// handed to the engine.
func UnmarshalBlock(data []byte) (*Block, error) {
	if len(data) < len(WireMagic) || string(data[:len(WireMagic)]) != string(WireMagic) {
		return nil, fmt.Errorf("ir: bad block magic")
	}
	var env wireEnvelope
	if err := cbor.Unmarshal(data[len(WireMagic):], &env); err != nil {
		return nil, fmt.Errorf("ir: unmarshal block: %w", err)
	}
	if env.Version > WireVersion {
		return nil, fmt.Errorf("ir: block wire version %d is newer than supported version %d",
			env.Version, WireVersion)
	}
	if env.Block == nil {
		return nil, fmt.Errorf("ir: block envelope missing body")
	}
	if err := env.Block.Validate(); err != nil {
		return nil, fmt.Errorf("ir: decoded block invalid: %w", err)
	}
	return env.Block, nil
}
