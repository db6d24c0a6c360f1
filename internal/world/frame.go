package world

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"hiveops/internal/link"
)

// frameEncoding is deterministic so identical scenes give identical frames.
var frameEncoding cbor.EncMode

func init() {
	var err error
	frameEncoding, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("world: cbor encoder: " + err.Error())
	}
}

// scene is the payload of a simulated camera frame.
type scene struct {
	Objects []sceneObject `cbor:"objects"`
}

type sceneObject struct {
	ObjectID   string   `cbor:"id"`
	Class      string   `cbor:"class"`
	Box        link.Box `cbor:"box"`
	Visibility float64  `cbor:"visibility"`
}

func encodeScene(s scene) ([]byte, error) {
	return frameEncoding.Marshal(s)
}

func decodeScene(data []byte) (scene, error) {
	var s scene
	if err := cbor.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode frame payload: %w", err)
	}
	return s, nil
}
