//go:build !vosk
// +build !vosk

package recognize

import (
	"fmt"

	"github.com/phrasewatch/phrasewatch/internal/config"
	"github.com/phrasewatch/phrasewatch/internal/model"
)

// The Vosk bindings need cgo and libvosk. Builds without the vosk tag
// get a factory that fails the model load cleanly; offline mode then
// stays unavailable instead of the process failing to build.
func newVoskDecoder(config.OfflineConfig) (model.Decoder, error) {
	return nil, fmt.Errorf("built without vosk support (rebuild with -tags vosk)")
}
