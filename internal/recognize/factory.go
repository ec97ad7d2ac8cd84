package recognize

import (
	"fmt"

	"github.com/phrasewatch/phrasewatch/internal/config"
	"github.com/phrasewatch/phrasewatch/internal/model"
)

// DecoderFactory returns the model.Factory for the configured offline
// engine. The returned factory does the heavy lifting (reading the model
// bundle) when the loader invokes it.
func DecoderFactory(cfg config.OfflineConfig) model.Factory {
	return func() (model.Decoder, error) {
		switch cfg.Engine {
		case "vosk":
			return newVoskDecoder(cfg)
		case "exec":
			return newExecDecoder(cfg)
		case "mock":
			return NewMockDecoder("", cfg.SampleRate), nil
		default:
			return nil, fmt.Errorf("unknown offline engine %q", cfg.Engine)
		}
	}
}
