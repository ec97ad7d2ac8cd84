package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/phrasewatch/phrasewatch/internal/audio"
	"github.com/phrasewatch/phrasewatch/internal/config"
	"github.com/phrasewatch/phrasewatch/internal/model"
)

// execDecoder shells out to an external transcriber. The command receives
// --audio <wav> plus --model <path> when configured and must print
// {"text","confidence"} JSON on stdout.
type execDecoder struct {
	cmd        []string
	modelPath  string
	sampleRate int
	mu         sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func newExecDecoder(cfg config.OfflineConfig) (model.Decoder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse decoder command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("decoder command is empty")
	}
	if cfg.ModelPath != "" {
		if _, err := os.Stat(cfg.ModelPath); err != nil {
			return nil, fmt.Errorf("offline model bundle: %w", err)
		}
	}
	return &execDecoder{cmd: args, modelPath: cfg.ModelPath, sampleRate: cfg.SampleRate}, nil
}

func (d *execDecoder) Decode(ctx context.Context, sample audio.Sample) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "phrasewatch_decode_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.WriteWAV(file, sample); err != nil {
		return "", err
	}

	args := append([]string{}, d.cmd...)
	base := args[0]
	cmdArgs := append(args[1:], "--audio", file.Name())
	if d.modelPath != "" {
		cmdArgs = append(cmdArgs, "--model", d.modelPath)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("decoder command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode transcriber response: %w", err)
	}
	return resp.Text, nil
}

func (d *execDecoder) SampleRate() int {
	return d.sampleRate
}

func (d *execDecoder) Close() error {
	return nil
}
