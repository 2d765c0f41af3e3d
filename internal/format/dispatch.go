package format

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/shotrelay/shotrelay/internal/logging"
)

// Disposition says what the watcher should do with a prepared file.
type Disposition int

const (
	// Relay: send the payload to the consumer and track it in the ledger.
	Relay Disposition = iota
	// SkipArchive: do not relay; archive the original bytes locally,
	// delete the remote copy once archived, and notify the consumer.
	SkipArchive
	// SkipKeep: do not relay and leave the source where it is; the reason
	// is logged only.
	SkipKeep
)

// Prepared is the outcome of running a file through the pipeline.
type Prepared struct {
	Class       Class
	Disposition Disposition
	Payload     []byte // relay payload, set when Disposition == Relay
	OutName     string // filename to present to the consumer
	SkipReason  string // wire reason for SkipArchive; log reason for SkipKeep
	Replace     bool   // archive naming: replace a prior same-named archive
}

// Pipeline applies the conversion policy to classified files.
type Pipeline struct {
	MaxAnimatedBytes int64
	MaxImageDim      int
	JpegQuality      int

	converter *Converter
}

// NewPipeline builds a pipeline with the given policy limits.
func NewPipeline(maxAnimatedBytes int64, maxImageDim, jpegQuality int) *Pipeline {
	return &Pipeline{
		MaxAnimatedBytes: maxAnimatedBytes,
		MaxImageDim:      maxImageDim,
		JpegQuality:      jpegQuality,
		converter:        NewConverter(),
	}
}

// Prepare classifies the file content and produces either a relay-ready
// payload or a skip outcome per the policy table. It never returns an error:
// every failure mode maps to a policy outcome.
func (p *Pipeline) Prepare(ctx context.Context, name, mimeType string, data []byte) Prepared {
	class := Classify(name, mimeType, data)

	switch class {
	case ClassVideo:
		// The consumer API cannot ingest video.
		return Prepared{
			Class:       class,
			Disposition: SkipArchive,
			OutName:     name,
			SkipReason:  "video",
			Replace:     true,
		}

	case ClassAnimated:
		if int64(len(data)) > p.MaxAnimatedBytes {
			// Relaying very large payloads risks hanging the consumer.
			return Prepared{
				Class:       class,
				Disposition: SkipArchive,
				OutName:     name,
				SkipReason:  "too-large",
				Replace:     true,
			}
		}
		// Re-encoding would discard animation, so relay unmodified.
		return Prepared{Class: class, Disposition: Relay, Payload: data, OutName: name}

	case ClassConvertibleStill:
		if !p.converter.Available() {
			logging.Warn("skipping convertible still: no conversion utility",
				zap.String("file", name))
			return Prepared{
				Class:       class,
				Disposition: SkipKeep,
				OutName:     name,
				SkipReason:  "converter-unavailable",
			}
		}
		converted, err := p.converter.Convert(ctx, data)
		if err != nil {
			logging.Warn("heic conversion failed, skipping file",
				zap.String("file", name), zap.Error(err))
			return Prepared{
				Class:       class,
				Disposition: SkipKeep,
				OutName:     name,
				SkipReason:  "conversion-failed",
			}
		}
		outName := jpegName(name)
		if resized, err := ResizeStill(converted, p.MaxImageDim, p.JpegQuality); err == nil {
			return Prepared{Class: class, Disposition: Relay, Payload: resized, OutName: outName}
		}
		return Prepared{Class: class, Disposition: Relay, Payload: converted, OutName: outName}

	case ClassStill:
		resized, err := ResizeStill(data, p.MaxImageDim, p.JpegQuality)
		if err != nil {
			// Relay the original rather than dropping the file.
			logging.Debug("still conversion failed, relaying original",
				zap.String("file", name), zap.Error(err))
			return Prepared{Class: class, Disposition: Relay, Payload: data, OutName: name}
		}
		return Prepared{Class: class, Disposition: Relay, Payload: resized, OutName: jpegName(name)}

	default:
		// Media by MIME type but nothing could identify the container.
		// Archive under a unique name so nothing unrelated is overwritten.
		return Prepared{
			Class:       class,
			Disposition: SkipArchive,
			OutName:     name,
			SkipReason:  "unknown-format",
			Replace:     false,
		}
	}
}

func jpegName(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name + ".jpg"
	}
	return name[:i] + ".jpg"
}
