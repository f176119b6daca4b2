// Package ffmpeg reads and transforms audio and video by driving the ffprobe
// and ffmpeg command-line tools.
package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"math"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/Skryldev/asset-manager/config"
	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
	"github.com/Skryldev/asset-manager/mime"
)

// muxers maps every type the tools can produce to an ffmpeg output format.
var muxers = map[mime.Type]string{
	mime.Matroska:  "matroska",
	mime.WebM:      "webm",
	mime.QuickTime: "mov",
	mime.MP4:       "mp4",
	mime.OggVideo:  "ogg",
	mime.MPEGAudio: "mp3",
	mime.OggAudio:  "ogg",
	mime.WAV:       "wav",
	mime.M4A:       "ipod",
	mime.FLAC:      "flac",
	mime.GIF:       "gif",
	mime.JPEG:      "image2",
	mime.PNG:       "image2",
}

// frameCodecs maps still-image targets of ExtractFrame to their encoder.
var frameCodecs = map[mime.Type]string{
	mime.GIF:  "gif",
	mime.JPEG: "mjpeg",
	mime.PNG:  "png",
}

// containers lists the audio and video types handled by Processor.
var containers = []mime.Type{
	mime.Matroska, mime.WebM, mime.QuickTime, mime.MP4, mime.OggVideo,
	mime.MPEGAudio, mime.OggAudio, mime.WAV, mime.M4A, mime.FLAC,
}

// Processor handles audio and video containers.  It is stateless apart from
// configuration and safe for concurrent use.
type Processor struct {
	cfg     config.FFmpegConfig
	formats config.FormatOptions
	runner  Runner
}

// New returns a Processor.  A nil runner uses ExecRunner; nil formats use
// config.DefaultFormats.
func New(cfg config.FFmpegConfig, formats config.FormatOptions, runner Runner) *Processor {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}
	if formats == nil {
		formats = config.DefaultFormats()
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Processor{cfg: cfg, formats: formats, runner: runner}
}

func (p *Processor) MimeTypes() []mime.Type { return slices.Clone(containers) }

// Version returns the ffprobe version string, verifying that the tool can
// be executed.
func (p *Processor) Version(ctx context.Context) (string, error) {
	out, err := p.runner.Run(ctx, p.cfg.FFprobePath, "-version")
	if err != nil {
		return "", apperrors.Wrap(apperrors.CategoryConfig, "ffmpeg.version", err)
	}
	fields := strings.Fields(string(out))
	if len(fields) < 3 {
		return "", apperrors.Newf(apperrors.CategoryConfig, "ffmpeg.version", "unexpected ffprobe banner %q", string(out))
	}
	return fields[2], nil
}

// ─── Read / Write ─────────────────────────────────────────────────────────────

func (p *Processor) probe(ctx context.Context, path string) (*probeResult, error) {
	out, err := p.runner.Run(ctx, p.cfg.FFprobePath,
		"-loglevel", "error", "-print_format", "json", "-show_format", "-show_streams", path)
	if err != nil {
		return nil, err
	}
	return parseProbe(out)
}

// Read probes the essence and maps container, duration, dimensions and the
// first audio and video stream into metadata.
func (p *Processor) Read(ctx context.Context, r io.Reader) (*core.Asset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "ffmpeg.read", err)
	}
	wd, err := newWorkdir(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "ffmpeg.read", err)
	}
	defer wd.Close()

	pr, err := p.probe(ctx, wd.input)
	if err != nil {
		return nil, apperrors.Newf(apperrors.CategoryUnsupportedFormat, "ffmpeg.read", "%w: %w", apperrors.ErrUnsupportedFormat, err)
	}
	mt := pr.mimeType()
	if mt == mime.Unknown {
		return nil, apperrors.Newf(apperrors.CategoryUnsupportedFormat, "ffmpeg.read", "%w: container %q", apperrors.ErrUnsupportedFormat, pr.Format.FormatName)
	}
	// ffprobe reports demuxer families; a conclusive sniff of the same
	// category is more specific (mp4 vs quicktime, webm vs matroska).
	if sniffed, err := mime.Detect(data); err == nil && slices.Contains(containers, sniffed) && sniffed.Category() == mt.Category() {
		mt = sniffed
	}

	md := pr.metadata()
	md[core.KeyMimeType] = string(mt)
	return core.NewAsset(data, md), nil
}

// Write copies the essence to w.
func (p *Processor) Write(ctx context.Context, a *core.Asset, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryInput, "ffmpeg.write", err)
	}
	if !slices.Contains(containers, a.MimeType()) {
		return apperrors.Newf(apperrors.CategoryUnsupportedFormat, "ffmpeg.write", "%w: %s", apperrors.ErrUnsupportedFormat, a.MimeType())
	}
	_, err := io.Copy(w, a.Essence())
	return apperrors.Wrap(apperrors.CategoryInput, "ffmpeg.write", err)
}

// ─── Operators ────────────────────────────────────────────────────────────────

// transcode runs ffmpeg with args between the input and output arguments and
// returns the produced bytes.
func (p *Processor) transcode(ctx context.Context, a *core.Asset, pre, args []string) ([]byte, error) {
	wd, err := newWorkdir(a.Bytes())
	if err != nil {
		return nil, err
	}
	defer wd.Close()

	cmd := []string{"-loglevel", "error"}
	cmd = append(cmd, pre...)
	cmd = append(cmd, "-i", wd.input)
	cmd = append(cmd, args...)
	cmd = append(cmd, "-y", wd.output)
	if _, err := p.runner.Run(ctx, p.cfg.FFmpegPath, cmd...); err != nil {
		return nil, err
	}
	return wd.result()
}

func (p *Processor) threads() []string {
	return []string{"-threads", strconv.Itoa(p.cfg.Threads)}
}

func requireSource(op string, a *core.Asset, ok func(mime.Type) bool) (mime.Type, error) {
	mt := a.MimeType()
	if !slices.Contains(containers, mt) || !ok(mt) {
		return mt, apperrors.Newf(apperrors.CategoryUnsupportedFormat, op, "%w: %s", apperrors.ErrUnsupportedFormat, mt)
	}
	return mt, nil
}

func anyContainer(mime.Type) bool { return true }

// Resize scales the video streams.  FIT and FILL need derived.width and
// derived.height on the asset.
func (p *Processor) Resize(width, height int, mode core.ResizeMode) (*core.Operator, error) {
	if err := core.ValidateDimensions("ffmpeg.resize", width, height); err != nil {
		return nil, err
	}
	if !mode.Valid() {
		return nil, core.ConfigError("ffmpeg.resize", "unknown resize mode %v", mode)
	}
	params := map[string]any{"width": width, "height": height, "mode": mode.String()}
	return core.NewOperator("resize", params, func(ctx context.Context, a *core.Asset) (*core.Asset, error) {
		mt, err := requireSource("resize", a, mime.Type.IsVideo)
		if err != nil {
			return nil, err
		}
		w, h := width, height
		if mode != core.ResizeExact {
			if a.Width() == 0 || a.Height() == 0 {
				return nil, fmt.Errorf("%s resize needs the source dimensions", mode)
			}
			w, h = mode.Dimensions(a.Width(), a.Height(), width, height)
		}
		args := append([]string{"-filter:v", fmt.Sprintf("scale=%d:%d", w, h)}, p.threads()...)
		args = append(args, "-f", muxers[mt])
		out, err := p.transcode(ctx, a, nil, args)
		if err != nil {
			return nil, err
		}
		return core.NewAsset(out, a.Metadata().Merge(core.Metadata{
			core.KeyWidth:  w,
			core.KeyHeight: h,
		})), nil
	}), nil
}

// Convert remuxes or transcodes into another container.  Stream codecs and
// bitrates come from opts; a codec's CRF from Formats["codec/<name>"].
func (p *Processor) Convert(target mime.Type, opts core.ConvertOptions) (*core.Operator, error) {
	if err := core.ValidateTarget("ffmpeg.convert", target, containers); err != nil {
		return nil, err
	}
	if opts.VideoBitrate < 0 || opts.AudioBitrate < 0 {
		return nil, core.ConfigError("ffmpeg.convert", "negative bitrate")
	}
	if target.IsAudio() && opts.VideoCodec != "" && opts.VideoCodec != core.StreamDisabled {
		return nil, core.ConfigError("ffmpeg.convert", "video codec %q for audio container %s", opts.VideoCodec, target)
	}
	args := p.convertArgs(target, opts)
	params := map[string]any{
		"mime_type":      string(target),
		"video_codec":    opts.VideoCodec,
		"audio_codec":    opts.AudioCodec,
		"subtitle_codec": opts.SubtitleCodec,
		"video_bitrate":  opts.VideoBitrate,
		"audio_bitrate":  opts.AudioBitrate,
	}
	return core.NewOperator("convert", params, func(ctx context.Context, a *core.Asset) (*core.Asset, error) {
		if _, err := requireSource("convert", a, anyContainer); err != nil {
			return nil, err
		}
		out, err := p.transcode(ctx, a, nil, args)
		if err != nil {
			return nil, err
		}
		return core.NewAsset(out, convertedMetadata(a, target, opts)), nil
	}), nil
}

func (p *Processor) convertArgs(target mime.Type, opts core.ConvertOptions) []string {
	var args []string
	stream := func(flag, disable, codec string, bitrate int, bitrateFlag string) {
		switch codec {
		case "":
		case core.StreamDisabled:
			args = append(args, disable)
			return
		default:
			args = append(args, flag, codec)
			if crf, ok := p.formats.Lookup(config.CodecKey(codec), "crf"); ok {
				args = append(args, "-crf", fmt.Sprint(crf))
			}
		}
		if bitrate > 0 {
			args = append(args, bitrateFlag, fmt.Sprintf("%dk", bitrate))
		}
	}
	if target.IsAudio() {
		args = append(args, "-vn")
	} else {
		stream("-c:v", "-vn", opts.VideoCodec, opts.VideoBitrate, "-b:v")
	}
	stream("-c:a", "-an", opts.AudioCodec, opts.AudioBitrate, "-b:a")
	switch opts.SubtitleCodec {
	case "":
	case core.StreamDisabled:
		args = append(args, "-sn")
	default:
		args = append(args, "-c:s", opts.SubtitleCodec)
	}
	if p.formats.Bool(string(target), "faststart", false) {
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, p.threads()...)
	return append(args, "-f", muxers[target])
}

// convertedMetadata keeps what survives a transcode: dimensions for video,
// duration for timed media and every non-derived key.  Codec and bitrate
// keys are set from opts or dropped, since the container default applies.
func convertedMetadata(a *core.Asset, target mime.Type, opts core.ConvertOptions) core.Metadata {
	src := a.Metadata()
	md := src.Without(core.NamespaceDerived)
	md[core.KeyMimeType] = string(target)
	for _, k := range []string{core.KeyDuration, core.KeyWidth, core.KeyHeight} {
		if v, ok := src[k]; ok && (k == core.KeyDuration || target.IsVideo()) {
			md[k] = v
		}
	}
	set := func(key, codec string) {
		if codec != "" && codec != core.StreamDisabled {
			md[key] = codec
		}
	}
	set(core.KeyAudioCodec, opts.AudioCodec)
	if target.IsVideo() {
		set(core.KeyVideoCodec, opts.VideoCodec)
		if opts.VideoBitrate > 0 {
			md[core.KeyVideoBitrate] = float64(opts.VideoBitrate)
		}
	}
	if opts.AudioBitrate > 0 && opts.AudioCodec != core.StreamDisabled {
		md[core.KeyAudioBitrate] = float64(opts.AudioBitrate)
	}
	return md
}

// Trim keeps the range [from, to) seconds, copying streams without
// re-encoding.  A to of zero or below counts back from the end.
func (p *Processor) Trim(from, to float64) (*core.Operator, error) {
	if from < 0 || math.IsNaN(from) || math.IsNaN(to) || math.IsInf(from, 0) || math.IsInf(to, 0) {
		return nil, core.ConfigError("ffmpeg.trim", "invalid range %v..%v", from, to)
	}
	if to > 0 && to <= from {
		return nil, core.ConfigError("ffmpeg.trim", "start %v must be before end %v", from, to)
	}
	params := map[string]any{"from": from, "to": to}
	return core.NewOperator("trim", params, func(ctx context.Context, a *core.Asset) (*core.Asset, error) {
		mt, err := requireSource("trim", a, anyContainer)
		if err != nil {
			return nil, err
		}
		end := to
		if end <= 0 {
			end = a.Duration() + to
		}
		duration := end - from
		if duration <= 0 {
			return nil, fmt.Errorf("start %v must be before end %v", from, end)
		}
		pre := []string{"-ss", formatSeconds(from), "-t", formatSeconds(duration)}
		out, err := p.transcode(ctx, a, pre, []string{"-codec", "copy", "-f", muxers[mt]})
		if err != nil {
			return nil, err
		}
		return core.NewAsset(out, a.Metadata().Merge(core.Metadata{core.KeyDuration: duration})), nil
	}), nil
}

// ExtractFrame renders the frame at seconds as a still of type target.
func (p *Processor) ExtractFrame(target mime.Type, seconds float64) (*core.Operator, error) {
	codec, ok := frameCodecs[target]
	if !ok {
		return nil, apperrors.Newf(apperrors.CategoryConfig, "ffmpeg.extract_frame", "%w: cannot produce %s", apperrors.ErrUnsupportedFormat, target)
	}
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return nil, core.ConfigError("ffmpeg.extract_frame", "invalid offset %v", seconds)
	}
	params := map[string]any{"mime_type": string(target), "seconds": seconds}
	return core.NewOperator("extract_frame", params, func(ctx context.Context, a *core.Asset) (*core.Asset, error) {
		if _, err := requireSource("extract_frame", a, mime.Type.IsVideo); err != nil {
			return nil, err
		}
		pre := []string{"-ss", formatSeconds(seconds)}
		args := []string{"-codec:v", codec, "-vframes", "1", "-f", muxers[target]}
		out, err := p.transcode(ctx, a, pre, args)
		if err != nil {
			return nil, err
		}
		md := core.Metadata{core.KeyMimeType: string(target)}
		if a.Width() > 0 && a.Height() > 0 {
			md[core.KeyWidth] = a.Width()
			md[core.KeyHeight] = a.Height()
		}
		return core.NewAsset(out, md), nil
	}), nil
}

func formatSeconds(s float64) string { return strconv.FormatFloat(s, 'f', -1, 64) }

// compile-time interface checks
var (
	_ core.Processor      = (*Processor)(nil)
	_ core.Resizer        = (*Processor)(nil)
	_ core.Converter      = (*Processor)(nil)
	_ core.Trimmer        = (*Processor)(nil)
	_ core.FrameExtractor = (*Processor)(nil)
)
