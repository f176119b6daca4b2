package ffmpeg

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Skryldev/asset-manager/core"
	"github.com/Skryldev/asset-manager/mime"
)

// probeResult is the subset of `ffprobe -print_format json -show_format
// -show_streams` that is mapped into metadata.
type probeResult struct {
	Format struct {
		FormatName string            `json:"format_name"`
		Duration   string            `json:"duration"`
		Tags       map[string]string `json:"tags"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		BitRate   string `json:"bit_rate"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

func parseProbe(data []byte) (*probeResult, error) {
	var pr probeResult
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if pr.Format.FormatName == "" {
		return nil, fmt.Errorf("ffprobe reported no container format")
	}
	return &pr, nil
}

// streamType is "video" when any video stream exists, else "audio" when an
// audio stream exists, else "".
func (pr *probeResult) streamType() string {
	kind := ""
	for _, s := range pr.Streams {
		switch s.CodecType {
		case "video":
			return "video"
		case "audio":
			kind = "audio"
		}
	}
	return kind
}

// demuxers maps (ffprobe format_name, stream type) to a MIME type.
var demuxers = map[[2]string]mime.Type{
	{"matroska,webm", "video"}:           mime.Matroska,
	{"matroska,webm", "audio"}:           mime.Matroska,
	{"mov,mp4,m4a,3gp,3g2,mj2", "video"}: mime.QuickTime,
	{"mov,mp4,m4a,3gp,3g2,mj2", "audio"}: mime.M4A,
	{"ogg", "video"}:                     mime.OggVideo,
	{"ogg", "audio"}:                     mime.OggAudio,
	{"mp3", "audio"}:                     mime.MPEGAudio,
	{"wav", "audio"}:                     mime.WAV,
	{"flac", "audio"}:                    mime.FLAC,
}

func (pr *probeResult) mimeType() mime.Type {
	return demuxers[[2]string{pr.Format.FormatName, pr.streamType()}]
}

// metadata maps the probe onto derived.* keys.  Only the first audio and
// the first video stream are described; width and height are the largest
// seen.
func (pr *probeResult) metadata() core.Metadata {
	md := core.Metadata{}
	if d, err := strconv.ParseFloat(pr.Format.Duration, 64); err == nil {
		md[core.KeyDuration] = d
	}
	seen := map[string]bool{}
	width, height := 0, 0
	for _, s := range pr.Streams {
		width = max(width, s.Width)
		height = max(height, s.Height)

		var codecKey, bitrateKey string
		switch s.CodecType {
		case "video":
			codecKey, bitrateKey = core.KeyVideoCodec, core.KeyVideoBitrate
		case "audio":
			codecKey, bitrateKey = core.KeyAudioCodec, core.KeyAudioBitrate
		default:
			continue
		}
		if seen[s.CodecType] {
			continue
		}
		seen[s.CodecType] = true
		if s.CodecName != "" {
			md[codecKey] = s.CodecName
		}
		if br, err := strconv.ParseFloat(s.BitRate, 64); err == nil {
			md[bitrateKey] = br / 1000 // kbit/s
		}
	}
	if width > 0 && height > 0 {
		md[core.KeyWidth] = width
		md[core.KeyHeight] = height
	}
	return md
}

// tags returns the container tags with lower-cased names.  Vorbis comments
// arrive upper-case, ID3 frames lower-case.
func (pr *probeResult) tags() map[string]string {
	out := make(map[string]string, len(pr.Format.Tags))
	for k, v := range pr.Format.Tags {
		out[strings.ToLower(k)] = v
	}
	return out
}
